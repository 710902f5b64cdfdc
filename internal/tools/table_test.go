package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/browser/browsertest"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/executor"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/extract"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/llm"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type tally struct{ calls map[string][]bool }

func (t *tally) ToolCalled(tool string, ok bool) {
	if t.calls == nil {
		t.calls = map[string][]bool{}
	}
	t.calls[tool] = append(t.calls[tool], ok)
}

func echoTable(required bool) (*Table, *[]echoArgs) {
	var seen []echoArgs
	tbl := NewTable(nil)
	Register(tbl, Spec{
		Name:   "echo",
		Params: []Param{{Name: "name", Type: String, Required: required}, {Name: "count", Type: Integer}},
	}, func(_ context.Context, a echoArgs) envelope.Result {
		seen = append(seen, a)
		return envelope.OK(a)
	})
	return tbl, &seen
}

func decodeEnvelope(t *testing.T, s string) envelope.Result {
	t.Helper()
	var r envelope.Result
	require.NoError(t, json.Unmarshal([]byte(s), &r))
	return r
}

func TestDispatchDecodesArguments(t *testing.T) {
	tbl, seen := echoTable(true)

	out := tbl.Dispatch(context.Background(), llm.ToolCall{ID: "1", Name: "echo", Arguments: `{"name":"go","count":2}`})
	assert.True(t, decodeEnvelope(t, out).Success)
	assert.Equal(t, []echoArgs{{Name: "go", Count: 2}}, *seen)
}

func TestMalformedJSONTreatedAsEmpty(t *testing.T) {
	tbl, seen := echoTable(false)

	for _, raw := range []string{`{"name":`, `not json`, ``, `null`, `[1,2]`} {
		res := tbl.Call(context.Background(), "echo", raw)
		assert.True(t, res.Success, "raw %q: %s", raw, res.Error)
	}
	for _, a := range *seen {
		assert.Equal(t, echoArgs{}, a)
	}
}

func TestMalformedJSONMissingRequired(t *testing.T) {
	tbl, seen := echoTable(true)

	res := tbl.Call(context.Background(), "echo", `{"name":`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrMalformedArguments.Error())
	assert.Contains(t, res.Error, "name")
	assert.Empty(t, *seen)
}

func TestWrongFieldType(t *testing.T) {
	tbl, _ := echoTable(true)

	res := tbl.Call(context.Background(), "echo", `{"name":"x","count":"three"}`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrMalformedArguments.Error())
}

func TestUnknownTool(t *testing.T) {
	tbl, _ := echoTable(false)
	obs := &tally{}
	tbl.SetObserver(obs)

	res := decodeEnvelope(t, tbl.Dispatch(context.Background(), llm.ToolCall{ID: "1", Name: "teleport"}))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")
	assert.Contains(t, res.Error, "echo")
	assert.Equal(t, []bool{false}, obs.calls["teleport"])
}

func TestHandlerPanicBecomesFailure(t *testing.T) {
	tbl := NewTable(nil)
	Register(tbl, Spec{Name: "boom"}, func(context.Context, NoArgs) envelope.Result {
		panic("nil map")
	})

	res := tbl.Call(context.Background(), "boom", "{}")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom crashed")
}

func TestValidatorRuns(t *testing.T) {
	tbl := NewTable(nil)
	Register(tbl, Spec{Name: Scroll, Params: []Param{{Name: "direction", Type: String, Required: true}}},
		func(context.Context, ScrollArgs) envelope.Result { return envelope.OK(nil) })

	assert.True(t, tbl.Call(context.Background(), Scroll, `{"direction":"Down"}`).Success)
	res := tbl.Call(context.Background(), Scroll, `{"direction":"left"}`)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "up")
}

func TestSchema(t *testing.T) {
	spec := Spec{Name: "type_text", Params: []Param{
		{Name: "ref", Type: String, Required: true},
		{Name: "pressEnter", Type: Boolean},
	}}
	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	require.NoError(t, json.Unmarshal(spec.Schema(), &schema))
	assert.Equal(t, "object", schema.Type)
	assert.Len(t, schema.Properties, 2)
	assert.Equal(t, []string{"ref"}, schema.Required)
}

func TestBrowserToolsRegistration(t *testing.T) {
	page := browsertest.New()
	refs := snapshot.NewRefMap()
	b := Browser{
		Executor:   executor.New(page, refs, executor.Timing{ClickTimeout: time.Second, RetryCeiling: 3}),
		Compressor: snapshot.NewCompressor(page, refs, snapshot.WithReadyTimeout(0)),
		Extractor:  extract.New(page, 1, nil),
	}

	tbl := NewTable(nil)
	require.NoError(t, b.Register(tbl, GetPageContext, Click, Scroll))
	assert.Equal(t, []string{GetPageContext, Click, Scroll}, tbl.Names())
	assert.Len(t, tbl.Schemas(), 3)
	assert.False(t, tbl.Has(Navigate))

	assert.Error(t, b.Register(tbl, "fly"))

	all := NewTable(nil)
	require.NoError(t, b.Register(all))
	assert.Len(t, all.Names(), 7)
}

func TestClickPinnedToSnapshotVersion(t *testing.T) {
	page := browsertest.New()
	refs := snapshot.NewRefMap()
	v1 := refs.Replace([]snapshot.Element{{Ref: "btn_1", Type: snapshot.TypeButton, Selector: "#go"}})
	page.Add("#go")
	b := Browser{
		Executor:   executor.New(page, refs, executor.Timing{ClickTimeout: time.Second, RetryCeiling: 3}),
		Compressor: snapshot.NewCompressor(page, refs, snapshot.WithReadyTimeout(0)),
		Extractor:  extract.New(page, 1, nil),
	}
	tbl := NewTable(nil)
	require.NoError(t, b.Register(tbl, Click, TypeText))

	res := tbl.Call(context.Background(), Click, fmt.Sprintf(`{"ref":"btn_1","snapshot":%d}`, v1))
	require.True(t, res.Success, res.Error)

	v2 := refs.Replace([]snapshot.Element{{Ref: "btn_1", Type: snapshot.TypeButton, Selector: "#other"}})
	res = tbl.Call(context.Background(), Click, fmt.Sprintf(`{"ref":"btn_1","snapshot":%d}`, v1))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, fmt.Sprintf("snapshot v%d was replaced by v%d", v1, v2))
	assert.Equal(t, []string{"scroll-into-view #go", "click #go x1"}, page.CallLog(), "a pinned stale ref never reaches the page")

	res = tbl.Call(context.Background(), TypeText, fmt.Sprintf(`{"ref":"btn_1","text":"x","snapshot":%d}`, v1))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "stale reference")
}

func TestBrowserToolsRouteToExecutor(t *testing.T) {
	page := browsertest.New()
	refs := snapshot.NewRefMap()
	refs.Replace([]snapshot.Element{{Ref: "btn_1", Type: snapshot.TypeButton, Selector: "#go"}})
	page.Add("#go")
	b := Browser{
		Executor:   executor.New(page, refs, executor.Timing{ClickTimeout: time.Second, RetryCeiling: 3}),
		Compressor: snapshot.NewCompressor(page, refs, snapshot.WithReadyTimeout(0)),
		Extractor:  extract.New(page, 1, nil),
	}
	tbl := NewTable(nil)
	require.NoError(t, b.Register(tbl))

	res := tbl.Call(context.Background(), Click, `{"ref":"btn_1"}`)
	require.True(t, res.Success, res.Error)
	assert.Contains(t, page.CallLog(), "click #go x1")

	res = tbl.Call(context.Background(), Click, `{"ref":`)
	assert.False(t, res.Success, "malformed click arguments never reach the page")

	res = tbl.Call(context.Background(), GetPageContext, "")
	require.True(t, res.Success, res.Error)
	_, err := refs.Resolve("btn_1")
	assert.ErrorIs(t, err, snapshot.ErrStaleReference, "empty page snapshot replaces the map")
}
