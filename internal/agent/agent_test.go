package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/browser/browsertest"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/conversation"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/executor"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/extract"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/llm"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/recorder"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/snapshot"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// script answers Propose from a queue; once empty it repeats fallback.
type script struct {
	mu       sync.Mutex
	turns    []func(history []llm.Message) (llm.Proposal, error)
	fallback func(history []llm.Message) (llm.Proposal, error)
	calls    int
	seen     [][]llm.Message
}

func (s *script) Propose(_ context.Context, history []llm.Message, _ []llm.ToolSchema) (llm.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.seen = append(s.seen, history)
	if len(s.turns) > 0 {
		next := s.turns[0]
		s.turns = s.turns[1:]
		return next(history)
	}
	if s.fallback != nil {
		return s.fallback(history)
	}
	return llm.Proposal{Text: "thinking"}, nil
}

func call(id, name, args string) func([]llm.Message) (llm.Proposal, error) {
	return func([]llm.Message) (llm.Proposal, error) {
		return llm.Proposal{ToolCalls: []llm.ToolCall{{ID: id, Name: name, Arguments: args}}}, nil
	}
}

type fakeHuman struct {
	confirm   bool
	err       error
	questions []string
	actions   []string
}

func (h *fakeHuman) Ask(_ context.Context, q string) (string, error) {
	h.questions = append(h.questions, q)
	return "senior only", h.err
}

func (h *fakeHuman) Confirm(_ context.Context, action, _, _ string) (bool, error) {
	h.actions = append(h.actions, action)
	return h.confirm, h.err
}

func agentConfig(max, sub int) config.AgentConfig {
	return config.AgentConfig{
		MaxIterations:         max,
		SubAgentMaxIterations: sub,
		ReflectionDelay:       "0s",
		ErrorDelay:            "0s",
	}
}

func newBrowser(page *browsertest.Page) tools.Browser {
	refs := snapshot.NewRefMap()
	return tools.Browser{
		Executor:   executor.New(page, refs, executor.Timing{NavigationTimeout: time.Second, ClickTimeout: time.Second, RetryCeiling: 3}),
		Compressor: snapshot.NewCompressor(page, refs, snapshot.WithReadyTimeout(0)),
		Extractor:  extract.New(page, 2, nil),
	}
}

func lastToolResult(t *testing.T, history []llm.Message) envelope.Result {
	t.Helper()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleTool {
			var r envelope.Result
			require.NoError(t, json.Unmarshal([]byte(history[i].Content), &r))
			return r
		}
	}
	t.Fatal("no tool result in history")
	return envelope.Result{}
}

func TestTaskCompletes(t *testing.T) {
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		call("1", tools.GetPageContext, "{}"),
		call("2", TaskComplete, `{"candidates":[{"name":"Ann Go","profileUrl":"https://github.com/anngo"}],"summary":"one gopher"}`),
	}}
	a := New(Deps{Model: model, Browser: newBrowser(browsertest.New()), Config: agentConfig(10, 3)})

	res, err := a.Run(context.Background(), "find gophers")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, "one gopher", res.Summary)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "Ann Go", res.Candidates[0].Name)
	assert.NotEmpty(t, res.TaskID)
}

func TestBudgetExhaustedStopsAtCeiling(t *testing.T) {
	model := &script{fallback: call("", tools.Scroll, `{"direction":"down"}`)}
	a := New(Deps{Model: model, Browser: newBrowser(browsertest.New()), Config: agentConfig(7, 3)})

	res, err := a.Run(context.Background(), "never finishes")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 7, res.Iterations)
	assert.Equal(t, 7, model.calls)
	assert.Contains(t, res.Summary, "without task_complete")
	assert.Empty(t, res.Candidates)
}

// Whatever a model that never calls the terminal tool does, the loop makes
// exactly MaxIterations inference calls and reports budget exhaustion.
func TestPropertyTerminalOnlyCompletion(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		max := rapid.IntRange(1, 25).Draw(rt, "max")
		tbl := tools.NewTable(nil)
		tools.Register(tbl, tools.Spec{Name: "noop"}, func(context.Context, tools.NoArgs) envelope.Result { return envelope.OK(nil) })
		tools.Register(tbl, tools.Spec{Name: "done", Params: []tools.Param{{Name: "x", Type: tools.String, Required: true}}},
			func(context.Context, struct {
				X string `json:"x"`
			}) envelope.Result {
				return envelope.OK("done")
			})

		kinds := rapid.SliceOfN(rapid.SampledFrom([]string{"text", "noop", "bad_done", "unknown", "error"}), max, max).Draw(rt, "turns")
		model := &script{}
		for i, k := range kinds {
			k := k
			id := string(rune('a' + i%26))
			model.turns = append(model.turns, func([]llm.Message) (llm.Proposal, error) {
				switch k {
				case "noop":
					return llm.Proposal{ToolCalls: []llm.ToolCall{{ID: id, Name: "noop"}}}, nil
				case "bad_done":
					return llm.Proposal{ToolCalls: []llm.ToolCall{{ID: id, Name: "done", Arguments: "{"}}}, nil
				case "unknown":
					return llm.Proposal{ToolCalls: []llm.ToolCall{{ID: id, Name: "nope"}}}, nil
				case "error":
					return llm.Proposal{}, errors.New("502 from upstream")
				}
				return llm.Proposal{Text: "hmm"}, nil
			})
		}

		loop, err := NewLoop(LoopSpec{Name: "prop", Table: tbl, MaxIterations: max, TerminalTool: "done"}, model)
		require.NoError(rt, err)
		out, err := loop.Run(context.Background(), "task")
		require.NoError(rt, err)
		require.False(rt, out.Completed)
		require.ErrorIs(rt, out.Reason, ErrBudgetExhausted)
		require.Equal(rt, max, out.Iterations)
		require.Equal(rt, max, model.calls)
		require.NoError(rt, conversation.Validate(out.Log.Entries(), false))
	})
}

func TestInferenceErrorInjectedAsUserMessage(t *testing.T) {
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		func([]llm.Message) (llm.Proposal, error) { return llm.Proposal{}, errors.New("upstream 503") },
		call("1", TaskComplete, `{"candidates":[],"summary":"nothing"}`),
	}}
	a := New(Deps{Model: model, Browser: newBrowser(browsertest.New()), Config: agentConfig(5, 3)})

	res, err := a.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.True(t, res.Success)

	second := model.seen[1]
	last := second[len(second)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "upstream 503")
	assert.Contains(t, last.Content, "Re-analyze")
}

func TestConfirmationRejected(t *testing.T) {
	page := browsertest.New()
	h := &fakeHuman{confirm: false}
	var confirmResult envelope.Result
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		call("1", RequestConfirmation, `{"action":"send message to Ann","reason":"outreach","impact":"message cannot be unsent"}`),
		func(history []llm.Message) (llm.Proposal, error) {
			confirmResult = lastToolResult(t, history)
			return call("2", TaskComplete, `{"candidates":[],"summary":"not contacted"}`)(history)
		},
	}}
	a := New(Deps{Model: model, Browser: newBrowser(page), Human: h, Config: agentConfig(5, 3)})

	res, err := a.Run(context.Background(), "contact Ann")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"send message to Ann"}, h.actions)

	require.True(t, confirmResult.Success)
	data := confirmResult.Data.(map[string]interface{})
	assert.Equal(t, false, data["confirmed"])
	assert.Empty(t, page.CallLog(), "nothing touched the page")
}

func TestConfirmationWithoutOperatorIsRejected(t *testing.T) {
	a := New(Deps{Config: agentConfig(1, 1)})
	res := a.confirm(context.Background(), ConfirmArgs{Action: "pay"})
	data := res.Data.(map[string]interface{})
	assert.Equal(t, false, data["confirmed"])

	a = New(Deps{Human: &fakeHuman{confirm: true, err: context.Canceled}, Config: agentConfig(1, 1)})
	res = a.confirm(context.Background(), ConfirmArgs{Action: "pay"})
	data = res.Data.(map[string]interface{})
	assert.Equal(t, false, data["confirmed"], "an unanswered confirmation is a rejection")
}

func TestConfirmationApproved(t *testing.T) {
	a := New(Deps{Human: &fakeHuman{confirm: true}, Config: agentConfig(1, 1)})
	res := a.confirm(context.Background(), ConfirmArgs{Action: "apply"})
	assert.Equal(t, true, res.Data.(map[string]interface{})["confirmed"])
}

func TestAskUser(t *testing.T) {
	h := &fakeHuman{}
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		call("1", AskUser, `{"question":"Which seniority?"}`),
		func(history []llm.Message) (llm.Proposal, error) {
			r := lastToolResult(t, history)
			assert.Equal(t, "senior only", r.Data.(map[string]interface{})["answer"])
			return call("2", TaskComplete, `{"candidates":[],"summary":"ok"}`)(history)
		},
	}}
	a := New(Deps{Model: model, Browser: newBrowser(browsertest.New()), Human: h, Config: agentConfig(5, 3)})

	_, err := a.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, []string{"Which seniority?"}, h.questions)
}

func TestCallsAfterTerminalAreSkipped(t *testing.T) {
	page := browsertest.New()
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		func([]llm.Message) (llm.Proposal, error) {
			return llm.Proposal{ToolCalls: []llm.ToolCall{
				{ID: "a", Name: TaskComplete, Arguments: `{"candidates":[],"summary":"done"}`},
				{ID: "b", Name: tools.Navigate, Arguments: `{"url":"example.com"}`},
			}}, nil
		},
	}}
	tbl := tools.NewTable(nil)
	require.NoError(t, newBrowser(page).Register(tbl, tools.Navigate))
	tools.Register(tbl, tools.Spec{Name: TaskComplete}, func(_ context.Context, a TaskCompleteArgs) envelope.Result { return envelope.OK(a) })

	loop, err := NewLoop(LoopSpec{Name: "t", Table: tbl, MaxIterations: 3, TerminalTool: TaskComplete}, model)
	require.NoError(t, err)
	out, err := loop.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.Empty(t, page.Navigations)

	entries := out.Log.Entries()
	require.NoError(t, conversation.Validate(entries, false))
	assert.Contains(t, entries[len(entries)-1].Text, "skipped")
}

func TestMissingCallIDsAreSynthesized(t *testing.T) {
	calls := withCallIDs([]llm.ToolCall{{Name: "a"}, {ID: "x", Name: "b"}, {ID: "x", Name: "c"}})
	assert.NotEmpty(t, calls[0].ID)
	assert.Equal(t, "x", calls[1].ID)
	assert.NotEqual(t, "x", calls[2].ID)
}

func TestNewLoopRequiresTerminalTool(t *testing.T) {
	_, err := NewLoop(LoopSpec{Name: "x", Table: tools.NewTable(nil), MaxIterations: 1, TerminalTool: "done"}, &script{})
	assert.Error(t, err)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &script{fallback: func([]llm.Message) (llm.Proposal, error) {
		cancel()
		return llm.Proposal{Text: "x"}, nil
	}}
	a := New(Deps{Model: model, Browser: newBrowser(browsertest.New()), Config: agentConfig(100, 3)})

	_, err := a.Run(ctx, "task")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, model.calls)
}

func TestTraceWritten(t *testing.T) {
	rec, err := recorder.New(t.TempDir())
	require.NoError(t, err)
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		call("1", TaskComplete, `{"candidates":[],"summary":"ok"}`),
	}}
	a := New(Deps{Model: model, Browser: newBrowser(browsertest.New()), Config: agentConfig(3, 3), Recorder: rec})

	res, err := a.Run(context.Background(), "task")
	require.NoError(t, err)
	assert.FileExists(t, res.TracePath)
}
