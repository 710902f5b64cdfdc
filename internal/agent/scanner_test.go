package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/browser/browsertest"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/extract"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/llm"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScanner(model llm.Proposer, page *browsertest.Page, max int) *Scanner {
	a := New(Deps{Model: model, Browser: newBrowser(page), Config: agentConfig(10, max)})
	return a.scanner
}

func TestScanCompletes(t *testing.T) {
	page := browsertest.New()
	page.CurrentURL = "https://github.com/anngo"
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		call("1", tools.ExtractProfileData, "{}"),
		call("2", CompleteScan, `{"socialLinks":{"github":"https://github.com/anngo","telegram":"https://t.me/anngo"},"tldrSummary":"Backend gopher.","additionalData":{"stars":42}}`),
	}}

	res, err := newScanner(model, page, 5).Scan(context.Background(), nil, "github.com/anngo", "anngo")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Fallback)
	assert.Equal(t, "https://github.com/anngo", res.SourceURL)
	assert.Equal(t, "https://t.me/anngo", res.SocialLinks.Telegram)
	assert.Equal(t, "Backend gopher.", res.Summary)
	assert.EqualValues(t, 42, res.AdditionalData["stars"])
	assert.Equal(t, []string{"https://github.com/anngo"}, page.Navigations)
}

func TestScanCompletionKeepsScannedProfileLink(t *testing.T) {
	page := browsertest.New()
	page.CurrentURL = "https://github.com/anngo"
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		call("1", CompleteScan, `{"socialLinks":{"telegram":"https://t.me/anngo"},"tldrSummary":"Gopher."}`),
	}}

	res, err := newScanner(model, page, 5).Scan(context.Background(), nil, "github.com/anngo", "anngo")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "https://github.com/anngo", res.SocialLinks.GitHub)
	assert.Equal(t, "https://t.me/anngo", res.SocialLinks.Telegram)
}

func TestScanBudgetFallsBackToExtraction(t *testing.T) {
	page := browsertest.New()
	page.CurrentURL = "https://habr.example/users/anngo"
	// Every facet script gets the same object; facets that expect another
	// shape fail softly.
	page.EvalFunc = func(string, ...interface{}) (json.RawMessage, error) {
		return json.Marshal(map[string]interface{}{
			"headline": "Ann Go",
			"bio":      "Writes Go at scale",
			"emails":   []string{"ann@example.com"},
		})
	}
	model := &script{fallback: call("", tools.Scroll, `{"direction":"down"}`)}

	res, err := newScanner(model, page, 3).Scan(context.Background(), nil, "https://habr.example/users/anngo", "anngo")
	require.NoError(t, err)
	assert.Equal(t, 3, model.calls, "the model never gets more than the sub-agent budget")
	assert.Equal(t, 3, res.Iterations)
	assert.True(t, res.Fallback)
	assert.False(t, res.Success, "an exhausted budget is a failed scan even with partial data")
	assert.Contains(t, res.Summary, "Ann Go")
	assert.Contains(t, res.Summary, "Writes Go at scale")
	assert.Equal(t, "ann@example.com", res.SocialLinks.Email)
}

func TestScanNavigationFailure(t *testing.T) {
	page := browsertest.New()
	page.NavigateErrs = []error{errors.New("net::ERR_CONNECTION_REFUSED"), errors.New("net::ERR_CONNECTION_REFUSED")}
	model := &script{}

	res, err := newScanner(model, page, 3).Scan(context.Background(), nil, "https://down.example/u/x", "x")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Summary, "ERR_CONNECTION_REFUSED")
	assert.Zero(t, model.calls)
}

func TestScanProfileDeepRunsSynchronously(t *testing.T) {
	page := browsertest.New()
	var scanResult map[string]interface{}
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		call("p1", ScanProfileDeep, `{"profileUrl":"https://github.com/anngo","username":"anngo"}`),
		// The sub-agent's turn happens inside the primary tool call.
		call("s1", CompleteScan, `{"socialLinks":{"github":"https://github.com/anngo"},"tldrSummary":"gopher"}`),
		func(history []llm.Message) (llm.Proposal, error) {
			r := lastToolResult(t, history)
			require.True(t, r.Success, r.Error)
			scanResult = r.Data.(map[string]interface{})
			return call("p2", TaskComplete, `{"candidates":[{"name":"Ann"}],"summary":"done"}`)(history)
		},
	}}
	a := New(Deps{Model: model, Browser: newBrowser(page), Config: agentConfig(5, 3)})

	res, err := a.Run(context.Background(), "find and scan Ann")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, "gopher", scanResult["tldrSummary"])
}

func TestScanProfileDeepReportsExhaustedBudgetAsFailure(t *testing.T) {
	page := browsertest.New()
	var scan envelope.Result
	scroll := call("", tools.Scroll, `{"direction":"down"}`)
	model := &script{turns: []func([]llm.Message) (llm.Proposal, error){
		call("p1", ScanProfileDeep, `{"profileUrl":"https://github.com/anngo","username":"anngo"}`),
		scroll, scroll,
		func(history []llm.Message) (llm.Proposal, error) {
			scan = lastToolResult(t, history)
			return call("p2", TaskComplete, `{"candidates":[],"summary":"nothing usable"}`)(history)
		},
	}}
	a := New(Deps{Model: model, Browser: newBrowser(page), Config: agentConfig(5, 2)})

	_, err := a.Run(context.Background(), "scan Ann")
	require.NoError(t, err)
	assert.False(t, scan.Success)
	assert.Contains(t, scan.Error, "without complete_scan")
	data := scan.Data.(map[string]interface{})
	assert.Equal(t, true, data["fallback"])
	assert.Equal(t, false, data["success"])
}

func TestFallbackSummary(t *testing.T) {
	assert.Equal(t, "A | B", fallbackSummary(extract.ProfileData{Headline: "A", Bio: "B", Description: "a"}))
	assert.Equal(t, "Title", fallbackSummary(extract.ProfileData{Title: "Title"}))
	assert.Contains(t, fallbackSummary(extract.ProfileData{}), "No profile details")
}
