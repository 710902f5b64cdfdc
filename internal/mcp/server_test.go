package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/browser/browsertest"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/executor"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/extract"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/journal"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/snapshot"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/tools"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T) (*Server, *browsertest.Page, *journal.Journal) {
	t.Helper()
	j, err := journal.New(config.JournalConfig{Enable: true}, nil)
	require.NoError(t, err)

	page := browsertest.New()
	refs := snapshot.NewRefMap()
	b := tools.Browser{
		Executor: executor.New(page, refs, executor.Timing{ClickTimeout: time.Second, RetryCeiling: 3},
			executor.WithObserver(j)),
		Compressor: snapshot.NewCompressor(page, refs, snapshot.WithReadyTimeout(0), snapshot.WithObserver(j)),
		Extractor:  extract.New(page, 2, nil),
	}
	tbl := tools.NewTable(nil)
	require.NoError(t, b.Register(tbl))

	cfg := config.DefaultConfig()
	return NewServer(cfg, tbl, j, nil), page, j
}

func TestExecuteToolRoutesThroughTable(t *testing.T) {
	s, page, _ := setupServer(t)

	res := s.ExecuteTool(context.Background(), tools.Navigate, map[string]interface{}{"url": "example.com"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"https://example.com"}, page.Navigations)

	res = s.ExecuteTool(context.Background(), "screenshot", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")
}

func TestWrapToolReportsEnvelope(t *testing.T) {
	s, _, j := setupServer(t)

	req := mcp.CallToolRequest{}
	req.Params.Name = tools.Click
	req.Params.Arguments = map[string]interface{}{"ref": "btn_7"}

	result, err := s.wrapTool(tools.Click)(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var env envelope.Result
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	assert.Contains(t, env.Error, "stale reference")

	stale, err := j.Derived(journal.PredStale)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "btn_7", stale[0].Args[0])
}

func TestResources(t *testing.T) {
	s, _, _ := setupServer(t)

	var req mcp.ReadResourceRequest
	req.Params.URI = aboutURI
	contents, err := s.handleAboutResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Contains(t, contents[0].(mcp.TextResourceContents).Text, tools.GetPageContext)

	_ = s.ExecuteTool(context.Background(), tools.GetPageContext, nil)
	req.Params.URI = journalSummaryURI
	contents, err = s.handleJournalSummaryResource(context.Background(), req)
	require.NoError(t, err)
	var summary struct {
		EmptySnapshots []string `json:"empty_snapshots"`
		Facts          int      `json:"facts"`
	}
	require.NoError(t, json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &summary))
	assert.Len(t, summary.EmptySnapshots, 1)
	assert.Equal(t, 1, summary.Facts)
}

func TestJournalResourceDisabled(t *testing.T) {
	tbl := tools.NewTable(nil)
	s := NewServer(config.DefaultConfig(), tbl, nil, nil)
	var req mcp.ReadResourceRequest
	_, err := s.handleJournalSummaryResource(context.Background(), req)
	assert.Error(t, err)
}
