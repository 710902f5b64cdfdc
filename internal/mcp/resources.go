package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/journal"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"

	aboutURI          = "scout://about"
	journalSummaryURI = "scout://journal/summary"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			aboutURI,
			"Scout About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			journalSummaryURI,
			"Action Journal Summary",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Targets that went stale, recovered through a fallback, or hit the retry ceiling."),
		),
		s.handleJournalSummaryResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"tools":   s.table.Names(),
		"notes": []string{
			"Call get_page_context before click or type_text; refs are valid for one snapshot only.",
			"navigate and type_text with pressEnter invalidate every ref.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleJournalSummaryResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if !s.journal.Enabled() {
		return nil, errors.New("action journal disabled")
	}
	summary, err := s.journal.Summarize()
	if err != nil {
		return nil, err
	}
	return jsonContents(request.Params.URI, struct {
		journal.Summary
		Facts int `json:"facts"`
	}{summary, len(s.journal.Facts())})
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}
