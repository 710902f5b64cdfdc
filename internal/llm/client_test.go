package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string) *Client {
	return NewClient(config.LLMConfig{
		Endpoint:        url,
		Model:           "test/model",
		APIKey:          "sk-test",
		MaxRetryElapsed: "2s",
	}, nil)
}

func TestProposeDecodesToolCalls(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"looking","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"click","arguments":"{\"ref\":\"btn_1\"}"}}]}}]}`))
	}))
	defer srv.Close()

	history := []Message{
		{Role: RoleSystem, Content: "be useful"},
		{Role: RoleUser, Content: "find gophers"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "get_page_context", Arguments: "{}"}}},
		{Role: RoleTool, ToolCallID: "call_0", Content: `{"success":true}`},
	}
	tools := []ToolSchema{{Name: "click", Description: "click", Parameters: json.RawMessage(`{"type":"object"}`)}}

	p, err := testClient(srv.URL).Propose(context.Background(), history, tools)
	require.NoError(t, err)
	assert.Equal(t, "looking", p.Text)
	require.Len(t, p.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "click", Arguments: `{"ref":"btn_1"}`}, p.ToolCalls[0])

	assert.Equal(t, "test/model", got.Model)
	assert.Equal(t, "auto", got.ToolChoice)
	require.Len(t, got.Messages, 4)
	assert.Nil(t, got.Messages[2].Content, "tool-only assistant turn has null content")
	assert.Equal(t, "call_0", got.Messages[3].ToolCallID)
}

func TestProposeRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	p, err := testClient(srv.URL).Propose(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", p.Text)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestProposeClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Propose(context.Background(), nil, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestProposeEmbeddedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Propose(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestProposeHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testClient(srv.URL).Propose(ctx, nil, nil)
	assert.Error(t, err)
}
