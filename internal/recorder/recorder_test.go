package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderRotation(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	// Unrelated files are never rotated away.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.jsonl"), []byte("{}\n"), 0o644))

	for i := 0; i < MaxRotatedFiles+2; i++ {
		tr, err := r.Begin("task", "find gophers")
		require.NoError(t, err)
		require.NoError(t, tr.Close())
		time.Sleep(10 * time.Millisecond)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "trace_*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, matches, MaxRotatedFiles)
	assert.FileExists(t, filepath.Join(dir, "notes.jsonl"))
}

func TestTraceEvents(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)

	tr, err := r.Begin("abc", "find gophers")
	require.NoError(t, err)
	tr.Entry("primary", 1, conversation.Entry{Kind: conversation.UserMessage, Text: "hi"})
	tr.Outcome("primary", 1, map[string]bool{"completed": true})
	require.NoError(t, tr.Close())
	tr.Entry("primary", 2, conversation.Entry{}) // after Close: dropped

	assert.Empty(t, tr.Path())

	matches, _ := filepath.Glob(filepath.Join(r.Dir(), "trace_abc_*.jsonl"))
	require.Len(t, matches, 1)
	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	var types []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var evt Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &evt))
		assert.Equal(t, "abc", evt.TaskID)
		types = append(types, evt.Type)
	}
	assert.Equal(t, []string{EventTask, EventEntry, EventOutcome}, types)
}

func TestNilTraceIsSafe(t *testing.T) {
	var tr *Trace
	tr.Entry("primary", 1, conversation.Entry{})
	tr.Outcome("primary", 1, nil)
	assert.NoError(t, tr.Close())
	assert.Empty(t, tr.Path())
}
