// Package recorder writes one JSONL trace per task holding every
// conversation entry, keeping only the newest few traces on disk.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/conversation"
)

const (
	// MaxRotatedFiles is how many traces survive rotation, the new one included.
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

// Event is one line of a trace file.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	TaskID    string      `json:"task_id"`
	Loop      string      `json:"loop,omitempty"`
	Iteration int         `json:"iteration,omitempty"`
	Data      interface{} `json:"data"`
}

// Event types.
const (
	EventTask    = "task"
	EventEntry   = "entry"
	EventOutcome = "outcome"
)

// Recorder hands out traces under one directory.
type Recorder struct {
	mu       sync.Mutex
	basePath string
	keep     int
}

// New ensures the directory exists.
func New(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{basePath: basePath, keep: MaxRotatedFiles}, nil
}

// Dir returns where traces are written.
func (r *Recorder) Dir() string {
	return r.basePath
}

// Begin rotates old traces and opens a new one for taskID.
func (r *Recorder) Begin(taskID, task string) (*Trace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.rotate(); err != nil {
		return nil, fmt.Errorf("rotate traces: %w", err)
	}

	name := fmt.Sprintf("trace_%s_%d.jsonl", taskID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.basePath, name))
	if err != nil {
		return nil, err
	}
	t := &Trace{taskID: taskID, file: f, encoder: json.NewEncoder(f)}
	t.write(Event{Type: EventTask, Data: map[string]string{"task": task}})
	return t, nil
}

// rotate deletes all but the newest keep-1 traces to make room for a new one.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "trace_") || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		if traces[i].mod.Equal(traces[j].mod) {
			return traces[i].name > traces[j].name
		}
		return traces[i].mod.After(traces[j].mod)
	})

	keep := r.keep - 1
	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.basePath, traces[i].name))
	}
	return nil
}

// Trace is one task's file. Methods are safe after Close and on a nil Trace.
type Trace struct {
	mu      sync.Mutex
	taskID  string
	file    *os.File
	encoder *json.Encoder
}

// Path returns the trace file path.
func (t *Trace) Path() string {
	if t == nil || t.file == nil {
		return ""
	}
	return t.file.Name()
}

// Entry appends one conversation entry.
func (t *Trace) Entry(loop string, iteration int, e conversation.Entry) {
	t.write(Event{Type: EventEntry, Loop: loop, Iteration: iteration, Data: e})
}

// Outcome appends the loop's final state.
func (t *Trace) Outcome(loop string, iterations int, payload interface{}) {
	t.write(Event{Type: EventOutcome, Loop: loop, Iteration: iterations, Data: payload})
}

func (t *Trace) write(evt Event) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.encoder == nil {
		return
	}
	evt.Timestamp = time.Now()
	evt.TaskID = t.taskID
	_ = t.encoder.Encode(evt)
}

// Close finishes the trace.
func (t *Trace) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.encoder = nil
	return err
}
