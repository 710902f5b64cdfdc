// Package conversation holds the ordered history of one agent task.
package conversation

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/llm"
)

// Kind tags an Entry.
type Kind int

const (
	SystemInstruction Kind = iota
	UserMessage
	ModelProposal
	ToolResult
)

func (k Kind) String() string {
	switch k {
	case SystemInstruction:
		return "system"
	case UserMessage:
		return "user"
	case ModelProposal:
		return "proposal"
	case ToolResult:
		return "tool_result"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one element of the log. Which fields are meaningful depends on Kind:
// Calls only for ModelProposal, CallID and Tool only for ToolResult.
type Entry struct {
	Kind   Kind           `json:"kind"`
	Text   string         `json:"text,omitempty"`
	Calls  []llm.ToolCall `json:"calls,omitempty"`
	CallID string         `json:"call_id,omitempty"`
	Tool   string         `json:"tool,omitempty"`
}

// ErrOutOfOrder is returned when an append would break the pairing of
// proposals and tool results.
var ErrOutOfOrder = errors.New("conversation out of order")

// Log is append-only. Every proposal with N tool calls must be followed by
// exactly N results, one per call id, before anything else is appended.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	pending map[string]string // call id -> tool name
	order   []string
}

func New(instructions, task string) *Log {
	l := &Log{}
	l.entries = append(l.entries,
		Entry{Kind: SystemInstruction, Text: instructions},
		Entry{Kind: UserMessage, Text: task},
	)
	return l
}

// AddUser appends a user-role message.
func (l *Log) AddUser(text string) error {
	return l.append(Entry{Kind: UserMessage, Text: text})
}

// AddProposal appends a model decision. Calls must carry distinct ids.
func (l *Log) AddProposal(text string, calls []llm.ToolCall) error {
	seen := make(map[string]bool, len(calls))
	for _, c := range calls {
		if c.ID == "" {
			return fmt.Errorf("%w: tool call %q has no id", ErrOutOfOrder, c.Name)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate call id %q", ErrOutOfOrder, c.ID)
		}
		seen[c.ID] = true
	}
	cp := make([]llm.ToolCall, len(calls))
	copy(cp, calls)
	return l.append(Entry{Kind: ModelProposal, Text: text, Calls: cp})
}

// AddResult appends the result of one pending call.
func (l *Log) AddResult(callID, content string) error {
	return l.append(Entry{Kind: ToolResult, CallID: callID, Text: content})
}

func (l *Log) append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch e.Kind {
	case ToolResult:
		tool, ok := l.pending[e.CallID]
		if !ok {
			return fmt.Errorf("%w: result for unknown call %q", ErrOutOfOrder, e.CallID)
		}
		if l.order[0] != e.CallID {
			return fmt.Errorf("%w: result for %q before %q", ErrOutOfOrder, e.CallID, l.order[0])
		}
		e.Tool = tool
		delete(l.pending, e.CallID)
		l.order = l.order[1:]
	default:
		if len(l.pending) > 0 {
			return fmt.Errorf("%w: %d tool results still pending", ErrOutOfOrder, len(l.pending))
		}
		if e.Kind == ModelProposal && len(e.Calls) > 0 {
			l.pending = make(map[string]string, len(e.Calls))
			l.order = l.order[:0]
			for _, c := range e.Calls {
				l.pending[c.ID] = c.Name
				l.order = append(l.order, c.ID)
			}
		}
	}
	l.entries = append(l.entries, e)
	return nil
}

// Pending lists call ids still awaiting a result, in call order.
func (l *Log) Pending() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// Entries returns a copy of the log.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Messages converts the log into the history sent to the model.
func (l *Log) Messages() []llm.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]llm.Message, 0, len(l.entries))
	for _, e := range l.entries {
		switch e.Kind {
		case SystemInstruction:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: e.Text})
		case UserMessage:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: e.Text})
		case ModelProposal:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: e.Text, ToolCalls: e.Calls})
		case ToolResult:
			out = append(out, llm.Message{Role: llm.RoleTool, Content: e.Text, ToolCallID: e.CallID})
		}
	}
	return out
}

// Validate checks a sequence of entries against the pairing rule. The final
// proposal may still have results pending only if allowPending is set.
func Validate(entries []Entry, allowPending bool) error {
	var want []string
	for i, e := range entries {
		switch e.Kind {
		case ToolResult:
			if len(want) == 0 {
				return fmt.Errorf("%w: entry %d is an unsolicited result", ErrOutOfOrder, i)
			}
			if e.CallID != want[0] {
				return fmt.Errorf("%w: entry %d answers %q, expected %q", ErrOutOfOrder, i, e.CallID, want[0])
			}
			want = want[1:]
		default:
			if len(want) > 0 {
				return fmt.Errorf("%w: entry %d arrives with %d results missing", ErrOutOfOrder, i, len(want))
			}
			if e.Kind == ModelProposal {
				for _, c := range e.Calls {
					want = append(want, c.ID)
				}
			}
		}
	}
	if len(want) > 0 && !allowPending {
		return fmt.Errorf("%w: %d results missing at end", ErrOutOfOrder, len(want))
	}
	return nil
}
