// Package agent runs the bounded tool-driven decision loop and its two
// instances: the candidate search agent and the profile scanner.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/conversation"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/llm"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/tools"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBudgetExhausted is the Outcome reason when the ceiling is reached
// without a terminal call. It is not returned as an error.
var ErrBudgetExhausted = errors.New("iteration budget exhausted")

// Metrics receives loop and tool counters.
type Metrics interface {
	LoopIteration(loop string)
	InferenceFailed(loop string)
	InferenceDone(loop string, d time.Duration)
	ToolCalled(tool string, success bool)
}

// Tracer receives every conversation entry and the final outcome.
type Tracer interface {
	Entry(loop string, iteration int, e conversation.Entry)
	Outcome(loop string, iterations int, payload interface{})
}

type nopMetrics struct{}

func (nopMetrics) LoopIteration(string)                {}
func (nopMetrics) InferenceFailed(string)              {}
func (nopMetrics) InferenceDone(string, time.Duration) {}
func (nopMetrics) ToolCalled(string, bool)             {}

type nopTracer struct{}

func (nopTracer) Entry(string, int, conversation.Entry) {}
func (nopTracer) Outcome(string, int, interface{})      {}

// LoopSpec parameterizes one loop instance.
type LoopSpec struct {
	Name          string
	Instructions  string
	Table         *tools.Table
	MaxIterations int
	// TerminalTool ends the loop when it returns a successful envelope.
	TerminalTool    string
	ReflectionDelay time.Duration
	ErrorDelay      time.Duration
}

// Outcome is how a loop run ended.
type Outcome struct {
	Completed bool
	// Payload is the Data of the terminal tool's envelope.
	Payload    interface{}
	Iterations int
	// Reason is nil when Completed, otherwise ErrBudgetExhausted.
	Reason error
	Log    *conversation.Log
}

// Loop drives think, act, observe until the terminal tool succeeds or the
// iteration ceiling is reached.
type Loop struct {
	spec    LoopSpec
	model   llm.Proposer
	logger  *zap.Logger
	metrics Metrics
	tracer  Tracer
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

func WithLoopLogger(l *zap.Logger) LoopOption {
	return func(lp *Loop) { lp.logger = observability.OrNop(l) }
}

func WithLoopMetrics(m Metrics) LoopOption {
	return func(lp *Loop) {
		if m != nil {
			lp.metrics = m
		}
	}
}

func WithTracer(t Tracer) LoopOption {
	return func(lp *Loop) {
		if t != nil {
			lp.tracer = t
		}
	}
}

func NewLoop(spec LoopSpec, model llm.Proposer, opts ...LoopOption) (*Loop, error) {
	if spec.Table == nil {
		return nil, errors.New("loop needs a tool table")
	}
	if spec.MaxIterations <= 0 {
		return nil, fmt.Errorf("loop %s: max iterations must be positive", spec.Name)
	}
	if !spec.Table.Has(spec.TerminalTool) {
		return nil, fmt.Errorf("loop %s: terminal tool %q is not registered", spec.Name, spec.TerminalTool)
	}
	l := &Loop{
		spec:    spec,
		model:   model,
		logger:  zap.NewNop(),
		metrics: nopMetrics{},
		tracer:  nopTracer{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named(spec.Name)
	return l, nil
}

// Run executes one task. The only error returned is context cancellation;
// budget exhaustion is reported through Outcome.Reason.
func (l *Loop) Run(ctx context.Context, task string) (Outcome, error) {
	log := conversation.New(l.spec.Instructions, task)
	for i, e := range log.Entries() {
		l.tracer.Entry(l.spec.Name, i, e)
	}
	schemas := l.spec.Table.Schemas()
	out := Outcome{Log: log}

	for iter := 1; iter <= l.spec.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Iterations = iter
		l.metrics.LoopIteration(l.spec.Name)

		start := time.Now()
		proposal, err := l.model.Propose(ctx, log.Messages(), schemas)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			l.metrics.InferenceFailed(l.spec.Name)
			l.logger.Warn("inference failed, "+observability.AdaptNote, zap.Int("iteration", iter), zap.Error(err))
			l.append(iter, log, conversation.Entry{Kind: conversation.UserMessage, Text: inferenceErrorNote(err)})
			if err := sleep(ctx, l.spec.ErrorDelay); err != nil {
				return out, err
			}
			continue
		}
		l.metrics.InferenceDone(l.spec.Name, time.Since(start))

		calls := withCallIDs(proposal.ToolCalls)
		l.append(iter, log, conversation.Entry{Kind: conversation.ModelProposal, Text: proposal.Text, Calls: calls})

		if len(calls) == 0 {
			l.logger.Debug("text-only turn", zap.Int("iteration", iter), zap.String("text", proposal.Text))
			if err := sleep(ctx, l.spec.ReflectionDelay); err != nil {
				return out, err
			}
			continue
		}

		var (
			done    bool
			payload interface{}
		)
		for _, call := range calls {
			if done {
				skipped := envelope.Fail("skipped: %s already ended the task", l.spec.TerminalTool)
				l.append(iter, log, conversation.Entry{Kind: conversation.ToolResult, CallID: call.ID, Text: skipped.JSON()})
				continue
			}

			l.logger.Info("tool call", zap.Int("iteration", iter), zap.String("tool", call.Name))
			res := l.spec.Table.Call(ctx, call.Name, call.Arguments)
			l.append(iter, log, conversation.Entry{Kind: conversation.ToolResult, CallID: call.ID, Text: res.JSON()})
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if call.Name == l.spec.TerminalTool && res.Success {
				done = true
				payload = res.Data
			}
		}

		if done {
			out.Completed = true
			out.Payload = payload
			l.tracer.Outcome(l.spec.Name, iter, payload)
			l.logger.Info("loop completed", zap.Int("iterations", iter))
			return out, nil
		}

		if err := sleep(ctx, l.spec.ReflectionDelay); err != nil {
			return out, err
		}
	}

	out.Reason = ErrBudgetExhausted
	l.tracer.Outcome(l.spec.Name, out.Iterations, map[string]string{"reason": ErrBudgetExhausted.Error()})
	l.logger.Warn("iteration budget exhausted", zap.Int("max_iterations", l.spec.MaxIterations))
	return out, nil
}

// append adds e to the log and the trace. A rejected append means the loop
// broke the pairing rule, which is a programming error.
func (l *Loop) append(iter int, log *conversation.Log, e conversation.Entry) {
	var err error
	switch e.Kind {
	case conversation.UserMessage:
		err = log.AddUser(e.Text)
	case conversation.ModelProposal:
		err = log.AddProposal(e.Text, e.Calls)
	case conversation.ToolResult:
		err = log.AddResult(e.CallID, e.Text)
	}
	if err != nil {
		l.logger.DPanic("conversation append rejected", zap.Error(err))
		return
	}
	entries := log.Entries()
	l.tracer.Entry(l.spec.Name, iter, entries[len(entries)-1])
}

// withCallIDs gives every call a distinct id, synthesizing missing or
// repeated ones.
func withCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" || seen[c.ID] {
			c.ID = "call_" + uuid.NewString()
		}
		seen[c.ID] = true
		out[i] = c
	}
	return out
}

func inferenceErrorNote(err error) string {
	return fmt.Sprintf("The previous step failed with an error: %v\n"+
		"Re-analyze the current situation before acting. Do not blindly repeat the last call; "+
		"take a fresh get_page_context if the page may have changed.", err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
