// Package journal keeps a Datalog journal of what the agent did to the page
// and derives which targets went stale, recovered or were given up.
package journal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

// Fact is one journal entry.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// Journal wraps a Mangle program and an in-memory fact store.
type Journal struct {
	cfg    config.JournalConfig
	logger *zap.Logger

	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	facts       []Fact
}

func New(cfg config.JournalConfig, logger *zap.Logger) (*Journal, error) {
	j := &Journal{
		cfg:    cfg,
		logger: observability.OrNop(logger).Named("journal"),
		store:  factstore.NewSimpleInMemoryStore(),
	}
	if !cfg.Enable {
		return j, nil
	}

	unit, err := parse.Unit(strings.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("parse journal schema: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return nil, fmt.Errorf("analyze journal schema: %w", err)
	}
	j.programInfo = programInfo
	return j, nil
}

// Enabled reports whether facts are recorded.
func (j *Journal) Enabled() bool {
	return j != nil && j.cfg.Enable
}

// AddFacts records facts and re-evaluates the rules.
func (j *Journal) AddFacts(ctx context.Context, facts []Fact) error {
	if !j.Enabled() {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.facts = append(j.facts, facts...)
	if limit := j.cfg.FactBufferLimit; limit > 0 && len(j.facts) > limit {
		j.facts = j.facts[len(j.facts)-limit:]
	}

	for _, f := range facts {
		j.store.Add(factToAtom(f))
	}

	if err := engine.EvalProgram(j.programInfo, j.store); err != nil {
		return fmt.Errorf("eval journal rules: %w", err)
	}
	return nil
}

func (j *Journal) add(ctx context.Context, predicate string, args ...interface{}) {
	err := j.AddFacts(ctx, []Fact{{Predicate: predicate, Args: args, Timestamp: time.Now()}})
	if err != nil {
		j.logger.Warn("journal write failed", zap.String("predicate", predicate), zap.Error(err))
	}
}

// ActionResult records one executor outcome.
func (j *Journal) ActionResult(ctx context.Context, op, target, strategy, outcome string) {
	j.add(ctx, "action_result", op, target, strategy, outcome)
}

// SnapshotTaken records one compressor snapshot.
func (j *Journal) SnapshotTaken(ctx context.Context, version uint64, url string, elements int) {
	j.add(ctx, "snapshot_taken", int64(version), url, elements)
}

// Navigated records a main-frame navigation.
func (j *Journal) Navigated(url string) {
	j.add(context.Background(), "navigated", url)
}

// Derived returns every fact currently known for predicate, extensional or derived.
func (j *Journal) Derived(predicate string) ([]Fact, error) {
	if !j.Enabled() {
		return nil, nil
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	arity := -1
	for sym := range j.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}

	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	query := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	var out []Fact
	err := j.store.GetFacts(query, func(atom ast.Atom) error {
		out = append(out, atomToFact(atom))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", predicate, err)
	}
	sort.Slice(out, func(a, b int) bool {
		return fmt.Sprint(out[a].Args) < fmt.Sprint(out[b].Args)
	})
	return out, nil
}

// Facts returns a copy of the recorded extensional facts, oldest first.
func (j *Journal) Facts() []Fact {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Fact, len(j.facts))
	copy(out, j.facts)
	return out
}

// Summary is the end-of-task digest of the journal.
type Summary struct {
	Exhausted      []string `json:"exhausted,omitempty"`
	Stale          []string `json:"stale,omitempty"`
	Recovered      []string `json:"recovered,omitempty"`
	Flaky          []string `json:"flaky,omitempty"`
	EmptySnapshots []string `json:"empty_snapshots,omitempty"`
}

// Summarize collects the derived predicates as "op:target" style strings.
func (j *Journal) Summarize() (Summary, error) {
	var s Summary
	if !j.Enabled() {
		return s, nil
	}
	targets := []struct {
		pred string
		dst  *[]string
	}{
		{PredExhausted, &s.Exhausted},
		{PredStale, &s.Stale},
		{PredRecovered, &s.Recovered},
		{PredFlaky, &s.Flaky},
		{PredEmptySnapshot, &s.EmptySnapshots},
	}
	for _, t := range targets {
		facts, err := j.Derived(t.pred)
		if err != nil {
			return s, err
		}
		for _, f := range facts {
			parts := make([]string, len(f.Args))
			for i, a := range f.Args {
				parts[i] = fmt.Sprint(a)
			}
			*t.dst = append(*t.dst, strings.Join(parts, ":"))
		}
	}
	return s, nil
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, a := range f.Args {
		args[i] = toConstant(a)
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}, Args: args}
}

func atomToFact(a ast.Atom) Fact {
	args := make([]interface{}, len(a.Args))
	for i, t := range a.Args {
		args[i] = fromTerm(t)
	}
	return Fact{Predicate: a.Predicate.Symbol, Args: args, Timestamp: time.Now()}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case uint64:
		return ast.Number(int64(val))
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func fromTerm(t ast.BaseTerm) interface{} {
	c, ok := t.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", t)
	}
	switch c.Type {
	case ast.StringType:
		if s, err := c.StringValue(); err == nil {
			return s
		}
	case ast.NumberType:
		if n, err := c.NumberValue(); err == nil {
			return n
		}
	case ast.Float64Type:
		if f, err := c.Float64Value(); err == nil {
			return f
		}
	}
	return c.String()
}
