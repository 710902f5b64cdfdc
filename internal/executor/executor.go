// Package executor performs physical browser actions against refs from the
// current snapshot, with fallbacks and a per-key retry ceiling.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/browser"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/snapshot"
	"go.uber.org/zap"
)

var (
	// ErrRetryExhausted is reported when an action key hits the retry ceiling.
	ErrRetryExhausted = errors.New("retry limit reached")
	// ErrActionTimeout wraps a physical action that ran out of time.
	ErrActionTimeout = errors.New("action timed out")
)

// Outcome labels reported to observers.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeExhausted = "exhausted"
	OutcomeStale     = "stale"
)

// Strategy labels reported to observers.
const (
	StrategyPrimary  = "primary"
	StrategyFallback = "fallback"
	StrategyBulk     = "bulk_value"
	StrategyKeys     = "key_press"
	StrategyNone     = "none"
)

// Observer is told about every action attempt outcome.
type Observer interface {
	ActionResult(ctx context.Context, op, target, strategy, outcome string)
}

// Timing holds per-operation bounds and the named settle steps.
type Timing struct {
	NavigationTimeout time.Duration
	ClickTimeout      time.Duration
	TypeTimeout       time.Duration
	NavigateSettle    time.Duration
	EnterSettle       time.Duration
	ScrollSettle      time.Duration
	Keystroke         time.Duration
	ScrollStep        int
	RetryCeiling      int
}

// TimingFromConfig collects Timing from the browser and agent sections.
func TimingFromConfig(b config.BrowserConfig, a config.AgentConfig) Timing {
	return Timing{
		NavigationTimeout: b.NavigationTimeout(),
		ClickTimeout:      b.ClickTimeout(),
		TypeTimeout:       b.TypeTimeout(),
		NavigateSettle:    a.NavigateSettle(),
		EnterSettle:       a.EnterSettle(),
		ScrollSettle:      a.ScrollSettle(),
		Keystroke:         a.Keystroke(),
		ScrollStep:        a.GetScrollStep(),
		RetryCeiling:      a.RetryCeiling,
	}
}

// Executor owns the page and the ref map for the duration of an action.
// Calls must be sequential.
type Executor struct {
	page      browser.Page
	refs      *snapshot.RefMap
	retries   *RetryState
	timing    Timing
	observers []Observer
	logger    *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

func WithObserver(o Observer) Option {
	return func(e *Executor) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = observability.OrNop(l).Named("executor") }
}

func New(page browser.Page, refs *snapshot.RefMap, timing Timing, opts ...Option) *Executor {
	e := &Executor{
		page:    page,
		refs:    refs,
		retries: NewRetryState(timing.RetryCeiling),
		timing:  timing,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Page returns the page actions are issued against.
func (e *Executor) Page() browser.Page {
	return e.page
}

// Refs returns the ref map actions resolve against.
func (e *Executor) Refs() *snapshot.RefMap {
	return e.refs
}

// Retries exposes the retry state.
func (e *Executor) Retries() *RetryState {
	return e.retries
}

func (e *Executor) report(ctx context.Context, key ActionKey, strategy, outcome string) {
	for _, o := range e.observers {
		o.ActionResult(ctx, key.Op, key.Target, strategy, outcome)
	}
}

// strategy is one way of performing an action.
type strategy struct {
	name string
	run  func(ctx context.Context) error
}

// attempt runs the strategies in order until one succeeds. A call in which
// every strategy fails counts as one failure against key; reaching the
// ceiling clears the key and wraps ErrRetryExhausted.
func (e *Executor) attempt(ctx context.Context, key ActionKey, strategies ...strategy) (string, error) {
	var lastErr error
	for i, s := range strategies {
		err := s.run(ctx)
		if err == nil {
			e.retries.Succeed(key)
			e.report(ctx, key, s.name, OutcomeOK)
			return s.name, nil
		}
		lastErr = classify(err)
		if i < len(strategies)-1 {
			e.logger.Debug("strategy failed, trying fallback",
				zap.Stringer("action", key),
				zap.String("strategy", s.name),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			break
		}
	}

	attempts, exhausted := e.retries.Fail(key)
	if exhausted {
		e.report(ctx, key, StrategyNone, OutcomeExhausted)
		return "", fmt.Errorf("%w for %s after %d attempts: %w", ErrRetryExhausted, key, attempts, lastErr)
	}
	e.report(ctx, key, StrategyNone, OutcomeFailed)
	return "", fmt.Errorf("attempt %d/%d: %w", attempts, e.retries.Ceiling(), lastErr)
}

// bounded caps a whole strategy, not just its individual page calls.
func bounded(d time.Duration, run func(ctx context.Context) error) func(ctx context.Context) error {
	if d <= 0 {
		return run
	}
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return run(ctx)
	}
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrActionTimeout) {
		return fmt.Errorf("%w: %w", ErrActionTimeout, err)
	}
	return err
}

// resolve looks ref up, pinned to version when it is non-zero.
func (e *Executor) resolve(ctx context.Context, op, ref string, version uint64) (string, *envelope.Result) {
	selector, err := e.refs.ResolveAt(version, ref)
	if err != nil {
		e.report(ctx, ActionKey{Op: op, Target: ref}, StrategyNone, OutcomeStale)
		e.logger.Warn("stale reference, "+observability.AdaptNote, zap.String("op", op), zap.String("ref", ref))
		res := envelope.Fail("%v", err)
		return "", &res
	}
	return selector, nil
}

// NormalizeURL prefixes https:// when the URL has no scheme.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return u
	}
	if strings.Contains(u, "://") {
		return u
	}
	for _, scheme := range []string{"about:", "data:", "file:", "mailto:", "javascript:"} {
		if strings.HasPrefix(strings.ToLower(u), scheme) {
			return u
		}
	}
	return "https://" + strings.TrimLeft(u, "/")
}

// Navigate loads url, waits for DOM ready, then applies the navigate settle.
// The fallback retries once with a doubled timeout and a best-effort load wait.
// The ref map is invalidated whatever the outcome.
func (e *Executor) Navigate(ctx context.Context, rawURL string) envelope.Result {
	url := NormalizeURL(rawURL)
	if url == "" {
		return envelope.Fail("Navigation failed: url is required")
	}
	key := ActionKey{Op: "navigate", Target: url}

	used, err := e.attempt(ctx, key,
		strategy{StrategyPrimary, func(ctx context.Context) error {
			return e.page.Navigate(ctx, url, e.timing.NavigationTimeout)
		}},
		strategy{StrategyFallback, func(ctx context.Context) error {
			if err := e.page.Navigate(ctx, url, 2*e.timing.NavigationTimeout); err != nil {
				return err
			}
			if err := e.page.WaitLoad(ctx, e.timing.NavigationTimeout); err != nil {
				e.logger.Debug("load event not observed", zap.String("url", url), zap.Error(err))
			}
			return nil
		}},
	)
	e.refs.Invalidate()
	if err != nil {
		e.logger.Warn("navigation failed, "+observability.AdaptNote, zap.String("url", url), zap.Error(err))
		return envelope.Fail("Navigation to %s failed: %v", url, err)
	}

	if err := sleep(ctx, e.timing.NavigateSettle); err != nil {
		return envelope.Fail("Navigation to %s interrupted: %v", url, err)
	}

	info, err := e.page.Info(ctx)
	if err != nil {
		info = browser.PageInfo{URL: url}
	}
	return envelope.OK(map[string]interface{}{
		"url":      info.URL,
		"title":    info.Title,
		"strategy": used,
	})
}

// Click scrolls the element into view and clicks it, falling back to a
// forced DOM click.
func (e *Executor) Click(ctx context.Context, ref string) envelope.Result {
	return e.ClickAt(ctx, 0, ref)
}

// ClickAt is Click with ref pinned to snapshot version; 0 means current.
func (e *Executor) ClickAt(ctx context.Context, version uint64, ref string) envelope.Result {
	selector, stale := e.resolve(ctx, "click", ref, version)
	if stale != nil {
		return *stale
	}
	key := ActionKey{Op: "click", Target: ref}

	used, err := e.attempt(ctx, key,
		strategy{StrategyPrimary, func(ctx context.Context) error {
			if err := e.page.ScrollIntoView(ctx, selector, e.timing.ClickTimeout); err != nil {
				return err
			}
			return e.page.Click(ctx, selector, 1, e.timing.ClickTimeout)
		}},
		strategy{StrategyFallback, func(ctx context.Context) error {
			return e.page.ForceClick(ctx, selector, e.timing.ClickTimeout)
		}},
	)
	if err != nil {
		e.logger.Warn("click failed, "+observability.AdaptNote, zap.String("ref", ref), zap.Error(err))
		return envelope.Fail("Click failed on %s: %v", ref, err)
	}
	return envelope.OK(map[string]interface{}{"ref": ref, "strategy": used})
}

// TypeText replaces the element's content with text. Strategies in order:
// keystroke typing after focus and select-all, bulk value assignment, then a
// key-press variant after a programmatic focus. Enter is pressed only after
// one of them succeeds.
func (e *Executor) TypeText(ctx context.Context, ref, text string, pressEnter bool) envelope.Result {
	return e.TypeTextAt(ctx, 0, ref, text, pressEnter)
}

// TypeTextAt is TypeText with ref pinned to snapshot version; 0 means current.
func (e *Executor) TypeTextAt(ctx context.Context, version uint64, ref, text string, pressEnter bool) envelope.Result {
	selector, stale := e.resolve(ctx, "type_text", ref, version)
	if stale != nil {
		return *stale
	}
	key := ActionKey{Op: "type_text", Target: ref}
	timeout := e.timing.TypeTimeout

	used, err := e.attempt(ctx, key,
		strategy{StrategyPrimary, bounded(timeout, func(ctx context.Context) error {
			if err := e.page.ScrollIntoView(ctx, selector, timeout); err != nil {
				return err
			}
			if err := e.page.Click(ctx, selector, 1, timeout); err != nil {
				return fmt.Errorf("focus: %w", err)
			}
			if err := e.page.Click(ctx, selector, 3, timeout); err != nil {
				return fmt.Errorf("select all: %w", err)
			}
			if err := e.page.PressKey(ctx, browser.KeyBackspace); err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			return e.typeRunes(ctx, text, e.timing.Keystroke)
		})},
		strategy{StrategyBulk, func(ctx context.Context) error {
			return e.page.SetValue(ctx, selector, text, timeout)
		}},
		strategy{StrategyKeys, bounded(timeout, func(ctx context.Context) error {
			if err := e.page.Focus(ctx, selector, timeout); err != nil {
				return fmt.Errorf("focus: %w", err)
			}
			if err := e.page.PressKey(ctx, browser.KeyBackspace); err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			return e.typeRunes(ctx, text, 0)
		})},
	)
	if err != nil {
		e.logger.Warn("typing failed, "+observability.AdaptNote, zap.String("ref", ref), zap.Error(err))
		return envelope.Fail("Type failed on %s, all strategies failed (last error: %v)", ref, err)
	}

	if pressEnter {
		if err := e.page.PressKey(ctx, browser.KeyEnter); err != nil {
			return envelope.Fail("Typed into %s but pressing Enter failed: %v", ref, err)
		}
		e.refs.Invalidate()
		if err := sleep(ctx, e.timing.EnterSettle); err != nil {
			return envelope.Fail("Typed into %s but settle was interrupted: %v", ref, err)
		}
	}

	return envelope.OK(map[string]interface{}{
		"ref":       ref,
		"typed":     len([]rune(text)),
		"submitted": pressEnter,
		"strategy":  used,
	})
}

func (e *Executor) typeRunes(ctx context.Context, text string, delay time.Duration) error {
	for _, r := range text {
		if err := e.page.TypeRune(ctx, r); err != nil {
			return fmt.Errorf("type %q: %w", r, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nil
}

// Scroll moves the viewport one fixed step up or down. There is no retry.
func (e *Executor) Scroll(ctx context.Context, direction string) envelope.Result {
	dir := strings.ToLower(strings.TrimSpace(direction))
	var dy float64
	switch dir {
	case "down":
		dy = float64(e.timing.ScrollStep)
	case "up":
		dy = -float64(e.timing.ScrollStep)
	default:
		return envelope.Fail("Scroll failed: direction must be \"up\" or \"down\", got %q", direction)
	}

	key := ActionKey{Op: "scroll", Target: dir}
	if err := e.page.Wheel(ctx, dy); err != nil {
		e.report(ctx, key, StrategyPrimary, OutcomeFailed)
		return envelope.Fail("Scroll failed: %v", err)
	}
	e.report(ctx, key, StrategyPrimary, OutcomeOK)
	if err := sleep(ctx, e.timing.ScrollSettle); err != nil {
		return envelope.Fail("Scroll interrupted: %v", err)
	}
	return envelope.OK(map[string]interface{}{"direction": dir, "pixels": dy})
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
