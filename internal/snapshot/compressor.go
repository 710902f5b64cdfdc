package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/browser"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"
	"go.uber.org/zap"
)

// Observer is told about every snapshot taken.
type Observer interface {
	SnapshotTaken(ctx context.Context, version uint64, url string, elements int)
}

// Compressor produces PageContexts from the live page and installs each
// one into the shared RefMap.
type Compressor struct {
	page         browser.Page
	refs         *RefMap
	maxElements  int
	readyTimeout time.Duration
	pollInterval time.Duration
	observer     Observer
	logger       *zap.Logger
}

// Option configures a Compressor.
type Option func(*Compressor)

func WithMaxElements(n int) Option {
	return func(c *Compressor) {
		if n > 0 {
			c.maxElements = n
		}
	}
}

// WithReadyTimeout bounds the wait for document readiness before enumeration.
func WithReadyTimeout(d time.Duration) Option {
	return func(c *Compressor) { c.readyTimeout = d }
}

func WithObserver(o Observer) Option {
	return func(c *Compressor) { c.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Compressor) { c.logger = observability.OrNop(l).Named("snapshot") }
}

func NewCompressor(page browser.Page, refs *RefMap, opts ...Option) *Compressor {
	c := &Compressor{
		page:         page,
		refs:         refs,
		maxElements:  DefaultMaxElements,
		readyTimeout: 5 * time.Second,
		pollInterval: 100 * time.Millisecond,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refs returns the map this compressor writes.
func (c *Compressor) Refs() *RefMap {
	return c.refs
}

// Capture snapshots the page and replaces the ref map with the result.
func (c *Compressor) Capture(ctx context.Context) (PageContext, error) {
	c.awaitReady(ctx)

	info, err := c.page.Info(ctx)
	if err != nil {
		return PageContext{}, fmt.Errorf("page info: %w", err)
	}

	raw, err := c.page.Eval(ctx, enumerateJS, rawCandidateLimit)
	if err != nil {
		return PageContext{}, fmt.Errorf("enumerate elements: %w", err)
	}

	var cands []Candidate
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &cands); err != nil {
			return PageContext{}, fmt.Errorf("decode elements: %w", err)
		}
	}

	elements := Build(cands, c.maxElements)
	version := c.refs.Replace(elements)

	pc := PageContext{
		Version:  version,
		URL:      info.URL,
		Title:    info.Title,
		Elements: elements,
	}

	if ce := c.logger.Check(zap.DebugLevel, "snapshot taken"); ce != nil {
		ce.Write(
			zap.Uint64("version", version),
			zap.String("url", info.URL),
			zap.Int("candidates", len(cands)),
			zap.Int("elements", len(elements)),
			zap.String("page", pc.Render()))
	}
	if c.observer != nil {
		c.observer.SnapshotTaken(ctx, version, info.URL, len(elements))
	}
	return pc, nil
}

// awaitReady polls document.readyState until it leaves "loading" or the
// ready timeout passes. Failure here is not fatal; enumeration still runs.
func (c *Compressor) awaitReady(ctx context.Context) {
	if c.readyTimeout <= 0 {
		return
	}
	deadline := time.Now().Add(c.readyTimeout)
	for {
		raw, err := c.page.Eval(ctx, readyStateJS)
		if err == nil {
			var state string
			if json.Unmarshal(raw, &state) == nil && (state == "interactive" || state == "complete") {
				return
			}
		}
		if time.Now().After(deadline) {
			c.logger.Debug("page not ready before timeout, snapshotting anyway")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pollInterval):
		}
	}
}
