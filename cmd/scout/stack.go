package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/agent"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/browser"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/executor"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/extract"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/journal"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/metrics"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/snapshot"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/tools"
	"go.uber.org/zap"
)

// stack is the browser side shared by run and serve.
type stack struct {
	session *browser.Session
	journal *journal.Journal
	metrics *metrics.Collector
	browser tools.Browser

	metricsSrv *http.Server
	logger     *zap.Logger
}

// knownTools bounds the tool label of the metrics collector.
func knownTools() []string {
	return []string{
		tools.Navigate, tools.Click, tools.TypeText, tools.Scroll,
		tools.GetPageContext, tools.ExtractCandidates, tools.ExtractProfileData,
		agent.ScanProfileDeep, agent.TaskComplete, agent.AskUser,
		agent.RequestConfirmation, agent.CompleteScan,
	}
}

func newStack(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stack, error) {
	j, err := journal.New(cfg.Journal, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	s := &stack{
		journal: j,
		metrics: metrics.NewCollector(knownTools()...),
		session: browser.NewSession(cfg.Browser, logger),
		logger:  logger,
	}

	refs := snapshot.NewRefMap()
	s.session.OnNavigate(func(url string) {
		refs.Invalidate()
		j.Navigated(url)
	})

	page, err := s.session.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	compressorOpts := []snapshot.Option{
		snapshot.WithMaxElements(cfg.Agent.MaxElements),
		snapshot.WithLogger(logger),
	}
	executorOpts := []executor.Option{
		executor.WithObserver(s.metrics),
		executor.WithLogger(logger),
	}
	if j.Enabled() {
		compressorOpts = append(compressorOpts, snapshot.WithObserver(j))
		executorOpts = append(executorOpts, executor.WithObserver(j))
	}

	s.browser = tools.Browser{
		Executor:   executor.New(page, refs, executor.TimingFromConfig(cfg.Browser, cfg.Agent), executorOpts...),
		Compressor: snapshot.NewCompressor(page, refs, compressorOpts...),
		Extractor:  extract.New(page, cfg.Agent.GetExtractConcurrency(), logger),
	}

	if cfg.Metrics.Addr != "" {
		s.serveMetrics(cfg.Metrics.Addr)
	}
	return s, nil
}

func (s *stack) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		s.logger.Info("serving metrics", zap.String("addr", addr))
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

// close logs the journal digest, stops the metrics server and releases Chrome.
func (s *stack) close() {
	if summary, err := s.journal.Summarize(); err != nil {
		s.logger.Warn("journal summary failed", zap.Error(err))
	} else if s.journal.Enabled() {
		s.logger.Info("journal summary",
			zap.Strings("exhausted", summary.Exhausted),
			zap.Strings("stale", summary.Stale),
			zap.Strings("recovered", summary.Recovered),
			zap.Strings("flaky", summary.Flaky),
			zap.Strings("empty_snapshots", summary.EmptySnapshots))
	}

	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.metricsSrv.Shutdown(ctx)
		cancel()
	}
	if err := s.session.Shutdown(); err != nil {
		s.logger.Warn("browser shutdown failed", zap.Error(err))
	}
}
