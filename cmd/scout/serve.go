package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/mcp"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/tools"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveFlagSSEPort     int
	serveFlagMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the browser tools over MCP (stdio, or SSE with --sse-port)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if serveFlagSSEPort != 0 {
			cfg.MCP.SSEPort = serveFlagSSEPort
		}
		if serveFlagMetricsAddr != "" {
			cfg.Metrics.Addr = serveFlagMetricsAddr
		}

		logger := observability.Install(cfg.Logger, "scout")
		defer observability.Sync(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := newStack(ctx, cfg, logger)
		if err != nil {
			logger.Error("initialization failed", zap.Error(err))
			return err
		}
		defer st.close()

		table := tools.NewTable(logger)
		table.SetObserver(st.metrics)
		if err := st.browser.Register(table); err != nil {
			return err
		}

		server := mcp.NewServer(cfg, table, st.journal, logger)

		var startErr error
		if cfg.MCP.SSEPort > 0 {
			logger.Info("starting MCP SSE server", zap.Int("port", cfg.MCP.SSEPort))
			startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
		} else {
			logger.Info("starting MCP stdio server")
			startErr = server.Start(ctx)
		}

		if startErr != nil && !errors.Is(startErr, context.Canceled) {
			logger.Error("server exited with error", zap.Error(startErr))
			return startErr
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&serveFlagSSEPort, "sse-port", 0, "Serve SSE on this port instead of stdio")
	serveCmd.Flags().StringVar(&serveFlagMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9464)")
}
