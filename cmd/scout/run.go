package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/agent"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/human"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/llm"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/recorder"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runFlagMaxIterations int
	runFlagMetricsAddr   string
	runFlagNoTrace       bool
)

var runCmd = &cobra.Command{
	Use:   "run <task...>",
	Short: "Run one candidate search task and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task := strings.TrimSpace(strings.Join(args, " "))
		if task == "" {
			return errors.New("task must not be empty")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if runFlagMaxIterations > 0 {
			cfg.Agent.MaxIterations = runFlagMaxIterations
		}
		if runFlagMetricsAddr != "" {
			cfg.Metrics.Addr = runFlagMetricsAddr
		}
		if runFlagNoTrace {
			cfg.Trace.Enable = false
		}

		logger := observability.Install(cfg.Logger, "scout")
		defer observability.Sync(logger)

		if err := cfg.RequireAPIKey(); err != nil {
			logger.Error("cannot start without an inference key", zap.Error(err))
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := newStack(ctx, cfg, logger)
		if err != nil {
			logger.Error("initialization failed", zap.Error(err))
			return err
		}
		defer st.close()

		var rec *recorder.Recorder
		if cfg.Trace.Enable {
			rec, err = recorder.New(cfg.Trace.Dir)
			if err != nil {
				logger.Warn("tracing disabled", zap.Error(err))
				rec = nil
			}
		}

		prompter := human.NewPrompter(os.Stdin, os.Stderr)

		a := agent.New(agent.Deps{
			Model:    llm.NewClient(cfg.LLM, logger),
			Browser:  st.browser,
			Human:    prompter,
			Config:   cfg.Agent,
			Logger:   logger,
			Metrics:  st.metrics,
			Recorder: rec,
		})

		result, err := a.Run(ctx, task)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Warn("task interrupted")
			} else {
				logger.Error("task failed", zap.Error(err))
			}
		}
		return emitResult(cmd.OutOrStdout(), result, err)
	},
}

// emitResult prints result as indented JSON. A failed or interrupted task
// prints nothing and returns its error.
func emitResult(w io.Writer, result agent.TaskResult, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func init() {
	runCmd.Flags().IntVar(&runFlagMaxIterations, "max-iterations", 0, "Override agent.max_iterations")
	runCmd.Flags().StringVar(&runFlagMetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9464)")
	runCmd.Flags().BoolVar(&runFlagNoTrace, "no-trace", false, "Do not write a JSONL trace for this task")
}
