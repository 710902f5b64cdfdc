package main

import (
	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/spf13/cobra"
)

var (
	flagConfig       string
	flagNoWorkspace  bool
	flagWorkspaceDir string
	flagHeadless     bool
	flagLogLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "scout",
	Short: "scout - autonomous candidate search in a real browser",
	Long: `scout drives a persistent Chrome profile with a language model to find
people matching a task and collect their profile links and contacts.

Quick start:
  scout init                                   # Create .scout/ in the current directory
  scout run "Find 10 Go developers in Berlin"  # Run one task, print JSON to stdout
  scout serve                                  # Expose the browser tools over MCP stdio
  scout serve --sse-port 8931                  # Expose them over SSE instead

The inference key is read from OPENROUTER_API_KEY (a .env file is honoured).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Explicit config file, applied over the workspace config")
	rootCmd.PersistentFlags().BoolVar(&flagNoWorkspace, "no-workspace", false, "Skip .scout/ workspace discovery")
	rootCmd.PersistentFlags().StringVar(&flagWorkspaceDir, "workspace-dir", "", "Use this directory as the workspace root")
	rootCmd.PersistentFlags().BoolVar(&flagHeadless, "headless", false, "Run Chrome headless (logins need a visible window)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override logger.level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
}

// loadConfig merges defaults, workspace, --config and environment, then the
// flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, _, err := config.LoadWithWorkspace(flagConfig, config.WorkspaceOptions{
		Disable:     flagNoWorkspace,
		ExplicitDir: flagWorkspaceDir,
	})
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("headless") {
		headless := flagHeadless
		cfg.Browser.Headless = &headless
	}
	if flagLogLevel != "" {
		cfg.Logger.Level = flagLogLevel
	}
	return cfg, nil
}
