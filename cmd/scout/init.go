package main

import (
	"fmt"
	"os"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a .scout/ workspace with a template config",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		if err := config.InitWorkspace(root); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized workspace in %s%c%s\n", root, os.PathSeparator, config.WorkspaceDirName)
		return nil
	},
}
