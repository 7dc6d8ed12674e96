package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/gamedata-cache/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the dataset tools over MCP stdio",
	Long:  "mcp exposes fetch_game_data, run_query and execute_calculation on stdin/stdout. Logs go to stderr.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "mcp", os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		a.log.Info("mcp stdio server starting", "version", Version)
		return mcpserver.RunStdio(ctx, mcpserver.New(a.engine, Version, a.log))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
