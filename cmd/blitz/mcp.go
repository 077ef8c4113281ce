package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sakif/blitz/internal/mcptool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the run_javascript tool over MCP stdio",
	Long: `Serve blitz as a Model Context Protocol server on stdin/stdout.

The server exposes one tool, run_javascript, with arguments "code" and an
optional "packages" list. Logs go to stderr so they never corrupt the
protocol stream.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogConfig, os.Stderr)
	eng, err := buildEngine(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("building executor: %w", err)
	}
	defer eng.close()

	s := mcptool.NewServer(eng.dispatcher, version, logger)
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
