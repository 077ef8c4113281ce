// Command blitz runs JavaScript in a sandbox, from the command line, over
// HTTP or as an MCP tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	modeFlag     string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "blitz",
	Short: "blitz - sandboxed JavaScript execution",
	Long: `blitz runs untrusted JavaScript snippets in a sandbox.

Scripts without packages run in an embedded interpreter. Scripts that declare
packages run either in the embedded interpreter with modules loaded from a
trusted CDN (mode "embedded") or in a real node process after an npm install
(mode "process").

Configuration comes from BLITZ_* environment variables; flags override them.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "Dependency mode: embedded or process (overrides BLITZ_EXEC_MODE)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides BLITZ_LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
