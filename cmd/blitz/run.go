package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/imports"
	"github.com/sakif/blitz/internal/policy"
)

var (
	packagesFlag []string
	timeoutFlag  time.Duration
	detectFlag   bool
	eventsFlag   bool
)

var runCmd = &cobra.Command{
	Use:   "run <file|->",
	Short: "Run a script and print its console output",
	Long: `Run a script once and print its console output.

console.log and console.info go to stdout, console.warn and console.error to
stderr. The command exits non-zero when the script fails.

Examples:
  blitz run hello.js
  echo 'console.log(1+1)' | blitz run -
  blitz run -p lodash -p dayjs script.mjs
  blitz run --detect --mode process script.mjs`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&packagesFlag, "package", "p", nil, "Package the script imports (repeatable)")
	runCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Execution timeout (overrides BLITZ_EXEC_TIMEOUT)")
	runCmd.Flags().BoolVar(&detectFlag, "detect", false, "Declare every package the script imports")
	runCmd.Flags().BoolVar(&eventsFlag, "events", false, "Print lifecycle events to stderr")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if timeoutFlag > 0 {
		cfg.Timeout = timeoutFlag
	}

	code, err := readSource(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	packages := packagesFlag
	if detectFlag {
		packages = append(packages, detectPackages(code)...)
	}

	logger := newLogger(cfg.LogConfig, cmd.ErrOrStderr())
	eng, err := buildEngine(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("building executor: %w", err)
	}
	defer eng.close()

	var observer executor.Observer
	if eventsFlag {
		stderr := cmd.ErrOrStderr()
		observer = func(ev executor.LifecycleEvent) {
			fmt.Fprintf(stderr, "# %s\n", ev.Status)
		}
	}

	result := eng.dispatcher.Execute(cmd.Context(), executor.ExecutionRequest{Code: code, Packages: packages}, observer)

	printOutput(cmd.OutOrStdout(), cmd.ErrOrStderr(), result.Output)
	if !result.Success {
		return fmt.Errorf("%s: %s", result.ErrorKind, result.Error)
	}
	return nil
}

func readSource(arg string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if arg == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("script is empty")
	}
	return string(data), nil
}

// detectPackages returns the installable packages a script imports.
// Restricted built-ins are left in place for the policy to reject.
func detectPackages(code string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, spec := range imports.Extract(code) {
		if !policy.IsAllowed(spec) {
			continue
		}
		name := imports.PackageName(spec)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func printOutput(stdout, stderr io.Writer, events []executor.OutputEvent) {
	for _, ev := range events {
		w := stdout
		if ev.Channel == executor.ChannelWarn || ev.Channel == executor.ChannelError {
			w = stderr
		}
		fmt.Fprintln(w, ev.String())
	}
}
