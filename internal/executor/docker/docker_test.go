package docker_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/blitz/internal/executor/docker"
	"github.com/sakif/blitz/internal/executor/process"
)

func TestDockerRunner(t *testing.T) {
	// Skip in CI environments if docker is not available
	if os.Getenv("CI") != "" || testing.Short() {
		t.Skip("Skipping docker test in CI environment")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	workspace := t.TempDir()

	cfg := docker.DefaultConfig()
	cfg.WorkspaceDir = workspace
	// reduce pool size for local test speed
	cfg.PoolSize = 1

	runner, err := docker.New(cfg, logger)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	defer runner.Close()

	write := func(code string) {
		require.NoError(t, os.WriteFile(filepath.Join(workspace, "index.js"), []byte(code), 0o644))
	}
	cmd := process.Command{Path: "/usr/local/bin/node", Args: []string{"index.js"}, Dir: workspace}

	t.Run("successful execution", func(t *testing.T) {
		write(`console.log("Hello from test sandbox!")`)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		out, err := runner.Run(ctx, cmd)
		require.NoError(t, err)
		assert.Equal(t, 0, out.ExitCode)
		assert.Contains(t, out.Stdout, "Hello from test sandbox!")
		assert.Empty(t, out.Stderr)
	})

	t.Run("syntax error", func(t *testing.T) {
		write(`console.log("Missing parenthesis"`)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		out, err := runner.Run(ctx, cmd)
		require.NoError(t, err)
		assert.NotEqual(t, 0, out.ExitCode)
		assert.Contains(t, out.Stderr, "SyntaxError")
	})

	t.Run("infinite loop timeout", func(t *testing.T) {
		write(`while (true) {}`)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := runner.Run(ctx, cmd)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("outside workspace", func(t *testing.T) {
		_, err := runner.Run(context.Background(), process.Command{Path: "node", Dir: t.TempDir()})
		assert.Error(t, err)
	})
}
