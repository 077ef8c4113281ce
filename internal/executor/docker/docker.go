package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/blitz/internal/executor/process"
)

// Runner implements process.Runner by exec'ing commands inside pre-warmed
// containers that have the workspace mounted. Each container is used once.
type Runner struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New creates a Docker Runner, pulls the image and starts the pool.
func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	if cfg.WorkspaceDir == "" {
		return nil, fmt.Errorf("docker: workspace directory is required")
	}
	abs, err := filepath.Abs(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("docker: resolving workspace: %w", err)
	}
	cfg.WorkspaceDir = abs
	if cfg.MountPath == "" {
		cfg.MountPath = DefaultConfig().MountPath
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), PullTimeout)
	defer cancel()

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker: pulling image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	_, _ = io.Copy(io.Discard, reader)
	logger.Info("docker image is ready")

	r := &Runner{
		cli:    cli,
		config: cfg,
		logger: logger,
	}

	r.pool = NewPool(cli, cfg, logger)
	r.pool.Start()

	return r, nil
}

// Close shuts down the pool and docker client.
func (r *Runner) Close() error {
	r.pool.Stop()
	return r.cli.Close()
}

// containerDir maps a host directory inside the workspace to its path in
// the container.
func (r *Runner) containerDir(hostDir string) (string, error) {
	abs, err := filepath.Abs(hostDir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(r.config.WorkspaceDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("docker: %s is outside the mounted workspace", hostDir)
	}
	return path.Join(r.config.MountPath, filepath.ToSlash(rel)), nil
}

// containerEnv drops the variables that name host paths, which mean nothing
// inside the image, and points HOME at the mounted workspace.
func containerEnv(env []string, workDir string) []string {
	out := []string{"HOME=" + workDir}
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") || strings.HasPrefix(kv, "HOME=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// Run executes c in a pooled container. The container is removed afterwards,
// which also kills anything still running when ctx ends.
func (r *Runner) Run(ctx context.Context, c process.Command) (*process.Output, error) {
	workDir, err := r.containerDir(c.Dir)
	if err != nil {
		return nil, err
	}

	containerID, err := r.pool.GetContainer(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker: acquiring container: %w", err)
	}

	// Always ensure we clean up the container that we acquired
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := r.cli.ContainerRemove(cleanupCtx, containerID, container.RemoveOptions{
			Force: true,
		})
		if err != nil {
			r.logger.Error("failed to remove container", slog.String("id", containerID), slog.String("error", err.Error()))
		}
	}()

	// The host binary path means nothing inside the image.
	cmd := append([]string{path.Base(filepath.ToSlash(c.Path))}, c.Args...)
	execResp, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   workDir,
		Env:          containerEnv(c.Env, workDir),
		Cmd:          cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("docker: creating exec: %w", err)
	}

	attachResp, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker: attaching to exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer

	done := make(chan struct{})
	go func() {
		// Use stdcopy to demultiplex stdout from stderr
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	select {
	case <-done:
		out := &process.Output{Stdout: stdout.String(), Stderr: stderr.String()}
		inspectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		inspectResp, err := r.cli.ContainerExecInspect(inspectCtx, execResp.ID)
		if err != nil {
			return out, fmt.Errorf("docker: inspecting exec: %w", err)
		}
		out.ExitCode = inspectResp.ExitCode
		return out, nil
	case <-ctx.Done():
		// Closing the hijacked connection unblocks StdCopy; the deferred
		// remove kills the process.
		attachResp.Close()
		<-done
		return &process.Output{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}, ctx.Err()
	}
}
