package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Pool keeps a number of idle node containers running so an execution does
// not pay for container start-up.
type Pool struct {
	cli        *client.Client
	config     Config
	logger     *slog.Logger
	containers chan string
	done       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewPool initializes a new container pool wrapper.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	return &Pool{
		cli:        cli,
		config:     cfg,
		logger:     logger,
		containers: make(chan string, cfg.PoolSize),
		done:       make(chan struct{}),
	}
}

// Start begins filling the pool with fresh containers in the background.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting docker container pool manager",
			slog.Int("poolSize", p.config.PoolSize),
			slog.String("workspace", p.config.WorkspaceDir),
		)
		p.wg.Add(1)
		go p.manager()
	})
}

// Stop shuts down the manager and cleans up all pre-warmed containers.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down docker container pool")
		close(p.done)
		p.wg.Wait()

		for {
			select {
			case id := <-p.containers:
				p.removeContainer(id)
			default:
				return
			}
		}
	})
}

// GetContainer returns a ready-to-use container ID from the pool.
// It blocks until one is available or the context is canceled.
func (p *Pool) GetContainer(ctx context.Context) (string, error) {
	select {
	case id := <-p.containers:
		return id, nil
	case <-p.done:
		return "", fmt.Errorf("docker: pool is stopped")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// manager keeps the pool at capacity.
func (p *Pool) manager() {
	defer p.wg.Done()

	wait := func(d time.Duration) bool {
		select {
		case <-p.done:
			return false
		case <-time.After(d):
			return true
		}
	}

	for {
		select {
		case <-p.done:
			return
		default:
		}

		if len(p.containers) >= cap(p.containers) {
			if !wait(100 * time.Millisecond) {
				return
			}
			continue
		}

		id, err := p.createContainer()
		if err != nil {
			p.logger.Error("failed to create pre-warmed container", slog.String("error", err.Error()))
			if !wait(time.Second) {
				return
			}
			continue
		}

		select {
		case p.containers <- id:
		case <-p.done:
			p.removeContainer(id)
			return
		}
	}
}

// createContainer starts an idle container with the workspace mounted
// read-only and no network.
func (p *Pool) createContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Binds:       []string{p.config.WorkspaceDir + ":" + p.config.MountPath + ":ro"},
		Tmpfs:       map[string]string{"/tmp": "rw,noexec,nosuid,size=16m"},
		Resources: container.Resources{
			Memory:   p.config.MemoryLimit,
			NanoCPUs: int64(p.config.CPULimit * 1e9),
		},
		ReadonlyRootfs: true,
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      p.config.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: p.config.MountPath,
		User:       "node",
		Labels:     map[string]string{"app": "blitz"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("docker: creating container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.removeContainer(resp.ID)
		return "", fmt.Errorf("docker: starting container: %w", err)
	}

	return resp.ID, nil
}

// removeContainer force removes a container by ID.
func (p *Pool) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
