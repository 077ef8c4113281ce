package docker

import (
	"time"
)

// Config holds the configuration for Docker execution.
type Config struct {
	// Image is the Docker image to use for execution.
	Image string
	// WorkspaceDir is the host workspace mounted read-only into every
	// container at MountPath.
	WorkspaceDir string
	// MountPath is where the workspace appears inside the container.
	MountPath string
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
}

// DefaultConfig provides sensible defaults for a Node.js sandbox.
func DefaultConfig() Config {
	return Config{
		Image:       "node:22-alpine",
		MountPath:   "/workspace",
		MemoryLimit: 256 * 1024 * 1024,
		CPULimit:    0.5,
		PoolSize:    2,
	}
}

// PullTimeout bounds the image pull done by New.
const PullTimeout = 2 * time.Minute
