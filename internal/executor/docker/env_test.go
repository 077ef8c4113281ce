package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainerEnv(t *testing.T) {
	got := containerEnv([]string{"PATH=/host/bin", "HOME=/host/ws", "NODE_ENV=production"}, "/workspace")
	assert.Equal(t, []string{"HOME=/workspace", "NODE_ENV=production"}, got)
}
