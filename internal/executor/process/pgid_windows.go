//go:build windows

package process

import "os/exec"

// Windows has no process groups here; the default Cancel kills the child.
func killProcessGroup(*exec.Cmd) {}
