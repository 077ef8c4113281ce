package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Command is one program invocation in a workspace.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// InheritEnv starts from the host environment. Without it Env is all
	// the command sees.
	InheritEnv bool
}

// Output is what a finished command produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands. When ctx ends before the command does, the
// command is killed and Run returns ctx.Err() alongside whatever output was
// captured.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// LocalRunner starts commands on the host. On timeout the whole process
// group is killed so children the script spawned go too.
type LocalRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after a kill.
	WaitDelay time.Duration
}

func (l LocalRunner) Run(ctx context.Context, c Command) (*Output, error) {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if c.InheritEnv {
		cmd.Env = append(os.Environ(), c.Env...)
	} else {
		// A nil Env would inherit everything.
		cmd.Env = append([]string{}, c.Env...)
	}
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = time.Second
	}
	killProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("process: running %s: %w", c.Path, err)
	}
	return out, nil
}
