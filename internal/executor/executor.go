// Package executor defines the execution request/result model and the
// Dispatcher that routes a request to one isolation strategy.
package executor

import (
	"context"
	"time"
)

// ExecutionRequest is a script and the packages it declares.
type ExecutionRequest struct {
	Code     string   `json:"code"`
	Packages []string `json:"packages,omitempty"`
}

// Channel is the console method an OutputEvent came from.
type Channel string

const (
	ChannelLog   Channel = "log"
	ChannelInfo  Channel = "info"
	ChannelWarn  Channel = "warn"
	ChannelError Channel = "error"
)

// OutputEvent is one console call. Value holds the single argument's
// structured value, the ordered list of values when there were several, or
// "" when there were none.
type OutputEvent struct {
	Channel Channel `json:"channel"`
	Value   any     `json:"value"`
}

// ExecutionResult is the normalized outcome of an execution. A failed result
// never carries output.
type ExecutionResult struct {
	Success   bool          `json:"success"`
	Output    []OutputEvent `json:"output"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Strategy  string        `json:"strategy"`
	Duration  time.Duration `json:"duration"`
}

// Executor represents the core interface for running code in an isolated environment.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest, observer Observer) *ExecutionResult
}

// Strategy is one isolation mechanism. Run returns the captured output or an
// error classified by the apperror kinds. notify reports lifecycle phases and
// never blocks.
type Strategy interface {
	Name() string
	Run(ctx context.Context, req ExecutionRequest, notify Notify) ([]OutputEvent, error)
}

// Recorder receives one observation per finished execution. kind is empty on
// success.
type Recorder interface {
	ObserveExecution(strategy, kind string, d time.Duration)
}
