// Package apperror defines the error taxonomy shared by the execution engine
// and the HTTP layer.
//
// Every failure is an *AppError wrapping one of the sentinel kinds below.
// Strategies return them, the dispatcher folds them into an ExecutionResult,
// and handlers map them to status codes with errors.Is.
package apperror

import (
	"errors"
	"fmt"
)

// Host API kinds.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
)

// Execution kinds.
var (
	ErrPolicyViolation = errors.New("policy violation")
	ErrResolution      = errors.New("resolution failure")
	ErrEvaluation      = errors.New("evaluation failure")
	ErrTimeout         = errors.New("timeout")
	ErrInstall         = errors.New("install failure")
	ErrProcess         = errors.New("process failure")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// PolicyViolation reports an import of a restricted module.
func PolicyViolation(module string) *AppError {
	return &AppError{
		Err:     ErrPolicyViolation,
		Message: fmt.Sprintf("import of restricted module %q is not allowed", module),
	}
}

// ResolutionFailed reports a module that could not be resolved or fetched.
func ResolutionFailed(module, reason string) *AppError {
	return &AppError{
		Err:     ErrResolution,
		Message: fmt.Sprintf("cannot resolve module %q: %s", module, reason),
	}
}

func EvaluationFailed(message string) *AppError {
	return &AppError{Err: ErrEvaluation, Message: message}
}

func TimedOut(limit fmt.Stringer) *AppError {
	return &AppError{
		Err:     ErrTimeout,
		Message: fmt.Sprintf("execution timed out after %s", limit),
	}
}

func InstallFailed(message string) *AppError {
	return &AppError{
		Err:     ErrInstall,
		Message: "package installation failed: " + message,
	}
}

func ProcessFailed(message string) *AppError {
	return &AppError{Err: ErrProcess, Message: message}
}

// Kind returns the machine-readable name of err's taxonomy class, or
// "internal_error" when err carries none.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPolicyViolation):
		return "policy_violation"
	case errors.Is(err, ErrResolution):
		return "resolution_failure"
	case errors.Is(err, ErrEvaluation):
		return "evaluation_failure"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrInstall):
		return "install_failure"
	case errors.Is(err, ErrProcess):
		return "process_failure"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
