// Package service contains the business logic between the HTTP handlers
// and the executor and repository.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, executes, records history
//	Repository (data layer)  → reads/writes the database
//
// RunService takes interfaces, so tests inject a fake executor and an
// in-memory repository.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/model"
	"github.com/sakif/blitz/internal/repository"
)

const (
	DefaultMaxCodeSize = 64 * 1024
	MaxPackages        = 32
	DefaultListLimit   = 20
	MaxListLimit       = 100
)

// ExecuteInput is one execution request plus the caller that made it.
type ExecuteInput struct {
	Code     string
	Packages []string
	Subject  string
}

// Execution is the result of one run and the ID it was stored under. ID is
// empty when the run could not be stored.
type Execution struct {
	ID     string
	Result *executor.ExecutionResult
}

// RunService validates, executes and records runs.
type RunService struct {
	exec        executor.Executor
	repo        repository.RunRepository
	maxCodeSize int
	logger      *slog.Logger
}

// NewRunService creates a RunService. maxCodeSize <= 0 selects
// DefaultMaxCodeSize.
func NewRunService(exec executor.Executor, repo repository.RunRepository, maxCodeSize int, logger *slog.Logger) *RunService {
	if maxCodeSize <= 0 {
		maxCodeSize = DefaultMaxCodeSize
	}
	return &RunService{
		exec:        exec,
		repo:        repo,
		maxCodeSize: maxCodeSize,
		logger:      logger,
	}
}

// Validate checks in and returns the request the executor should see.
// Package names are trimmed; their order is kept.
func (s *RunService) Validate(in ExecuteInput) (executor.ExecutionRequest, error) {
	if strings.TrimSpace(in.Code) == "" {
		return executor.ExecutionRequest{}, apperror.ValidationFailed("code", "code is required")
	}
	if len(in.Code) > s.maxCodeSize {
		return executor.ExecutionRequest{}, apperror.ValidationFailed("code",
			fmt.Sprintf("code must be %d bytes or less", s.maxCodeSize))
	}
	if len(in.Packages) > MaxPackages {
		return executor.ExecutionRequest{}, apperror.ValidationFailed("packages",
			fmt.Sprintf("at most %d packages may be declared", MaxPackages))
	}

	var packages []string
	for i, p := range in.Packages {
		p = strings.TrimSpace(p)
		if p == "" {
			return executor.ExecutionRequest{}, apperror.ValidationFailed("packages",
				fmt.Sprintf("package %d has an empty name", i))
		}
		packages = append(packages, p)
	}

	return executor.ExecutionRequest{Code: in.Code, Packages: packages}, nil
}

// Execute validates in, runs it and stores the run. The only error returned
// is a validation error; execution failures are reported in the result.
// A storage failure is logged and leaves Execution.ID empty.
func (s *RunService) Execute(ctx context.Context, in ExecuteInput, observer executor.Observer) (*Execution, error) {
	req, err := s.Validate(in)
	if err != nil {
		return nil, err
	}

	result := s.exec.Execute(ctx, req, observer)

	run, err := s.record(context.WithoutCancel(ctx), req, in.Subject, result)
	if err != nil {
		s.logger.Error("failed to store run",
			slog.String("strategy", result.Strategy),
			slog.String("error", err.Error()),
		)
		return &Execution{Result: result}, nil
	}

	s.logger.Info("run finished",
		slog.String("id", run.ID),
		slog.String("strategy", run.Strategy),
		slog.Bool("success", run.Success),
		slog.Int64("durationMs", run.DurationMs),
	)

	return &Execution{ID: run.ID, Result: result}, nil
}

func (s *RunService) record(ctx context.Context, req executor.ExecutionRequest, subject string, result *executor.ExecutionResult) (*model.Run, error) {
	output, err := json.Marshal(result.Output)
	if err != nil {
		return nil, fmt.Errorf("encoding output: %w", err)
	}

	run := &model.Run{
		Code:       req.Code,
		Packages:   req.Packages,
		Strategy:   result.Strategy,
		Success:    result.Success,
		Output:     output,
		Error:      result.Error,
		ErrorKind:  result.ErrorKind,
		DurationMs: result.Duration.Milliseconds(),
		Subject:    subject,
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Get returns a stored run, or an apperror.NotFound.
func (s *RunService) Get(ctx context.Context, id string) (*model.Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "run ID is required")
	}
	return s.repo.GetByID(ctx, id)
}

// List returns stored runs newest first. limit is clamped to 1-100.
func (s *RunService) List(ctx context.Context, opts repository.ListOptions) ([]model.Run, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultListLimit
	}
	if opts.Limit > MaxListLimit {
		opts.Limit = MaxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	runs, err := s.repo.List(ctx, opts)
	if err != nil {
		s.logger.Error("failed to list runs", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Delete removes a stored run, or returns an apperror.NotFound.
func (s *RunService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "run ID is required")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("run deleted", slog.String("id", id))
	return nil
}
