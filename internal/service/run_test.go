package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/model"
	"github.com/sakif/blitz/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =========================================================================
// FAKES
// =========================================================================

// mockRunRepo stores runs in memory. createErr makes Create fail.
type mockRunRepo struct {
	mu        sync.Mutex
	runs      map[string]*model.Run
	nextID    int
	createErr error
	lastList  repository.ListOptions
}

func newMockRepo() *mockRunRepo {
	return &mockRunRepo{runs: make(map[string]*model.Run)}
}

func (m *mockRunRepo) Create(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	run.ID = fmt.Sprintf("mock-%d", m.nextID)
	run.CreatedAt = time.Now()
	stored := *run
	m.runs[run.ID] = &stored
	return nil
}

func (m *mockRunRepo) GetByID(_ context.Context, id string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, apperror.NotFound("run", id)
	}
	result := *run
	return &result, nil
}

func (m *mockRunRepo) List(_ context.Context, opts repository.ListOptions) ([]model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastList = opts
	result := make([]model.Run, 0, len(m.runs))
	for _, r := range m.runs {
		result = append(result, *r)
	}
	return result, nil
}

func (m *mockRunRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[id]; !ok {
		return apperror.NotFound("run", id)
	}
	delete(m.runs, id)
	return nil
}

// fakeExecutor returns result and records the requests it saw.
type fakeExecutor struct {
	result *executor.ExecutionResult
	seen   []executor.ExecutionRequest
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.ExecutionRequest, observer executor.Observer) *executor.ExecutionResult {
	f.seen = append(f.seen, req)
	if observer != nil {
		observer(executor.LifecycleEvent{Status: executor.StatusExecutionStarted, Time: time.Now()})
	}
	r := *f.result
	return &r
}

func newTestService(t *testing.T, result *executor.ExecutionResult) (*RunService, *mockRunRepo, *fakeExecutor) {
	t.Helper()
	repo := newMockRepo()
	exec := &fakeExecutor{result: result}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunService(exec, repo, 1024, logger), repo, exec
}

func okResult() *executor.ExecutionResult {
	return &executor.ExecutionResult{
		Success:  true,
		Output:   []executor.OutputEvent{{Channel: executor.ChannelLog, Value: int64(2)}},
		Strategy: "embedded",
		Duration: 15 * time.Millisecond,
	}
}

// =========================================================================
// VALIDATION
// =========================================================================

func TestValidate(t *testing.T) {
	svc, _, _ := newTestService(t, okResult())

	tooMany := make([]string, MaxPackages+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("pkg-%d", i)
	}

	tests := []struct {
		name      string
		in        ExecuteInput
		wantField string
	}{
		{"empty code", ExecuteInput{Code: ""}, "code"},
		{"whitespace code", ExecuteInput{Code: " \n\t"}, "code"},
		{"code too large", ExecuteInput{Code: strings.Repeat("x", 1025)}, "code"},
		{"too many packages", ExecuteInput{Code: "1", Packages: tooMany}, "packages"},
		{"blank package name", ExecuteInput{Code: "1", Packages: []string{"lodash", "  "}}, "packages"},
		{"valid", ExecuteInput{Code: "1", Packages: []string{"lodash"}}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.in)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr), "want *AppError, got %v", err)
			assert.ErrorIs(t, err, apperror.ErrValidation)
			assert.Equal(t, tt.wantField, appErr.Field)
		})
	}
}

func TestValidate_TrimsPackageNames(t *testing.T) {
	svc, _, _ := newTestService(t, okResult())

	req, err := svc.Validate(ExecuteInput{Code: "1", Packages: []string{" lodash ", "left-pad"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"lodash", "left-pad"}, req.Packages)
}

// =========================================================================
// EXECUTE
// =========================================================================

func TestExecute_StoresRun(t *testing.T) {
	svc, repo, exec := newTestService(t, okResult())

	var events []executor.Status
	got, err := svc.Execute(context.Background(), ExecuteInput{Code: "console.log(1+1)", Subject: "ci-bot"},
		func(e executor.LifecycleEvent) { events = append(events, e.Status) })
	require.NoError(t, err)

	require.Len(t, exec.seen, 1)
	assert.Equal(t, "console.log(1+1)", exec.seen[0].Code)
	assert.Empty(t, exec.seen[0].Packages)
	assert.Equal(t, []executor.Status{executor.StatusExecutionStarted}, events, "observer is passed through")

	assert.Equal(t, "mock-1", got.ID)
	assert.True(t, got.Result.Success)

	stored, err := repo.GetByID(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, "embedded", stored.Strategy)
	assert.Equal(t, int64(15), stored.DurationMs)
	assert.Equal(t, "ci-bot", stored.Subject)
	assert.JSONEq(t, `[{"channel":"log","value":2}]`, string(stored.Output))
}

func TestExecute_FailedRunIsStored(t *testing.T) {
	svc, repo, _ := newTestService(t, &executor.ExecutionResult{
		Output:    []executor.OutputEvent{},
		Error:     `import of restricted module "fs" is not allowed`,
		ErrorKind: "policy_violation",
		Strategy:  "embedded-modules",
	})

	got, err := svc.Execute(context.Background(), ExecuteInput{Code: `import fs from "fs"`, Packages: []string{"fs"}}, nil)
	require.NoError(t, err, "execution failures are results, not errors")
	assert.False(t, got.Result.Success)

	stored, err := repo.GetByID(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, "policy_violation", stored.ErrorKind)
	assert.JSONEq(t, `[]`, string(stored.Output))
}

func TestExecute_ValidationErrorSkipsExecutor(t *testing.T) {
	svc, repo, exec := newTestService(t, okResult())

	_, err := svc.Execute(context.Background(), ExecuteInput{Code: ""}, nil)
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Empty(t, exec.seen)
	assert.Empty(t, repo.runs)
}

func TestExecute_StorageFailureKeepsResult(t *testing.T) {
	svc, repo, _ := newTestService(t, okResult())
	repo.createErr = errors.New("disk full")

	got, err := svc.Execute(context.Background(), ExecuteInput{Code: "1"}, nil)
	require.NoError(t, err)
	assert.Empty(t, got.ID)
	assert.True(t, got.Result.Success)
	assert.Len(t, got.Result.Output, 1)
}

func TestExecute_StoresAfterCallerCancels(t *testing.T) {
	svc, repo, _ := newTestService(t, okResult())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := svc.Execute(ctx, ExecuteInput{Code: "1"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Len(t, repo.runs, 1)
}

// =========================================================================
// HISTORY
// =========================================================================

func TestList_ClampsLimit(t *testing.T) {
	svc, repo, _ := newTestService(t, okResult())

	_, err := svc.List(context.Background(), repository.ListOptions{Limit: 1000, Offset: -5})
	require.NoError(t, err)
	assert.Equal(t, MaxListLimit, repo.lastList.Limit)
	assert.Equal(t, 0, repo.lastList.Offset)

	_, err = svc.List(context.Background(), repository.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultListLimit, repo.lastList.Limit)
}

func TestGetAndDelete(t *testing.T) {
	svc, _, _ := newTestService(t, okResult())
	ctx := context.Background()

	got, err := svc.Execute(ctx, ExecuteInput{Code: "1"}, nil)
	require.NoError(t, err)

	run, err := svc.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", run.Code)

	require.NoError(t, svc.Delete(ctx, got.ID))

	_, err = svc.Get(ctx, got.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, got.ID), apperror.ErrNotFound)

	_, err = svc.Get(ctx, " ")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}
