package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/handler"
	"github.com/sakif/blitz/internal/repository/sqlite"
	"github.com/sakif/blitz/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockExecutor returns a canned result and reports Statuses to the observer
// synchronously, so websocket tests see a deterministic order.
type MockExecutor struct {
	mu          sync.Mutex
	CapturedReq executor.ExecutionRequest
	ReturnRes   *executor.ExecutionResult
	Statuses    []executor.Status
}

func (m *MockExecutor) Execute(_ context.Context, req executor.ExecutionRequest, observer executor.Observer) *executor.ExecutionResult {
	m.mu.Lock()
	m.CapturedReq = req
	m.mu.Unlock()
	if observer != nil {
		for _, s := range m.Statuses {
			observer(executor.LifecycleEvent{Status: s, Time: time.Now()})
		}
	}
	res := *m.ReturnRes
	return &res
}

func (m *MockExecutor) captured() executor.ExecutionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CapturedReq
}

type testEnv struct {
	exec   *MockExecutor
	db     *sqlite.DB
	router chi.Router
}

// newTestEnv wires real handlers and a real RunService over an in-memory
// database, with only the executor faked.
func newTestEnv(t *testing.T, res *executor.ExecutionResult) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	exec := &MockExecutor{ReturnRes: res}
	runs := service.NewRunService(exec, db, 1024, logger)

	execH := handler.NewExecuteHandler(runs, 1024, logger)
	runH := handler.NewRunHandler(runs, logger)

	r := chi.NewRouter()
	r.Post("/api/execute", execH.HandleExecute)
	r.Get("/api/execute/ws", execH.HandleStream)
	r.Get("/api/imports", handler.HandleImports)
	r.Get("/api/runs", runH.HandleList)
	r.Get("/api/runs/{id}", runH.HandleGet)
	r.Delete("/api/runs/{id}", runH.HandleDelete)

	return &testEnv{exec: exec, db: db, router: r}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func okResult() *executor.ExecutionResult {
	return &executor.ExecutionResult{
		Success:  true,
		Output:   []executor.OutputEvent{{Channel: executor.ChannelLog, Value: int64(2)}},
		Strategy: "embedded",
		Duration: 100 * time.Millisecond,
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

// =========================================================================
// POST /api/execute
// =========================================================================

func TestExecuteHandler_HandleExecute(t *testing.T) {
	t.Run("valid execution", func(t *testing.T) {
		env := newTestEnv(t, okResult())

		rr := env.do(t, http.MethodPost, "/api/execute", `{"code":"console.log(1+1)"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		res := decode[handler.ExecuteResponse](t, rr)
		assert.True(t, res.Success)
		assert.NotEmpty(t, res.ID)
		assert.Equal(t, "embedded", res.Strategy)
		assert.Equal(t, int64(100), res.DurationMs)
		require.Len(t, res.Output, 1)
		assert.Equal(t, executor.ChannelLog, res.Output[0].Channel)
		assert.Equal(t, float64(2), res.Output[0].Value)

		assert.Equal(t, "console.log(1+1)", env.exec.captured().Code)
	})

	t.Run("failed execution is still 200", func(t *testing.T) {
		env := newTestEnv(t, &executor.ExecutionResult{
			Output:    []executor.OutputEvent{},
			Error:     "Error: boom",
			ErrorKind: "evaluation_failure",
			Strategy:  "embedded",
		})

		rr := env.do(t, http.MethodPost, "/api/execute", `{"code":"throw new Error('boom')"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		res := decode[handler.ExecuteResponse](t, rr)
		assert.False(t, res.Success)
		assert.Equal(t, "evaluation_failure", res.ErrorKind)
		assert.Equal(t, "Error: boom", res.Error)
		assert.Empty(t, res.Output)
	})

	t.Run("packages are passed through", func(t *testing.T) {
		env := newTestEnv(t, okResult())

		rr := env.do(t, http.MethodPost, "/api/execute", `{"code":"1","packages":["lodash"]}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, []string{"lodash"}, env.exec.captured().Packages)
	})

	badRequests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"invalid JSON", `{"code":`, "body"},
		{"unknown field", `{"code":"1","language":"python"}`, "body"},
		{"empty code", `{"code":""}`, "code"},
		{"blank package", `{"code":"1","packages":[""]}`, "packages"},
		{"body too large", `{"code":"` + strings.Repeat("x", 128*1024) + `"}`, "body"},
	}
	for _, tt := range badRequests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, okResult())

			rr := env.do(t, http.MethodPost, "/api/execute", tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			res := decode[handler.ErrorResponse](t, rr)
			assert.Equal(t, "validation_error", res.Error)
			assert.Equal(t, tt.wantField, res.Field)
			assert.Empty(t, env.exec.captured().Code, "executor must not run")
		})
	}
}

// =========================================================================
// RUN HISTORY
// =========================================================================

func TestRunHandler(t *testing.T) {
	env := newTestEnv(t, okResult())

	first := decode[handler.ExecuteResponse](t, env.do(t, http.MethodPost, "/api/execute", `{"code":"1"}`))
	second := decode[handler.ExecuteResponse](t, env.do(t, http.MethodPost, "/api/execute", `{"code":"2"}`))

	t.Run("list newest first", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/runs", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var runs []struct {
			ID   string `json:"id"`
			Code string `json:"code"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&runs))
		require.Len(t, runs, 2)
		assert.Equal(t, second.ID, runs[0].ID)
		assert.Equal(t, first.ID, runs[1].ID)
	})

	t.Run("list with limit", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/runs?limit=1", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var runs []json.RawMessage
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&runs))
		assert.Len(t, runs, 1)
	})

	t.Run("bad limit", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/runs?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("get", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/runs/"+first.ID, "")
		require.Equal(t, http.StatusOK, rr.Code)
		var run struct {
			Code   string          `json:"code"`
			Output json.RawMessage `json:"output"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
		assert.Equal(t, "1", run.Code)
		assert.JSONEq(t, `[{"channel":"log","value":2}]`, string(run.Output))
	})

	t.Run("delete then 404", func(t *testing.T) {
		rr := env.do(t, http.MethodDelete, "/api/runs/"+first.ID, "")
		assert.Equal(t, http.StatusNoContent, rr.Code)

		rr = env.do(t, http.MethodGet, "/api/runs/"+first.ID, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "not_found", decode[handler.ErrorResponse](t, rr).Error)

		rr = env.do(t, http.MethodDelete, "/api/runs/"+first.ID, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

// =========================================================================
// GET /api/imports
// =========================================================================

func TestHandleImports(t *testing.T) {
	env := newTestEnv(t, okResult())

	code := `import _ from "lodash/fp"; import fs from "node:fs"; const x = require("./local"); await import("@scope/pkg/sub")`
	rr := env.do(t, http.MethodGet, "/api/imports?code="+url.QueryEscape(code), "")

	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[handler.ImportsResponse](t, rr)
	assert.Equal(t, []string{"./local", "@scope/pkg/sub", "lodash/fp", "node:fs"}, res.Modules)
	assert.Equal(t, []string{"@scope/pkg", "lodash"}, res.Packages)
	assert.Equal(t, []string{"node:fs"}, res.Restricted)

	rr = env.do(t, http.MethodGet, "/api/imports", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =========================================================================
// GET /healthz
// =========================================================================

type fakePinger struct{ err error }

func (f fakePinger) Ping() error { return f.err }

func TestHealthHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rr := httptest.NewRecorder()
	handler.NewHealthHandler(fakePinger{}, "embedded", logger).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","mode":"embedded"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	handler.NewHealthHandler(fakePinger{err: errors.New("db gone")}, "embedded", logger).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

// =========================================================================
// WEBSOCKET /api/execute/ws
// =========================================================================

func TestExecuteHandler_HandleStream(t *testing.T) {
	env := newTestEnv(t, okResult())
	env.exec.Statuses = []executor.Status{executor.StatusExecutionStarted, executor.StatusExecutionFinished}

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/execute/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, conn.WriteJSON(map[string]any{"code": "console.log(1+1)"}))

	started := read()
	assert.Equal(t, "status", started["type"])
	assert.Equal(t, string(executor.StatusExecutionStarted), started["status"])
	assert.NotEmpty(t, started["time"])

	finished := read()
	assert.Equal(t, string(executor.StatusExecutionFinished), finished["status"])

	result := read()
	assert.Equal(t, "result", result["type"])
	assert.Equal(t, true, result["success"])
	assert.Equal(t, "embedded", result["strategy"])
	assert.NotEmpty(t, result["id"])

	// The connection stays usable after an invalid message.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"code":`)))
	bad := read()
	assert.Equal(t, "error", bad["type"])
	assert.Equal(t, "validation_error", bad["error"])

	require.NoError(t, conn.WriteJSON(map[string]any{"code": ""}))
	empty := read()
	assert.Equal(t, "error", empty["type"])
	assert.Equal(t, "code is required", empty["message"])
}
