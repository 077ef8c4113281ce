package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/blitz/internal/auth"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/service"
)

// bodySlack covers JSON framing and escaping around the code field.
const bodySlack = 64 * 1024

// Runner is the part of service.RunService the execute handlers need.
type Runner interface {
	Execute(ctx context.Context, in service.ExecuteInput, observer executor.Observer) (*service.Execution, error)
}

// ExecuteRequest is the body of POST /api/execute and of each websocket
// message.
type ExecuteRequest struct {
	Code     string   `json:"code"`
	Packages []string `json:"packages,omitempty"`
}

// ExecuteResponse is the result of one run.
type ExecuteResponse struct {
	ID         string                 `json:"id,omitempty"`
	Success    bool                   `json:"success"`
	Output     []executor.OutputEvent `json:"output"`
	Error      string                 `json:"error,omitempty"`
	ErrorKind  string                 `json:"errorKind,omitempty"`
	Strategy   string                 `json:"strategy"`
	DurationMs int64                  `json:"durationMs"`
}

func newExecuteResponse(e *service.Execution) ExecuteResponse {
	return ExecuteResponse{
		ID:         e.ID,
		Success:    e.Result.Success,
		Output:     e.Result.Output,
		Error:      e.Result.Error,
		ErrorKind:  e.Result.ErrorKind,
		Strategy:   e.Result.Strategy,
		DurationMs: e.Result.Duration.Milliseconds(),
	}
}

// ExecuteHandler runs scripts over plain HTTP and websocket.
type ExecuteHandler struct {
	runs        Runner
	maxBodySize int64
	conns       ConnGauge
	logger      *slog.Logger
}

// ConnGauge counts open websocket connections. prometheus.Gauge satisfies it.
type ConnGauge interface {
	Inc()
	Dec()
}

// NewExecuteHandler creates an ExecuteHandler. maxCodeSize bounds the
// request body together with bodySlack.
func NewExecuteHandler(runs Runner, maxCodeSize int, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		runs:        runs,
		maxBodySize: int64(maxCodeSize) + bodySlack,
		logger:      logger,
	}
}

// TrackConnections reports open websocket connections to g.
func (h *ExecuteHandler) TrackConnections(g ConnGauge) {
	h.conns = g
}

// HandleExecute runs one script and returns its result.
//
// HTTP: POST /api/execute
// REQUEST BODY: {"code": "console.log(1+1)", "packages": []}
//
// A script that fails still returns 200 with success=false. Only malformed
// or invalid requests get an error status.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req ExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	subject, _ := auth.SubjectFromContext(r.Context())
	exec, err := h.runs.Execute(r.Context(), service.ExecuteInput{
		Code:     req.Code,
		Packages: req.Packages,
		Subject:  subject,
	}, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newExecuteResponse(exec))
}
