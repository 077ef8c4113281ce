package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/auth"
	"github.com/sakif/blitz/internal/executor"
	"github.com/sakif/blitz/internal/service"
)

const wsWriteWait = 10 * time.Second

// Message types sent to websocket clients.
const (
	wsTypeStatus = "status"
	wsTypeResult = "result"
	wsTypeError  = "error"
)

type wsStatus struct {
	Type   string          `json:"type"`
	Status executor.Status `json:"status"`
	Time   time.Time       `json:"time"`
}

type wsResult struct {
	Type string `json:"type"`
	ExecuteResponse
}

type wsError struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// wsConn serializes writes. gorilla connections support one concurrent
// writer, and lifecycle events arrive on the executor's goroutine.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *slog.Logger
}

func (c *wsConn) send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("websocket write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// HandleStream runs scripts sent over a websocket, one at a time.
//
// WS: GET /api/execute/ws
//
// Each client message is an ExecuteRequest. The server answers with zero or
// more {"type":"status"} messages followed by exactly one
// {"type":"result"} (or {"type":"error"} for an invalid request). Status
// events that arrive after the result has been sent are dropped.
func (h *ExecuteHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.maxBodySize)

	if h.conns != nil {
		h.conns.Inc()
		defer h.conns.Dec()
	}

	ws := &wsConn{conn: conn, logger: h.logger}
	subject, _ := auth.SubjectFromContext(r.Context())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}

		var req ExecuteRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if ws.send(errorMessage(apperror.ValidationFailed("body", "invalid JSON message"))) != nil {
				return
			}
			continue
		}

		if err := h.stream(r, ws, req, subject); err != nil {
			return
		}
	}
}

// stream runs one request and reports it. It returns an error only when
// the connection is no longer writable.
func (h *ExecuteHandler) stream(r *http.Request, ws *wsConn, req ExecuteRequest, subject string) error {
	var (
		mu       sync.Mutex
		finished bool
	)
	observer := func(ev executor.LifecycleEvent) {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		_ = ws.send(wsStatus{Type: wsTypeStatus, Status: ev.Status, Time: ev.Time})
	}

	exec, err := h.runs.Execute(r.Context(), service.ExecuteInput{
		Code:     req.Code,
		Packages: req.Packages,
		Subject:  subject,
	}, observer)

	mu.Lock()
	finished = true
	mu.Unlock()

	if err != nil {
		return ws.send(errorMessage(err))
	}
	return ws.send(wsResult{Type: wsTypeResult, ExecuteResponse: newExecuteResponse(exec)})
}

func errorMessage(err error) wsError {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return wsError{Type: wsTypeError, Error: apperror.Kind(err), Message: appErr.Message}
	}
	return wsError{Type: wsTypeError, Error: "internal_error", Message: "An internal error occurred"}
}
