// Package model defines the records stored by the blitz host.
package model

import (
	"encoding/json"
	"time"
)

// Run is one stored execution: the request that was submitted and the
// result the dispatcher produced for it.
//
// Output holds the ordered output events as raw JSON so this package does
// not depend on the executor. An empty output is stored as [].
type Run struct {
	ID         string          `json:"id"`
	Code       string          `json:"code"`
	Packages   []string        `json:"packages"`
	Strategy   string          `json:"strategy"`
	Success    bool            `json:"success"`
	Output     json.RawMessage `json:"output"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  string          `json:"errorKind,omitempty"`
	DurationMs int64           `json:"durationMs"`
	Subject    string          `json:"subject,omitempty"` // caller named by the API token
	CreatedAt  time.Time       `json:"createdAt"`
}
