package handler

import (
	"net/http"
	"sort"

	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/imports"
	"github.com/sakif/blitz/internal/policy"
)

// ImportsResponse lists what a script imports.
type ImportsResponse struct {
	Modules    []string `json:"modules"`    // every specifier, as written
	Packages   []string `json:"packages"`   // installable root packages
	Restricted []string `json:"restricted"` // specifiers the policy rejects
}

// HandleImports reports the modules a script imports without running it.
// Clients use it to fill in the packages field before executing.
//
// HTTP: GET /api/imports?code=...
func HandleImports(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "code is required"))
		return
	}

	writeJSON(w, http.StatusOK, analyzeImports(code))
}

func analyzeImports(code string) ImportsResponse {
	resp := ImportsResponse{
		Modules:    imports.Extract(code),
		Packages:   []string{},
		Restricted: []string{},
	}

	seen := make(map[string]bool)
	for _, m := range resp.Modules {
		if !policy.IsAllowed(m) {
			resp.Restricted = append(resp.Restricted, m)
			continue
		}
		name := imports.PackageName(m)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		resp.Packages = append(resp.Packages, name)
	}
	sort.Strings(resp.Packages)

	return resp
}
