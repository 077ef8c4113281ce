// Package process runs scripts with a real interpreter binary inside a
// shared project workspace.
//
// THE WORKSPACE:
// One directory holds package.json, node_modules and the entry file. It is
// created on first use, reused across executions and never removed. Only one
// execution may use it at a time, enforced by a one-slot semaphore that
// honours the caller's deadline.
//
// STATE MACHINE (Sandbox.Run):
//
//	acquire → prepare manifest → [install missing packages] → write entry → run
//
// Installing has its own timeout. Waiting for the workspace and running the
// script share the execution timeout.
//
// ENVIRONMENT:
// npm runs with the host environment so proxies and registries configured
// there keep working. The script gets a fixed minimal environment (HOME,
// NODE_ENV, PATH) and never sees the server's variables.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
)

const (
	manifestName    = "package.json"
	manifestPackage = "js-blitz"
	manifestVersion = "0.0.0"

	TypeModule   = "module"
	TypeCommonJS = "commonjs"
)

var packageSpec = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._~-]*/)?[a-z0-9][a-z0-9._~-]*(@[A-Za-z0-9._~^<>=*|+-]+)?$`)

// Workspace is a project directory guarded by a one-slot semaphore.
type Workspace struct {
	dir   string
	entry string
	slot  chan struct{}
}

func NewWorkspace(dir, entry string) *Workspace {
	if entry == "" {
		entry = "index.js"
	}
	return &Workspace{
		dir:   dir,
		entry: entry,
		slot:  make(chan struct{}, 1),
	}
}

func (w *Workspace) Dir() string   { return w.dir }
func (w *Workspace) Entry() string { return w.entry }

// Acquire waits for exclusive use of the workspace. The returned release
// function must be called exactly once.
func (w *Workspace) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case w.slot <- struct{}{}:
		return func() { <-w.slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prepare creates the directory if needed and writes package.json with the
// given module type. Fields already in the manifest, such as dependencies,
// are preserved.
func (w *Workspace) Prepare(moduleType string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("process: creating workspace: %w", err)
	}

	path := filepath.Join(w.dir, manifestName)
	manifest := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &manifest); err != nil {
			return fmt.Errorf("process: parsing %s: %w", manifestName, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("process: reading %s: %w", manifestName, err)
	}

	changed := false
	for k, v := range map[string]any{
		"name":    manifestPackage,
		"version": manifestVersion,
		"private": true,
		"type":    moduleType,
	} {
		if !reflect.DeepEqual(manifest[k], v) {
			manifest[k] = v
			changed = true
		}
	}
	if !changed {
		return nil
	}

	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("process: encoding %s: %w", manifestName, err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("process: writing %s: %w", manifestName, err)
	}
	return nil
}

// Missing returns the packages from specs that are not yet installed, in
// their original spelling.
func (w *Workspace) Missing(specs []string) []string {
	var missing []string
	for _, spec := range specs {
		if _, err := os.Stat(filepath.Join(w.dir, "node_modules", filepath.FromSlash(PackageName(spec)))); err != nil {
			missing = append(missing, spec)
		}
	}
	return missing
}

// WriteEntry writes code verbatim to the entry file.
func (w *Workspace) WriteEntry(code string) error {
	if err := os.WriteFile(filepath.Join(w.dir, w.entry), []byte(code), 0o644); err != nil {
		return fmt.Errorf("process: writing entry file: %w", err)
	}
	return nil
}

// ValidatePackage rejects names npm would not accept or that could be read
// as command-line flags.
func ValidatePackage(spec string) error {
	if spec == "" {
		return errors.New("package name is empty")
	}
	if strings.HasPrefix(spec, "-") {
		return fmt.Errorf("package name %q looks like a flag", spec)
	}
	if len(PackageName(spec)) > 214 || !packageSpec.MatchString(spec) {
		return fmt.Errorf("invalid package name %q", spec)
	}
	return nil
}

// PackageName strips a version suffix: "lodash@4" becomes "lodash" and
// "@scope/pkg@1.2.0" becomes "@scope/pkg".
func PackageName(spec string) string {
	at := strings.LastIndexByte(spec, '@')
	if at > 0 {
		return spec[:at]
	}
	return spec
}
