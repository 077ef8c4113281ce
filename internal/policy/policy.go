// Package policy decides which modules sandboxed code may import.
//
// THE RESTRICTED SET:
// fs, child_process, os, path and crypto are denied however they are
// spelled. A bare name ("fs/promises", "node:fs") is reduced to its root.
// A root-relative path or an absolute URL ("/fs", "/node/fs.mjs",
// "https://esm.sh/v135/crypto@1.0.0/index.mjs") is reduced to the module the
// CDN would serve at that path, so the loader can check a resolved URL
// before anything is fetched.
package policy

import (
	"net/url"
	"regexp"
	"strings"
)

// restricted is fixed at process start and never mutated.
var restricted = map[string]struct{}{
	"fs":            {},
	"child_process": {},
	"os":            {},
	"path":          {},
	"crypto":        {},
}

// buildPrefix matches the CDN's build segments, e.g. /v135/ or /stable/.
var buildPrefix = regexp.MustCompile(`^(?:v\d+|stable)$`)

// Normalize strips a "node:" prefix and reduces a subpath such as
// "fs/promises" to its root module. Paths and URLs are reduced with
// ModuleOfPath.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	switch {
	case strings.Contains(name, "://") || strings.HasPrefix(name, "//"):
		u, err := url.Parse(name)
		if err != nil {
			return name
		}
		return ModuleOfPath(u.Path)
	case strings.HasPrefix(name, "/"):
		if u, err := url.Parse(name); err == nil {
			return ModuleOfPath(u.Path)
		}
		return ModuleOfPath(name)
	}

	name = strings.TrimPrefix(name, "node:")
	if strings.HasPrefix(name, "@") {
		return name
	}
	if i := strings.IndexByte(name, '/'); i > 0 {
		name = name[:i]
	}
	return name
}

// ModuleOfPath returns the module a CDN URL path serves: the first path
// segment after any build prefix and "node/" segment, without its version
// or file extension. "/node/child_process.mjs" gives "child_process" and
// "/v135/lodash@4.17.21/es2022/lodash.mjs" gives "lodash".
func ModuleOfPath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	i := 0
	if i < len(segs)-1 && buildPrefix.MatchString(segs[i]) {
		i++
	}
	if i < len(segs)-1 && segs[i] == "node" {
		i++
	}

	seg := strings.TrimPrefix(segs[i], "node:")
	if strings.HasPrefix(seg, "@") {
		if i+1 < len(segs) {
			return seg + "/" + trimVersion(segs[i+1])
		}
		return seg
	}
	seg = trimVersion(seg)
	for _, ext := range []string{".mjs", ".cjs", ".js"} {
		seg = strings.TrimSuffix(seg, ext)
	}
	return seg
}

func trimVersion(seg string) string {
	if at := strings.IndexByte(seg, '@'); at > 0 {
		return seg[:at]
	}
	return seg
}

// IsAllowed reports whether name may be imported. name may be a bare
// specifier, a root-relative path or an absolute URL.
func IsAllowed(name string) bool {
	_, denied := restricted[Normalize(name)]
	return !denied
}

// Restricted returns the restricted module names in sorted order.
func Restricted() []string {
	return []string{"child_process", "crypto", "fs", "os", "path"}
}
