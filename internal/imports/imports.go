// Package imports finds the module specifiers a script refers to.
//
// The scan is lexical and lenient. It is used to decide which packages a
// script needs and to pick the manifest module type; it is never a security
// boundary. The module loader enforces policy on what is actually required.
package imports

import (
	"regexp"
	"sort"
	"strings"
)

var (
	staticImport  = regexp.MustCompile(`import\s+(?:[\w*{}\s,$]*\s+from\s+)?["']([^"'\n]+?)["'];?`)
	dynamicImport = regexp.MustCompile(`import\(\s*["']([^"'\n]+?)["']\s*\)`)
	requireCall   = regexp.MustCompile(`require\(\s*["']([^"'\n]+?)["']\s*\)`)

	// import( not preceded by an identifier character or a dot.
	dynamicImportCall = regexp.MustCompile(`(?:^|[^\w$.])import\s*\(`)

	// import/export at the start of a statement.
	moduleSyntax = regexp.MustCompile(`(?m)^\s*(?:import\s*[{*"']|import\s+[\w$]|export\s+(?:default\b|const\b|let\b|var\b|function\b|async\b|class\b|\{|\*))`)
)

// Extract returns the deduplicated, sorted set of module specifiers found in
// static imports, dynamic imports and require calls.
func Extract(code string) []string {
	seen := make(map[string]struct{})
	for _, re := range []*regexp.Regexp{staticImport, dynamicImport, requireCall} {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" {
				continue
			}
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasModuleSyntax reports whether code uses ES module import or export
// statements.
func HasModuleSyntax(code string) bool {
	return moduleSyntax.MatchString(code)
}

// HasDynamicImport reports whether code appears to call import(), with any
// argument.
func HasDynamicImport(code string) bool {
	return dynamicImportCall.MatchString(code)
}

// PackageName reduces a specifier to the installable package name:
// "lodash/fp" becomes "lodash" and "@scope/pkg/sub" becomes "@scope/pkg".
// Relative and absolute specifiers return "".
func PackageName(specifier string) string {
	if specifier == "" || strings.HasPrefix(specifier, ".") || strings.HasPrefix(specifier, "/") {
		return ""
	}
	if strings.Contains(specifier, "://") {
		return ""
	}
	specifier = strings.TrimPrefix(specifier, "node:")

	parts := strings.Split(specifier, "/")
	if strings.HasPrefix(specifier, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return ""
		}
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}
