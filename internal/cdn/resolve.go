// Package cdn resolves module specifiers against a single trusted origin and
// fetches their source.
//
// RESOLUTION:
// Bare names ("lodash", "@scope/pkg@2") map to origin/name. Relative and
// root-relative specifiers resolve against the importing module's URL, the
// way a browser resolves them. Absolute URLs are accepted only when scheme
// and host match the origin exactly. Everything else is a ResolutionFailure
// before any request is made.
//
// FETCHING:
//
//	Fetch(url)
//	  1. reject anything off the origin
//	  2. cache hit?          → return the stored text and the URL it came from
//	  3. singleflight by URL → one GET however many realms ask at once
//	  4. follow same-host redirects, re-check the final URL
//	  5. store under the requested URL and the final URL
//
// The client never retries. A failed fetch fails the execution that asked.
package cdn

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/sakif/blitz/internal/apperror"
)

// DefaultOrigin serves npm packages as browser-ready ES modules.
const DefaultOrigin = "https://esm.sh"

// Resolver turns module specifiers into URLs on one origin. Any resolution
// whose scheme or host differs from the origin is rejected before a request
// is made.
type Resolver struct {
	origin *url.URL
}

// NewResolver parses origin, which must be an absolute http(s) URL.
func NewResolver(origin string) (*Resolver, error) {
	if origin == "" {
		origin = DefaultOrigin
	}
	u, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("cdn: parsing origin: %w", err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("cdn: origin %q must be an absolute http(s) URL", origin)
	}
	return &Resolver{origin: u}, nil
}

// Origin returns the trusted origin without a trailing slash.
func (r *Resolver) Origin() string {
	return r.origin.String()
}

// Resolve returns the absolute URL for specifier. Bare names resolve to
// origin/name; relative and root-relative specifiers resolve against referrer,
// or against the origin when referrer is empty.
func (r *Resolver) Resolve(specifier, referrer string) (string, error) {
	if specifier == "" {
		return "", apperror.ResolutionFailed(specifier, "empty module specifier")
	}

	var target *url.URL
	switch {
	case isRelative(specifier):
		base := r.origin
		if referrer != "" {
			ref, err := url.Parse(referrer)
			if err != nil {
				return "", apperror.ResolutionFailed(specifier, "invalid referrer URL")
			}
			base = ref
		}
		rel, err := url.Parse(specifier)
		if err != nil {
			return "", apperror.ResolutionFailed(specifier, "invalid relative specifier")
		}
		target = base.ResolveReference(rel)

	case strings.Contains(specifier, "://") || strings.HasPrefix(specifier, "//"):
		u, err := url.Parse(specifier)
		if err != nil {
			return "", apperror.ResolutionFailed(specifier, "invalid URL")
		}
		target = u
		if target.Scheme == "" {
			target.Scheme = r.origin.Scheme
		}

	default:
		u, err := url.Parse(r.origin.String() + "/" + specifier)
		if err != nil {
			return "", apperror.ResolutionFailed(specifier, "invalid module name")
		}
		target = u
	}

	if !r.sameOrigin(target) {
		return "", apperror.ResolutionFailed(specifier, fmt.Sprintf("%s is outside the trusted origin %s", target.Redacted(), r.origin))
	}
	return target.String(), nil
}

// Allowed reports whether rawURL is on the trusted origin.
func (r *Resolver) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return r.sameOrigin(u)
}

func (r *Resolver) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, r.origin.Scheme) && strings.EqualFold(u.Host, r.origin.Host) && u.User == nil
}

func isRelative(s string) bool {
	return strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		(strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//"))
}
