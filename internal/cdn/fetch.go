package cdn

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/sourcecache"
)

// Source is a fetched module.
type Source struct {
	// URL is where the text was served from after redirects. Relative
	// imports inside the module resolve against it.
	URL  string
	Text string
}

// Fetcher downloads module source from the trusted origin through the shared
// cache. It never retries.
type Fetcher struct {
	client   *resty.Client
	resolver *Resolver
	cache    *sourcecache.Cache
	ttl      time.Duration
	logger   *slog.Logger

	group    singleflight.Group
	requests atomic.Uint64
}

// FetcherConfig holds the settings for a Fetcher.
type FetcherConfig struct {
	Timeout  time.Duration
	CacheTTL time.Duration
}

func NewFetcher(resolver *Resolver, cache *sourcecache.Cache, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = sourcecache.DefaultTTL
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.DomainCheckRedirectPolicy(resolver.origin.Hostname())).
		SetHeader("User-Agent", "blitz/1.0")

	return &Fetcher{
		client:   client,
		resolver: resolver,
		cache:    cache,
		ttl:      cfg.CacheTTL,
		logger:   logger,
	}
}

// Requests returns the number of HTTP requests issued.
func (f *Fetcher) Requests() uint64 {
	return f.requests.Load()
}

// Fetch returns the source at url, from the cache when fresh. Concurrent
// fetches of the same URL share one request. ctx bounds how long the caller
// waits.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Source, error) {
	if !f.resolver.Allowed(url) {
		return Source{}, apperror.ResolutionFailed(url, "outside the trusted origin")
	}
	if e, ok := f.cache.Lookup(url); ok {
		return Source{URL: e.Location, Text: e.Payload}, nil
	}

	// The shared request outlives a single impatient caller so that the
	// others still get a result; the client timeout bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(url, func() (any, error) {
		return f.get(flightCtx, url)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Source{}, res.Err
		}
		return res.Val.(Source), nil
	case <-ctx.Done():
		return Source{}, fmt.Errorf("cdn: fetching %s: %w", url, ctx.Err())
	}
}

func (f *Fetcher) get(ctx context.Context, url string) (Source, error) {
	f.requests.Add(1)
	start := time.Now()

	resp, err := f.client.R().SetContext(ctx).Get(url)
	if err != nil {
		f.logger.Warn("module fetch failed", slog.String("url", url), slog.String("error", err.Error()))
		return Source{}, apperror.ResolutionFailed(url, err.Error())
	}
	if !resp.IsSuccess() {
		return Source{}, apperror.ResolutionFailed(url, fmt.Sprintf("HTTP %d", resp.StatusCode()))
	}

	final := url
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		final = raw.Request.URL.String()
	}
	if !f.resolver.Allowed(final) {
		return Source{}, apperror.ResolutionFailed(url, "redirected outside the trusted origin")
	}

	text := resp.String()
	f.cache.PutFrom(url, final, text, f.ttl)
	if final != url {
		f.cache.Put(final, text, f.ttl)
	}

	f.logger.Debug("module fetched",
		slog.String("url", final),
		slog.Int("bytes", len(text)),
		slog.Duration("duration", time.Since(start)),
	)
	return Source{URL: final, Text: text}, nil
}
