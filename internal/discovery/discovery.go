// Package discovery expands a site's configured routes by following same-host
// links before any job is queued.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/route"
)

// Defaults applied when Config leaves a field unset.
const (
	DefaultMaxRoutes = 50
	DefaultMaxDepth  = 2
	DefaultTimeout   = 15 * time.Second
)

// Config bounds a discovery crawl.
type Config struct {
	// MaxRoutes caps the number of routes returned, seeds included.
	MaxRoutes int
	// MaxDepth is the number of link hops followed from each seed.
	MaxDepth  int
	UserAgent string
	Timeout   time.Duration
}

// Discoverer walks HTML pages of one host and reports the routes it finds.
type Discoverer struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Discoverer with defaults applied.
func New(cfg Config, logger *zap.Logger) *Discoverer {
	if cfg.MaxRoutes <= 0 {
		cfg.MaxRoutes = DefaultMaxRoutes
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{cfg: cfg, logger: logger}
}

// Discover crawls from the seed URLs and returns the seed routes followed by
// every same-host HTML page found, deduplicated and capped at MaxRoutes.
// Seeds resolve against siteURL the same way configured routes do.
func (d *Discoverer) Discover(ctx context.Context, siteURL string, domainRotation bool, seeds []string) ([]route.Route, error) {
	site, err := url.Parse(siteURL)
	if err != nil || site.Hostname() == "" {
		return nil, fmt.Errorf("discover %q: %w", siteURL, route.ErrInvalidURL)
	}
	if len(seeds) == 0 {
		seeds = []string{"/"}
	}

	var (
		mu     sync.Mutex
		routes []route.Route
		seen   = make(map[string]struct{})
	)
	add := func(raw string) bool {
		r, err := route.New(siteURL, domainRotation, raw)
		if err != nil {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if len(routes) >= d.cfg.MaxRoutes {
			return false
		}
		if _, ok := seen[r.URL]; ok {
			return false
		}
		seen[r.URL] = struct{}{}
		routes = append(routes, r)
		return true
	}
	full := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(routes) >= d.cfg.MaxRoutes
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(site.Hostname()),
		colly.MaxDepth(d.cfg.MaxDepth+1),
		colly.StdlibContext(ctx),
	)
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.SetRequestTimeout(d.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode != 200 || !strings.Contains(r.Headers.Get("Content-Type"), "text/html") {
			return
		}
		if add(r.Request.URL.String()) {
			d.logger.Debug("route discovered", zap.String("url", r.Request.URL.String()))
		}
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if full() || ctx.Err() != nil {
			return
		}
		link := normalizeLink(e.Request.AbsoluteURL(e.Attr("href")))
		if link == "" {
			return
		}
		// Visit errors are expected for revisits, other hosts and depth limits.
		_ = e.Request.Visit(link)
	})
	collector.OnError(func(r *colly.Response, err error) {
		d.logger.Debug("discovery request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	for _, seed := range seeds {
		r, err := route.New(siteURL, domainRotation, seed)
		if err != nil {
			return nil, err
		}
		add(r.URL)
		if full() {
			break
		}
		if err := collector.Visit(r.URL); err != nil {
			d.logger.Warn("discovery seed failed", zap.String("url", r.URL), zap.Error(err))
		}
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discover %s: %w", site.Hostname(), err)
	}
	d.logger.Info("discovery finished", zap.String("site", siteURL), zap.Int("routes", len(routes)))
	return route.UniqueByURL(routes), nil
}

// normalizeLink keeps http(s) links and strips fragments.
func normalizeLink(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
