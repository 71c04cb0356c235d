// Package route turns a site URL plus a relative or absolute URL into the
// canonical unit of work audited by the scheduler.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/kennygrant/sanitize"

	"github.com/JakeFAU/siteaudit/internal/hash/sha256"
)

// ErrInvalidURL reports a site or route URL that cannot be parsed or lacks a host.
var ErrInvalidURL = errors.New("invalid url")

var (
	protocolPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
	idHasher        = sha256.New(sha256.DefaultIDLength)
)

// Route is an immutable, deduplicable audit target.
type Route struct {
	SiteURL            string `json:"siteUrl"`
	SiteDomainRotation bool   `json:"siteDomainRotation"`
	URL                string `json:"url"`
	// Path is pathname, client-side hash route and query; it keys dedup and artifacts.
	Path string `json:"path"`
}

// New builds a Route. rawURL without a protocol is joined onto the origin of siteURL.
func New(siteURL string, domainRotation bool, rawURL string) (Route, error) {
	site, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil {
		return Route{}, fmt.Errorf("parse site url %q: %w", siteURL, errors.Join(ErrInvalidURL, err))
	}
	if site.Scheme == "" || site.Host == "" {
		return Route{}, fmt.Errorf("site url %q: %w", siteURL, ErrInvalidURL)
	}
	target, err := resolve(site, strings.TrimSpace(rawURL))
	if err != nil {
		return Route{}, err
	}
	return Route{
		SiteURL:            siteURL,
		SiteDomainRotation: domainRotation,
		URL:                target.String(),
		Path:               canonicalPath(target),
	}, nil
}

func resolve(site *url.URL, raw string) (*url.URL, error) {
	var joined string
	switch {
	case protocolPattern.MatchString(raw):
		joined = raw
	case strings.HasPrefix(raw, "//"):
		joined = site.Scheme + ":" + raw
	default:
		joined = site.Scheme + "://" + site.Host + withLeadingSlash(raw)
	}
	target, err := url.Parse(joined)
	if err != nil {
		return nil, fmt.Errorf("parse route url %q: %w", raw, errors.Join(ErrInvalidURL, err))
	}
	if target.Host == "" {
		return nil, fmt.Errorf("route url %q: %w", raw, ErrInvalidURL)
	}
	return target, nil
}

func canonicalPath(u *url.URL) string {
	path := withLeadingSlash(u.EscapedPath())
	if strings.HasPrefix(u.Fragment, "/") {
		path += "#" + u.EscapedFragment()
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}

func withLeadingSlash(s string) string {
	if strings.HasPrefix(s, "/") {
		return s
	}
	return "/" + s
}

// Host returns the host (with port) of the route's site.
func (r Route) Host() string {
	u, err := url.Parse(r.SiteURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Slug returns the filesystem-safe form of Path. "/about", "/about/" and
// "/about.html" share a slug.
func (r Route) Slug() string {
	return Slugify(r.Path)
}

// ID returns the job identifier for the route.
func (r Route) ID() string {
	return ID(r.Path)
}

// Slugify sanitizes every segment of a canonical path.
func Slugify(path string) string {
	p := strings.Trim(path, "/")
	p = strings.TrimSuffix(p, ".html")
	if p == "" {
		return "_index"
	}
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		clean := sanitize.BaseName(part)
		if clean == "" {
			continue
		}
		out = append(out, clean)
	}
	if len(out) == 0 {
		return "_index"
	}
	return strings.Join(out, "/")
}

// ID derives the stable short job id for a canonical path.
func ID(path string) string {
	return idHasher.Short(Slugify(path))
}

// UniqueByURL drops routes whose resolved URL was already seen, keeping the first.
func UniqueByURL(routes []Route) []Route {
	seen := make(map[string]struct{}, len(routes))
	out := make([]Route, 0, len(routes))
	for _, r := range routes {
		if _, ok := seen[r.URL]; ok {
			continue
		}
		seen[r.URL] = struct{}{}
		out = append(out, r)
	}
	return out
}
