// Package lhr models the subset of the audit engine's JSON document that the
// executor consumes. Optional sections decode to nil rather than failing.
package lhr

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// CategoryPerformance is the category whose missing score marks a transient failure.
const CategoryPerformance = "performance"

// Result is one audit run.
type Result struct {
	LighthouseVersion  string              `json:"lighthouseVersion,omitempty"`
	RequestedURL       string              `json:"requestedUrl,omitempty"`
	FinalURL           string              `json:"finalUrl,omitempty"`
	FetchTime          string              `json:"fetchTime,omitempty"`
	Categories         map[string]Category `json:"categories"`
	Audits             map[string]Audit    `json:"audits"`
	FullPageScreenshot *FullPageScreenshot `json:"fullPageScreenshot,omitempty"`
}

// Category is a scored group of audits. Score is nil when the engine could not score it.
type Category struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Score *float64 `json:"score"`
}

// Audit is a single check in the document.
type Audit struct {
	ID               string   `json:"id"`
	Title            string   `json:"title,omitempty"`
	Description      string   `json:"description,omitempty"`
	Score            *float64 `json:"score"`
	ScoreDisplayMode string   `json:"scoreDisplayMode,omitempty"`
	NumericValue     *float64 `json:"numericValue,omitempty"`
	NumericUnit      string   `json:"numericUnit,omitempty"`
	DisplayValue     string   `json:"displayValue,omitempty"`
	Details          *Details `json:"details,omitempty"`
}

// Details is the polymorphic details block; Items stay raw because their shape varies per audit.
type Details struct {
	Type     string            `json:"type"`
	Headings json.RawMessage   `json:"headings,omitempty"`
	Items    []json.RawMessage `json:"items,omitempty"`
	Data     string            `json:"data,omitempty"`
}

// FilmstripFrame is one item of a "filmstrip" details block.
type FilmstripFrame struct {
	Timing    float64 `json:"timing"`
	Timestamp float64 `json:"timestamp"`
	Data      string  `json:"data"`
}

// FullPageScreenshot holds the full-page capture.
type FullPageScreenshot struct {
	Screenshot struct {
		Data   string `json:"data"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"screenshot"`
	Nodes json.RawMessage `json:"nodes,omitempty"`
}

// Decode reads a Result from r.
func Decode(r io.Reader) (*Result, error) {
	var res Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode audit document: %w", err)
	}
	if res.Categories == nil {
		res.Categories = map[string]Category{}
	}
	if res.Audits == nil {
		res.Audits = map[string]Audit{}
	}
	return &res, nil
}

// Load reads a Result from the JSON file at path.
func Load(path string) (*Result, error) {
	f, err := os.Open(path) // #nosec G304 -- path is built from the artifacts root.
	if err != nil {
		return nil, fmt.Errorf("open audit document: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	return Decode(f)
}

// PerformanceUnscored reports whether the performance category is present without a score.
func (r *Result) PerformanceUnscored() bool {
	if r == nil {
		return false
	}
	cat, ok := r.Categories[CategoryPerformance]
	return ok && cat.Score == nil
}

// Filmstrip returns the frames of the named audit when its details are a filmstrip.
func (r *Result) Filmstrip(auditID string) ([]FilmstripFrame, error) {
	a, ok := r.Audits[auditID]
	if !ok || a.Details == nil || a.Details.Type != "filmstrip" {
		return nil, nil
	}
	frames := make([]FilmstripFrame, 0, len(a.Details.Items))
	for i, raw := range a.Details.Items {
		var frame FilmstripFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			return nil, fmt.Errorf("decode filmstrip frame %d: %w", i, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// HasItems reports whether the audit carries at least one details item.
func (a Audit) HasItems() bool {
	return a.Details != nil && len(a.Details.Items) > 0
}

// IsARIA reports whether the audit belongs to the aria-* family.
func (a Audit) IsARIA() bool {
	return strings.HasPrefix(a.ID, "aria-")
}
