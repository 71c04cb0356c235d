package executor

import (
	"encoding/json"
	"math"
	"slices"
	"sort"

	"github.com/JakeFAU/siteaudit/internal/audit"
	"github.com/JakeFAU/siteaudit/internal/lhr"
)

// keptAudits are copied verbatim into the report.
var keptAudits = []string{
	"redirects",
	"layout-shifts",
	"largest-contentful-paint-element",
	"largest-contentful-paint",
	"cumulative-layout-shift",
	"first-contentful-paint",
	"total-blocking-time",
	"max-potential-fid",
	"interactive",
	auditThumbnails,
}

var imageAudits = []string{
	"unsized-images",
	"preload-lcp-image",
	"offscreen-images",
	"modern-image-formats",
	"uses-optimized-images",
	"efficient-animated-content",
	"uses-responsive-images",
}

// categoryOrder fixes the report order of the well-known categories; others follow by key.
var categoryOrder = []string{"performance", "accessibility", "best-practices", "seo", "pwa"}

// Normalize maps an audit document onto the report shape. Filmstrip frame data
// is replaced with the artifact key of the frame written by the executor.
func Normalize(artifactKey string, result *lhr.Result) *audit.ReportData {
	data := &audit.ReportData{
		FetchTime:    result.FetchTime,
		RequestedURL: result.RequestedURL,
		FinalURL:     result.FinalURL,
		Categories:   categories(result),
		Audits:       make(map[string]lhr.Audit, len(keptAudits)),
	}

	var sum float64
	var scored int
	for _, c := range data.Categories {
		if c.Score != nil {
			sum += *c.Score
			scored++
		}
	}
	if scored > 0 {
		data.Score = math.Round(sum/float64(scored)*100) / 100
	}

	for _, id := range keptAudits {
		if a, ok := result.Audits[id]; ok {
			data.Audits[id] = a
		}
	}
	if a, ok := data.Audits[auditThumbnails]; ok {
		data.Audits[auditThumbnails] = rewriteFilmstrip(artifactKey, a)
	}

	var images []json.RawMessage
	for _, id := range imageAudits {
		if a, ok := result.Audits[id]; ok && a.Details != nil {
			images = append(images, a.Details.Items...)
		}
	}
	data.Computed.ImageIssues = computed(images)

	ariaIDs := make([]string, 0)
	for id, a := range result.Audits {
		if a.IsARIA() && a.HasItems() {
			ariaIDs = append(ariaIDs, id)
		}
	}
	sort.Strings(ariaIDs)
	var aria []json.RawMessage
	for _, id := range ariaIDs {
		aria = append(aria, result.Audits[id].Details.Items...)
	}
	data.Computed.AriaIssues = computed(aria)
	return data
}

func categories(result *lhr.Result) []audit.CategoryScore {
	keys := make([]string, 0, len(result.Categories))
	for k := range result.Categories {
		keys = append(keys, k)
	}
	rank := func(k string) int {
		if i := slices.Index(categoryOrder, k); i >= 0 {
			return i
		}
		return len(categoryOrder)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	out := make([]audit.CategoryScore, 0, len(keys))
	for _, k := range keys {
		c := result.Categories[k]
		out = append(out, audit.CategoryScore{Key: k, ID: k, Title: c.Title, Score: c.Score})
	}
	return out
}

func computed(items []json.RawMessage) audit.ComputedAudit {
	if items == nil {
		items = []json.RawMessage{}
	}
	score := 1.0
	if len(items) > 0 {
		score = 0
	}
	return audit.ComputedAudit{
		Details:      audit.ComputedDetails{Items: items},
		DisplayValue: len(items),
		Score:        score,
	}
}

// rewriteFilmstrip returns a copy of a whose frame data points at the written thumbnails.
func rewriteFilmstrip(artifactKey string, a lhr.Audit) lhr.Audit {
	if a.Details == nil || a.Details.Type != "filmstrip" {
		return a
	}
	details := *a.Details
	details.Items = make([]json.RawMessage, 0, len(a.Details.Items))
	for i, raw := range a.Details.Items {
		var frame map[string]any
		if err := json.Unmarshal(raw, &frame); err != nil {
			details.Items = append(details.Items, raw)
			continue
		}
		frame["data"] = audit.ThumbnailKey(artifactKey, i)
		rewritten, err := json.Marshal(frame)
		if err != nil {
			details.Items = append(details.Items, raw)
			continue
		}
		details.Items = append(details.Items, rewritten)
	}
	a.Details = &details
	return a
}
