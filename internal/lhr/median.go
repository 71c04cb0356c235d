package lhr

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoSamples is returned when MedianRun receives nothing to aggregate.
var ErrNoSamples = errors.New("no samples")

// MedianRun builds a representative result from several runs. The first run
// supplies the document shape; every category score and every audit score and
// numeric value is replaced by the median across the runs that report it.
func MedianRun(samples []*Result) (*Result, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	for i, s := range samples {
		if s == nil {
			return nil, fmt.Errorf("sample %d is nil", i)
		}
	}
	base := samples[0]
	out := *base
	out.Categories = make(map[string]Category, len(base.Categories))
	for key, cat := range base.Categories {
		var scores []float64
		for _, s := range samples {
			if c, ok := s.Categories[key]; ok && c.Score != nil {
				scores = append(scores, *c.Score)
			}
		}
		if len(scores) > 0 {
			cat.Score = ptr(median(scores))
		}
		out.Categories[key] = cat
	}
	out.Audits = make(map[string]Audit, len(base.Audits))
	for key, a := range base.Audits {
		var scores, values []float64
		for _, s := range samples {
			other, ok := s.Audits[key]
			if !ok {
				continue
			}
			if other.Score != nil {
				scores = append(scores, *other.Score)
			}
			if other.NumericValue != nil {
				values = append(values, *other.NumericValue)
			}
		}
		if len(scores) > 0 {
			a.Score = ptr(median(scores))
		}
		if len(values) > 0 {
			a.NumericValue = ptr(median(values))
		}
		out.Audits[key] = a
	}
	return &out, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func ptr(v float64) *float64 {
	return &v
}
