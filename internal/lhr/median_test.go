package lhr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sample(perf, a11y, lcp float64) *Result {
	return &Result{
		FetchTime: "t",
		Categories: map[string]Category{
			"performance":   {ID: "performance", Title: "Performance", Score: ptr(perf)},
			"accessibility": {ID: "accessibility", Title: "Accessibility", Score: ptr(a11y)},
		},
		Audits: map[string]Audit{
			"largest-contentful-paint": {ID: "largest-contentful-paint", Score: ptr(perf), NumericValue: ptr(lcp)},
		},
	}
}

func TestMedianRunUsesMedianNotMean(t *testing.T) {
	t.Parallel()

	samples := []*Result{
		sample(0.10, 0.70, 4000),
		sample(0.90, 0.80, 1000),
		sample(0.80, 0.95, 2000),
	}
	got, err := MedianRun(samples)
	require.NoError(t, err)
	require.InDelta(t, 0.80, *got.Categories["performance"].Score, 1e-9)
	require.InDelta(t, 0.80, *got.Categories["accessibility"].Score, 1e-9)
	require.InDelta(t, 2000, *got.Audits["largest-contentful-paint"].NumericValue, 1e-9)
	require.Equal(t, "Performance", got.Categories["performance"].Title)

	// Inputs are untouched.
	require.InDelta(t, 0.10, *samples[0].Categories["performance"].Score, 1e-9)
}

func TestMedianRunEvenCount(t *testing.T) {
	t.Parallel()

	got, err := MedianRun([]*Result{sample(0.2, 0.5, 10), sample(0.6, 0.7, 30)})
	require.NoError(t, err)
	require.InDelta(t, 0.4, *got.Categories["performance"].Score, 1e-9)
	require.InDelta(t, 20, *got.Audits["largest-contentful-paint"].NumericValue, 1e-9)
}

func TestMedianRunSkipsMissingScores(t *testing.T) {
	t.Parallel()

	unscored := sample(0, 0.3, 5)
	unscored.Categories["performance"] = Category{ID: "performance"}
	got, err := MedianRun([]*Result{sample(0.8, 0.3, 5), unscored, sample(0.6, 0.3, 5)})
	require.NoError(t, err)
	require.InDelta(t, 0.7, *got.Categories["performance"].Score, 1e-9)
}

func TestMedianRunErrors(t *testing.T) {
	t.Parallel()

	_, err := MedianRun(nil)
	require.ErrorIs(t, err, ErrNoSamples)

	_, err = MedianRun([]*Result{sample(1, 1, 1), nil})
	require.Error(t, err)
}
