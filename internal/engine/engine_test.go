package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/audit"
)

const sampleDoc = `{
  "lighthouseVersion": "12.0.0",
  "requestedUrl": "https://a.test/",
  "finalUrl": "https://a.test/",
  "fetchTime": "2024-01-01T00:00:00.000Z",
  "categories": {"performance": {"id": "performance", "title": "Performance", "score": 0.91}},
  "audits": {}
}`

func TestArgs(t *testing.T) {
	t.Parallel()

	l := NewLighthouse(Options{
		Device:     audit.Mobile,
		Throttle:   true,
		Categories: []string{"performance", "seo"},
		ExtraArgs:  []string{"--locale=en"},
	}, zap.NewNop())

	args := l.Args(Invocation{URL: "https://a.test/", Port: 9222, OutputDir: "/tmp/out"})
	require.Equal(t, "https://a.test/", args[0])
	require.Contains(t, args, "--port=9222")
	require.Contains(t, args, "--output-path=/tmp/out/lighthouse")
	require.Contains(t, args, "--form-factor=mobile")
	require.Contains(t, args, "--screenEmulation.mobile=true")
	require.Contains(t, args, "--screenEmulation.deviceScaleFactor=1.75")
	require.Contains(t, args, "--throttling-method=simulate")
	require.Contains(t, args, "--only-categories=performance,seo")
	require.Contains(t, args, "--emulatedUserAgent="+audit.Mobile.UserAgent)
	require.Equal(t, "--locale=en", args[len(args)-1])
}

func TestArgsWithoutThrottle(t *testing.T) {
	t.Parallel()

	l := NewLighthouse(Options{UserAgent: "custom"}, nil)
	args := l.Args(Invocation{URL: "https://a.test/", Port: 1, OutputDir: "/o"})
	require.Contains(t, args, "--throttling-method=provided")
	require.Contains(t, args, "--form-factor=desktop")
	require.Contains(t, args, "--emulatedUserAgent=custom")
	for _, a := range args {
		require.NotContains(t, a, "--only-categories")
	}
}

func TestRunRenamesAndLoads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var gotName string
	runner := func(_ context.Context, name string, _ []string, stdout, _ io.Writer) error {
		gotName = name
		_, _ = io.WriteString(stdout, "ok")
		if err := os.WriteFile(filepath.Join(dir, "lighthouse.report.json"), []byte(sampleDoc), 0o644); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, "lighthouse.report.html"), []byte("<html></html>"), 0o644)
	}
	l := NewLighthouse(Options{Command: "lh"}, zap.NewNop(), WithCommandRunner(runner))

	result, err := l.Run(context.Background(), Invocation{URL: "https://a.test/", Port: 9222, OutputDir: dir})
	require.NoError(t, err)
	require.Equal(t, "lh", gotName)
	require.Equal(t, "https://a.test/", result.FinalURL)
	require.InDelta(t, 0.91, *result.Categories["performance"].Score, 1e-9)
	require.FileExists(t, filepath.Join(dir, audit.ArtifactReportJSON))
	require.FileExists(t, filepath.Join(dir, audit.ArtifactReportHTML))
	require.NoFileExists(t, filepath.Join(dir, "lighthouse.report.json"))
}

func TestRunPropagatesSubprocessError(t *testing.T) {
	t.Parallel()

	runner := func(context.Context, string, []string, io.Writer, io.Writer) error {
		return errors.New("exit status 1")
	}
	l := NewLighthouse(Options{}, zap.NewNop(), WithCommandRunner(runner))
	_, err := l.Run(context.Background(), Invocation{URL: "https://a.test/", OutputDir: t.TempDir()})
	require.ErrorContains(t, err, "exit status 1")
}

func TestRunHonorsSampleTimeout(t *testing.T) {
	t.Parallel()

	runner := func(ctx context.Context, _ string, _ []string, _, _ io.Writer) error {
		<-ctx.Done()
		return errors.New("signal: killed")
	}
	l := NewLighthouse(Options{SampleTimeout: 20 * time.Millisecond}, zap.NewNop(), WithCommandRunner(runner))
	_, err := l.Run(context.Background(), Invocation{URL: "https://a.test/", OutputDir: t.TempDir()})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunValidatesInvocation(t *testing.T) {
	t.Parallel()

	l := NewLighthouse(Options{}, zap.NewNop())
	_, err := l.Run(context.Background(), Invocation{OutputDir: t.TempDir()})
	require.Error(t, err)
	_, err = l.Run(context.Background(), Invocation{URL: "https://a.test/"})
	require.Error(t, err)
}

func TestRunMissingDocument(t *testing.T) {
	t.Parallel()

	runner := func(context.Context, string, []string, io.Writer, io.Writer) error { return nil }
	l := NewLighthouse(Options{}, zap.NewNop(), WithCommandRunner(runner))
	_, err := l.Run(context.Background(), Invocation{URL: "https://a.test/", OutputDir: t.TempDir()})
	require.ErrorIs(t, err, os.ErrNotExist)
	require.ErrorContains(t, err, "produced no lighthouse.report.json")
}

func TestRunIgnoresStaleDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, audit.ArtifactReportJSON), []byte(sampleDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, audit.ArtifactReportHTML), []byte("<html></html>"), 0o644))

	runner := func(context.Context, string, []string, io.Writer, io.Writer) error { return nil }
	l := NewLighthouse(Options{}, zap.NewNop(), WithCommandRunner(runner))
	result, err := l.Run(context.Background(), Invocation{URL: "https://a.test/", OutputDir: dir})
	require.Error(t, err)
	require.Nil(t, result)
	require.NoFileExists(t, filepath.Join(dir, audit.ArtifactReportJSON))
	require.NoFileExists(t, filepath.Join(dir, audit.ArtifactReportHTML))
}

func TestRunRequiresHTMLReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	runner := func(context.Context, string, []string, io.Writer, io.Writer) error {
		return os.WriteFile(filepath.Join(dir, "lighthouse.report.json"), []byte(sampleDoc), 0o644)
	}
	l := NewLighthouse(Options{}, zap.NewNop(), WithCommandRunner(runner))
	_, err := l.Run(context.Background(), Invocation{URL: "https://a.test/", OutputDir: dir})
	require.ErrorContains(t, err, "produced no lighthouse.report.html")
}
