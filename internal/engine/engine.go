// Package engine runs the external audit engine, one subprocess per sample.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/audit"
	"github.com/JakeFAU/siteaudit/internal/lhr"
)

// DefaultCommand is the audit engine binary looked up on PATH.
const DefaultCommand = "lighthouse"

// DefaultSampleTimeout bounds a single engine run.
const DefaultSampleTimeout = 6 * time.Minute

// Invocation describes one sample run against an already running browser.
type Invocation struct {
	URL string
	// Port is the remote debugging port of the browser to drive.
	Port int
	// OutputDir receives lighthouse.json and lighthouse.html.
	OutputDir string
}

// Engine produces one audit document per call.
type Engine interface {
	Run(ctx context.Context, inv Invocation) (*lhr.Result, error)
}

// CommandRunner executes name with args, streaming output into stdout and stderr.
type CommandRunner func(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error

// Options configures the Lighthouse engine.
type Options struct {
	Command       string
	SampleTimeout time.Duration
	Device        audit.Device
	Throttle      bool
	Categories    []string
	// UserAgent overrides the device preset user agent when set.
	UserAgent string
	ExtraArgs []string
}

// Lighthouse drives the lighthouse CLI.
type Lighthouse struct {
	opts   Options
	run    CommandRunner
	logger *zap.Logger
}

// Option customizes a Lighthouse engine.
type Option func(*Lighthouse)

// WithCommandRunner replaces the subprocess runner.
func WithCommandRunner(run CommandRunner) Option {
	return func(l *Lighthouse) {
		if run != nil {
			l.run = run
		}
	}
}

// NewLighthouse builds an engine from opts.
func NewLighthouse(opts Options, logger *zap.Logger, options ...Option) *Lighthouse {
	if opts.Command == "" {
		opts.Command = DefaultCommand
	}
	if opts.SampleTimeout <= 0 {
		opts.SampleTimeout = DefaultSampleTimeout
	}
	if opts.Device.Name == "" {
		opts.Device = audit.Desktop
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Lighthouse{opts: opts, run: execRunner, logger: logger}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// LookPath verifies the configured command is executable.
func (l *Lighthouse) LookPath() (string, error) {
	p, err := exec.LookPath(l.opts.Command)
	if err != nil {
		return "", fmt.Errorf("find audit engine %q: %w", l.opts.Command, err)
	}
	return p, nil
}

// Run executes one sample and loads its JSON document.
func (l *Lighthouse) Run(ctx context.Context, inv Invocation) (*lhr.Result, error) {
	if inv.URL == "" {
		return nil, errors.New("url is required")
	}
	if inv.OutputDir == "" {
		return nil, errors.New("output dir is required")
	}
	if err := os.MkdirAll(inv.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := clearReports(inv.OutputDir); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.opts.SampleTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	start := time.Now()
	if err := l.run(ctx, l.opts.Command, l.Args(inv), &stdout, &stderr); err != nil {
		l.logger.Warn("audit engine failed",
			zap.String("url", inv.URL),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("stderr", tail(stderr.String(), 2048)),
			zap.Error(err),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("run audit engine: %w", ctxErr)
		}
		return nil, fmt.Errorf("run audit engine: %w", err)
	}
	l.logger.Debug("audit engine finished",
		zap.String("url", inv.URL),
		zap.Duration("elapsed", time.Since(start)),
	)

	if err := renameReports(inv.OutputDir); err != nil {
		return nil, err
	}
	result, err := lhr.Load(filepath.Join(inv.OutputDir, audit.ArtifactReportJSON))
	if err != nil {
		return nil, fmt.Errorf("load audit document: %w", err)
	}
	return result, nil
}

// Args returns the command line for inv.
func (l *Lighthouse) Args(inv Invocation) []string {
	d := l.opts.Device
	args := []string{
		inv.URL,
		"--port=" + strconv.Itoa(inv.Port),
		"--output=json",
		"--output=html",
		"--output-path=" + filepath.Join(inv.OutputDir, "lighthouse"),
		"--quiet",
		"--form-factor=" + d.Name,
		"--screenEmulation.mobile=" + strconv.FormatBool(d.Mobile),
		"--screenEmulation.width=" + strconv.FormatInt(d.Width, 10),
		"--screenEmulation.height=" + strconv.FormatInt(d.Height, 10),
		"--screenEmulation.deviceScaleFactor=" + strconv.FormatFloat(d.DeviceScaleFactor, 'f', -1, 64),
	}
	if ua := l.userAgent(); ua != "" {
		args = append(args, "--emulatedUserAgent="+ua)
	}
	if l.opts.Throttle {
		args = append(args,
			"--throttling-method=simulate",
			"--throttling.rttMs=150",
			"--throttling.throughputKbps=1638.4",
			"--throttling.requestLatencyMs=600",
			"--throttling.downloadThroughputKbps=1638.4",
			"--throttling.uploadThroughputKbps=750",
			"--throttling.cpuSlowdownMultiplier=1",
		)
	} else {
		args = append(args, "--throttling-method=provided")
	}
	if len(l.opts.Categories) > 0 {
		args = append(args, "--only-categories="+strings.Join(l.opts.Categories, ","))
	}
	return append(args, l.opts.ExtraArgs...)
}

func (l *Lighthouse) userAgent() string {
	if l.opts.UserAgent != "" {
		return l.opts.UserAgent
	}
	return l.opts.Device.UserAgent
}

var reportFiles = [][2]string{
	{"lighthouse.report.json", audit.ArtifactReportJSON},
	{"lighthouse.report.html", audit.ArtifactReportHTML},
}

// clearReports removes documents left by an earlier sample or run so a run
// that writes nothing can never be read as a fresh result.
func clearReports(dir string) error {
	for _, p := range reportFiles {
		for _, name := range p {
			if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove stale %s: %w", name, err)
			}
		}
	}
	return nil
}

// renameReports moves lighthouse.report.{json,html} to their fixed artifact
// names. Both files must have been produced.
func renameReports(dir string) error {
	for _, p := range reportFiles {
		from := filepath.Join(dir, p[0])
		if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("audit engine produced no %s: %w", p[0], err)
		}
		if err := os.Rename(from, filepath.Join(dir, p[1])); err != nil {
			return fmt.Errorf("rename %s: %w", p[0], err)
		}
	}
	return nil
}

func execRunner(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second
	return cmd.Run()
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
