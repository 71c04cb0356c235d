package pool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/siteaudit/internal/audit"
)

func TestNewChromeLauncherDefaults(t *testing.T) {
	t.Parallel()

	l := NewChromeLauncher(ChromeConfig{}, nil)
	if l.cfg.NavigationTimeout != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", l.cfg.NavigationTimeout)
	}
	if l.cfg.Device.Name != audit.Desktop.Name {
		t.Fatalf("expected desktop device, got %q", l.cfg.Device.Name)
	}
	if got := l.userAgent(); got != audit.Desktop.UserAgent {
		t.Fatalf("expected preset user agent, got %q", got)
	}
	l.cfg.UserAgent = "custom"
	if got := l.userAgent(); got != "custom" {
		t.Fatalf("expected override user agent, got %q", got)
	}
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base := NewChromeLauncher(ChromeConfig{Headless: true}, nil).allocatorOptions(9222, t.TempDir())
	full := NewChromeLauncher(ChromeConfig{
		Headless: true,
		ExecPath: "/usr/bin/chromium",
		Proxy:    "http://proxy:3128",
	}, nil).allocatorOptions(9222, t.TempDir())
	if len(full) != len(base)+2 {
		t.Fatalf("expected exec path and proxy options, got %d vs %d", len(full), len(base))
	}
}

func TestFreePort(t *testing.T) {
	t.Parallel()

	port, err := freePort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if port <= 0 {
		t.Fatalf("expected positive port, got %d", port)
	}
}

func TestFindChromeExplicitMissing(t *testing.T) {
	t.Parallel()

	_, err := FindChrome("/definitely/not/chrome")
	if err == nil || !strings.Contains(err.Error(), "find chrome") {
		t.Fatalf("expected find chrome error, got %v", err)
	}
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	ctx, stop := forwardCancel(parent, context.Background())
	defer stop()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected parent cancellation to propagate")
	}
}
