package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/audit"
)

// chromeNames are the executables FindChrome looks for on PATH, in order.
var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

// FindChrome resolves the browser executable. An explicit path wins over PATH lookup.
func FindChrome(explicit string) (string, error) {
	if explicit != "" {
		p, err := exec.LookPath(explicit)
		if err != nil {
			return "", fmt.Errorf("find chrome %q: %w", explicit, err)
		}
		return p, nil
	}
	for _, name := range chromeNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", errors.New("find chrome: no chrome or chromium executable on PATH")
}

// ChromeConfig controls each launched browser.
type ChromeConfig struct {
	ExecPath  string
	Headless  bool
	UserAgent string
	Proxy     string
	Device    audit.Device
	// NavigationTimeout bounds Navigate calls.
	NavigationTimeout time.Duration
}

// ChromeLauncher starts one dedicated Chrome process per task, each with its
// own profile directory and remote debugging port.
type ChromeLauncher struct {
	cfg    ChromeConfig
	logger *zap.Logger
}

// NewChromeLauncher builds a launcher from cfg.
func NewChromeLauncher(cfg ChromeConfig, logger *zap.Logger) *ChromeLauncher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Device.Name == "" {
		cfg.Device = audit.Desktop
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeLauncher{cfg: cfg, logger: logger}
}

// Launch starts a browser and applies the device emulation to its first tab.
func (l *ChromeLauncher) Launch(ctx context.Context) (Surface, func(), error) {
	port, err := freePort()
	if err != nil {
		return nil, nil, err
	}
	profile, err := os.MkdirTemp("", "siteaudit-chrome-")
	if err != nil {
		return nil, nil, fmt.Errorf("create profile dir: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(port, profile)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	release := func() {
		browserCancel()
		allocCancel()
		if err := os.RemoveAll(profile); err != nil {
			l.logger.Warn("remove chrome profile", zap.String("dir", profile), zap.Error(err))
		}
	}

	runCtx, stop := forwardCancel(ctx, browserCtx)
	defer stop()
	d := l.cfg.Device
	if err := chromedp.Run(runCtx,
		emulation.SetDeviceMetricsOverride(d.Width, d.Height, d.DeviceScaleFactor, d.Mobile),
	); err != nil {
		release()
		return nil, nil, fmt.Errorf("start chrome: %w", err)
	}
	l.logger.Debug("chrome started", zap.Int("port", port))
	return &chromeSurface{ctx: browserCtx, port: port, navTimeout: l.cfg.NavigationTimeout}, release, nil
}

func (l *ChromeLauncher) allocatorOptions(port int, profile string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("remote-debugging-port", port),
		chromedp.UserDataDir(profile),
		chromedp.WindowSize(int(l.cfg.Device.Width), int(l.cfg.Device.Height)),
	)
	if l.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	if l.cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(l.cfg.Proxy))
	}
	if ua := l.userAgent(); ua != "" {
		opts = append(opts, chromedp.UserAgent(ua))
	}
	return opts
}

func (l *ChromeLauncher) userAgent() string {
	if l.cfg.UserAgent != "" {
		return l.cfg.UserAgent
	}
	return l.cfg.Device.UserAgent
}

type chromeSurface struct {
	ctx        context.Context
	port       int
	navTimeout time.Duration
}

func (s *chromeSurface) Navigate(ctx context.Context, url string) error {
	runCtx, stop := forwardCancel(ctx, s.ctx)
	defer stop()
	runCtx, cancel := context.WithTimeout(runCtx, s.navTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSurface) Port() int { return s.port }

func (s *chromeSurface) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// forwardCancel derives from the chromedp context so actions reach the right
// browser, while still honoring the caller's cancellation.
func forwardCancel(parent, browser context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(browser)
	stop := context.AfterFunc(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("reserve debugging port: %w", err)
	}
	defer ln.Close() //nolint:errcheck // port probe
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("reserve debugging port: unexpected address type")
	}
	return addr.Port, nil
}
