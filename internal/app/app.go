// Package app wires configuration into a running audit: storage, engine,
// browser pool, scheduler, progress sinks and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/siteaudit/internal/api"
	"github.com/JakeFAU/siteaudit/internal/config"
	"github.com/JakeFAU/siteaudit/internal/discovery"
	"github.com/JakeFAU/siteaudit/internal/engine"
	"github.com/JakeFAU/siteaudit/internal/executor"
	"github.com/JakeFAU/siteaudit/internal/logging"
	"github.com/JakeFAU/siteaudit/internal/metrics"
	"github.com/JakeFAU/siteaudit/internal/pool"
	"github.com/JakeFAU/siteaudit/internal/progress"
	"github.com/JakeFAU/siteaudit/internal/progress/sinks"
	"github.com/JakeFAU/siteaudit/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/siteaudit/internal/publisher/pubsub"
	"github.com/JakeFAU/siteaudit/internal/route"
	"github.com/JakeFAU/siteaudit/internal/scheduler"
	"github.com/JakeFAU/siteaudit/internal/storage/gcs"
	"github.com/JakeFAU/siteaudit/internal/storage/local"
	"github.com/JakeFAU/siteaudit/internal/storage/postgres"
	"github.com/JakeFAU/siteaudit/internal/telemetry"
	"github.com/JakeFAU/siteaudit/internal/terminal"
)

const (
	shutdownTimeout   = 10 * time.Second
	broadcasterBuffer = 64
	bannerWidth       = 60
)

// App holds the long-lived services of one audit run.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	out       io.Writer
	routes    []route.Route
	blobs     *local.BlobStore
	pool      *pool.Pool
	scheduler *scheduler.Scheduler
	hub       *progress.Hub
	server    *http.Server

	ownsLogger bool
	closers    []func()
}

// Option customizes Build. The defaults resolve real executables.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	out      io.Writer
	engine   engine.Engine
	launcher pool.Launcher
}

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithOutput sends the banner and terminal progress to w.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithEngine replaces the lighthouse subprocess engine.
func WithEngine(e engine.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithLauncher replaces the Chrome launcher.
func WithLauncher(l pool.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// Build validates cfg and constructs every service. Missing executables and
// an unwritable output directory are fatal.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{cfg: cfg, out: o.out, logger: o.logger}
	if a.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, logging.WithDebug(cfg.Debug))
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
		a.logger = logger
		a.ownsLogger = true
	}

	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	if err := checkWritable(cfg.Output.Dir); err != nil {
		return nil, err
	}
	if err := a.setupStorage(ctx); err != nil {
		return nil, err
	}

	eng := o.engine
	if eng == nil {
		lh := engine.NewLighthouse(engine.Options{
			Command:       cfg.Engine.Command,
			SampleTimeout: cfg.Engine.SampleTimeout,
			Device:        cfg.Device(),
			Throttle:      cfg.Sampler.Throttle,
			Categories:    cfg.Sampler.Categories,
			UserAgent:     cfg.Browser.UserAgent,
			ExtraArgs:     cfg.Engine.ExtraArgs,
		}, a.logger.Named("engine"))
		if _, err := lh.LookPath(); err != nil {
			return nil, fmt.Errorf("audit engine unavailable: %w", err)
		}
		eng = lh
	}

	launcher := o.launcher
	if launcher == nil {
		chrome, err := pool.FindChrome(cfg.Browser.Executable)
		if err != nil {
			return nil, err
		}
		launcher = pool.NewChromeLauncher(pool.ChromeConfig{
			ExecPath:          chrome,
			Headless:          cfg.Sampler.Headless,
			UserAgent:         cfg.Browser.UserAgent,
			Proxy:             cfg.Browser.Proxy,
			Device:            cfg.Device(),
			NavigationTimeout: cfg.Browser.NavigationTimeout,
		}, a.logger.Named("chrome"))
	}

	p, err := pool.New(pool.Config{
		MaxConcurrency: cfg.Pool.MaxConcurrency,
		TaskTimeout:    cfg.Pool.TaskTimeout,
		LaunchInterval: cfg.Pool.LaunchInterval,
	}, launcher, a.logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}
	a.pool = p

	runID := uuid.New()
	tp, err := telemetry.InitTracerProvider(ctx, "siteaudit", runID.String())
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
	})

	exec, err := executor.New(eng, a.blobs, executor.Config{
		Samples:        cfg.Sampler.Size,
		TracerProvider: tp,
	}, a.logger.Named("executor"))
	if err != nil {
		return nil, fmt.Errorf("init executor: %w", err)
	}

	source := &schedulerSource{}
	recent := memory.New(cfg.Progress.RecentEvents)
	events := api.NewBroadcaster(broadcasterBuffer)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := a.setupProgress(ctx, registry, recent, events, source); err != nil {
		return nil, err
	}

	sched, err := scheduler.New(scheduler.Config{RunID: runID}, p, exec, a.hub, a.blobs, a.logger.Named("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	a.scheduler = sched
	source.sched = sched

	a.routes = a.resolveRoutes(ctx)
	if len(a.routes) == 0 {
		return nil, errors.New("no routes to audit")
	}

	if cfg.Server.Enabled {
		httpMetrics, err := metrics.NewHTTP(registry)
		if err != nil {
			return nil, fmt.Errorf("init http metrics: %w", err)
		}
		srv := api.NewServer(api.Deps{
			Scheduler:    sched,
			Events:       events,
			Recent:       recent,
			Gatherer:     registry,
			Metrics:      httpMetrics,
			ArtifactsDir: a.blobs.Root(),
		}, cfg, a.logger.Named("api"))
		a.server = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	ok = true
	return a, nil
}

// Routes returns the deduplicated routes the run will audit.
func (a *App) Routes() []route.Route {
	return a.routes
}

// Scheduler exposes the run's scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Run queues every route and blocks until the audit finishes. With the HTTP
// server enabled it keeps serving results until ctx ends or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprint(a.out, a.banner())

	g, gctx := errgroup.WithContext(ctx)
	if a.server != nil {
		g.Go(func() error {
			a.logger.Info("http server started", zap.String("addr", a.server.Addr))
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown http server: %w", err)
			}
			return nil
		})
	}

	queued := a.scheduler.QueueRoutes(a.routes)
	a.logger.Info("audit started",
		zap.String("run_id", a.scheduler.RunID().String()),
		zap.Int("routes", queued),
	)
	g.Go(func() error {
		if err := a.scheduler.Wait(gctx); err != nil {
			a.logger.Warn("audit interrupted", zap.Error(err))
			return nil
		}
		stats := a.scheduler.Stats()
		a.logger.Info("audit finished",
			zap.Int("done", stats.DoneTargets),
			zap.Int("total", stats.AllTargets),
			zap.String("error_rate", stats.ErrorPerc),
		)
		return nil
	})

	return g.Wait()
}

// Close stops the scheduler, flushes progress sinks and releases clients.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Close()
	}
	var err error
	if a.hub != nil {
		if cerr := a.hub.Close(ctx); cerr != nil {
			err = fmt.Errorf("close progress hub: %w", cerr)
		}
	}
	a.closeInfrastructure()
	if a.ownsLogger {
		_ = a.logger.Sync()
	}
	return err
}

func (a *App) closeInfrastructure() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.scheduler == nil && a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) setupStorage(ctx context.Context) error {
	var opts []local.Option
	if bucket := a.cfg.Storage.GCSBucket; bucket != "" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		mirror, err := gcs.New(client, gcs.Config{Bucket: bucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return fmt.Errorf("init gcs mirror: %w", err)
		}
		opts = append(opts, local.WithMirror(mirror))
		a.logger.Info("mirroring artifacts to gcs", zap.String("bucket", bucket))
	}
	blobs, err := local.New(local.Config{BaseDir: a.cfg.Output.Dir}, opts...)
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}
	a.blobs = blobs
	return nil
}

func (a *App) setupProgress(
	ctx context.Context,
	registry prometheus.Registerer,
	recent *memory.Publisher,
	events *api.Broadcaster,
	source terminal.Source,
) error {
	cfg := a.cfg
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{
		promSink,
		events,
		sinks.NewPublishSink(recent, a.logger.Named("recent")),
	}
	if cfg.Progress.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("progress")))
	}
	if cfg.Progress.Terminal {
		sinkList = append(sinkList, terminal.New(a.out, source))
	}

	if cfg.Database.DSN != "" {
		reports, err := postgres.NewReportStore(ctx, postgres.ReportStoreConfig{
			DSN:             cfg.Database.DSN,
			Table:           cfg.Database.Table,
			MaxConns:        cfg.Database.MaxConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("init report store: %w", err)
		}
		a.closers = append(a.closers, reports.Close)
		if err := reports.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure report schema: %w", err)
		}
		sinkList = append(sinkList, sinks.NewStoreSink(reports, a.logger.Named("reports")))
	}

	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		sinkList = append(sinkList, sinks.NewPublishSink(pub, a.logger.Named("pubsub")))
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		SinkTimeout:    cfg.Progress.SinkTimeout,
		Logger:         a.logger.Named("hub"),
	}, sinkList...)
	return nil
}

// resolveRoutes turns each site's base URL and listed URLs into routes,
// optionally extended by link discovery. Invalid entries are logged and skipped.
func (a *App) resolveRoutes(ctx context.Context) []route.Route {
	var routes []route.Route
	for _, site := range a.cfg.Sites {
		seeds := append([]string{site.BaseURL}, site.URLs...)
		if site.Discover.Enabled {
			d := discovery.New(discovery.Config{
				MaxRoutes: site.Discover.MaxRoutes,
				MaxDepth:  site.Discover.MaxDepth,
				UserAgent: a.cfg.Browser.UserAgent,
			}, a.logger.Named("discovery"))
			found, err := d.Discover(ctx, site.BaseURL, site.DomainRotation, seeds)
			if err == nil {
				routes = append(routes, found...)
				continue
			}
			a.logger.Warn("route discovery failed, using configured urls",
				zap.String("site", site.BaseURL), zap.Error(err))
		}
		for _, raw := range seeds {
			r, err := route.New(site.BaseURL, site.DomainRotation, raw)
			if err != nil {
				a.logger.Warn("skip invalid url", zap.String("site", site.BaseURL), zap.String("url", raw), zap.Error(err))
				continue
			}
			routes = append(routes, r)
		}
	}
	return route.UniqueByURL(routes)
}

func (a *App) banner() string {
	throttle := "off"
	if a.cfg.Sampler.Throttle {
		throttle = "on"
	}
	lines := []string{
		fmt.Sprintf("Routes: %d", len(a.routes)),
		fmt.Sprintf("Device: %s", a.cfg.Device().Name),
		fmt.Sprintf("Samples: %d", a.cfg.Sampler.Size),
		fmt.Sprintf("Throttle: %s", throttle),
		fmt.Sprintf("Concurrency: %d", a.pool.Concurrency()),
		fmt.Sprintf("Artifacts: %s", a.blobs.Root()),
	}
	if a.server != nil {
		lines = append(lines, fmt.Sprintf("Dashboard: http://localhost:%d", a.cfg.Server.Port))
	}
	return terminal.Box("siteaudit", lines, bannerWidth)
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("output dir %q: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("output dir %q is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// schedulerSource lets the terminal sink be built before the scheduler exists.
type schedulerSource struct {
	sched *scheduler.Scheduler
}

func (s *schedulerSource) Progress() scheduler.ProgressSnapshot {
	if s.sched == nil {
		return scheduler.ProgressSnapshot{}
	}
	return s.sched.Progress()
}
