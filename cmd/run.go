package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/app"
	"github.com/JakeFAU/siteaudit/internal/config"
)

const closeTimeout = 15 * time.Second

// runOptions holds command-line overrides applied on top of the loaded config.
type runOptions struct {
	sites    []string
	urls     []string
	samples  int
	device   string
	output   string
	port     int
	noServer bool
	throttle bool
	discover bool
}

func newRunCmd() *cobra.Command {
	return bindRunCmd(&runOptions{})
}

// bindRunCmd builds the run command with its flags bound to opts.
func bindRunCmd(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Audits every configured route",
		Long: `Resolves the routes of every configured site, audits each one with
lighthouse and keeps the results available over HTTP until interrupted.
Pass --no-server to exit as soon as the scan finishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAudit(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.sites, "site", nil, "site base URL to audit, repeatable; replaces configured sites")
	f.StringSliceVar(&opts.urls, "url", nil, "extra URL or path to audit on every --site site")
	f.IntVar(&opts.samples, "samples", 1, "audit runs per route; the median run is reported")
	f.StringVar(&opts.device, "device", "desktop", "device preset: desktop or mobile")
	f.StringVar(&opts.output, "output", "", "directory for reports and screenshots")
	f.IntVar(&opts.port, "port", 5000, "HTTP server port")
	f.BoolVar(&opts.noServer, "no-server", false, "do not start the HTTP server")
	f.BoolVar(&opts.throttle, "throttle", false, "simulate a throttled network and CPU")
	f.BoolVar(&opts.discover, "discover", false, "discover additional routes by following same-site links")
	return cmd
}

func runAudit(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts.apply(cmd, &cfg)

	a, err := app.Build(cmd.Context(), cfg, app.WithOutput(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := a.Close(ctx); cerr != nil {
			zap.L().Warn("Failed to close application", zap.Error(cerr))
		}
	}()

	if err := a.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run audit: %w", err)
	}
	return nil
}

// apply copies every flag the user set explicitly onto cfg.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("site") {
		sites := make([]config.SiteConfig, 0, len(o.sites))
		for _, s := range o.sites {
			sites = append(sites, config.SiteConfig{BaseURL: s, URLs: o.urls})
		}
		cfg.Sites = sites
	} else if flags.Changed("url") {
		for i := range cfg.Sites {
			cfg.Sites[i].URLs = append(cfg.Sites[i].URLs, o.urls...)
		}
	}
	if flags.Changed("discover") {
		for i := range cfg.Sites {
			cfg.Sites[i].Discover.Enabled = o.discover
		}
	}
	if flags.Changed("samples") {
		cfg.Sampler.Size = o.samples
	}
	if flags.Changed("device") {
		cfg.Sampler.Device = o.device
	}
	if flags.Changed("throttle") {
		cfg.Sampler.Throttle = o.throttle
	}
	if flags.Changed("output") {
		cfg.Output.Dir = o.output
	}
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("no-server") {
		cfg.Server.Enabled = !o.noServer
	}
}
