package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteaudit/internal/config"
)

func TestRunOptionsApplyOnlyChangedFlags(t *testing.T) {
	t.Parallel()

	opts := &runOptions{}
	cmd := bindRunCmd(opts)
	require.NoError(t, cmd.ParseFlags([]string{
		"--site", "https://a.test", "--site", "https://b.test",
		"--url", "/pricing",
		"--samples", "3",
		"--device", "mobile",
		"--no-server",
		"--discover",
	}))

	cfg := config.Config{
		Sites:   []config.SiteConfig{{BaseURL: "https://old.test"}},
		Sampler: config.SamplerConfig{Size: 1, Device: "desktop"},
		Server:  config.ServerConfig{Enabled: true, Port: 5000},
		Output:  config.OutputConfig{Dir: "keep"},
	}
	opts.apply(cmd, &cfg)

	require.Len(t, cfg.Sites, 2)
	assert.Equal(t, "https://a.test", cfg.Sites[0].BaseURL)
	assert.Equal(t, []string{"/pricing"}, cfg.Sites[1].URLs)
	assert.True(t, cfg.Sites[1].Discover.Enabled)
	assert.Equal(t, 3, cfg.Sampler.Size)
	assert.Equal(t, "mobile", cfg.Sampler.Device)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "keep", cfg.Output.Dir)
}

func TestRunOptionsURLExtendsConfiguredSites(t *testing.T) {
	t.Parallel()

	opts := &runOptions{}
	cmd := bindRunCmd(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--url", "/b"}))

	cfg := config.Config{Sites: []config.SiteConfig{{BaseURL: "https://a.test", URLs: []string{"/a"}}}}
	opts.apply(cmd, &cfg)

	assert.Equal(t, []string{"/a", "/b"}, cfg.Sites[0].URLs)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	cmd := newVersionCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.Run(cmd, nil)
	assert.Equal(t, version+"\n", out.String())
}
