package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/walletbot/core/config"
	coretelegram "github.com/m3rciful/walletbot/core/telegram"
)

type carrier struct{ cfg *coreconfig.Config }

func (c carrier) CoreConfig() *coreconfig.Config { return c.cfg }

type app struct {
	opts coretelegram.RunOptions
	err  error
}

func (a app) TelegramRunOptions() (coretelegram.RunOptions, error) { return a.opts, a.err }

func TestRunResolvesConfigPathFromEnv(t *testing.T) {
	t.Setenv("WALLETBOT_CONFIG", "/etc/walletbot.yaml")

	var loaded string
	var started, stopped, shutdown bool
	err := Run(Options{
		ConfigEnvVar:      "WALLETBOT_CONFIG",
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (ConfigCarrier, error) {
			loaded = path
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap: func(ConfigCarrier) (TelegramApp, error) {
			return app{opts: coretelegram.RunOptions{
				OnStop: func(context.Context, coretelegram.Runtime) error { stopped = true; return nil },
			}}, nil
		},
		ShutdownLogger: func() error { shutdown = true; return nil },
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			require.NoError(t, opts.OnStart(ctx, coretelegram.Runtime{}))
			started = true
			return opts.OnStop(ctx, coretelegram.Runtime{})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "/etc/walletbot.yaml", loaded)
	assert.True(t, started)
	assert.True(t, stopped)
	assert.True(t, shutdown)
}

func TestRunStopsOnBootstrapError(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	var ran bool
	err := Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(string) (ConfigCarrier, error) {
			return carrier{cfg: &coreconfig.Config{}}, nil
		},
		Bootstrap: func(ConfigCarrier) (TelegramApp, error) { return nil, errors.New("redis down") },
		RunTelegram: func(context.Context, coretelegram.RunOptions) error {
			ran = true
			return nil
		},
	})
	require.ErrorContains(t, err, "redis down")
	assert.False(t, ran)
}

func TestRunRequiresHooks(t *testing.T) {
	assert.Error(t, Run(Options{}))

	t.Setenv("CONFIG_PATH", "")

	err := Run(Options{
		LoadConfig: func(string) (ConfigCarrier, error) { return carrier{}, nil },
		Bootstrap:  func(ConfigCarrier) (TelegramApp, error) { return app{}, nil },
	})
	assert.ErrorContains(t, err, "CONFIG_PATH")
}

func TestRunRejectsMissingCoreConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	err := Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig:        func(string) (ConfigCarrier, error) { return carrier{}, nil },
		Bootstrap:         func(ConfigCarrier) (TelegramApp, error) { return app{}, nil },
	})
	assert.ErrorContains(t, err, "core section")
}
