package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/sieve/pkg/cli"
	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/engine"
	"mercator-hq/sieve/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads --config with environment overrides. The default file
// is optional; an explicitly named file must exist.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == defaultConfigFile {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// finalizeConfig validates cfg after flag overrides and installs it as the
// process configuration.
func finalizeConfig(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}
	config.SetConfig(cfg)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// session is an engine plus the telemetry it reports to.
type session struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	engine *engine.Engine
	logger *slog.Logger
}

func openSession(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts ...engine.Option) (*session, error) {
	tel, err := telemetry.New(&cfg.Telemetry, cmd.ErrOrStderr())
	if err != nil {
		return nil, cli.NewConfigError("telemetry", err.Error())
	}

	opts = append([]engine.Option{engine.WithTelemetry(tel)}, opts...)
	eng, err := engine.New(ctx, cfg, opts...)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, cli.NewCommandError(cmd.Name(), err)
	}

	return &session{
		cfg:    cfg,
		tel:    tel,
		engine: eng,
		logger: tel.Logger().With("command", cmd.Name()),
	}, nil
}

// Close releases the engine and flushes telemetry. It runs on a fresh
// context so an interrupted command still drains the ledger.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.engine.Close(ctx); err != nil {
		s.logger.Warn("engine shutdown incomplete", "error", err)
	}
	if err := s.tel.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown incomplete", "error", err)
	}
}

// loadRegistry loads the module registry unless every ref names an
// existing file. A missing registry directory is not an error then.
func (s *session) loadRegistry(ctx context.Context, refs []string) error {
	needed := len(refs) == 0
	for _, ref := range refs {
		if _, err := os.Stat(ref); err != nil {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	err := s.engine.LoadRegistry(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist) && len(refs) > 0:
		s.logger.Debug("module registry unavailable", "dir", s.engine.Registry().Dir(), "error", err)
		return nil
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("module registry %s: %w", s.engine.Registry().Dir(), err)
	default:
		// Modules that loaded are usable; the failures are reported.
		s.logger.Warn("some modules failed to load", "error", err)
		return nil
	}
}

// serveMetrics exposes metrics until ctx is done when a listen address is
// configured.
func (s *session) serveMetrics(ctx context.Context) {
	mc := s.cfg.Telemetry.Metrics
	if !mc.Enabled || mc.ListenAddress == "" {
		return
	}
	go func() {
		if err := s.tel.Metrics().Serve(ctx, mc.ListenAddress, s.logger); err != nil {
			s.logger.Error("metrics server failed", "address", mc.ListenAddress, "error", err)
		}
	}()
}
