package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fiscalsync/internal/config"
	"github.com/roach88/fiscalsync/internal/document"
	"github.com/roach88/fiscalsync/internal/engine"
	"github.com/roach88/fiscalsync/internal/provider"
	"github.com/roach88/fiscalsync/internal/provider/builtin"
	"github.com/roach88/fiscalsync/internal/source"
	"github.com/roach88/fiscalsync/internal/store"
)

// app is everything a command needs, built from the configuration.
type app struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
	out    *OutputFormatter
}

func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(cfg.Log, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	src, err := newSource(cfg, logger)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to set up event source", err)
	}

	set, err := newProviders(cfg, opts.Adapters, logger)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to set up providers", err)
	}
	if len(set.Names()) == 0 {
		logger.Warn("no providers enabled")
	}

	eng, err := engine.New(st, src, document.NewGenerator(cfg.Supplier), set,
		engine.WithPolicy(cfg.Retry.Policy()),
		engine.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	return &app{cfg: cfg, store: st, engine: eng, logger: logger, out: out}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// loadConfig reads path, or DefaultConfigPath when path is empty. A missing
// default file falls back to the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.Load(DefaultConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s not found and defaults are incomplete: %w", DefaultConfigPath, err)
		}
		return cfg, nil
	}
	return cfg, err
}

func newLogger(c config.Log, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	ho := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}

func newSource(cfg *config.Config, logger *slog.Logger) (source.Fetcher, error) {
	switch cfg.Source.Kind {
	case config.SourceFixtures:
		return source.LoadFixtures(cfg.Source.Fixtures)
	case config.SourceStripe:
		opts := []source.StripeOption{source.WithStripeLogger(logger)}
		if cfg.Source.StripeURL != "" {
			opts = append(opts, source.WithStripeURL(cfg.Source.StripeURL, nil))
		}
		return source.NewStripe(cfg.Source.StripeAPIKey, cfg.SourceOptions(), opts...)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

// newProviders instantiates every enabled provider through the built-in
// registry and wraps it with its configured limits.
func newProviders(cfg *config.Config, override []provider.Adapter, logger *slog.Logger) (*provider.Set, error) {
	if len(override) > 0 {
		return provider.NewSet(override...)
	}
	reg, err := builtin.Registry()
	if err != nil {
		return nil, err
	}
	var adapters []provider.Adapter
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		ac := pc.Adapter()
		ac.Logger = logger.With("provider", name)
		a, err := reg.Create(name, ac)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		adapters = append(adapters, provider.Throttle(a, pc.Limits()))
		logger.Debug("provider ready", "provider", name, "profile", a.Profile().Name)
	}
	return provider.NewSet(adapters...)
}

// fileOut returns the writer for --output, or stdout.
func fileOut(path string, cmd *cobra.Command) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{cmd.OutOrStdout()}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
