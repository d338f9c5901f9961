package app

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"holyagents.arpa/app/completion"
	"holyagents.arpa/app/config"
	"holyagents.arpa/app/http"
	"holyagents.arpa/app/ledger"
	"holyagents.arpa/app/persona"
	"holyagents.arpa/app/screen"
	"holyagents.arpa/logger"
)

type App struct {
	BuildOpts  config.BuildOpts
	logger     logger.Logger
	log        *zap.Logger
	config     config.Config
	registry   *persona.Registry
	completion completion.Client
	ledger     *ledger.Ledger
	screens    *screen.Manager
	httpServer *http.Server
	watcher    *config.Watcher
}

func NewApp(buildOpts config.BuildOpts) *App {
	return &App{
		BuildOpts: buildOpts,
		logger:    logger.NewNoopLogger(),
		log:       zap.NewNop(),
	}
}

func (s *App) Setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error
	s.config, err = s.BuildOpts.MakeConfig(cmd)
	if err != nil {
		return ctx, fmt.Errorf("config setup: %w", err)
	}

	isProd := s.config.IsProduction()
	s.logger, err = logger.NewLogger(logger.LoggerOpts{
		Level:        s.config.LogLevel,
		IsProduction: isProd,
		JSONConsole:  isProd,
	})
	if err != nil {
		return ctx, err
	}
	s.log = s.logger.Get()

	s.registry, err = persona.NewRegistry(s.config.ModelOverrides)
	if err != nil {
		return ctx, fmt.Errorf("persona setup: %w", err)
	}

	s.completion, err = completion.New(s.logger.Named("completion"), s.config.Completion)
	if err != nil {
		return ctx, fmt.Errorf("completion setup: %w", err)
	}

	var stats http.StatsSource
	screenOpts := []screen.Option{
		screen.WithCompletionTimeout(s.config.Timeout),
		screen.WithIdleTTL(s.config.ScreenIdleTTL),
		screen.WithReconnectGrace(s.config.ReconnectGrace),
	}
	if s.config.DataDir != "" {
		s.ledger, err = ledger.Open(s.config.DataDir)
		if err != nil {
			return ctx, fmt.Errorf("ledger setup: %w", err)
		}
		pruned, err := s.ledger.Prune(ctx, s.config.LedgerRetention)
		if err != nil {
			s.log.Warn("Failed to prune exchange ledger", zap.Error(err))
		} else if pruned > 0 {
			s.log.Debug("Pruned exchange ledger", zap.Int64("rows", pruned))
		}
		stats = s.ledger
		screenOpts = append(screenOpts, screen.WithRecorder(s.ledger))
	}

	renderer, err := http.NewRenderer()
	if err != nil {
		return ctx, fmt.Errorf("template setup: %w", err)
	}
	hub := http.NewHub(s.logger.Named("events"), renderer, s.registry)
	screenOpts = append(screenOpts, screen.WithPublisher(hub))
	s.screens = screen.NewManager(s.logger.Named("screens"), s.registry, s.completion, screenOpts...)

	s.httpServer = http.NewServer(s.logger.Named("http"), s.config.Server, http.Deps{
		Registry: s.registry,
		Screens:  s.screens,
		Hub:      hub,
		Renderer: renderer,
		Stats:    stats,
	})

	s.log.Debug("Configured application.",
		zap.String("version", s.config.Version),
		zap.String("provider", s.config.Completion.Provider),
		zap.Bool("ledger", s.ledger != nil),
	)
	return ctx, nil
}

func (s *App) Run(runCtx context.Context) error {
	if err := s.watchConfig(runCtx); err != nil {
		s.log.Warn("Config file is not watched", zap.String("file", s.config.ConfigFile), zap.Error(err))
	}
	s.screens.Start()
	return s.httpServer.Run(runCtx)
}

// watchConfig follows log level changes in the config file unless the level came from the command line.
func (s *App) watchConfig(ctx context.Context) error {
	if s.config.ConfigFile == "" {
		return nil
	}
	watcher, err := config.NewWatcher(s.logger.Named("config"), s.config.ConfigFile)
	if err != nil {
		return err
	}
	watcher.OnChange("log-level", func(c config.FileConfig) {
		if s.config.LogLevelFromCLI || c.LogLevel == nil {
			return
		}
		if err := s.logger.SetLevelStr(*c.LogLevel); err != nil {
			s.log.Warn("Ignoring invalid log level from config file", zap.String("level", *c.LogLevel), zap.Error(err))
			return
		}
		s.log.Info("Log level changed", zap.String("level", *c.LogLevel))
	})
	if err := watcher.Start(ctx); err != nil {
		watcher.Stop()
		return err
	}
	s.watcher = watcher
	return nil
}

func (s *App) BeginShutdown(ctx context.Context) error {
	if err := s.httpServer.BeginShutdown(ctx); err != nil {
		return fmt.Errorf("begin shutdown http server: %w", err)
	}
	return nil
}

// Shutdown resources in reverse order of the Setup/Run
func (s *App) Shutdown(ctx context.Context) error {
	var errs error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := s.screens.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("shutdown screens: %w", err))
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if err := s.release(); err != nil {
		errs = errors.Join(errs, err)
	}
	return errs
}

// release closes what subcommands open as well as the server.
func (s *App) release() error {
	var errs error
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("close ledger: %w", err))
		}
		s.ledger = nil
	}
	// Sync throws an error when logging to console (sync is for buffered file logging)
	// `sync /dev/stderr: inappropriate ioctl for device`
	// https://github.com/uber-go/zap/issues/880
	if err := s.log.Sync(); err != nil && !errors.Is(err, syscall.ENOTTY) && !errors.Is(err, syscall.EINVAL) {
		errs = errors.Join(errs, fmt.Errorf("sync logger: %w", err))
	}
	return errs
}

func (s *App) ForceShutdown(ctx context.Context) error {
	return nil
}

func (s *App) Logger() *zap.Logger {
	return s.log
}
