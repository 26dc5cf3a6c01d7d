package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/core"
	"github.com/jacobedelsonuw/visionboard-ai/core/validation"
	"github.com/jacobedelsonuw/visionboard-ai/db"
	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
	"github.com/jacobedelsonuw/visionboard-ai/logging"
	"github.com/jacobedelsonuw/visionboard-ai/shutdown"
	"github.com/jacobedelsonuw/visionboard-ai/webui"
	"github.com/jacobedelsonuw/visionboard-ai/webui/auth"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

const (
	shutdownTimeout      = 30 * time.Second
	limiterIdleTTL       = 10 * time.Minute
	limiterCleanupPeriod = time.Minute
	retentionInterval    = 24 * time.Hour
)

type serveOptions struct {
	port       int
	skipChecks bool
	out        io.Writer
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	opts := serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the board server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if opts.port > 0 {
				cfg.Port = opts.port
			}
			opts.out = cmd.OutOrStdout()
			return runServe(cfg, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Listen port (overrides WEBUI_PORT)")
	cmd.Flags().BoolVar(&opts.skipChecks, "skip-checks", false, "Start without the preflight checks")
	return cmd
}

func runServe(cfg *core.Config, opts serveOptions) error {
	logger, err := newLogger(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// match GOMAXPROCS to the container CPU quota
	if undo, err := maxprocs.Set(maxprocs.Logger(logger.Infof)); err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	} else {
		defer undo()
	}

	if !opts.skipChecks {
		res := validation.NewSuite(cfg, nil).WithOutput(opts.out).Validate(context.Background())
		logger.Info(res.Summary())
		if !res.Success {
			if err := res.FirstError(); err != nil {
				return err
			}
			return fmt.Errorf("%s", res.Summary())
		}
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.Strings("priority", cfg.ServicePriority),
		zap.Strings("enabled_backends", cfg.EnabledBackends),
		zap.String("database", cfg.DatabasePath),
		zap.Bool("save_images", cfg.SaveImages),
		zap.Bool("prompt_enhancement", cfg.PromptEnhancement),
		zap.Bool("background_enhancement", cfg.BackgroundEnhancement),
		zap.Bool("contextual_generation", cfg.ContextualGeneration),
		zap.Bool("api_key_required", cfg.WebUIAPIKey != ""),
		zap.String("version", core.Version),
		zap.Bool("dev_mode", cfg.IsDevelopment))

	mgr := shutdown.NewManager(logger, shutdown.WithTimeout(shutdownTimeout))
	mgr.Register("logger", shutdown.PriorityLogger, func(context.Context) error {
		// stdout cannot be synced on most terminals; the file core can
		_ = logger.Sync()
		return nil
	})

	srv, err := buildServer(cfg, logger, mgr)
	if err != nil {
		_ = mgr.Shutdown()
		return err
	}

	mgr.Start()
	ctx := mgr.Context()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("board server failed", zap.Error(serveErr))
		}
	}

	if err := mgr.Shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	if serveErr != nil {
		return serveErr
	}
	if code := mgr.ExitCode(); code != core.ExitCodeSuccess {
		return &exitError{code: code}
	}
	return nil
}

// buildServer wires every component and registers its cleanup with mgr.
// Background goroutines are started on mgr's context.
func buildServer(cfg *core.Config, logger *logging.Logger, mgr *shutdown.Manager) (*webui.Server, error) {
	ctx := mgr.Context()

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	repo := db.NewRepository(database)

	var saver db.ImageSaver
	if cfg.SaveImages {
		dl, err := imagegen.NewDownloader(cfg, p.client)
		if err != nil {
			database.Close()
			return nil, err
		}
		saver = dl
		mgr.Register("downloads", shutdown.PriorityDownloads,
			shutdown.CleanupTempFiles(logger, dl.DownloadsDir(), imagegen.TempFilePrefix))
	}

	recorder := db.NewHistoryRecorder(repo, saver, logger)
	writer := db.NewAsyncWriterWithConfig(recorder.Handler(), db.AsyncWriterConfig{
		OnError: func(op db.WriteOperation, err error) {
			logger.Warn("history write failed", zap.Error(err))
		},
	})
	recorder.UseWriter(writer)
	writer.Start()
	mgr.Register("history", shutdown.PriorityHistory, func(ctx context.Context) error {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if !writer.StopWithTimeout(timeout) {
			logger.Warn("history writer did not drain", zap.Int("pending", writer.Pending()))
		}
		return database.Close()
	})

	if cfg.HistoryRetentionDays > 0 {
		database.StartCleanupScheduler(ctx, db.CleanupSchedulerConfig{
			RetentionDays: cfg.HistoryRetentionDays,
			Interval:      retentionInterval,
			OnCleanup: func(r db.CleanupResult, err error) {
				if err != nil {
					logger.Warn("history cleanup failed", zap.Error(err))
					return
				}
				logger.Info("history cleanup complete",
					zap.Int64("runs_deleted", r.RunsDeleted),
					zap.Int64("images_deleted", r.ImagesDeleted),
					zap.Duration("duration", r.Duration))
			},
		})
	}

	broadcaster := webui.NewBroadcaster(webui.DefaultBroadcasterConfig(), logger)
	orch, err := p.orchestrator(imagegen.MultiPublisher{broadcaster, recorder}, mgr.Tracker())
	if err != nil {
		return nil, err
	}

	queue := imagegen.NewQueue(orch, logger, imagegen.WithCancelSuperseded(cfg.CancelSupersededRuns))
	queue.Start(ctx)
	mgr.Register("queue", shutdown.PriorityQueue, func(context.Context) error {
		queue.Stop()
		return nil
	})

	if cfg.ContextualGeneration {
		var suggester imagegen.Suggester
		if p.llm != nil {
			suggester = p.llm
		}
		gen := imagegen.NewContextualGenerator(queue, p.history, suggester, p.sanitizer.FallbackPrompt, imagegen.ContextualConfig{
			Interval:  cfg.ContextualInterval,
			MinImages: cfg.ContextualMinImages,
			MaxImages: cfg.ContextualMaxImages,
			MaxQueue:  cfg.ContextualMaxQueueLen,
		}, logger)
		go gen.Start(ctx)
	}

	guard, err := auth.NewKeyAuth(cfg.WebUIAPIKey, auth.DefaultCost, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up API key: %w", err)
	}
	limiter := webui.NewRateLimiter(cfg.PromptRateLimit, cfg.PromptRateBurst, limiterIdleTTL)
	limiter.StartCleanupTicker(ctx, limiterCleanupPeriod)

	apiCfg := webui.APIConfig{
		Queue:     queue,
		Preparer:  p.sanitizer,
		Recent:    p.history,
		Priority:  p.priority,
		History:   repo,
		Metrics:   p.metrics,
		Broadcast: broadcaster.BroadcastMessage,
		Logger:    logger,
		StartTime: time.Now(),
		Version:   core.Version,
	}
	if cfg.BackgroundEnhancement && p.llm != nil {
		apiCfg.Enhancer = orch
	}
	api, err := webui.NewAPI(apiCfg)
	if err != nil {
		return nil, err
	}

	srvCfg := webui.DefaultServerConfig()
	srvCfg.Port = cfg.Port
	srv, err := webui.NewServer(srvCfg, webui.ServerDeps{
		API:         api,
		Broadcaster: broadcaster,
		Limiter:     limiter,
		Guard:       guard.Middleware,
	}, logger)
	if err != nil {
		return nil, err
	}
	mgr.Register("http", shutdown.PriorityHTTP, srv.Shutdown)
	return srv, nil
}
