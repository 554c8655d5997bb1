package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"NiftyQuant/internal/usecase"
	"NiftyQuant/pkg/config"
	xhttp "NiftyQuant/pkg/http"
	applogger "NiftyQuant/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	httpHandler xhttp.Handler
	pipeline    *usecase.PipelineUseCase
	httpServer  *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, h xhttp.Handler, pipeline *usecase.PipelineUseCase) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, log: l, httpHandler: h, pipeline: pipeline}
}

// Run starts the HTTP server and blocks until interrupted or the listener fails.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.httpHandler, a.log.Component("http"),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)

	errc := make(chan error, 1)
	a.httpServer.Start(errc)

	// warm the latest result so the first /api/data does not pay for a full run
	if a.cfg.Serve.AutoRefresh && a.pipeline != nil {
		go a.warm(ctx)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-errc:
		a.log.Error("http server error", applogger.Error(runErr))
	}
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) warm(ctx context.Context) {
	res, err := a.pipeline.Current(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			a.log.Warn("initial pipeline run failed", applogger.Error(err))
		}
		return
	}
	a.log.Info("latest result ready",
		applogger.String("run_id", res.RunID),
		applogger.Int("rows", len(res.Rows)),
		applogger.Float("final_equity", res.Metrics.FinalEquity),
	)
}

// shutdown gracefully stops the HTTP server. Infrastructure clients are closed by the DI cleanup.
func (a *App) shutdown() error {
	a.log.Info("shutting down...")
	if a.httpServer != nil {
		if err := a.httpServer.Stop(context.Background()); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
			return err
		}
	}
	a.log.Info("shutdown complete")
	return nil
}
