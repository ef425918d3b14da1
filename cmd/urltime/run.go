package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"url-time/internal/broadcast"
	"url-time/internal/config"
	"url-time/internal/database"
	"url-time/internal/journal"
	"url-time/internal/logging"
	"url-time/internal/scheduler"
	"url-time/internal/server"
	"url-time/internal/settings"
	"url-time/internal/util"
	"url-time/internal/version"
	"url-time/internal/visit"
)

const shutdownTimeout = 10 * time.Second

type listener struct {
	name   string
	ln     net.Listener
	server *http.Server
}

func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Sync() }()
	undo := zap.RedirectStdLog(logger.Named("http"))
	defer undo()

	logger.Info("starting", zap.String("version", version.Current().String()))

	db, err := database.Open()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer db.Close()
	history, err := journal.NewStore(db, cfg.App.HistoryLimit, logger.Named("journal"))
	if err != nil {
		return err
	}

	counters := visit.NewCounters()
	executor := visit.NewExecutor(counters, logger.Named("visit"))
	hub := broadcast.NewHub(logger.Named("broadcast"))
	supervisor := scheduler.NewSupervisor(executor, logger.Named("scheduler"), hub, history)
	supervisor.SetRecorder(history)

	srv, err := server.New(server.Options{
		Settings:     settings.NewStore(cfg.App.ConfigFile, logger.Named("settings")),
		Overrides:    settings.NewOverrides(),
		Controller:   supervisor,
		Counters:     counters,
		Push:         hub,
		History:      history,
		WebRoot:      cfg.App.WebRoot,
		HistoryLimit: cfg.App.HistoryLimit,
		Logger:       logger.Named("server"),
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	listeners, err := bindListeners(cfg, srv, hub, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		g.Go(func() error {
			logger.Info("listening", zap.String("listener", l.name), zap.String("addr", l.ln.Addr().String()))
			if err := l.server.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", l.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := supervisor.Shutdown(shutdownCtx); err != nil {
			logger.Warn("mode loops did not stop in time", zap.Error(err))
		}
		for _, l := range listeners {
			if err := l.server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown error", zap.String("listener", l.name), zap.Error(err))
			}
		}
		return nil
	})

	err = g.Wait()
	stopHub()
	<-hubDone
	return err
}

// bindListeners claims the control-surface port and, when enabled, the
// dedicated websocket port. Any listener already bound is closed on failure.
func bindListeners(cfg config.Config, srv *server.Server, hub *broadcast.Hub, logger *zap.Logger) ([]listener, error) {
	httpLn, _, err := util.ListenFirst(cfg.HTTP.Host, cfg.HTTP.Ports, logger)
	if err != nil {
		return nil, fmt.Errorf("bind http: %w", err)
	}
	listeners := []listener{{name: "http", ln: httpLn, server: newHTTPServer(srv.Router())}}

	if cfg.WS.Enabled {
		wsLn, wsPort, err := util.ListenFirst(cfg.WS.Host, cfg.WS.Ports, logger)
		if err != nil {
			httpLn.Close()
			return nil, fmt.Errorf("bind websocket: %w", err)
		}
		srv.SetWSPort(wsPort)
		listeners = append(listeners, listener{name: "websocket", ln: wsLn, server: newHTTPServer(http.HandlerFunc(hub.ServeWS))})
	}
	return listeners, nil
}

func newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
