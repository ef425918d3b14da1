package server

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"url-time/internal/scheduler"
	"url-time/internal/settings"
	"url-time/internal/visit"
)

const (
	defaultHistoryLimit = 500
	maxBodyBytes        = 1 << 20
)

// Controller starts and stops the visiting modes.
type Controller interface {
	StartScheduled(cfg settings.Effective) (string, error)
	StartRandom(cfg settings.Effective) (string, error)
	Stop()
	Status() scheduler.RunState
}

// History reads the visit journal.
type History interface {
	RecentOutcomes(ctx context.Context, limit int) ([]visit.Outcome, error)
	RecentRuns(ctx context.Context, limit int) ([]scheduler.RunInfo, error)
}

// PushEndpoint accepts websocket observers.
type PushEndpoint interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	Observers() int
}

// Options holds the collaborators of a Server. History may be nil.
type Options struct {
	Settings     *settings.Store
	Overrides    *settings.Overrides
	Controller   Controller
	Counters     *visit.Counters
	Push         PushEndpoint
	History      History
	WebRoot      string
	HistoryLimit int
	Logger       *zap.Logger
}

// Server handles HTTP requests for the control surface and the UI assets.
type Server struct {
	settings     *settings.Store
	overrides    *settings.Overrides
	controller   Controller
	counters     *visit.Counters
	push         PushEndpoint
	history      History
	webRoot      string
	historyLimit int
	logger       *zap.Logger

	wsPort atomic.Int64
}

// New creates an HTTP server.
func New(opts Options) (*Server, error) {
	if opts.Settings == nil || opts.Overrides == nil {
		return nil, errors.New("settings and overrides are required")
	}
	if opts.Controller == nil {
		return nil, errors.New("controller is required")
	}
	if opts.Counters == nil {
		return nil, errors.New("counters are required")
	}
	if opts.Push == nil {
		return nil, errors.New("push endpoint is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	webRoot := opts.WebRoot
	if webRoot == "" {
		webRoot = "."
	}
	return &Server{
		settings:     opts.Settings,
		overrides:    opts.Overrides,
		controller:   opts.Controller,
		counters:     opts.Counters,
		push:         opts.Push,
		history:      opts.History,
		webRoot:      webRoot,
		historyLimit: limit,
		logger:       logger,
	}, nil
}

// SetWSPort records the port of the dedicated websocket listener for status
// reporting. Zero means there is none.
func (s *Server) SetWSPort(port int) {
	s.wsPort.Store(int64(port))
}

// Router constructs the http.Handler with all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  zap.NewStdLog(s.logger.Named("http")),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(api chi.Router) {
		api.Get("/config", s.handleConfig)
		api.Post("/start/scheduled", s.handleStart(settings.ModeScheduled))
		api.Post("/start/random", s.handleStart(settings.ModeRandom))
		api.Post("/stop", s.handleStop)
		api.Get("/status", s.handleStatus)
		api.Get("/counts", s.handleCounts)
		api.Get("/history", s.handleHistory)
	})
	r.Get("/ws", s.push.ServeWS)
	r.Handle("/*", s.staticHandler())

	return r
}
