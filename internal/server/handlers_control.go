package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"url-time/internal/scheduler"
	"url-time/internal/settings"
)

func (s *Server) handleStart(mode settings.Mode) http.HandlerFunc {
	start := s.controller.StartScheduled
	if mode == settings.ModeRandom {
		start = s.controller.StartRandom
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := s.overrides.Merge(body); err != nil {
			if errors.Is(err, settings.ErrInvalidOverrides) {
				writeError(w, http.StatusBadRequest, "invalid JSON")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		cfg := settings.Resolve(mode, s.overrides.Snapshot(), s.settings.Defaults())
		runID, err := start(cfg)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, scheduler.ErrClosed) {
				status = http.StatusServiceUnavailable
			}
			writeError(w, status, err.Error())
			return
		}
		s.logger.Info("mode start requested",
			zap.String("mode", string(mode)),
			zap.String("run", runID),
			zap.String("remote", r.RemoteAddr),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": fmt.Sprintf("%s mode started", mode)})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.controller.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "all modes stopped"})
}
