package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/dispatcher/pkg/component"
	"github.com/raterudder/dispatcher/pkg/log"
	"github.com/raterudder/dispatcher/pkg/scheduler"
	"github.com/raterudder/dispatcher/pkg/simulation"
)

const maxProjectionBytes = 1 << 20

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.dispatcher.RunCycle(ctx)
	if errors.Is(err, scheduler.ErrCycleRunning) {
		writeJSONError(w, "a cycle is already running", http.StatusConflict)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "cycle failed", slog.Any("error", err))
		writeJSONError(w, fmt.Sprintf("cycle failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Status string           `json:"status"`
		Result scheduler.Result `json:"result"`
	}{"success", res})
}

func (s *Server) handleInitialise(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := s.dispatcher.Initialise(ctx)
	if errors.Is(err, scheduler.ErrCycleRunning) {
		writeJSONError(w, "a cycle is already running", http.StatusConflict)
		return
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "initialise failed", slog.Any("error", err))
		writeJSONError(w, fmt.Sprintf("initialise failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "success"})
}

// parseRange reads the optional start and end RFC3339 query params.
func parseRange(r *http.Request, defStart, defEnd time.Time) (time.Time, time.Time, error) {
	start, end := defStart, defEnd
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
		end = t
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end must be after start")
	}
	return start, end, nil
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()
	start, end, err := parseRange(r, now.Add(-12*time.Hour), now.Add(24*time.Hour))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	slots, err := s.storage.GetSlots(ctx, s.schedule.TariffCombination, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get slots", slog.Any("error", err))
		writeJSONError(w, "failed to get slots", http.StatusInternalServerError)
		return
	}
	writeJSON(w, slots)
}

func (s *Server) handleSettingHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()
	start, end, err := parseRange(r, now.Add(-24*time.Hour), now)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	dev := r.URL.Query().Get("device")
	if dev == "" {
		dev = s.device.Name()
	}
	records, err := s.storage.SettingHistory(ctx, dev, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get setting history", slog.Any("error", err))
		writeJSONError(w, "failed to get setting history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

// handleProjection runs the YAML projection config in the body and stores
// the result.
func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProjectionBytes))
	if err != nil {
		writeJSONError(w, "failed to read body", http.StatusBadRequest)
		return
	}
	cfg, err := component.Parse(raw)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx = log.WithAttrs(ctx, slog.String("projection", cfg.Name))

	p, err := simulation.Project(ctx, cfg, s.now())
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "projection failed", slog.Any("error", err))
		writeJSONError(w, fmt.Sprintf("projection failed: %v", err), http.StatusUnprocessableEntity)
		return
	}
	if err := s.storage.InsertProjection(ctx, p); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to store projection", slog.Any("error", err))
		writeJSONError(w, "failed to store projection", http.StatusInternalServerError)
		return
	}
	writeJSON(w, p)
}
