package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vincentbai/heatmap-agent/internal/analytics"
	"github.com/vincentbai/heatmap-agent/internal/funnel"
	"github.com/vincentbai/heatmap-agent/internal/heatmap"
	"github.com/vincentbai/heatmap-agent/internal/models"
)

const maxBatchBytes = 1 << 20

func (s *Server) handleEvents(w http.ResponseWriter, request *http.Request) {
	var batch models.Batch
	body := http.MaxBytesReader(w, request.Body, maxBatchBytes)
	if err := json.NewDecoder(body).Decode(&batch); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if len(batch.Events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.analytics.Ingest(request.Context(), batch.Events); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// a storage failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidBeacon):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, funnel.ErrFunnelNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, analytics.ErrClearDeclined):
		http.Error(w, "Clear not confirmed, retry with confirm=true", http.StatusConflict)
	case errors.Is(err, analytics.ErrNoOverlay):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, heatmap.ErrCanvasTooLarge):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, analytics.ErrNotInitialized), errors.Is(err, analytics.ErrNoDocument):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

type statsResponse struct {
	SessionID    string           `json:"session_id"`
	AnonymousID  string           `json:"anonymous_id"`
	Tracking     bool             `json:"tracking"`
	URL          string           `json:"url"`
	Counts       models.DataCount `json:"counts"`
	StorageBytes int64            `json:"storage_bytes"`
	MaxDepth     int              `json:"max_scroll_depth"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := s.analytics.GetDataCount(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	size, err := s.analytics.StorageSize(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		SessionID:    s.analytics.SessionID(),
		AnonymousID:  s.analytics.AnonymousID(),
		Tracking:     s.analytics.IsTracking(),
		URL:          s.analytics.Page().URL(),
		Counts:       counts,
		StorageBytes: size,
		MaxDepth:     s.analytics.ScrollTracker().MaxDepth(),
	})
}

// handleHeatmap serves /api/heatmaps/{mode} as JSON, or as an image when the
// mode carries a .png suffix.
func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "mode")
	png := strings.HasSuffix(name, ".png")
	mode := models.OverlayMode(strings.TrimSuffix(name, ".png"))
	if !mode.Valid() {
		http.Error(w, "Unknown heatmap mode", http.StatusNotFound)
		return
	}
	overlay, err := s.analytics.Render(r.Context(), mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !png {
		writeJSON(w, http.StatusOK, overlay)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := heatmap.EncodePNG(w, overlay); err != nil {
		s.writeError(w, err)
	}
}

func (s *Server) handleGetOverlay(w http.ResponseWriter, r *http.Request) {
	state, err := s.analytics.OverlayState(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type overlayRequest struct {
	Mode    *models.OverlayMode `json:"mode"`
	Visible *bool               `json:"isVisible"`
}

type overlayResponse struct {
	State   models.OverlayState `json:"state"`
	Overlay *heatmap.Overlay    `json:"overlay,omitempty"`
}

func (s *Server) handlePutOverlay(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if req.Mode != nil && !req.Mode.Valid() {
		http.Error(w, "Unknown overlay mode", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var overlay *heatmap.Overlay
	var err error
	if req.Mode != nil {
		if overlay, err = s.analytics.SetMode(ctx, *req.Mode); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.Visible != nil {
		if overlay, err = s.analytics.SetVisible(ctx, *req.Visible); err != nil {
			s.writeError(w, err)
			return
		}
	}
	state, err := s.analytics.OverlayState(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overlayResponse{State: state, Overlay: overlay})
}

// handleClear resets all data. Without confirm=true nothing is removed and
// the response carries the counts that would have been cleared.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	var pending models.DataCount
	res, err := s.analytics.ClearData(r.Context(), func(c models.DataCount) bool {
		pending = c
		return confirmed
	})
	if errors.Is(err, analytics.ErrClearDeclined) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "clear not confirmed, retry with confirm=true",
			"pending": pending,
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
