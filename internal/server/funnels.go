package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vincentbai/heatmap-agent/internal/models"
)

func (s *Server) handleListFunnels(w http.ResponseWriter, r *http.Request) {
	funnels, err := s.analytics.Funnels().AllFunnels(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, funnels)
}

func (s *Server) handleGetFunnel(w http.ResponseWriter, r *http.Request) {
	f, err := s.analytics.Funnels().GetFunnelByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// handleSaveFunnel creates a funnel when the body has no id and otherwise
// replaces the funnel with that id, appending it if unknown.
func (s *Server) handleSaveFunnel(w http.ResponseWriter, r *http.Request) {
	var f models.Funnel
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if f.Name == "" || len(f.Steps) == 0 {
		http.Error(w, "Funnel needs a name and at least one step", http.StatusBadRequest)
		return
	}
	for _, step := range f.Steps {
		if step.PageURL == "" {
			http.Error(w, "Every step needs a page_url", http.StatusBadRequest)
			return
		}
	}

	manager := s.analytics.Funnels()
	status := http.StatusOK
	if f.ID == "" {
		f = manager.CreateFunnel(f.Name, f.Description, f.Steps)
		status = http.StatusCreated
	}
	if err := manager.SaveFunnel(r.Context(), f); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, status, f)
}

func (s *Server) handleDeleteFunnel(w http.ResponseWriter, r *http.Request) {
	if err := s.analytics.Funnels().DeleteFunnel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAllFunnelStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analytics.CalculateAllFunnelStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleFunnelStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analytics.CalculateFunnelStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if stats == nil {
		http.Error(w, "No data for funnel", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBottleneck(w http.ResponseWriter, r *http.Request) {
	step, err := s.analytics.FindBottleneckStep(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if step == nil {
		http.Error(w, "No data for funnel", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, step)
}

func (s *Server) handleFunnelEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.analytics.FunnelEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
