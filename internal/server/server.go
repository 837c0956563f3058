// Package server exposes the pipeline to a desktop front-end over a local
// HTTP polling API. The core stays UI-agnostic: this layer only relays
// snapshots and batch commands.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/internal/pipeline"
	"github.com/genusglobalinc/leadbot/pkg/models"
)

// Pipeline is what the HTTP layer needs from the dispatcher.
type Pipeline interface {
	Submit(targets []models.Target) (string, error)
	CancelBatch() bool
	Status() pipeline.Status
	Snapshot() []models.LeadRecord
}

type Server struct {
	pipe Pipeline
}

func New(pipe Pipeline) *Server {
	return &Server{pipe: pipe}
}

// Router builds the chi mux for the UI polling API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/batch", s.handleSubmit)
		r.Post("/cancel", s.handleCancel)
		r.Get("/status", s.handleStatus)
		r.Get("/leads", s.handleLeads)
	})
	return r
}

type submitRequest struct {
	Targets []struct {
		URL  string            `json:"url"`
		Name string            `json:"name,omitempty"`
		Seed map[string]string `json:"seed,omitempty"`
	} `json:"targets"`
}

type submitResponse struct {
	BatchID string `json:"batch_id"`
	Count   int    `json:"count"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, http.StatusBadRequest, "no targets")
		return
	}

	ts := make([]models.Target, 0, len(req.Targets))
	for _, t := range req.Targets {
		if t.URL == "" {
			writeError(w, http.StatusBadRequest, "target missing url")
			return
		}
		ts = append(ts, models.Target{URL: t.URL, Name: t.Name, Seed: t.Seed})
	}

	id, err := s.pipe.Submit(ts)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	zap.L().Info("server: batch submitted",
		zap.String("batch_id", id),
		zap.Int("targets", len(ts)),
	)
	writeJSON(w, http.StatusAccepted, submitResponse{BatchID: id, Count: len(ts)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !s.pipe.CancelBatch() {
		writeError(w, http.StatusConflict, "no batch running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipe.Status())
}

// leadView is the wire shape of one record for the UI.
type leadView struct {
	URL        string                   `json:"url"`
	Name       string                   `json:"name,omitempty"`
	State      string                   `json:"state"`
	Reason     string                   `json:"reason,omitempty"`
	Retries    int                      `json:"retries"`
	Extraction *models.RawExtraction    `json:"extraction,omitempty"`
	Enrichment *models.EnrichmentResult `json:"enrichment,omitempty"`
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	records := s.pipe.Snapshot()
	out := make([]leadView, 0, len(records))
	for _, rec := range records {
		out = append(out, leadView{
			URL:        rec.Key,
			Name:       rec.Target.Name,
			State:      string(rec.State),
			Reason:     string(rec.Reason),
			Retries:    rec.Retries,
			Extraction: rec.Extraction,
			Enrichment: rec.Enrichment,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
