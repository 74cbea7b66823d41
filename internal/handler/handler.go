// Package handler serves stored batch results over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/acegrader/internal/i18n"
	"github.com/pavelanni/acegrader/internal/model"
	"github.com/pavelanni/acegrader/internal/report"
	"github.com/pavelanni/acegrader/internal/store"
)

// Store is the read side of the result database.
type Store interface {
	ListBatches() ([]model.BatchRecord, error)
	GetBatch(batchID string) (model.BatchRecord, model.BatchReport, error)
	GetStudent(batchID, studentID string) ([]model.StudentDetail, error)
	ExportBatch(batchID string) (model.BatchExport, error)
	FailedArtifactCount(batchID string) (int, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store      Store
	renderer   report.Renderer
	translator *i18n.Translator
	metrics    http.Handler
}

// New creates a new Handler. translator and metrics may be nil; the text
// document route and /metrics are then not registered.
func New(s Store, r report.Renderer, tr *i18n.Translator, metrics http.Handler) *Handler {
	return &Handler{store: s, renderer: r, translator: tr, metrics: metrics}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	r.Get("/batches", h.handleListBatches)
	r.Get("/batches/{batchID}", h.handleBatch)
	r.Get("/batches/{batchID}/export", h.handleExport)
	r.Get("/batches/{batchID}/report.csv", h.handleCSV)
	r.Get("/batches/{batchID}/students/{studentID}", h.handleStudent)
	if h.renderer != nil && h.translator != nil {
		r.With(h.translator.Middleware).Get("/batches/{batchID}/students/{studentID}/document", h.handleDocument)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.store.ListBatches()
	if err != nil {
		writeError(w, err)
		return
	}
	if batches == nil {
		batches = []model.BatchRecord{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	rec, rep, err := h.store.GetBatch(batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	failed, err := h.store.FailedArtifactCount(batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Batch           model.BatchRecord `json:"batch"`
		Report          model.BatchReport `json:"report"`
		FailedArtifacts int               `json:"failed_artifacts"`
	}{rec, rep, failed})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	exp, err := h.store.ExportBatch(batchID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+batchID+`.json"`)
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	_, rep, err := h.store.GetBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if err := report.WriteCSV(w, rep.StudentReports); err != nil {
		slog.Error("write csv", "batch", rep.BatchID, "error", err)
	}
}

func (h *Handler) handleStudent(w http.ResponseWriter, r *http.Request) {
	details, err := h.store.GetStudent(chi.URLParam(r, "batchID"), chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// handleDocument renders the student's reports as localized text. Stored
// reports carry no narrative, so the document goes without one.
func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	details, err := h.store.GetStudent(chi.URLParam(r, "batchID"), chi.URLParam(r, "studentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for i, d := range details {
		doc, err := h.renderer.Render(r.Context(), d.Report, "")
		if err != nil {
			slog.Error("render error", "submission", d.Report.SubmissionID, "error", err)
			if i == 0 {
				http.Error(w, "render failed", http.StatusInternalServerError)
			}
			return
		}
		if i > 0 {
			w.Write([]byte("\n"))
		}
		w.Write(doc)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
	} else {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
