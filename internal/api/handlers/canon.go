package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/Harshitk-cp/canonkeeper/internal/service"
	"github.com/go-chi/chi/v5"
)

type CanonHandler struct {
	facts    *service.CanonService
	detector *service.ContradictionDetector
	retcons  *service.RetconService
	exporter *service.ExportService
}

func NewCanonHandler(facts *service.CanonService, detector *service.ContradictionDetector, retcons *service.RetconService, exporter *service.ExportService) *CanonHandler {
	return &CanonHandler{facts: facts, detector: detector, retcons: retcons, exporter: exporter}
}

type addFactRequest struct {
	Content       string         `json:"content"`
	Category      string         `json:"category"`
	EstablishedIn string         `json:"established_in,omitempty"`
	Version       string         `json:"version,omitempty"`
	Supersedes    string         `json:"supersedes,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	// CheckFirst runs a contradiction check before committing and returns
	// its result alongside the new entry.
	CheckFirst bool `json:"check_first,omitempty"`
}

type addFactResponse struct {
	*domain.CanonEntry
	Contradiction *domain.ContradictionResult `json:"contradiction,omitempty"`
}

func (h *CanonHandler) AddFact(w http.ResponseWriter, r *http.Request) {
	var req addFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var check *domain.ContradictionResult
	if req.CheckFirst {
		res, err := h.detector.Check(r.Context(), req.Content, req.Category, service.CheckOpts{Version: req.Version})
		if err != nil {
			writeServiceError(w, err, "failed to check contradictions")
			return
		}
		check = res
	}

	entry, err := h.facts.Add(r.Context(), service.AddFactInput{
		Content:       req.Content,
		Category:      req.Category,
		EstablishedIn: req.EstablishedIn,
		Version:       req.Version,
		Supersedes:    req.Supersedes,
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeServiceError(w, err, "failed to add fact")
		return
	}

	writeJSON(w, http.StatusCreated, addFactResponse{CanonEntry: entry, Contradiction: check})
}

func (h *CanonHandler) GetFact(w http.ResponseWriter, r *http.Request) {
	entry, err := h.facts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "failed to get fact")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *CanonHandler) ListFacts(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if category == "" {
		writeError(w, http.StatusBadRequest, "category query parameter is required")
		return
	}

	entries, err := h.facts.ListByCategory(r.Context(), category, r.URL.Query().Get("version"))
	if err != nil {
		writeServiceError(w, err, "failed to list facts")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *CanonHandler) Current(w http.ResponseWriter, r *http.Request) {
	entry, err := h.retcons.Current(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "failed to resolve current fact")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *CanonHandler) Successors(w http.ResponseWriter, r *http.Request) {
	entries, err := h.retcons.SupersededBy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "failed to list successors")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type retconRequest struct {
	Content       string `json:"content"`
	EstablishedIn string `json:"established_in,omitempty"`
}

func (h *CanonHandler) Retcon(w http.ResponseWriter, r *http.Request) {
	var req retconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry, err := h.retcons.Retcon(r.Context(), chi.URLParam(r, "id"), req.Content, req.EstablishedIn)
	if err != nil {
		writeServiceError(w, err, "failed to retcon fact")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type checkRequest struct {
	Content   string   `json:"content"`
	Category  string   `json:"category"`
	Threshold *float64 `json:"similarity_threshold,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Version   string   `json:"version,omitempty"`
}

func (h *CanonHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		writeError(w, http.StatusBadRequest, "similarity_threshold must be between 0 and 1")
		return
	}

	res, err := h.detector.Check(r.Context(), req.Content, req.Category, service.CheckOpts{
		Threshold: req.Threshold,
		Limit:     req.Limit,
		Version:   req.Version,
	})
	if err != nil {
		writeServiceError(w, err, "failed to check contradictions")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *CanonHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}

	limit := service.DefaultSearchLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.facts.Search(r.Context(), q, r.URL.Query().Get("category"), limit)
	if err != nil {
		writeServiceError(w, err, "failed to search facts")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *CanonHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = service.FormatJSON
	}

	var buf bytes.Buffer
	if err := h.exporter.WriteSnapshot(r.Context(), &buf, r.URL.Query().Get("version"), format); err != nil {
		writeServiceError(w, err, "failed to export canon")
		return
	}

	contentType := "application/json"
	if format == service.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Stats counts every version unless ?version= narrows it.
func (h *CanonHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("version"); v != "" {
		writeJSON(w, http.StatusOK, h.exporter.StatsForVersion(r.Context(), v))
		return
	}
	writeJSON(w, http.StatusOK, h.exporter.Stats(r.Context()))
}
