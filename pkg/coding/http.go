package coding

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/observability/metrics"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
	publish bool
}

// NewHTTPHandler serves extraction requests. With publish set every result
// is also forwarded downstream.
func NewHTTPHandler(service *Service, maxBody int64, publish bool) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody, publish: publish}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/extract", h.handleExtract).Methods(http.MethodPost)
}

// RegisterOps adds the health and metrics endpoints at the router root.
func (h *HTTPHandler) RegisterOps(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleExtract(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var req models.ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid extraction payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var (
		result *models.ExtractionResult
		err    error
	)
	if h.publish {
		result, err = h.service.Process(r.Context(), req)
	} else {
		result, err = h.service.Extract(r.Context(), req)
	}
	if err != nil && result == nil {
		if IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to extract codes")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// a failed publication does not discard a completed extraction
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"scorer": h.service.ScorerName(),
	})
}
