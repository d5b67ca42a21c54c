package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/licitaciones/platform/pkg/store"
)

// TenderReader is the read side of the canonical store.
type TenderReader interface {
	Get(ctx context.Context, identityHash string) (*models.Tender, error)
	List(ctx context.Context, f store.Filter) ([]*models.Tender, error)
	CountBySource(ctx context.Context) (map[string]int64, error)
}

type HTTPHandler struct {
	service *Service
	tenders TenderReader
	// background runs outlive the request that started them
	baseCtx context.Context
	maxBody int64
}

func NewHTTPHandler(baseCtx context.Context, service *Service, tenders TenderReader, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, tenders: tenders, baseCtx: baseCtx, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/eligible", h.handleEligible).Methods(http.MethodGet)
	api.HandleFunc("/runs", h.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/runs/incremental", h.handleIncremental).Methods(http.MethodPost)
	api.HandleFunc("/runs/historical", h.handleHistorical).Methods(http.MethodPost)
	api.HandleFunc("/runs/batch", h.handleBatch).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", h.handleRun).Methods(http.MethodGet)
	if h.tenders != nil {
		api.HandleFunc("/tenders", h.handleTenders).Methods(http.MethodGet)
		api.HandleFunc("/tenders/summary", h.handleSummary).Methods(http.MethodGet)
		api.HandleFunc("/tenders/{hash}", h.handleTender).Methods(http.MethodGet)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownSource), errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrSourceDisabled):
		http.Error(w, err.Error(), http.StatusConflict)
	case IsValidationError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Log.WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request) (RunRequest, bool) {
	var req RunRequest
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Log.WithError(err).Warn("invalid run request")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// dispatch runs jobs inline when ?wait=true, otherwise in the background.
func (h *HTTPHandler) dispatch(w http.ResponseWriter, r *http.Request, jobs []models.Job) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"results": h.service.Run(r.Context(), jobs, TriggerManual),
		})
		return
	}
	go h.service.Run(h.baseCtx, jobs, TriggerManual)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted": jobs,
	})
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *HTTPHandler) handleEligible(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.Eligible(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *HTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.service.History(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *HTTPHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.RunByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) handleIncremental(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	jobs, err := h.service.IncrementalJobs(req.Source)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.dispatch(w, r, jobs)
}

func (h *HTTPHandler) handleHistorical(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	job, err := h.service.HistoricalJob(req.Source, req.Since)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.dispatch(w, r, []models.Job{job})
}

func (h *HTTPHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	jobs, err := h.service.BatchJobs(req.Profile)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.dispatch(w, r, jobs)
}

func (h *HTTPHandler) handleTenders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		Fuente: q.Get("fuente"),
		Estado: models.Estado(q.Get("estado")),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "since must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		f.Since = &since
	}
	tenders, err := h.tenders.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tenders)
}

func (h *HTTPHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.tenders.CountBySource(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *HTTPHandler) handleTender(w http.ResponseWriter, r *http.Request) {
	t, err := h.tenders.Get(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
