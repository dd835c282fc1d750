package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"curator/internal/dbclient"
	"curator/internal/etl"
	"curator/internal/service"
	"curator/internal/storage"
)

// maxBodyBytes bounds uploaded documents.
const maxBodyBytes = 256 << 20

// Handler serves the curator HTTP API.
type Handler struct {
	datasets *service.DatasetService
	jobs     *service.JobService
	database *service.DatabaseService
	now      func() time.Time
}

// NewHandler creates the API handler. jobs and database may be nil, in which
// case their routes are not registered.
func NewHandler(datasets *service.DatasetService, jobs *service.JobService, database *service.DatabaseService) *Handler {
	return &Handler{
		datasets: datasets,
		jobs:     jobs,
		database: database,
		now:      time.Now,
	}
}

// Routes returns the API mux wrapped in CORS.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/data", h.listData)
	mux.HandleFunc("GET /api/keys", h.keys)
	mux.HandleFunc("POST /api/ingest", h.ingest)
	mux.HandleFunc("GET /api/transforms", h.listTransforms)
	mux.HandleFunc("GET /api/transforms/runs", h.transformRuns)
	mux.HandleFunc("GET /api/transforms/steps", h.listStepTypes)
	mux.HandleFunc("POST /api/transform", h.transform)
	mux.HandleFunc("POST /api/export", h.export)

	if h.jobs != nil {
		mux.HandleFunc("GET /api/sources", h.listSources)
		mux.HandleFunc("POST /api/sources/preview", h.previewSource)
		mux.HandleFunc("GET /api/jobs", h.listJobs)
		mux.HandleFunc("POST /api/jobs", h.createJob)
		mux.HandleFunc("GET /api/jobs/{id}", h.getJob)
		mux.HandleFunc("PUT /api/jobs/{id}", h.updateJob)
		mux.HandleFunc("DELETE /api/jobs/{id}", h.deleteJob)
		mux.HandleFunc("POST /api/jobs/{id}/run", h.runJob)
		mux.HandleFunc("GET /api/jobs/{id}/runs", h.listRuns)
	}

	if h.database != nil {
		mux.HandleFunc("GET /api/connections", h.listConnections)
		mux.HandleFunc("POST /api/connections", h.createConnection)
		mux.HandleFunc("PUT /api/connections/{id}", h.updateConnection)
		mux.HandleFunc("DELETE /api/connections/{id}", h.deleteConnection)
		mux.HandleFunc("POST /api/connections/{id}/test", h.testConnection)
		mux.HandleFunc("GET /api/connections/{id}/schema", h.introspect)
		mux.HandleFunc("POST /api/connections/{id}/query", h.query)
	}

	return CORS(mux)
}

// ── Responses ──────────────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		log.Printf("api: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeBadRequest(w http.ResponseWriter, kind, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: kind})
}

// classify maps an error to its status code and machine-readable kind.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "too_large"
	case errors.Is(err, etl.ErrInvalidJSON):
		return http.StatusBadRequest, "invalid_json"
	case errors.Is(err, etl.ErrNoArrayFound):
		return http.StatusBadRequest, "no_array_found"
	case errors.Is(err, etl.ErrUnknownTransform):
		return http.StatusBadRequest, "unknown_transform"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, dbclient.ErrWriteQuery):
		return http.StatusBadRequest, "write_query"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrJobRunning):
		return http.StatusConflict, "job_running"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v as is.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, err)
			return false
		}
		writeBadRequest(w, "invalid_json", "invalid request body: "+err.Error())
		return false
	}
	return true
}
