package api

import (
	"net/http"

	"curator/internal/etl"
	"curator/internal/service"
)

// ── Sources & Jobs ─────────────────────────────────────────

func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobs.ListSources())
}

type previewRequest struct {
	SourceType   string           `json:"sourceType"`
	SourceConfig etl.SourceConfig `json:"sourceConfig"`
}

func (h *Handler) previewSource(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SourceType == "" {
		writeBadRequest(w, "invalid_input", "sourceType is required")
		return
	}
	if req.SourceConfig == nil {
		req.SourceConfig = etl.SourceConfig{}
	}
	preview, err := h.jobs.PreviewSource(r.Context(), req.SourceType, req.SourceConfig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs()
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []etl.IngestJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var in service.CreateJobInput
	if !decodeBody(w, r, &in) {
		return
	}
	job, err := h.jobs.CreateJob(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.GetJob(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) updateJob(w http.ResponseWriter, r *http.Request) {
	var in service.CreateJobInput
	if !decodeBody(w, r, &in) {
		return
	}
	job, err := h.jobs.UpdateJob(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.DeleteJob(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runJob runs a job synchronously. A run that fails inside the pipeline is
// still reported with 200; its status and error are part of the result.
func (h *Handler) runJob(w http.ResponseWriter, r *http.Request) {
	result, err := h.jobs.RunJob(r.Context(), r.PathValue("id"))
	if err != nil && result == nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	logs, err := h.jobs.ListRunLogs(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []etl.RunLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}
