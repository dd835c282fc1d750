package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cast"

	"curator/internal/etl"
	"curator/internal/service"
)

// ── Dataset ────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "curator is running",
	})
}

func (h *Handler) listData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := service.DefaultListLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid_input", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.datasets.List(limit, q.Get("status")))
}

func (h *Handler) keys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.datasets.Keys())
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.datasets.Ingest(r.Context(), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) listTransforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, etl.ListTransforms())
}

// listStepTypes lists the parameterized steps an ingest job can carry.
func (h *Handler) listStepTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, etl.ListStepTypes())
}

func (h *Handler) transformRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := cast.ToIntE(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "invalid_input", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	runs, err := h.datasets.TransformHistory(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type transformRequest struct {
	TransformationType string          `json:"transformation_type"`
	Selection          json.RawMessage `json:"selection"`
	Data               json.RawMessage `json:"data"`
}

type transformResponse struct {
	Data    []etl.Record `json:"data"`
	Count   int          `json:"count"`
	Applied int          `json:"applied"`
	Failed  int          `json:"failed"`
}

// transform applies a transformation. With data the batch is transformed
// and returned without touching the session; otherwise the selected session
// records are transformed and merged back.
func (h *Handler) transform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TransformationType == "" {
		writeBadRequest(w, "invalid_input", "transformation_type is required")
		return
	}

	if isPresent(req.Data) {
		records, err := batchRecords(req.Data)
		if err != nil {
			writeError(w, err)
			return
		}
		out, err := h.datasets.TransformBatch(r.Context(), records, req.TransformationType)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, transformResponse{
			Data:    out.Records,
			Count:   len(out.Records),
			Applied: out.Applied,
			Failed:  out.Failed,
		})
		return
	}

	sel, err := parseSelection(req.Selection)
	if err != nil {
		writeBadRequest(w, "invalid_input", err.Error())
		return
	}
	out, err := h.datasets.Transform(r.Context(), sel, req.TransformationType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transformResponse{
		Data:    out.Records,
		Count:   len(out.Records),
		Applied: out.Applied,
		Failed:  out.Failed,
	})
}

type exportRequest struct {
	Selection json.RawMessage `json:"selection"`
}

type exportResponse struct {
	FileContent string `json:"file_content"`
	Filename    string `json:"filename"`
}

// export renders the selection as a JSON file. With ?download=1 the file is
// sent as an attachment instead of being wrapped in a JSON envelope.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sel, err := parseSelection(req.Selection)
	if err != nil {
		writeBadRequest(w, "invalid_input", err.Error())
		return
	}

	content, name, err := h.datasets.ExportFile(sel, h.now())
	if err != nil {
		writeError(w, err)
		return
	}

	if download, _ := cast.ToBoolE(r.URL.Query().Get("download")); download {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		_, _ = w.Write(content)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{FileContent: string(content), Filename: name})
}

// ── Request helpers ────────────────────────────────────────

func isPresent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

// parseSelection reads a JSON array of ids. Absent or null means everything.
func parseSelection(raw json.RawMessage) (etl.Selection, error) {
	if !isPresent(raw) {
		return etl.Selection{}, nil
	}
	v, err := etl.Parse(raw)
	if err != nil {
		return etl.Selection{}, err
	}
	if v.Kind() != etl.KindArray {
		return etl.Selection{}, fmt.Errorf("selection must be an array of record ids")
	}
	return etl.SelectionFromValues(v.Items())
}

// batchRecords normalizes caller-supplied records the same way an ingest
// does, so items without an id get one.
func batchRecords(raw json.RawMessage) ([]etl.Record, error) {
	v, err := etl.Parse(raw)
	if err != nil {
		return nil, err
	}
	if v.Kind() == etl.KindArray && v.Len() == 0 {
		return []etl.Record{}, nil
	}
	ds, err := etl.IngestValue(v)
	if err != nil {
		return nil, err
	}
	return ds.Records, nil
}
