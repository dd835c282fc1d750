package api

import (
	"net/http"

	"curator/internal/domain"
	"curator/internal/service"
)

// ── Database connections ───────────────────────────────────

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := h.database.ListConnections()
	if err != nil {
		writeError(w, err)
		return
	}
	if conns == nil {
		conns = []domain.DatabaseConnection{}
	}
	writeJSON(w, http.StatusOK, conns)
}

func (h *Handler) createConnection(w http.ResponseWriter, r *http.Request) {
	var in service.CreateDBConnInput
	if !decodeBody(w, r, &in) {
		return
	}
	conn, err := h.database.CreateConnection(in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (h *Handler) updateConnection(w http.ResponseWriter, r *http.Request) {
	var in service.CreateDBConnInput
	if !decodeBody(w, r, &in) {
		return
	}
	conn, err := h.database.UpdateConnection(r.PathValue("id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) deleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.database.DeleteConnection(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.database.TestConnection(r.Context(), r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) introspect(w http.ResponseWriter, r *http.Request) {
	schema, err := h.database.Introspect(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

type queryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeBadRequest(w, "invalid_input", "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}
	page, err := h.database.Query(r.Context(), r.PathValue("id"), req.Query, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
