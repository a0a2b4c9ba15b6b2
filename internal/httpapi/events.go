package httpapi

import (
	"net/http"
	"strconv"
)

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	limit := parseIntQuery(r, "limit", 0)
	if since := r.URL.Query().Get("since"); since != "" {
		sinceSeq, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			writeBadRequest(w, "since must be a numeric sequence cursor")
			return
		}
		events, err := h.app.Events.Since(r.Context(), projectID, sinceSeq, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}
	events, err := h.app.Events.Recent(r.Context(), projectID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
