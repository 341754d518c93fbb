package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// EventsHandler serves GET /sessions/{id}/events?after_seq=&limit= from the
// gateway's journal, behind the same access key as /ws.
func (g *Gateway) EventsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.authorized(r) {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		id := strings.TrimSpace(r.PathValue("id"))
		if !ValidSessionID(id) {
			writeJSONError(w, http.StatusBadRequest, "invalid session id")
			return
		}

		q := r.URL.Query()
		var in ListInput
		in.SessionID = id
		if v := q.Get("after_seq"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid after_seq")
				return
			}
			in.AfterSeq = n
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			in.Limit = n
		}

		res, err := g.journal.List(r.Context(), in)
		if err != nil {
			g.log.Error("relay.events.fail", "session_id", id, "err", err)
			writeJSONError(w, http.StatusInternalServerError, "journal unavailable")
			return
		}
		writeJSON(w, http.StatusOK, struct {
			SessionID string `json:"session_id"`
			ListResult
		}{id, res}, g.log)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("relay.events.encode", "err", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
