package handlers

import (
	"net/http"
	"time"
)

// HandleHealth reports liveness and the community count. Metrics are
// included when enabled.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := s.Engine.CountCommunities(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}

		body := map[string]interface{}{
			"status":          "healthy",
			"community_count": count,
			"server_time":     time.Now().UTC(),
		}
		if s.MetricsEnabled {
			processed, err := s.Engine.ProcessedCommands(r.Context())
			if err != nil {
				s.fail(w, r, err)
				return
			}
			body["processed_commands"] = processed
			body["metrics"] = s.Metrics.Snapshot()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// HandleRecordActivity lets the post service report a new post in a
// community so trending can count it.
func (s *Server) HandleRecordActivity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := principal(r); err != nil {
			s.fail(w, r, err)
			return
		}
		id, err := pathUUID(r, "id")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := s.Engine.RecordPost(r.Context(), id); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
	}
}
