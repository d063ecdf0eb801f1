package api

import (
	"encoding/json"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusResponse struct {
	State          string `json:"state"`
	ScheduleLen    int    `json:"schedule_len"`
	Watermark      int    `json:"watermark"`
	OpenIssues     int    `json:"open_issues"`
	ResolvedIssues int    `json:"resolved_issues"`
	LastScanAt     string `json:"last_scan_at,omitempty"`
}

// handleStatus reports the daemon's current scan state and issue
// counts, per spec.md §5.3.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scn := s.sup.Scanner()
	trk := s.sup.Tracker()
	if scn == nil || trk == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not started")
		return
	}

	open, resolved, _ := trk.Stats()
	resp := statusResponse{
		State:          string(scn.State()),
		ScheduleLen:    scn.ScheduleLen(),
		Watermark:      scn.Watermark(),
		OpenIssues:     open,
		ResolvedIssues: resolved,
	}
	if last := scn.LastScanAt(); !last.IsZero() {
		resp.LastScanAt = last.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealthz returns 200 once startup validation has completed
// and the Watcher/Scanner goroutines are running, 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.sup.Ready() {
		writeError(w, http.StatusServiceUnavailable, "starting up")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
