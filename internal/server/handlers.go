package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// healthResponse is the body of GET /health. It stays unwrapped so load
// balancers can read it directly.
type healthResponse struct {
	Status  string   `json:"status"`
	Version string   `json:"version"`
	Uptime  string   `json:"uptime"`
	Failing []string `json:"failing,omitempty"`
}

// handleHealth answers 200 while every store can be reached and 503 naming
// the ones that cannot. Upstream and host state belong to /api/system/status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.system.startupTime).Truncate(time.Second).String(),
	}
	for _, name := range s.system.databaseNames() {
		if err := s.system.databases[name].QuickCheck(ctx); err != nil {
			s.log.Warn().Err(err).Str("database", name).Msg("Health check cannot reach database")
			resp.Failing = append(resp.Failing, name)
		}
	}

	status := http.StatusOK
	if len(resp.Failing) > 0 {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp, s.log)
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string, log zerolog.Logger) {
	writeJSON(w, status, map[string]string{"error": message}, log)
}
