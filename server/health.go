package server

import (
	"net/http"

	"github.com/teranos/recap/version"
)

// HandleHealth reports liveness, configured providers, active jobs and host memory
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	info := version.Get()
	health := map[string]interface{}{
		"status":     "ok",
		"version":    info.Version,
		"commit":     info.Short(),
		"build_time": info.BuildTime,
		"providers":  s.availableProviders(),
	}
	if s.manager != nil {
		health["jobs_active"] = s.manager.ActiveCount()
		health["system"] = s.manager.SystemMetrics()
	}

	writeJSON(w, http.StatusOK, health)
}
