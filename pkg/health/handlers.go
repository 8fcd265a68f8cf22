package health

import (
	"encoding/json"
	"net/http"
)

// ReadyHandler serves the readiness report: 200 with every dependency
// healthy, 503 otherwise. The body carries per-dependency status either
// way so operators can see which probe failed.
func ReadyHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := registry.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if !report.Ready() {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(report)
	}
}

// LiveHandler answers 200 whenever the process is serving requests.
// Liveness deliberately checks nothing external: a dead dependency must
// not make an orchestrator restart a healthy process.
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}
