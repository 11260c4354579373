package controlplane

import (
	"encoding/json"
	"net/http"
)

// LiveHandler answers GET /health/live: 200 whenever the process can
// respond at all.
func LiveHandler(p *Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !p.Live() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// ReadyHandler answers GET /health/ready: 200 with per-dependency detail
// when every required dependency is healthy, 503 otherwise.
func ReadyHandler(p *Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready, checks := p.Ready()
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ready":        ready,
			"dependencies": checks,
		})
	}
}
