package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// HealthHandler - K8s Liveness Probe
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "kafkascope",
		"runtime": map[string]interface{}{
			"goroutines":      runtime.NumGoroutine(),
			"memory_alloc_mb": float64(getMemStats().Alloc) / 1024 / 1024,
		},
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(health)
}

// ReadyHandler - K8s Readiness Probe, ready once a cluster is connected
func ReadyHandler(clusters Clusters) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		connected := clusters.List()
		if len(connected) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":    "not_ready",
				"reason":    "no_clusters_connected",
				"timestamp": time.Now().UTC(),
			})
			return
		}

		names := make([]string, 0, len(connected))
		for _, c := range connected {
			names = append(names, c.Name)
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ready",
			"clusters":  names,
			"timestamp": time.Now().UTC(),
		})
	}
}

func getMemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}
