package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/key-balancer/internal/balancer"
	"github.com/angeloszaimis/key-balancer/internal/metrics"
)

type statsResponse struct {
	Pool      balancer.Snapshot `json:"pool"`
	Telemetry metrics.Snapshot  `json:"telemetry"`
}

func setupRouter(b *balancer.Balancer) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statsResponse{
			Pool:      b.Stats(),
			Telemetry: b.Collector().Snapshot(),
		})
	})
	mux.HandleFunc("/telemetry", b.Collector().Handler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := b.Stats()
		if stats.Available+stats.Degraded == 0 {
			http.Error(w, "no selectable keys", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}
