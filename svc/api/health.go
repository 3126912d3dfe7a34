package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"sealbin/svc/util"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Degraded bool   `json:"degraded"`
	Metadata string `json:"metadata"`
	Payloads string `json:"payloads"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Ready reports per-store health. The service can limp along with one store
// down (reads fail but nothing corrupts), so degraded and not-ready are
// reported separately.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{
		Ready:    true,
		Degraded: false,
		Metadata: "up",
		Payloads: "up",
	}
	metaCtx, metaCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer metaCancel()
	if err := s.meta.Ping(metaCtx); err != nil {
		util.Error().Err(err).Msg("metadata store health check failed")
		resp.Metadata = "down"
		resp.Degraded = true
		resp.Ready = false
	}
	payloadCtx, payloadCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer payloadCancel()
	if s.payloads != nil {
		if err := s.payloads.Ping(payloadCtx); err != nil {
			util.Error().Err(err).Msg("payload store health check failed")
			resp.Payloads = "down"
			resp.Degraded = true
			resp.Ready = false
		}
	} else {
		resp.Payloads = "unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}
