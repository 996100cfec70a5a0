package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"solana-holder-lottery/internal/orchestrator"
)

const healthTimeout = 3 * time.Second

// handleTrigger runs the current cycle. Skips are 200 with success=false;
// failures are 500.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	res, err := s.dist.Trigger(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, newDistributionResponse(res))
		return
	}

	if orchestrator.IsBenign(err) {
		writeJSON(w, http.StatusOK, SkippedResponse{
			Error:                err.Error(),
			ExistingDistribution: res.Existing,
			Winners:              orEmpty(res.Recent),
			TimeInfo:             newTimeInfo(res.Cycle, res.TokenMintEmpty),
		})
		return
	}

	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away; the run continues in the background
		s.log.Info("trigger caller disconnected", "cycle", res.Cycle.ID)
		return
	}

	s.log.Error("trigger failed", "cycle", res.Cycle.ID, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:    err.Error(),
		Winner:   res.Outcome,
		TimeInfo: newTimeInfo(s.clock.Current(), false),
	})
}

// handleStatus returns recent winners and cycle timing. It never claims or transfers.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.dist.Status(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, StatusResponse{
			Success:  true,
			Winners:  orEmpty(res.Recent),
			TimeInfo: newTimeInfo(res.Cycle, false),
		})
	case errors.Is(err, orchestrator.ErrTokenMintNotConfigured):
		writeJSON(w, http.StatusOK, StatusResponse{
			Error:    err.Error(),
			Winners:  orEmpty(nil),
			TimeInfo: newTimeInfo(res.Cycle, true),
		})
	default:
		s.log.Error("status failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:    err.Error(),
			TimeInfo: newTimeInfo(s.clock.Current(), false),
		})
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	code := http.StatusOK

	for name, check := range s.checks {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(s.checks))
		}
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
