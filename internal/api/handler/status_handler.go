package handler

import (
	"net/http"

	"github.com/notifyhub/activity-relay/internal/queue"
	"github.com/notifyhub/activity-relay/internal/ratelimiter"
)

// Pipeline is the read side of the dispatch pipeline plus the operator reset.
type Pipeline interface {
	QueueStats() queue.Stats
	LimiterStats() ratelimiter.Stats
	LedgerSize() int
	ResetLimiter()
}

// StatusHandler exposes a JSON snapshot of the pipeline for operators.
type StatusHandler struct {
	pipeline Pipeline
}

func NewStatusHandler(p Pipeline) *StatusHandler {
	return &StatusHandler{pipeline: p}
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Queue      queue.Stats       `json:"queue"`
	Limiter    ratelimiter.Stats `json:"limiter"`
	LedgerSize int               `json:"ledger_size"`
}

// GetStatus handles GET /api/v1/status. It has no side effects.
//
// @Summary  Pipeline snapshot: delay queue, rate windows, dedup ledger
// @Tags     pipeline
// @Produce  json
// @Success  200  {object}  StatusResponse
// @Router   /api/v1/status [get]
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatusResponse{
		Queue:      h.pipeline.QueueStats(),
		Limiter:    h.pipeline.LimiterStats(),
		LedgerSize: h.pipeline.LedgerSize(),
	})
}

// ResetLimiter handles POST /api/v1/limiter/reset.
//
// @Summary  Clear every rate window and reject waiting calls
// @Tags     pipeline
// @Produce  json
// @Success  200  {object}  ratelimiter.Stats
// @Router   /api/v1/limiter/reset [post]
func (h *StatusHandler) ResetLimiter(w http.ResponseWriter, r *http.Request) {
	h.pipeline.ResetLimiter()
	respondJSON(w, http.StatusOK, h.pipeline.LimiterStats())
}
