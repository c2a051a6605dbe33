package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/api/handler"
	apimw "github.com/notifyhub/activity-relay/internal/api/middleware"
)

// Pipeline is everything the HTTP surface needs from the activity pipeline.
type Pipeline interface {
	handler.EventHandler
	handler.Pipeline
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	pipeline Pipeline,
	members handler.MemberRegistry,
	verifyToken string,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID(logger))
	r.Use(apimw.RequestLogger(logger, "/health", "/metrics"))

	wh := handler.NewWebhookHandler(pipeline, verifyToken, logger)
	sh := handler.NewStatusHandler(pipeline)
	mh := handler.NewMemberHandler(members, logger)
	hh := handler.NewHealthHandler()

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Get("/webhook", wh.Verify)
	r.Post("/webhook", wh.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", sh.GetStatus)
		r.Post("/limiter/reset", sh.ResetLimiter)

		r.Post("/members", mh.Register)
		r.Get("/members", mh.List)
		r.Delete("/members/{athleteID}", mh.Deactivate)
	})

	return r
}
