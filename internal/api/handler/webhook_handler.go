package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/api/middleware"
	"github.com/notifyhub/activity-relay/internal/domain"
)

// EventHandler consumes one decoded webhook event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.WebhookEvent) (domain.Action, error)
}

// WebhookHandler is the upstream push-subscription endpoint.
type WebhookHandler struct {
	events      EventHandler
	verifyToken string
	logger      *zap.Logger
}

func NewWebhookHandler(events EventHandler, verifyToken string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{events: events, verifyToken: verifyToken, logger: logger}
}

// Verify handles GET /webhook, the subscription handshake. The upstream
// sends hub.mode=subscribe, our verify token and a challenge to echo back.
//
// @Summary  Confirm the webhook subscription
// @Tags     webhook
// @Produce  json
// @Param    hub.mode          query     string  true  "Must be subscribe"
// @Param    hub.verify_token  query     string  true  "Shared verify token"
// @Param    hub.challenge     query     string  true  "Value echoed back"
// @Success  200               {object}  map[string]string
// @Failure  403               {object}  map[string]string
// @Router   /webhook [get]
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		middleware.Logger(r.Context(), h.logger).Warn("webhook verification rejected")
		mapError(w, domain.ErrVerifyTokenFail)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"hub.challenge": q.Get("hub.challenge")})
}

// Receive handles POST /webhook.
//
// Well-formed events are always acknowledged with 200, whatever the
// classifier decided, so the upstream does not redeliver them.
//
// @Summary  Receive an activity or athlete event
// @Tags     webhook
// @Accept   json
// @Produce  json
// @Param    body  body      domain.WebhookEvent  true  "Upstream push event"
// @Success  200   {object}  map[string]string    "Classifier action"
// @Failure  400   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Router   /webhook [post]
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var ev domain.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	action, err := h.events.HandleEvent(r.Context(), ev)
	if err != nil {
		mapError(w, err)
		return
	}

	middleware.Logger(r.Context(), h.logger).Debug("webhook event classified",
		zap.String("object_type", string(ev.ObjectType)),
		zap.String("aspect_type", string(ev.AspectType)),
		zap.Int64("object_id", ev.ObjectID),
		zap.String("action", string(action)))
	respondJSON(w, http.StatusOK, map[string]string{"action": string(action)})
}
