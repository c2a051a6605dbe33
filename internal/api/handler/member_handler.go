package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/api/middleware"
	"github.com/notifyhub/activity-relay/internal/domain"
)

// MemberRegistry is the member management surface the handlers need.
type MemberRegistry interface {
	Register(ctx context.Context, req domain.RegisterMemberRequest) (*domain.Member, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.Member, error)
	Deauthorize(ctx context.Context, ownerID string) error
}

type MemberHandler struct {
	members MemberRegistry
	logger  *zap.Logger
}

func NewMemberHandler(members MemberRegistry, logger *zap.Logger) *MemberHandler {
	return &MemberHandler{members: members, logger: logger}
}

// Register handles POST /api/v1/members
//
// @Summary  Register or re-authorize a member
// @Tags     members
// @Accept   json
// @Produce  json
// @Param    body  body      domain.RegisterMemberRequest  true  "Member and upstream credentials"
// @Success  201   {object}  domain.Member
// @Failure  400   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/members [post]
func (h *MemberHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, err := h.members.Register(r.Context(), req)
	if err != nil {
		middleware.Logger(r.Context(), h.logger).Warn("member registration failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

// List handles GET /api/v1/members?active=true
//
// @Summary  List members
// @Tags     members
// @Produce  json
// @Param    active  query     bool  false  "Only active members"
// @Success  200     {object}  map[string]any
// @Router   /api/v1/members [get]
func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	members, err := h.members.List(r.Context(), activeOnly)
	if err != nil {
		mapError(w, err)
		return
	}
	if members == nil {
		members = []*domain.Member{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": members, "total": len(members)})
}

// Deactivate handles DELETE /api/v1/members/{athleteID}
//
// @Summary  Deactivate a member
// @Tags     members
// @Param    athleteID  path  string  true  "Upstream athlete id"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/members/{athleteID} [delete]
func (h *MemberHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.members.Deauthorize(r.Context(), chi.URLParam(r, "athleteID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
