package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/activity-relay/internal/domain"
	"github.com/notifyhub/activity-relay/internal/repository"
)

// TokenRefresher exchanges a refresh token for a new access token.
// No implementation ships with the service; without one, expired
// credentials simply resolve to "no valid credential".
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (access, refresh string, expiresAt time.Time, err error)
}

// MemberService owns member registration and credential lookup.
// The dispatcher depends on it only through GetByOwner and ValidCredential.
type MemberService struct {
	repo      repository.MemberRepository
	refresher TokenRefresher
	margin    time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewMemberService constructs the service. refresher may be nil.
func NewMemberService(
	repo repository.MemberRepository,
	refresher TokenRefresher,
	margin time.Duration,
	logger *zap.Logger,
) *MemberService {
	return &MemberService{repo: repo, refresher: refresher, margin: margin, now: time.Now, logger: logger}
}

// Register validates and persists a new member.
func (s *MemberService) Register(ctx context.Context, req domain.RegisterMemberRequest) (*domain.Member, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m := &domain.Member{
		ID:             uuid.New().String(),
		AthleteID:      req.AthleteID,
		DisplayName:    req.DisplayName,
		AccessToken:    req.AccessToken,
		RefreshToken:   req.RefreshToken,
		TokenExpiresAt: req.TokenExpiresAt,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("persist member: %w", err)
	}

	s.logger.Info("member registered", zap.String("member_id", m.ID), zap.String("athlete_id", m.AthleteID))
	return m, nil
}

// GetByOwner returns the active member for an upstream owner id, or nil
// when the owner never registered or has been deactivated.
func (s *MemberService) GetByOwner(ctx context.Context, ownerID string) (*domain.Member, error) {
	m, err := s.repo.GetByAthleteID(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if !m.Active {
		return nil, nil
	}
	return m, nil
}

// ValidCredential returns an access token usable for at least the expiry
// margin, refreshing it when a refresher is configured. An empty token
// with a nil error means the member has no usable credential.
func (s *MemberService) ValidCredential(ctx context.Context, m *domain.Member) (string, error) {
	now := s.now()
	if m.TokenValidFor(now, s.margin) {
		return m.AccessToken, nil
	}
	if s.refresher == nil || m.RefreshToken == "" {
		return "", nil
	}

	access, refresh, expiresAt, err := s.refresher.Refresh(ctx, m.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if refresh == "" {
		refresh = m.RefreshToken
	}
	if err := s.repo.UpdateTokens(ctx, m.ID, access, refresh, expiresAt); err != nil {
		return "", fmt.Errorf("store refreshed token: %w", err)
	}

	m.AccessToken, m.RefreshToken, m.TokenExpiresAt = access, refresh, expiresAt
	s.logger.Info("member token refreshed", zap.String("member_id", m.ID), zap.Time("expires_at", expiresAt))
	return access, nil
}

// Deauthorize deactivates a member after the upstream revoked access.
func (s *MemberService) Deauthorize(ctx context.Context, ownerID string) error {
	if err := s.repo.Deactivate(ctx, ownerID); err != nil {
		return err
	}
	s.logger.Info("member deauthorized", zap.String("athlete_id", ownerID))
	return nil
}

func (s *MemberService) List(ctx context.Context, activeOnly bool) ([]*domain.Member, error) {
	return s.repo.List(ctx, activeOnly)
}
