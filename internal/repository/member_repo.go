package repository

import (
	"context"
	"time"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// MemberRepository defines all persistence operations for registered members.
// The pgx implementation is in pg_member_repo.go.
// Tests use a hand-written mock (mock_member_repo.go).
type MemberRepository interface {
	Create(ctx context.Context, m *domain.Member) error
	GetByAthleteID(ctx context.Context, athleteID string) (*domain.Member, error)
	List(ctx context.Context, activeOnly bool) ([]*domain.Member, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	Deactivate(ctx context.Context, athleteID string) error
}
