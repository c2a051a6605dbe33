package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// MockMemberRepository is a hand-written, in-memory implementation of
// MemberRepository used in unit tests.
type MockMemberRepository struct {
	mu      sync.RWMutex
	members map[string]*domain.Member // keyed by athlete id

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr error
	GetErr    error
}

func NewMockMemberRepository() *MockMemberRepository {
	return &MockMemberRepository{members: make(map[string]*domain.Member)}
}

func (m *MockMemberRepository) Create(_ context.Context, member *domain.Member) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[member.AthleteID]; ok {
		return domain.ErrConflict
	}
	clone := *member
	m.members[member.AthleteID] = &clone
	return nil
}

func (m *MockMemberRepository) GetByAthleteID(_ context.Context, athleteID string) (*domain.Member, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[athleteID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *member
	return &clone, nil
}

func (m *MockMemberRepository) List(_ context.Context, activeOnly bool) ([]*domain.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Member, 0, len(m.members))
	for _, member := range m.members {
		if activeOnly && !member.Active {
			continue
		}
		clone := *member
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MockMemberRepository) UpdateTokens(_ context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range m.members {
		if member.ID == id {
			member.AccessToken = accessToken
			member.RefreshToken = refreshToken
			member.TokenExpiresAt = expiresAt
			member.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockMemberRepository) Deactivate(_ context.Context, athleteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[athleteID]
	if !ok {
		return domain.ErrNotFound
	}
	member.Active = false
	return nil
}

// compile-time check
var _ MemberRepository = (*MockMemberRepository)(nil)
