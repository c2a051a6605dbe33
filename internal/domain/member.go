package domain

import (
	"strings"
	"time"
)

// Member is a registered subject whose activities are relayed.
type Member struct {
	ID             string    `json:"id"`
	AthleteID      string    `json:"athlete_id"`
	DisplayName    string    `json:"display_name"`
	AccessToken    string    `json:"-"`
	RefreshToken   string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TokenValidFor reports whether the access token is still usable margin from now.
func (m *Member) TokenValidFor(now time.Time, margin time.Duration) bool {
	if m.AccessToken == "" {
		return false
	}
	if m.TokenExpiresAt.IsZero() {
		return true
	}
	return m.TokenExpiresAt.After(now.Add(margin))
}

// RegisterMemberRequest is the inbound payload for member registration.
type RegisterMemberRequest struct {
	AthleteID      string    `json:"athlete_id"`
	DisplayName    string    `json:"display_name"`
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

func (r *RegisterMemberRequest) Validate() error {
	if strings.TrimSpace(r.AthleteID) == "" || strings.TrimSpace(r.AccessToken) == "" {
		return ErrInvalidMember
	}
	return nil
}
