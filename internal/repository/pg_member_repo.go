package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/activity-relay/internal/domain"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

const memberColumns = `id, athlete_id, display_name, access_token, refresh_token,
	token_expires_at, active, created_at, updated_at`

type pgMemberRepository struct {
	pool *pgxpool.Pool
}

// NewPgMemberRepository returns a MemberRepository backed by PostgreSQL.
func NewPgMemberRepository(pool *pgxpool.Pool) MemberRepository {
	return &pgMemberRepository{pool: pool}
}

func (r *pgMemberRepository) Create(ctx context.Context, m *domain.Member) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO members
			(id, athlete_id, display_name, access_token, refresh_token,
			 token_expires_at, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.AthleteID, m.DisplayName, m.AccessToken, m.RefreshToken,
		nullableTime(m.TokenExpiresAt), m.Active, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (r *pgMemberRepository) GetByAthleteID(ctx context.Context, athleteID string) (*domain.Member, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE athlete_id = $1`, athleteID)

	m, err := scanMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (r *pgMemberRepository) List(ctx context.Context, activeOnly bool) ([]*domain.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var result []*domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *pgMemberRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE members
		SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW()
		WHERE id = $1`,
		id, accessToken, refreshToken, nullableTime(expiresAt))
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgMemberRepository) Deactivate(ctx context.Context, athleteID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE members SET active = FALSE, updated_at = NOW()
		WHERE athlete_id = $1`, athleteID)
	if err != nil {
		return fmt.Errorf("deactivate member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ---- helpers ----

func scanMember(row pgx.Row) (*domain.Member, error) {
	var (
		m         domain.Member
		expiresAt *time.Time
	)
	err := row.Scan(
		&m.ID, &m.AthleteID, &m.DisplayName, &m.AccessToken, &m.RefreshToken,
		&expiresAt, &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt != nil {
		m.TokenExpiresAt = *expiresAt
	}
	return &m, nil
}

// nullableTime stores the zero time as NULL ("token never expires").
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
