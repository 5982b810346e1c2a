package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/repository"
)

type SecureLinkStore struct {
	pool *pgxpool.Pool
}

func NewSecureLinkStore(pool *pgxpool.Pool) *SecureLinkStore {
	return &SecureLinkStore{pool: pool}
}

const linkColumns = `
	id, data_room_id, document_id, token_hash, expires_at, max_uses, current_uses,
	require_email, allowed_emails, require_pin, pin_hash, permissions,
	created_by, created_at, revoked_at`

func scanLink(row pgx.Row) (*models.SecureLink, error) {
	var l models.SecureLink
	err := row.Scan(
		&l.ID, &l.DataRoomID, &l.DocumentID, &l.TokenHash, &l.ExpiresAt, &l.MaxUses, &l.CurrentUses,
		&l.RequireEmail, &l.AllowedEmails, &l.RequirePIN, &l.PINHash, &l.Permissions,
		&l.CreatedBy, &l.CreatedAt, &l.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SecureLinkStore) Create(ctx context.Context, l *models.SecureLink) error {
	allowed := l.AllowedEmails
	if allowed == nil {
		allowed = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO secure_links (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		l.ID, l.DataRoomID, l.DocumentID, l.TokenHash, l.ExpiresAt, l.MaxUses, l.CurrentUses,
		l.RequireEmail, allowed, l.RequirePIN, l.PINHash, l.Permissions,
		l.CreatedBy, l.CreatedAt, l.RevokedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert secure link: %w", err)
	}
	return nil
}

func (s *SecureLinkStore) GetByTokenHash(ctx context.Context, tokenHash string) (*models.SecureLink, error) {
	query := `SELECT ` + linkColumns + ` FROM secure_links WHERE token_hash = $1`

	l, err := scanLink(s.pool.QueryRow(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get secure link: %w", err)
	}
	return l, nil
}

func (s *SecureLinkStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.SecureLink, error) {
	query := `SELECT ` + linkColumns + `
		FROM secure_links
		WHERE data_room_id = $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list secure links: %w", err)
	}
	defer rows.Close()

	links := make([]models.SecureLink, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secure link: %w", err)
		}
		links = append(links, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate secure links: %w", err)
	}
	return links, nil
}

// ConsumeUse is the only write path for current_uses. The guard and the
// increment are one statement, so two redemptions racing for the last use
// cannot both see a free slot: the row lock taken by the first UPDATE makes
// the second re-evaluate the WHERE clause against the incremented count.
func (s *SecureLinkStore) ConsumeUse(ctx context.Context, linkID uuid.UUID, now time.Time) (int, error) {
	var uses int
	err := s.pool.QueryRow(ctx, `
		UPDATE secure_links
		SET current_uses = current_uses + 1
		WHERE id = $1
			AND revoked_at IS NULL
			AND expires_at >= $2
			AND (max_uses IS NULL OR current_uses < max_uses)
		RETURNING current_uses`,
		linkID, now).Scan(&uses)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrConditionFailed
		}
		return 0, fmt.Errorf("consume secure link use: %w", err)
	}
	return uses, nil
}

func (s *SecureLinkStore) Revoke(ctx context.Context, roomID, linkID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE secure_links SET revoked_at = $3
		WHERE id = $1 AND data_room_id = $2 AND revoked_at IS NULL`,
		linkID, roomID, at)
	if err != nil {
		return fmt.Errorf("revoke secure link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}
