package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/repository"
)

type ViewerStore struct {
	pool *pgxpool.Pool
}

func NewViewerStore(pool *pgxpool.Pool) *ViewerStore {
	return &ViewerStore{pool: pool}
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

const viewerColumns = `
	id, data_room_id, user_id, email, name, company, role, permissions, status,
	access_count, download_count, invited_by, nda_accepted_at, last_access_at,
	created_at, revoked_at`

func scanViewer(row pgx.Row) (*models.Viewer, error) {
	var v models.Viewer
	err := row.Scan(
		&v.ID, &v.DataRoomID, &v.UserID, &v.Email, &v.Name, &v.Company, &v.Role, &v.Permissions, &v.Status,
		&v.AccessCount, &v.DownloadCount, &v.InvitedBy, &v.NDAAcceptedAt, &v.LastAccessAt,
		&v.CreatedAt, &v.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func insertViewer(ctx context.Context, db execer, v *models.Viewer) error {
	_, err := db.Exec(ctx, `
		INSERT INTO data_room_viewers (`+viewerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		v.ID, v.DataRoomID, v.UserID, v.Email, v.Name, v.Company, v.Role, v.Permissions, v.Status,
		v.AccessCount, v.DownloadCount, v.InvitedBy, v.NDAAcceptedAt, v.LastAccessAt,
		v.CreatedAt, v.RevokedAt,
	)
	if err != nil {
		// uq_data_room_viewers_live_email enforces one live viewer per email.
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert viewer: %w", err)
	}
	return nil
}

func (s *ViewerStore) Create(ctx context.Context, v *models.Viewer) error {
	return insertViewer(ctx, s.pool, v)
}

func (s *ViewerStore) GetByID(ctx context.Context, roomID, viewerID uuid.UUID) (*models.Viewer, error) {
	query := `SELECT ` + viewerColumns + `
		FROM data_room_viewers
		WHERE id = $1 AND data_room_id = $2`

	v, err := scanViewer(s.pool.QueryRow(ctx, query, viewerID, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get viewer: %w", err)
	}
	return v, nil
}

func (s *ViewerStore) GetByEmail(ctx context.Context, roomID uuid.UUID, email string) (*models.Viewer, error) {
	query := `SELECT ` + viewerColumns + `
		FROM data_room_viewers
		WHERE data_room_id = $1 AND lower(email) = lower($2) AND status <> 'revoked'`

	v, err := scanViewer(s.pool.QueryRow(ctx, query, roomID, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get viewer by email: %w", err)
	}
	return v, nil
}

func (s *ViewerStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Viewer, error) {
	query := `SELECT ` + viewerColumns + `
		FROM data_room_viewers
		WHERE data_room_id = $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list viewers: %w", err)
	}
	defer rows.Close()

	viewers := make([]models.Viewer, 0)
	for rows.Next() {
		v, err := scanViewer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan viewer: %w", err)
		}
		viewers = append(viewers, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate viewers: %w", err)
	}
	return viewers, nil
}

func (s *ViewerStore) UpdatePermissions(ctx context.Context, roomID, viewerID uuid.UUID, role models.ViewerRole, perms models.ViewerPermissions) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE data_room_viewers SET role = $3, permissions = $4
		WHERE id = $1 AND data_room_id = $2 AND status <> 'revoked'`,
		viewerID, roomID, role, perms)
	if err != nil {
		return fmt.Errorf("update viewer permissions: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

func (s *ViewerStore) Revoke(ctx context.Context, roomID, viewerID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE data_room_viewers SET status = 'revoked', revoked_at = $3
		WHERE id = $1 AND data_room_id = $2 AND status <> 'revoked'`,
		viewerID, roomID, at)
	if err != nil {
		return fmt.Errorf("revoke viewer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

func (s *ViewerStore) AcceptNDA(ctx context.Context, roomID, viewerID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE data_room_viewers SET nda_accepted_at = COALESCE(nda_accepted_at, $3)
		WHERE id = $1 AND data_room_id = $2 AND status <> 'revoked'`,
		viewerID, roomID, at)
	if err != nil {
		return fmt.Errorf("accept nda: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

func (s *ViewerStore) RecordAccess(ctx context.Context, viewerID uuid.UUID, download bool, at time.Time) error {
	downloads := 0
	if download {
		downloads = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE data_room_viewers SET
			access_count = access_count + 1,
			download_count = download_count + $2,
			last_access_at = $3,
			status = CASE WHEN status = 'invited' THEN 'active' ELSE status END
		WHERE id = $1`,
		viewerID, downloads, at)
	if err != nil {
		return fmt.Errorf("record viewer access: %w", err)
	}
	return nil
}
