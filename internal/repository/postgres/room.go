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

type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

const roomColumns = `
	id, tenant_id, company_id, name, type, status,
	watermark_enabled, download_enabled, print_enabled, copy_enabled,
	screenshot_protection, expires_at, nda_required,
	documents_count, members_count, created_by, created_at, updated_at`

func scanRoom(row pgx.Row) (*models.DataRoom, error) {
	var r models.DataRoom
	err := row.Scan(
		&r.ID, &r.TenantID, &r.CompanyID, &r.Name, &r.Type, &r.Status,
		&r.WatermarkEnabled, &r.DownloadEnabled, &r.PrintEnabled, &r.CopyEnabled,
		&r.ScreenshotProtection, &r.ExpiresAt, &r.NDARequired,
		&r.DocumentsCount, &r.MembersCount, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateWithOwner inserts the room and its first owner viewer in one
// transaction, so a room never exists without an owner.
func (s *RoomStore) CreateWithOwner(ctx context.Context, room *models.DataRoom, owner *models.Viewer) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create room: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO data_rooms (`+roomColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		room.ID, room.TenantID, room.CompanyID, room.Name, room.Type, room.Status,
		room.WatermarkEnabled, room.DownloadEnabled, room.PrintEnabled, room.CopyEnabled,
		room.ScreenshotProtection, room.ExpiresAt, room.NDARequired,
		room.DocumentsCount, room.MembersCount, room.CreatedBy, room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}

	if err := insertViewer(ctx, tx, owner); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create room: %w", err)
	}
	return nil
}

func (s *RoomStore) GetByID(ctx context.Context, tenantID, companyID, roomID uuid.UUID) (*models.DataRoom, error) {
	query := `SELECT ` + roomColumns + `
		FROM data_rooms
		WHERE id = $1 AND tenant_id = $2 AND company_id = $3`

	room, err := scanRoom(s.pool.QueryRow(ctx, query, roomID, tenantID, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

func (s *RoomStore) GetForLink(ctx context.Context, roomID uuid.UUID) (*models.DataRoom, error) {
	query := `SELECT ` + roomColumns + ` FROM data_rooms WHERE id = $1`

	room, err := scanRoom(s.pool.QueryRow(ctx, query, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get room for link: %w", err)
	}
	return room, nil
}

func (s *RoomStore) ListByCompany(ctx context.Context, tenantID, companyID uuid.UUID) ([]models.DataRoom, error) {
	query := `SELECT ` + roomColumns + `
		FROM data_rooms
		WHERE tenant_id = $1 AND company_id = $2
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, tenantID, companyID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]models.DataRoom, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

func (s *RoomStore) UpdateSettings(ctx context.Context, roomID uuid.UUID, name string, st models.RoomSettings, at time.Time) error {
	query := `
		UPDATE data_rooms SET
			name = $2, watermark_enabled = $3, download_enabled = $4, print_enabled = $5,
			copy_enabled = $6, screenshot_protection = $7, expires_at = $8, nda_required = $9,
			updated_at = $10
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, roomID, name,
		st.WatermarkEnabled, st.DownloadEnabled, st.PrintEnabled,
		st.CopyEnabled, st.ScreenshotProtection, st.ExpiresAt, st.NDARequired, at)
	if err != nil {
		return fmt.Errorf("update room settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

// SetStatus moves an ACTIVE room to status. Terminal states are final.
func (s *RoomStore) SetStatus(ctx context.Context, roomID uuid.UUID, status models.RoomStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE data_rooms SET status = $2, updated_at = $3 WHERE id = $1 AND status = 'ACTIVE'`,
		roomID, status, at)
	if err != nil {
		return fmt.Errorf("set room status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

func (s *RoomStore) AdjustCounts(ctx context.Context, roomID uuid.UUID, documentsDelta, membersDelta int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE data_rooms
		SET documents_count = documents_count + $2, members_count = members_count + $3
		WHERE id = $1`,
		roomID, documentsDelta, membersDelta)
	if err != nil {
		return fmt.Errorf("adjust room counts: %w", err)
	}
	return nil
}
