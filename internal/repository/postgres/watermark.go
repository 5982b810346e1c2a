package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/repository"
)

type WatermarkStore struct {
	pool *pgxpool.Pool
}

func NewWatermarkStore(pool *pgxpool.Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

const watermarkColumns = `
	id, tenant_id, data_room_id, document_id, viewer_id, viewer_email,
	viewer_name, company_name, tracking_code, text, accessed_at, created_at`

func scanWatermark(row pgx.Row) (*models.WatermarkRecord, error) {
	var w models.WatermarkRecord
	err := row.Scan(
		&w.ID, &w.TenantID, &w.DataRoomID, &w.DocumentID, &w.ViewerID, &w.ViewerEmail,
		&w.ViewerName, &w.CompanyName, &w.TrackingCode, &w.Text, &w.AccessedAt, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *WatermarkStore) Create(ctx context.Context, w *models.WatermarkRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watermark_records (`+watermarkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		w.ID, w.TenantID, w.DataRoomID, w.DocumentID, w.ViewerID, w.ViewerEmail,
		w.ViewerName, w.CompanyName, w.TrackingCode, w.Text, w.AccessedAt, w.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert watermark record: %w", err)
	}
	return nil
}

func (s *WatermarkStore) FindByTrackingCode(ctx context.Context, tenantID, documentID uuid.UUID, code string) (*models.WatermarkRecord, error) {
	query := `SELECT ` + watermarkColumns + `
		FROM watermark_records
		WHERE tenant_id = $1 AND document_id = $2 AND tracking_code = $3
		ORDER BY accessed_at DESC
		LIMIT 1`

	w, err := scanWatermark(s.pool.QueryRow(ctx, query, tenantID, documentID, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find watermark record: %w", err)
	}
	return w, nil
}

func (s *WatermarkStore) ListByDocument(ctx context.Context, tenantID, documentID uuid.UUID) ([]models.WatermarkRecord, error) {
	query := `SELECT ` + watermarkColumns + `
		FROM watermark_records
		WHERE tenant_id = $1 AND document_id = $2
		ORDER BY accessed_at DESC`

	rows, err := s.pool.Query(ctx, query, tenantID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list watermark records: %w", err)
	}
	defer rows.Close()

	records := make([]models.WatermarkRecord, 0)
	for rows.Next() {
		w, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watermark record: %w", err)
		}
		records = append(records, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermark records: %w", err)
	}
	return records, nil
}
