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

type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

const documentColumns = `
	id, data_room_id, name, file_key, mime_type, file_size, version,
	previous_version_id, download_override, viewer_restrictions, folder_restrictions,
	view_count, download_count, uploaded_by, created_at, deleted_at`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.DataRoomID, &d.Name, &d.FileKey, &d.MimeType, &d.FileSize, &d.Version,
		&d.PreviousVersionID, &d.DownloadOverride, &d.ViewerRestrictions, &d.FolderRestrictions,
		&d.ViewCount, &d.DownloadCount, &d.UploadedBy, &d.CreatedAt, &d.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DocumentStore) Create(ctx context.Context, d *models.Document) error {
	viewerRestrictions := d.ViewerRestrictions
	if viewerRestrictions == nil {
		viewerRestrictions = []uuid.UUID{}
	}
	folderRestrictions := d.FolderRestrictions
	if folderRestrictions == nil {
		folderRestrictions = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO data_room_documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		d.ID, d.DataRoomID, d.Name, d.FileKey, d.MimeType, d.FileSize, d.Version,
		d.PreviousVersionID, d.DownloadOverride, viewerRestrictions, folderRestrictions,
		d.ViewCount, d.DownloadCount, d.UploadedBy, d.CreatedAt, d.DeletedAt,
	)
	if err != nil {
		// (data_room_id, name, version): a concurrent upload took this version.
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *DocumentStore) GetByID(ctx context.Context, roomID, documentID uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM data_room_documents
		WHERE id = $1 AND data_room_id = $2 AND deleted_at IS NULL`

	d, err := scanDocument(s.pool.QueryRow(ctx, query, documentID, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (s *DocumentStore) LatestVersion(ctx context.Context, roomID uuid.UUID, name string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM data_room_documents
		WHERE data_room_id = $1 AND name = $2 AND deleted_at IS NULL
		ORDER BY version DESC
		LIMIT 1`

	d, err := scanDocument(s.pool.QueryRow(ctx, query, roomID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest document version: %w", err)
	}
	return d, nil
}

func (s *DocumentStore) MaxVersion(ctx context.Context, roomID uuid.UUID, name string) (int, error) {
	query := `SELECT COALESCE(MAX(version), 0)
		FROM data_room_documents
		WHERE data_room_id = $1 AND name = $2`

	var version int
	if err := s.pool.QueryRow(ctx, query, roomID, name).Scan(&version); err != nil {
		return 0, fmt.Errorf("get max document version: %w", err)
	}
	return version, nil
}

func (s *DocumentStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM data_room_documents
		WHERE data_room_id = $1 AND deleted_at IS NULL
		ORDER BY name ASC, version DESC`

	rows, err := s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (s *DocumentStore) MarkDeleted(ctx context.Context, roomID, documentID uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE data_room_documents SET deleted_at = $3
		WHERE id = $1 AND data_room_id = $2 AND deleted_at IS NULL`,
		documentID, roomID, at)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConditionFailed
	}
	return nil
}

func (s *DocumentStore) IncrementCounters(ctx context.Context, documentID uuid.UUID, views, downloads int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE data_room_documents
		SET view_count = view_count + $2, download_count = download_count + $3
		WHERE id = $1`,
		documentID, views, downloads)
	if err != nil {
		return fmt.Errorf("increment document counters: %w", err)
	}
	return nil
}
