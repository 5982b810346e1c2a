package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/repository"
)

type AccessLogStore struct {
	pool *pgxpool.Pool
}

func NewAccessLogStore(pool *pgxpool.Pool) *AccessLogStore {
	return &AccessLogStore{pool: pool}
}

const accessLogColumns = `
	id, data_room_id, document_id, viewer_id, viewer_email, action,
	ip_address, user_agent, success, error_reason, watermark_id, "timestamp"`

func (s *AccessLogStore) Append(ctx context.Context, e *models.AccessLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_access_logs (`+accessLogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.DataRoomID, e.DocumentID, e.ViewerID, e.ViewerEmail, e.Action,
		e.IPAddress, e.UserAgent, e.Success, e.ErrorReason, e.WatermarkID, e.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("append access log: %w", err)
	}
	return nil
}

// Query pages newest-first by id. Ids are ULIDs, so "id < $before" is the
// cursor. The room predicate is always present; document or viewer narrows
// it through its own index, and the date range filters what the index yields.
func (s *AccessLogStore) Query(ctx context.Context, q models.AccessLogQuery) ([]models.AccessLog, error) {
	where := []string{"data_room_id = $1"}
	args := []any{q.DataRoomID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	switch {
	case q.DocumentID != nil:
		add("document_id = $%d", *q.DocumentID)
	case q.ViewerID != "":
		add("viewer_id = $%d", q.ViewerID)
	}
	if q.StartDate != nil {
		add(`"timestamp" >= $%d`, *q.StartDate)
	}
	if q.EndDate != nil {
		add(`"timestamp" <= $%d`, *q.EndDate)
	}
	if q.Before != "" {
		add("id < $%d", q.Before)
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM document_access_logs
		WHERE %s
		ORDER BY id DESC
		LIMIT $%d`, accessLogColumns, strings.Join(where, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query access logs: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AccessLog, 0)
	for rows.Next() {
		var e models.AccessLog
		if err := rows.Scan(
			&e.ID, &e.DataRoomID, &e.DocumentID, &e.ViewerID, &e.ViewerEmail, &e.Action,
			&e.IPAddress, &e.UserAgent, &e.Success, &e.ErrorReason, &e.WatermarkID, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access logs: %w", err)
	}
	return entries, nil
}
