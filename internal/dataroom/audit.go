package dataroom

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/ids"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/observ"
	"github.com/lalith-99/dataroom/internal/repository"
	"github.com/lalith-99/dataroom/internal/tenant"
	"go.uber.org/zap"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// LogAccess appends one entry. ID and Timestamp are filled in when empty.
// The ID is time-ordered, so a retried append that already landed shows up
// as a conflict on the same ID and is treated as written.
func (s *Service) LogAccess(ctx context.Context, entry models.AccessLog) (models.AccessLog, error) {
	if entry.DataRoomID == uuid.Nil {
		return entry, invalid("access log needs a room")
	}
	if !entry.Action.Valid() {
		return entry, invalid("unknown action %q", entry.Action)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = ids.NewAt(entry.Timestamp)
	}

	err := retryErr(ctx, s, "append access log", func(ctx context.Context) error {
		err := s.stores.AccessLogs.Append(ctx, &entry)
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return err
	})
	if err != nil {
		return entry, err
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, entry); err != nil {
			s.logger.Warn("failed to publish access log",
				zap.String("room_id", entry.DataRoomID.String()),
				zap.Error(err),
			)
		}
	}
	return entry, nil
}

// recordOutcome writes the single log entry of a room-scoped operation and
// counts the decision. A failed append is logged, never returned: the
// caller is already returning cause.
func (s *Service) recordOutcome(ctx context.Context, entry models.AccessLog, cause error) {
	entry.Success = cause == nil
	entry.ErrorReason = Reason(cause)
	observ.AccessDecisions.WithLabelValues(string(entry.Action), outcomeLabel(cause)).Inc()

	if _, err := s.LogAccess(ctx, entry); err != nil {
		s.logger.Error("failed to record access log",
			zap.String("room_id", entry.DataRoomID.String()),
			zap.String("action", string(entry.Action)),
			zap.String("reason", entry.ErrorReason),
			zap.Error(err),
		)
	}
	if cause != nil {
		s.logger.Info("access denied",
			zap.String("room_id", entry.DataRoomID.String()),
			zap.String("viewer_id", entry.ViewerID),
			zap.String("action", string(entry.Action)),
			zap.String("reason", entry.ErrorReason),
		)
	}
}

// changeEntry starts the log entry of a room-changing operation. It is
// attributed to the token identity until the caller resolves to a viewer.
func changeEntry(room *models.DataRoom, tc tenant.Context, action models.AccessAction, meta RequestMeta) models.AccessLog {
	return models.AccessLog{
		DataRoomID:  room.ID,
		ViewerID:    tc.UserID.String(),
		ViewerEmail: models.NormalizeEmail(tc.Email),
		Action:      action,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
	}
}

// roomChange runs one room-changing operation and writes its single log
// entry, denials included. check, when set, gates on the room's state
// before the caller is resolved.
func (s *Service) roomChange(ctx context.Context, tc tenant.Context, room *models.DataRoom, entry models.AccessLog, check func(*models.DataRoom, time.Time) error, fn func(caller *models.Viewer, entry *models.AccessLog) error) error {
	err := func() error {
		if check != nil {
			if err := check(room, s.now()); err != nil {
				return err
			}
		}
		caller, err := s.actor(ctx, tc, room)
		if err != nil {
			return err
		}
		entry.ViewerID = caller.ID.String()
		entry.ViewerEmail = caller.Email
		return fn(caller, &entry)
	}()
	s.recordOutcome(ctx, entry, err)
	return err
}

// outcomeLabel keeps metric cardinality bounded: the code without detail.
func outcomeLabel(err error) string {
	if err == nil {
		return "granted"
	}
	code, _, _ := strings.Cut(Reason(err), ":")
	return code
}

type AccessLogFilter struct {
	DocumentID *uuid.UUID
	ViewerID   string
	StartDate  *time.Time
	EndDate    *time.Time
	Limit      int
	Cursor     string
}

type AccessLogPage struct {
	Entries    []models.AccessLog `json:"entries"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// GetAccessLogs returns a room's entries newest first. A document or a
// viewer filter narrows the scan, never both; the date range filters what
// remains. Archived rooms stay queryable.
func (s *Service) GetAccessLogs(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, f AccessLogFilter) (*AccessLogPage, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}
	caller, err := s.actor(ctx, tc, room)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(caller.Permissions.CanManageViewers, "manage"); err != nil {
		return nil, err
	}

	q := models.AccessLogQuery{
		DataRoomID: room.ID,
		DocumentID: f.DocumentID,
		ViewerID:   strings.TrimSpace(f.ViewerID),
		StartDate:  f.StartDate,
		EndDate:    f.EndDate,
		Limit:      f.Limit,
	}
	if q.DocumentID != nil && q.ViewerID != "" {
		return nil, invalid("filter by document or by viewer, not both")
	}
	if q.StartDate != nil && q.EndDate != nil && q.EndDate.Before(*q.StartDate) {
		return nil, invalid("endDate is before startDate")
	}
	switch {
	case q.Limit == 0:
		q.Limit = defaultLogLimit
	case q.Limit < 0:
		return nil, invalid("limit must be positive")
	case q.Limit > maxLogLimit:
		q.Limit = maxLogLimit
	}
	if f.Cursor != "" {
		before, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		q.Before = before
	}

	pageSize := q.Limit
	q.Limit++
	entries, err := retry(ctx, s, "query access logs", func(ctx context.Context) ([]models.AccessLog, error) {
		return s.stores.AccessLogs.Query(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	page := &AccessLogPage{Entries: entries}
	if len(entries) > pageSize {
		page.Entries = entries[:pageSize]
		page.NextCursor = encodeCursor(page.Entries[pageSize-1].ID)
	}
	return page, nil
}

// AuthorizeFeed checks that the caller may watch a room's live access feed.
func (s *Service) AuthorizeFeed(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID) error {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return err
	}
	caller, err := s.actor(ctx, tc, room)
	if err != nil {
		return err
	}
	return requireCapability(caller.Permissions.CanManageViewers, "manage")
}

func encodeCursor(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || !ids.Valid(string(raw)) {
		return "", invalid("malformed cursor")
	}
	return string(raw), nil
}
