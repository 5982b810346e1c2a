package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
)

// Lookups return nil, nil when the row does not exist. The two errors below
// are the only ones callers are expected to branch on; anything else is a
// storage failure.
var (
	// ErrConflict is returned when a uniqueness rule would be violated, e.g.
	// a second non-revoked viewer for the same (room, email).
	ErrConflict = errors.New("repository: conflict")

	// ErrConditionFailed is returned when a conditional update matched no
	// row because its guard no longer holds.
	ErrConditionFailed = errors.New("repository: condition failed")
)

// Room lookups take tenantID and companyID together: a room id obtained
// elsewhere never resolves outside the scope the caller was authorized for.
type RoomRepository interface {
	// CreateWithOwner inserts the room and its owner viewer atomically.
	CreateWithOwner(ctx context.Context, room *models.DataRoom, owner *models.Viewer) error

	GetByID(ctx context.Context, tenantID, companyID, roomID uuid.UUID) (*models.DataRoom, error)

	// GetForLink resolves the room a redeemed secure link points at. The link
	// itself is the credential on that path, so there is no caller scope.
	GetForLink(ctx context.Context, roomID uuid.UUID) (*models.DataRoom, error)

	// ListByCompany returns the company's rooms, newest first.
	ListByCompany(ctx context.Context, tenantID, companyID uuid.UUID) ([]models.DataRoom, error)

	UpdateSettings(ctx context.Context, roomID uuid.UUID, name string, settings models.RoomSettings, at time.Time) error
	SetStatus(ctx context.Context, roomID uuid.UUID, status models.RoomStatus, at time.Time) error

	// AdjustCounts applies deltas to documents_count and members_count.
	AdjustCounts(ctx context.Context, roomID uuid.UUID, documentsDelta, membersDelta int) error
}

type ViewerRepository interface {
	// Create returns ErrConflict if a non-revoked viewer with the same
	// email already exists in the room.
	Create(ctx context.Context, viewer *models.Viewer) error

	GetByID(ctx context.Context, roomID, viewerID uuid.UUID) (*models.Viewer, error)

	// GetByEmail returns the room's non-revoked viewer for email.
	GetByEmail(ctx context.Context, roomID uuid.UUID, email string) (*models.Viewer, error)

	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Viewer, error)

	UpdatePermissions(ctx context.Context, roomID, viewerID uuid.UUID, role models.ViewerRole, perms models.ViewerPermissions) error

	// Revoke marks the viewer revoked. ErrConditionFailed if already revoked.
	Revoke(ctx context.Context, roomID, viewerID uuid.UUID, at time.Time) error

	AcceptNDA(ctx context.Context, roomID, viewerID uuid.UUID, at time.Time) error

	// RecordAccess bumps access (and optionally download) counters and moves
	// an invited viewer to active.
	RecordAccess(ctx context.Context, viewerID uuid.UUID, download bool, at time.Time) error
}

type DocumentRepository interface {
	Create(ctx context.Context, doc *models.Document) error

	// GetByID excludes deleted documents.
	GetByID(ctx context.Context, roomID, documentID uuid.UUID) (*models.Document, error)

	// LatestVersion returns the newest live version of the named document.
	LatestVersion(ctx context.Context, roomID uuid.UUID, name string) (*models.Document, error)

	// MaxVersion is the highest version ever used for the name, deleted
	// versions included; 0 when there is none.
	MaxVersion(ctx context.Context, roomID uuid.UUID, name string) (int, error)

	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Document, error)

	MarkDeleted(ctx context.Context, roomID, documentID uuid.UUID, at time.Time) error

	IncrementCounters(ctx context.Context, documentID uuid.UUID, views, downloads int) error
}

type SecureLinkRepository interface {
	Create(ctx context.Context, link *models.SecureLink) error

	GetByTokenHash(ctx context.Context, tokenHash string) (*models.SecureLink, error)

	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.SecureLink, error)

	// ConsumeUse increments current_uses in a single conditional write that
	// only succeeds while the link is unrevoked, unexpired at now, and under
	// max_uses. Returns the new use count, or ErrConditionFailed.
	ConsumeUse(ctx context.Context, linkID uuid.UUID, now time.Time) (int, error)

	Revoke(ctx context.Context, roomID, linkID uuid.UUID, at time.Time) error
}

// AccessLogRepository is append-only: there is no update or delete.
type AccessLogRepository interface {
	Append(ctx context.Context, entry *models.AccessLog) error

	// Query returns matching entries newest first.
	Query(ctx context.Context, q models.AccessLogQuery) ([]models.AccessLog, error)
}

type WatermarkRepository interface {
	Create(ctx context.Context, rec *models.WatermarkRecord) error

	FindByTrackingCode(ctx context.Context, tenantID, documentID uuid.UUID, code string) (*models.WatermarkRecord, error)

	ListByDocument(ctx context.Context, tenantID, documentID uuid.UUID) ([]models.WatermarkRecord, error)
}
