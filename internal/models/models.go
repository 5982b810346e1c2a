package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataRoom is a named container of documents shared with a controlled set
// of viewers. TenantID and CompanyID are fixed at creation; rooms are never
// deleted, only archived, so their audit trail stays resolvable.
type DataRoom struct {
	ID        uuid.UUID  `json:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"`
	CompanyID uuid.UUID  `json:"company_id"`
	Name      string     `json:"name"`
	Type      RoomType   `json:"type"`
	Status    RoomStatus `json:"status"`

	RoomSettings

	DocumentsCount int       `json:"documents_count"`
	MembersCount   int       `json:"members_count"`
	CreatedBy      uuid.UUID `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RoomSettings are the room-level security defaults. They cap what any
// viewer or link can do regardless of individual permissions.
type RoomSettings struct {
	WatermarkEnabled     bool       `json:"watermark_enabled"`
	DownloadEnabled      bool       `json:"download_enabled"`
	PrintEnabled         bool       `json:"print_enabled"`
	CopyEnabled          bool       `json:"copy_enabled"`
	ScreenshotProtection bool       `json:"screenshot_protection"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	NDARequired          bool       `json:"nda_required"`
}

type RoomType string

const (
	RoomTypeDueDiligence   RoomType = "due_diligence"
	RoomTypeInvestorPortal RoomType = "investor_portal"
	RoomTypeAudit          RoomType = "audit"
	RoomTypeFundraising    RoomType = "fundraising"
	RoomTypeBoard          RoomType = "board"
	RoomTypeGeneral        RoomType = "general"
)

func (t RoomType) Valid() bool {
	switch t {
	case RoomTypeDueDiligence, RoomTypeInvestorPortal, RoomTypeAudit,
		RoomTypeFundraising, RoomTypeBoard, RoomTypeGeneral:
		return true
	}
	return false
}

type RoomStatus string

const (
	RoomStatusActive   RoomStatus = "ACTIVE"
	RoomStatusArchived RoomStatus = "ARCHIVED"
	RoomStatusExpired  RoomStatus = "EXPIRED"
)

// EffectiveStatus reports EXPIRED for an active room whose expiry has passed.
func (r *DataRoom) EffectiveStatus(now time.Time) RoomStatus {
	if r.Status == RoomStatusActive && r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return RoomStatusExpired
	}
	return r.Status
}

// Document is one version of a logical document. Versions of the same
// document share a Name; Version increases monotonically and
// PreviousVersionID points at the version it replaced.
type Document struct {
	ID                 uuid.UUID   `json:"id"`
	DataRoomID         uuid.UUID   `json:"data_room_id"`
	Name               string      `json:"name"`
	FileKey            string      `json:"file_key"`
	MimeType           string      `json:"mime_type"`
	FileSize           int64       `json:"file_size"`
	Version            int         `json:"version"`
	PreviousVersionID  *uuid.UUID  `json:"previous_version_id,omitempty"`
	DownloadOverride   *bool       `json:"download_override,omitempty"`
	ViewerRestrictions []uuid.UUID `json:"viewer_restrictions,omitempty"`
	FolderRestrictions []string    `json:"folder_restrictions,omitempty"`
	ViewCount          int64       `json:"view_count"`
	DownloadCount      int64       `json:"download_count"`
	UploadedBy         uuid.UUID   `json:"uploaded_by"`
	CreatedAt          time.Time   `json:"created_at"`
	DeletedAt          *time.Time  `json:"deleted_at,omitempty"`
}

// DownloadAllowed is room.downloadEnabled AND (downloadOverride ?? true).
func (d *Document) DownloadAllowed(room *DataRoom) bool {
	if !room.DownloadEnabled {
		return false
	}
	if d.DownloadOverride != nil {
		return *d.DownloadOverride
	}
	return true
}

// RestrictsViewer reports whether the document explicitly denies viewerID.
func (d *Document) RestrictsViewer(viewerID uuid.UUID) bool {
	return slices.Contains(d.ViewerRestrictions, viewerID)
}

type ViewerRole string

const (
	RoleOwner    ViewerRole = "owner"
	RoleAdmin    ViewerRole = "admin"
	RoleEditor   ViewerRole = "editor"
	RoleViewer   ViewerRole = "viewer"
	RoleExternal ViewerRole = "external"
)

func (r ViewerRole) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleEditor, RoleViewer, RoleExternal:
		return true
	}
	return false
}

type ViewerStatus string

const (
	ViewerInvited ViewerStatus = "invited"
	ViewerActive  ViewerStatus = "active"
	ViewerRevoked ViewerStatus = "revoked"
	ViewerExpired ViewerStatus = "expired"
)

// ViewerPermissions is a capability set. FolderRestrictions and
// DocumentRestrictions are explicit denials that win over any capability.
type ViewerPermissions struct {
	CanView          bool `json:"can_view"`
	CanDownload      bool `json:"can_download"`
	CanPrint         bool `json:"can_print"`
	CanShare         bool `json:"can_share"`
	CanUpload        bool `json:"can_upload"`
	CanDelete        bool `json:"can_delete"`
	CanManageViewers bool `json:"can_manage_viewers"`

	FolderRestrictions   []string    `json:"folder_restrictions,omitempty"`
	DocumentRestrictions []uuid.UUID `json:"document_restrictions,omitempty"`
	ExpiresAt            *time.Time  `json:"expires_at,omitempty"`
}

// AllPermissions is the capability set every owner carries.
func AllPermissions() ViewerPermissions {
	return ViewerPermissions{
		CanView:          true,
		CanDownload:      true,
		CanPrint:         true,
		CanShare:         true,
		CanUpload:        true,
		CanDelete:        true,
		CanManageViewers: true,
	}
}

// DefaultPermissions returns the capability set used when a viewer is
// invited without an explicit one.
func DefaultPermissions(role ViewerRole) ViewerPermissions {
	switch role {
	case RoleOwner, RoleAdmin:
		return AllPermissions()
	case RoleEditor:
		return ViewerPermissions{CanView: true, CanDownload: true, CanPrint: true, CanUpload: true}
	case RoleViewer:
		return ViewerPermissions{CanView: true, CanPrint: true}
	default:
		return ViewerPermissions{CanView: true}
	}
}

// Allows reports whether the flag for action is set. Actions without a
// capability flag (preview) map onto view.
func (p ViewerPermissions) Allows(action AccessAction) bool {
	switch action {
	case ActionView, ActionPreview:
		return p.CanView
	case ActionDownload:
		return p.CanDownload
	case ActionPrint:
		return p.CanPrint
	case ActionShare:
		return p.CanShare
	case ActionUpload:
		return p.CanUpload
	case ActionDelete:
		return p.CanDelete
	}
	return false
}

// Covers reports whether p holds every capability flag set in other.
func (p ViewerPermissions) Covers(other ViewerPermissions) bool {
	return (!other.CanView || p.CanView) &&
		(!other.CanDownload || p.CanDownload) &&
		(!other.CanPrint || p.CanPrint) &&
		(!other.CanShare || p.CanShare) &&
		(!other.CanUpload || p.CanUpload) &&
		(!other.CanDelete || p.CanDelete) &&
		(!other.CanManageViewers || p.CanManageViewers)
}

type Viewer struct {
	ID            uuid.UUID         `json:"id"`
	DataRoomID    uuid.UUID         `json:"data_room_id"`
	UserID        *uuid.UUID        `json:"user_id,omitempty"`
	Email         string            `json:"email"`
	Name          string            `json:"name,omitempty"`
	Company       string            `json:"company,omitempty"`
	Role          ViewerRole        `json:"role"`
	Permissions   ViewerPermissions `json:"permissions"`
	Status        ViewerStatus      `json:"status"`
	AccessCount   int64             `json:"access_count"`
	DownloadCount int64             `json:"download_count"`
	InvitedBy     uuid.UUID         `json:"invited_by"`
	NDAAcceptedAt *time.Time        `json:"nda_accepted_at,omitempty"`
	LastAccessAt  *time.Time        `json:"last_access_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	RevokedAt     *time.Time        `json:"revoked_at,omitempty"`
}

// NormalizeEmail is the canonical form used for (room, email) uniqueness
// and allow-list matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SecureLink is a disposable, tokenized path into a room or a single
// document. The raw token is never stored; lookups go through TokenHash.
type SecureLink struct {
	ID            uuid.UUID         `json:"id"`
	DataRoomID    uuid.UUID         `json:"data_room_id"`
	DocumentID    *uuid.UUID        `json:"document_id,omitempty"`
	TokenHash     string            `json:"-"`
	ExpiresAt     time.Time         `json:"expires_at"`
	MaxUses       *int              `json:"max_uses,omitempty"`
	CurrentUses   int               `json:"current_uses"`
	RequireEmail  bool              `json:"require_email"`
	AllowedEmails []string          `json:"allowed_emails,omitempty"`
	RequirePIN    bool              `json:"require_pin"`
	PINHash       string            `json:"-"`
	Permissions   ViewerPermissions `json:"permissions"`
	CreatedBy     uuid.UUID         `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
	RevokedAt     *time.Time        `json:"revoked_at,omitempty"`
}

type AccessAction string

const (
	ActionView     AccessAction = "view"
	ActionDownload AccessAction = "download"
	ActionPrint    AccessAction = "print"
	ActionShare    AccessAction = "share"
	ActionUpload   AccessAction = "upload"
	ActionDelete   AccessAction = "delete"
	ActionPreview  AccessAction = "preview"
)

func (a AccessAction) Valid() bool {
	switch a {
	case ActionView, ActionDownload, ActionPrint, ActionShare, ActionUpload, ActionDelete, ActionPreview:
		return true
	}
	return false
}

// AccessLog is one append-only audit entry. ID is a ULID, so ordering by ID
// is ordering by time. ViewerID holds a viewer UUID, or "link:<id>" for an
// anonymous secure-link redemption.
type AccessLog struct {
	ID          string       `json:"id"`
	DataRoomID  uuid.UUID    `json:"data_room_id"`
	DocumentID  *uuid.UUID   `json:"document_id,omitempty"`
	ViewerID    string       `json:"viewer_id"`
	ViewerEmail string       `json:"viewer_email"`
	Action      AccessAction `json:"action"`
	IPAddress   string       `json:"ip_address"`
	UserAgent   string       `json:"user_agent"`
	Success     bool         `json:"success"`
	ErrorReason string       `json:"error_reason,omitempty"`
	WatermarkID string       `json:"watermark_id,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// AccessLogQuery selects entries of one room. At most one of DocumentID and
// ViewerID is set. Before is an exclusive upper bound on ID used for paging.
type AccessLogQuery struct {
	DataRoomID uuid.UUID
	DocumentID *uuid.UUID
	ViewerID   string
	StartDate  *time.Time
	EndDate    *time.Time
	Before     string
	Limit      int
}

// WatermarkRecord ties a tracking code to the viewer, document and moment
// it was generated for.
type WatermarkRecord struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	DataRoomID   uuid.UUID `json:"data_room_id"`
	DocumentID   uuid.UUID `json:"document_id"`
	ViewerID     string    `json:"viewer_id"`
	ViewerEmail  string    `json:"viewer_email"`
	ViewerName   string    `json:"viewer_name,omitempty"`
	CompanyName  string    `json:"company_name,omitempty"`
	TrackingCode string    `json:"tracking_code"`
	Text         string    `json:"text"`
	AccessedAt   time.Time `json:"accessed_at"`
	CreatedAt    time.Time `json:"created_at"`
}
