package dataroom

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/repository"
	"github.com/lalith-99/dataroom/internal/tenant"
	"go.uber.org/zap"
)

const maxRoomNameLen = 200

// DefaultRoomSettings is what a room gets when created without settings:
// watermarked, view-only.
func DefaultRoomSettings() models.RoomSettings {
	return models.RoomSettings{WatermarkEnabled: true}
}

type CreateRoomInput struct {
	Name     string
	Type     models.RoomType
	Settings *models.RoomSettings
}

// CreateRoom creates an ACTIVE room and makes the caller its owner in the
// same write.
func (s *Service) CreateRoom(ctx context.Context, tc tenant.Context, companyID uuid.UUID, in CreateRoomInput) (*models.DataRoom, error) {
	if err := tc.Authorize(companyID); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxRoomNameLen {
		return nil, invalid("room name must be 1-%d characters", maxRoomNameLen)
	}
	if in.Type == "" {
		in.Type = models.RoomTypeGeneral
	}
	if !in.Type.Valid() {
		return nil, invalid("unknown room type %q", in.Type)
	}
	email := models.NormalizeEmail(tc.Email)
	if email == "" {
		return nil, invalid("caller email is required")
	}

	now := s.now().UTC()
	settings := DefaultRoomSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}
	if settings.ExpiresAt != nil && !settings.ExpiresAt.After(now) {
		return nil, invalid("room expiry must be in the future")
	}

	room := &models.DataRoom{
		ID:           uuid.New(),
		TenantID:     tc.TenantID,
		CompanyID:    companyID,
		Name:         name,
		Type:         in.Type,
		Status:       models.RoomStatusActive,
		RoomSettings: settings,
		MembersCount: 1,
		CreatedBy:    tc.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	userID := tc.UserID
	owner := &models.Viewer{
		ID:          uuid.New(),
		DataRoomID:  room.ID,
		UserID:      &userID,
		Email:       email,
		Name:        tc.Name,
		Role:        models.RoleOwner,
		Permissions: models.AllPermissions(),
		Status:      models.ViewerActive,
		InvitedBy:   tc.UserID,
		CreatedAt:   now,
	}

	if err := storageErr("create room", s.stores.Rooms.CreateWithOwner(ctx, room, owner)); err != nil {
		return nil, err
	}

	s.logger.Info("room created",
		zap.String("room_id", room.ID.String()),
		zap.String("company_id", companyID.String()),
		zap.String("type", string(room.Type)),
	)
	return room, nil
}

// GetRoom returns the room with its effective status. Room metadata is
// visible to anyone authorized for the company, as in ListRoomsForCompany.
func (s *Service) GetRoom(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID) (*models.DataRoom, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}
	room.Status = room.EffectiveStatus(s.now())
	return room, nil
}

// ListRoomsForCompany returns every room of the company, newest first.
func (s *Service) ListRoomsForCompany(ctx context.Context, tc tenant.Context, companyID uuid.UUID) ([]models.DataRoom, error) {
	if err := tc.Authorize(companyID); err != nil {
		return nil, err
	}
	rooms, err := retry(ctx, s, "list rooms", func(ctx context.Context) ([]models.DataRoom, error) {
		return s.stores.Rooms.ListByCompany(ctx, tc.TenantID, companyID)
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range rooms {
		rooms[i].Status = rooms[i].EffectiveStatus(now)
	}
	return rooms, nil
}

// RoomUpdate changes room settings. Nil fields are left as they are.
type RoomUpdate struct {
	Name                 *string
	WatermarkEnabled     *bool
	DownloadEnabled      *bool
	PrintEnabled         *bool
	CopyEnabled          *bool
	ScreenshotProtection *bool
	NDARequired          *bool
	ExpiresAt            *time.Time
	ClearExpiry          bool
	RequestMeta
}

// UpdateRoomSettings applies u. Only viewers who manage the room may change
// it, and only while it is active.
func (s *Service) UpdateRoomSettings(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, u RoomUpdate) (*models.DataRoom, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}
	err = s.roomChange(ctx, tc, room, changeEntry(room, tc, models.ActionShare, u.RequestMeta), requireActive, func(caller *models.Viewer, _ *models.AccessLog) error {
		return s.updateRoomSettings(ctx, room, caller, u)
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Service) updateRoomSettings(ctx context.Context, room *models.DataRoom, caller *models.Viewer, u RoomUpdate) error {
	if err := requireCapability(caller.Permissions.CanManageViewers, "manage"); err != nil {
		return err
	}

	now := s.now().UTC()
	name := room.Name
	if u.Name != nil {
		name = strings.TrimSpace(*u.Name)
		if name == "" || len(name) > maxRoomNameLen {
			return invalid("room name must be 1-%d characters", maxRoomNameLen)
		}
	}
	settings := room.RoomSettings
	setBool(&settings.WatermarkEnabled, u.WatermarkEnabled)
	setBool(&settings.DownloadEnabled, u.DownloadEnabled)
	setBool(&settings.PrintEnabled, u.PrintEnabled)
	setBool(&settings.CopyEnabled, u.CopyEnabled)
	setBool(&settings.ScreenshotProtection, u.ScreenshotProtection)
	setBool(&settings.NDARequired, u.NDARequired)
	switch {
	case u.ClearExpiry:
		settings.ExpiresAt = nil
	case u.ExpiresAt != nil:
		if !u.ExpiresAt.After(now) {
			return invalid("room expiry must be in the future")
		}
		at := u.ExpiresAt.UTC()
		settings.ExpiresAt = &at
	}

	if err := storageErr("update room", s.stores.Rooms.UpdateSettings(ctx, room.ID, name, settings, now)); err != nil {
		return err
	}

	room.Name = name
	room.RoomSettings = settings
	room.UpdatedAt = now
	room.Status = room.EffectiveStatus(now)

	s.logger.Info("room settings updated",
		zap.String("room_id", room.ID.String()),
		zap.String("by", caller.ID.String()),
	)
	return nil
}

// ArchiveRoom moves an active room to ARCHIVED. Rooms are never deleted so
// their audit trail stays queryable.
func (s *Service) ArchiveRoom(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, meta RequestMeta) error {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return err
	}
	return s.roomChange(ctx, tc, room, changeEntry(room, tc, models.ActionShare, meta), notArchived, func(caller *models.Viewer, _ *models.AccessLog) error {
		if caller.Role != models.RoleOwner && caller.Role != models.RoleAdmin {
			return denied("archive requires owner or admin")
		}
		err := s.stores.Rooms.SetStatus(ctx, room.ID, models.RoomStatusArchived, s.now().UTC())
		if errors.Is(err, repository.ErrConditionFailed) {
			return ErrNotFound
		}
		if err := storageErr("archive room", err); err != nil {
			return err
		}

		s.logger.Info("room archived",
			zap.String("room_id", room.ID.String()),
			zap.String("by", caller.ID.String()),
		)
		return nil
	})
}

// notArchived lets an expired room still be archived.
func notArchived(room *models.DataRoom, _ time.Time) error {
	if room.Status != models.RoomStatusActive {
		return ErrNotFound
	}
	return nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
