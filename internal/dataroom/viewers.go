package dataroom

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/repository"
	"github.com/lalith-99/dataroom/internal/tenant"
	"go.uber.org/zap"
)

type AddViewerInput struct {
	Email   string
	Name    string
	Company string
	Role    models.ViewerRole
	// Permissions defaults to the role's default set when nil.
	Permissions *models.ViewerPermissions
	RequestMeta
}

// RequestMeta is the request context copied into access-log entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// AddViewer invites email into the room. There is at most one non-revoked
// viewer per (room, email).
func (s *Service) AddViewer(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, in AddViewerInput) (*models.Viewer, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}
	var viewer *models.Viewer
	err = s.roomChange(ctx, tc, room, changeEntry(room, tc, models.ActionShare, in.RequestMeta), requireActive, func(caller *models.Viewer, _ *models.AccessLog) error {
		var err error
		viewer, err = s.addViewer(ctx, room, caller, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("viewer added",
		zap.String("room_id", room.ID.String()),
		zap.String("viewer_id", viewer.ID.String()),
		zap.String("role", string(viewer.Role)),
	)
	return viewer, nil
}

func (s *Service) addViewer(ctx context.Context, room *models.DataRoom, caller *models.Viewer, in AddViewerInput) (*models.Viewer, error) {
	if err := requireCapability(caller.Permissions.CanManageViewers, "manage"); err != nil {
		return nil, err
	}

	email, err := parseEmail(in.Email)
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = models.RoleViewer
	}
	if !role.Valid() {
		return nil, invalid("unknown role %q", role)
	}
	if role == models.RoleOwner && caller.Role != models.RoleOwner {
		return nil, denied("only an owner can add an owner")
	}

	perms := models.DefaultPermissions(role)
	if in.Permissions != nil {
		perms = *in.Permissions
	}
	if role == models.RoleOwner {
		perms = models.AllPermissions()
	}

	viewer := &models.Viewer{
		ID:          uuid.New(),
		DataRoomID:  room.ID,
		Email:       email,
		Name:        strings.TrimSpace(in.Name),
		Company:     strings.TrimSpace(in.Company),
		Role:        role,
		Permissions: perms,
		Status:      models.ViewerInvited,
		InvitedBy:   caller.ID,
		CreatedAt:   s.now().UTC(),
	}
	err = s.stores.Viewers.Create(ctx, viewer)
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrAlreadyExists
	}
	if err := storageErr("create viewer", err); err != nil {
		return nil, err
	}

	if err := storageErr("adjust room counts", s.stores.Rooms.AdjustCounts(ctx, room.ID, 0, 1)); err != nil {
		s.logger.Warn("failed to bump members count", zap.String("room_id", room.ID.String()), zap.Error(err))
	}
	return viewer, nil
}

// RevokeViewer stops a viewer from obtaining new content URLs. URLs issued
// before revocation stay valid until their own TTL runs out.
func (s *Service) RevokeViewer(ctx context.Context, tc tenant.Context, companyID, roomID, viewerID uuid.UUID, meta RequestMeta) error {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return err
	}
	err = s.roomChange(ctx, tc, room, changeEntry(room, tc, models.ActionShare, meta), nil, func(caller *models.Viewer, _ *models.AccessLog) error {
		return s.revokeViewer(ctx, room, caller, viewerID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("viewer revoked",
		zap.String("room_id", room.ID.String()),
		zap.String("viewer_id", viewerID.String()),
	)
	return nil
}

func (s *Service) revokeViewer(ctx context.Context, room *models.DataRoom, caller *models.Viewer, viewerID uuid.UUID) error {
	if err := requireCapability(caller.Permissions.CanManageViewers, "manage"); err != nil {
		return err
	}
	target, err := retry(ctx, s, "get viewer", func(ctx context.Context) (*models.Viewer, error) {
		return s.stores.Viewers.GetByID(ctx, room.ID, viewerID)
	})
	if err != nil {
		return err
	}
	if target == nil || target.Status == models.ViewerRevoked {
		return ErrNotFound
	}
	if target.Role == models.RoleOwner {
		return denied("owner cannot be revoked")
	}

	err = s.stores.Viewers.Revoke(ctx, room.ID, viewerID, s.now().UTC())
	if errors.Is(err, repository.ErrConditionFailed) {
		return ErrNotFound
	}
	if err := storageErr("revoke viewer", err); err != nil {
		return err
	}
	if err := storageErr("adjust room counts", s.stores.Rooms.AdjustCounts(ctx, room.ID, 0, -1)); err != nil {
		s.logger.Warn("failed to drop members count", zap.String("room_id", room.ID.String()), zap.Error(err))
	}
	return nil
}

// ListViewers returns every viewer of the room, revoked ones included.
func (s *Service) ListViewers(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID) ([]models.Viewer, error) {
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
	return retry(ctx, s, "list viewers", func(ctx context.Context) ([]models.Viewer, error) {
		return s.stores.Viewers.ListByRoom(ctx, room.ID)
	})
}

type PermissionUpdate struct {
	Role        *models.ViewerRole
	Permissions models.ViewerPermissions
	RequestMeta
}

// UpdateViewerPermissions replaces a viewer's capability set. The owner's
// set is fixed at all-true.
func (s *Service) UpdateViewerPermissions(ctx context.Context, tc tenant.Context, companyID, roomID, viewerID uuid.UUID, u PermissionUpdate) (*models.Viewer, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}
	var viewer *models.Viewer
	err = s.roomChange(ctx, tc, room, changeEntry(room, tc, models.ActionShare, u.RequestMeta), requireActive, func(caller *models.Viewer, _ *models.AccessLog) error {
		var err error
		viewer, err = s.updateViewerPermissions(ctx, room, caller, viewerID, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return viewer, nil
}

func (s *Service) updateViewerPermissions(ctx context.Context, room *models.DataRoom, caller *models.Viewer, viewerID uuid.UUID, u PermissionUpdate) (*models.Viewer, error) {
	if err := requireCapability(caller.Permissions.CanManageViewers, "manage"); err != nil {
		return nil, err
	}
	target, err := retry(ctx, s, "get viewer", func(ctx context.Context) (*models.Viewer, error) {
		return s.stores.Viewers.GetByID(ctx, room.ID, viewerID)
	})
	if err != nil {
		return nil, err
	}
	if target == nil || target.Status == models.ViewerRevoked {
		return nil, ErrNotFound
	}
	if target.Role == models.RoleOwner {
		return nil, denied("owner permissions are fixed")
	}

	role := target.Role
	if u.Role != nil {
		role = *u.Role
	}
	if !role.Valid() {
		return nil, invalid("unknown role %q", role)
	}
	if role == models.RoleOwner {
		return nil, denied("owner role cannot be granted")
	}

	err = s.stores.Viewers.UpdatePermissions(ctx, room.ID, viewerID, role, u.Permissions)
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil, ErrNotFound
	}
	if err := storageErr("update viewer permissions", err); err != nil {
		return nil, err
	}
	target.Role = role
	target.Permissions = u.Permissions
	return target, nil
}

// AcceptNDA records the caller's acceptance of the room's NDA. Accepting
// twice keeps the first acceptance time.
func (s *Service) AcceptNDA(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, meta RequestMeta) (*models.Viewer, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}

	var viewer *models.Viewer
	err = s.roomChange(ctx, tc, room, changeEntry(room, tc, models.ActionShare, meta), requireActive, func(caller *models.Viewer, _ *models.AccessLog) error {
		viewer = caller
		if caller.NDAAcceptedAt != nil {
			return nil
		}
		now := s.now().UTC()
		err := s.stores.Viewers.AcceptNDA(ctx, room.ID, caller.ID, now)
		if errors.Is(err, repository.ErrConditionFailed) {
			return ErrNotFound
		}
		if err := storageErr("accept nda", err); err != nil {
			return err
		}
		caller.NDAAcceptedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("nda accepted",
		zap.String("room_id", room.ID.String()),
		zap.String("viewer_id", viewer.ID.String()),
	)
	return viewer, nil
}

var validate = validator.New()

// parseEmail accepts a bare address only, no display name, and returns it
// normalized.
func parseEmail(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if err := validate.Var(addr, "required,email"); err != nil {
		return "", invalid("invalid email %q", raw)
	}
	return models.NormalizeEmail(addr), nil
}
