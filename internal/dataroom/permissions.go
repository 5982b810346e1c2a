package dataroom

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/tenant"
)

// loadRoom runs the tenant guard and then reads the room inside the
// caller's (tenant, company) scope. Rooms of any status are returned.
func (s *Service) loadRoom(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID) (*models.DataRoom, error) {
	if err := tc.Authorize(companyID); err != nil {
		return nil, err
	}
	room, err := retry(ctx, s, "get room", func(ctx context.Context) (*models.DataRoom, error) {
		return s.stores.Rooms.GetByID(ctx, tc.TenantID, companyID, roomID)
	})
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrNotFound
	}
	return room, nil
}

// requireActive hides archived and expired rooms from every path that
// reveals or changes content.
func requireActive(room *models.DataRoom, now time.Time) error {
	if room.EffectiveStatus(now) != models.RoomStatusActive {
		return ErrNotFound
	}
	return nil
}

// actor resolves the caller's viewer record in room.
func (s *Service) actor(ctx context.Context, tc tenant.Context, room *models.DataRoom) (*models.Viewer, error) {
	viewer, err := retry(ctx, s, "get viewer", func(ctx context.Context) (*models.Viewer, error) {
		return s.stores.Viewers.GetByEmail(ctx, room.ID, tc.Email)
	})
	if err != nil {
		return nil, err
	}
	if viewer == nil {
		return nil, denied("not a room viewer")
	}
	if err := viewerUsable(viewer, s.now()); err != nil {
		return nil, err
	}
	return viewer, nil
}

// viewerUsable checks the viewer's own state: status, then the individual
// permission expiry.
func viewerUsable(v *models.Viewer, now time.Time) error {
	switch v.Status {
	case models.ViewerActive, models.ViewerInvited:
	default:
		return denied("viewer " + string(v.Status))
	}
	if v.Permissions.ExpiresAt != nil && now.After(*v.Permissions.ExpiresAt) {
		return denied("viewer access expired")
	}
	return nil
}

// requireCapability checks a management capability that has no room-level
// counterpart.
func requireCapability(allowed bool, name string) error {
	if !allowed {
		return denied("missing " + name + " permission")
	}
	return nil
}

// authorizeViewer answers "may viewer perform action on doc". The first
// applicable denial wins:
//  1. viewer status and individual expiry
//  2. the document's explicit viewer restrictions
//  3. the viewer's own document and folder restrictions
//  4. the capability flag combined with the room-level setting and the
//     document's download override
//  5. an unaccepted NDA on a room that requires one
func authorizeViewer(room *models.DataRoom, v *models.Viewer, doc *models.Document, action models.AccessAction, now time.Time) error {
	if err := viewerUsable(v, now); err != nil {
		return err
	}
	if doc != nil && doc.RestrictsViewer(v.ID) {
		return denied("viewer restricted from document")
	}
	if err := authorizeCapability(room, v.Permissions, doc, action); err != nil {
		return err
	}
	if room.NDARequired && v.NDAAcceptedAt == nil && revealsContent(action) {
		return denied("nda not accepted")
	}
	return nil
}

// authorizeCapability is the part of the resolution shared by viewers and
// secure links: explicit restrictions, then capability AND room setting.
func authorizeCapability(room *models.DataRoom, perms models.ViewerPermissions, doc *models.Document, action models.AccessAction) error {
	if doc != nil {
		if slices.Contains(perms.DocumentRestrictions, doc.ID) {
			return denied("document restricted")
		}
		for _, folder := range doc.FolderRestrictions {
			if slices.Contains(perms.FolderRestrictions, folder) {
				return denied("folder restricted")
			}
		}
	}

	if !perms.Allows(action) {
		return denied("missing " + string(action) + " permission")
	}

	switch action {
	case models.ActionDownload:
		if !room.DownloadEnabled {
			return denied("room download disabled")
		}
		if doc != nil && !doc.DownloadAllowed(room) {
			return denied("document download disabled")
		}
	case models.ActionPrint:
		if !room.PrintEnabled {
			return denied("room print disabled")
		}
	}
	return nil
}

// visibleTo reports whether doc should appear in a listing for perms.
func visibleTo(doc *models.Document, viewerID uuid.UUID, perms models.ViewerPermissions) bool {
	if doc.RestrictsViewer(viewerID) || slices.Contains(perms.DocumentRestrictions, doc.ID) {
		return false
	}
	for _, folder := range doc.FolderRestrictions {
		if slices.Contains(perms.FolderRestrictions, folder) {
			return false
		}
	}
	return true
}

func revealsContent(action models.AccessAction) bool {
	switch action {
	case models.ActionView, models.ActionPreview, models.ActionDownload, models.ActionPrint:
		return true
	}
	return false
}
