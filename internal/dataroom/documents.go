package dataroom

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/objectstore"
	"github.com/lalith-99/dataroom/internal/repository"
	"github.com/lalith-99/dataroom/internal/tenant"
	"go.uber.org/zap"
)

type RegisterDocumentInput struct {
	Name               string
	MimeType           string
	FileSize           int64
	DownloadOverride   *bool
	ViewerRestrictions []uuid.UUID
	FolderRestrictions []string
	RequestMeta
}

// DocumentUpload is a registered document plus where to PUT its bytes.
type DocumentUpload struct {
	Document  *models.Document `json:"document"`
	UploadURL string           `json:"upload_url"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// RegisterDocument records a new document, or a new version of an existing
// one when a live document with the same name is present.
func (s *Service) RegisterDocument(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, in RegisterDocumentInput) (*DocumentUpload, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}
	var upload *DocumentUpload
	err = s.roomChange(ctx, tc, room, changeEntry(room, tc, models.ActionUpload, in.RequestMeta), requireActive, func(caller *models.Viewer, entry *models.AccessLog) error {
		var err error
		upload, err = s.registerDocument(ctx, room, caller, in, s.now().UTC())
		if upload != nil {
			entry.DocumentID = &upload.Document.ID
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("document registered",
		zap.String("room_id", room.ID.String()),
		zap.String("document_id", upload.Document.ID.String()),
		zap.Int("version", upload.Document.Version),
	)
	return upload, nil
}

func (s *Service) registerDocument(ctx context.Context, room *models.DataRoom, caller *models.Viewer, in RegisterDocumentInput, now time.Time) (*DocumentUpload, error) {
	if err := authorizeViewer(room, caller, nil, models.ActionUpload, now); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 255 {
		return nil, invalid("document name must be 1-255 characters")
	}
	mimeType := strings.TrimSpace(in.MimeType)
	if mimeType == "" {
		return nil, invalid("mime type is required")
	}
	if in.FileSize < 0 {
		return nil, invalid("file size must not be negative")
	}

	prev, err := retry(ctx, s, "latest document version", func(ctx context.Context) (*models.Document, error) {
		return s.stores.Documents.LatestVersion(ctx, room.ID, name)
	})
	if err != nil {
		return nil, err
	}
	// Deleted versions keep their numbers.
	maxVersion, err := retry(ctx, s, "max document version", func(ctx context.Context) (int, error) {
		return s.stores.Documents.MaxVersion(ctx, room.ID, name)
	})
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:                 uuid.New(),
		DataRoomID:         room.ID,
		Name:               name,
		MimeType:           mimeType,
		FileSize:           in.FileSize,
		Version:            maxVersion + 1,
		DownloadOverride:   in.DownloadOverride,
		ViewerRestrictions: in.ViewerRestrictions,
		FolderRestrictions: in.FolderRestrictions,
		UploadedBy:         caller.ID,
		CreatedAt:          now,
	}
	if prev != nil {
		doc.PreviousVersionID = &prev.ID
	}
	doc.FileKey = objectstore.ContentKey(room.TenantID, room.CompanyID, room.ID, doc.ID, name)

	// Sign before persisting so a storage outage leaves no orphaned record.
	uploadURL, err := retry(ctx, s, "presign upload", func(ctx context.Context) (string, error) {
		return s.signer.PutURL(ctx, doc.FileKey, mimeType, s.uploadURLTTL)
	})
	if err != nil {
		return nil, err
	}

	err = s.stores.Documents.Create(ctx, doc)
	if errors.Is(err, repository.ErrConflict) {
		// Another upload took this version number first.
		return nil, ErrAlreadyExists
	}
	if err := storageErr("create document", err); err != nil {
		return nil, err
	}
	if err := storageErr("adjust room counts", s.stores.Rooms.AdjustCounts(ctx, room.ID, 1, 0)); err != nil {
		s.logger.Warn("failed to bump documents count", zap.String("room_id", room.ID.String()), zap.Error(err))
	}

	return &DocumentUpload{
		Document:  doc,
		UploadURL: uploadURL,
		ExpiresAt: now.Add(s.uploadURLTTL),
	}, nil
}

// ListDocuments returns the live documents the caller is not restricted
// from, newest version first within each name.
func (s *Service) ListDocuments(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID) ([]models.Document, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}
	if err := requireActive(room, s.now()); err != nil {
		return nil, err
	}
	caller, err := s.actor(ctx, tc, room)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(caller.Permissions.CanView, "view"); err != nil {
		return nil, err
	}

	docs, err := retry(ctx, s, "list documents", func(ctx context.Context) ([]models.Document, error) {
		return s.stores.Documents.ListByRoom(ctx, room.ID)
	})
	if err != nil {
		return nil, err
	}
	visible := docs[:0]
	for _, doc := range docs {
		if visibleTo(&doc, caller.ID, caller.Permissions) {
			visible = append(visible, doc)
		}
	}
	return visible, nil
}

// DeleteDocument marks one document version deleted. The stored object and
// the audit trail are kept.
func (s *Service) DeleteDocument(ctx context.Context, tc tenant.Context, companyID, roomID, documentID uuid.UUID, meta RequestMeta) error {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return err
	}
	entry := changeEntry(room, tc, models.ActionDelete, meta)
	entry.DocumentID = &documentID
	err = s.roomChange(ctx, tc, room, entry, requireActive, func(caller *models.Viewer, _ *models.AccessLog) error {
		return s.deleteDocument(ctx, room, caller, documentID, s.now().UTC())
	})
	if err != nil {
		return err
	}

	s.logger.Info("document deleted",
		zap.String("room_id", room.ID.String()),
		zap.String("document_id", documentID.String()),
	)
	return nil
}

func (s *Service) deleteDocument(ctx context.Context, room *models.DataRoom, caller *models.Viewer, documentID uuid.UUID, now time.Time) error {
	doc, err := retry(ctx, s, "get document", func(ctx context.Context) (*models.Document, error) {
		return s.stores.Documents.GetByID(ctx, room.ID, documentID)
	})
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrNotFound
	}
	if err := authorizeViewer(room, caller, doc, models.ActionDelete, now); err != nil {
		return err
	}

	err = s.stores.Documents.MarkDeleted(ctx, room.ID, documentID, now)
	if errors.Is(err, repository.ErrConditionFailed) {
		return ErrNotFound
	}
	if err := storageErr("delete document", err); err != nil {
		return err
	}
	if err := storageErr("adjust room counts", s.stores.Rooms.AdjustCounts(ctx, room.ID, -1, 0)); err != nil {
		s.logger.Warn("failed to drop documents count", zap.String("room_id", room.ID.String()), zap.Error(err))
	}
	return nil
}
