package dataroom

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/observ"
	"github.com/lalith-99/dataroom/internal/repository"
	"github.com/lalith-99/dataroom/internal/tenant"
	"github.com/lalith-99/dataroom/internal/watermark"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AccessGrant is what a caller receives for an authorized access: a
// time-boxed content URL and the watermark the renderer must draw.
type AccessGrant struct {
	URL                  string                    `json:"url"`
	WatermarkID          string                    `json:"watermark_id,omitempty"`
	TrackingCode         string                    `json:"tracking_code,omitempty"`
	ExpiresAt            time.Time                 `json:"expires_at"`
	Watermark            *watermark.RendererConfig `json:"watermark,omitempty"`
	CopyEnabled          bool                      `json:"copy_enabled"`
	ScreenshotProtection bool                      `json:"screenshot_protection"`
}

type AccessRequest struct {
	DocumentID uuid.UUID
	// Watermark overrides the default overlay options.
	Watermark *watermark.Options
	RequestMeta
}

// GetSecureViewURL grants a view of the document.
func (s *Service) GetSecureViewURL(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, req AccessRequest) (*AccessGrant, error) {
	return s.viewerAccess(ctx, tc, companyID, roomID, models.ActionView, req)
}

// GetSecurePreviewURL grants a preview, which is governed like a view.
func (s *Service) GetSecurePreviewURL(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, req AccessRequest) (*AccessGrant, error) {
	return s.viewerAccess(ctx, tc, companyID, roomID, models.ActionPreview, req)
}

// GetSecureDownloadURL grants a download. Both the viewer's canDownload and
// the room and document download settings must allow it.
func (s *Service) GetSecureDownloadURL(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, req AccessRequest) (*AccessGrant, error) {
	return s.viewerAccess(ctx, tc, companyID, roomID, models.ActionDownload, req)
}

// AuthorizePrint grants a print rendering of the document.
func (s *Service) AuthorizePrint(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, req AccessRequest) (*AccessGrant, error) {
	return s.viewerAccess(ctx, tc, companyID, roomID, models.ActionPrint, req)
}

// viewerAccess writes exactly one access-log entry once the room is known,
// whatever the outcome.
func (s *Service) viewerAccess(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, action models.AccessAction, req AccessRequest) (*AccessGrant, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		observ.AccessDecisions.WithLabelValues(string(action), outcomeLabel(err)).Inc()
		return nil, err
	}

	now := accessTime(s.now())
	entry := models.AccessLog{
		DataRoomID:  room.ID,
		DocumentID:  &req.DocumentID,
		ViewerID:    tc.UserID.String(),
		ViewerEmail: models.NormalizeEmail(tc.Email),
		Action:      action,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Timestamp:   now,
	}

	grant, err := s.grantViewer(ctx, tc, room, action, req, now, &entry)
	if err != nil {
		var delivered errDelivered
		if !errors.As(err, &delivered) {
			s.recordOutcome(ctx, entry, err)
		}
		return nil, err
	}
	return grant, nil
}

func (s *Service) grantViewer(ctx context.Context, tc tenant.Context, room *models.DataRoom, action models.AccessAction, req AccessRequest, now time.Time, entry *models.AccessLog) (*AccessGrant, error) {
	if err := requireActive(room, now); err != nil {
		return nil, err
	}
	opts, err := watermarkOptions(req.Watermark)
	if err != nil {
		return nil, err
	}

	viewer, err := retry(ctx, s, "get viewer", func(ctx context.Context) (*models.Viewer, error) {
		return s.stores.Viewers.GetByEmail(ctx, room.ID, tc.Email)
	})
	if err != nil {
		return nil, err
	}
	if viewer == nil {
		return nil, denied("not a room viewer")
	}
	entry.ViewerID = viewer.ID.String()
	if err := viewerUsable(viewer, now); err != nil {
		return nil, err
	}

	doc, err := retry(ctx, s, "get document", func(ctx context.Context) (*models.Document, error) {
		return s.stores.Documents.GetByID(ctx, room.ID, req.DocumentID)
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}

	if err := authorizeViewer(room, viewer, doc, action, now); err != nil {
		return nil, err
	}

	ident := watermark.Identity{
		ViewerEmail: viewer.Email,
		ViewerName:  viewer.Name,
		CompanyName: viewer.Company,
	}
	download := action == models.ActionDownload
	counters := func(ctx context.Context) error {
		return errors.Join(
			s.stores.Viewers.RecordAccess(ctx, viewer.ID, download, now),
			s.incrementDocument(ctx, doc.ID, action),
		)
	}
	return s.deliver(ctx, room, doc, ident, *entry, opts, counters)
}

// deliver signs the content URL, persists the watermark record, then
// appends the success entry while usage counters update alongside. The URL
// is only returned once the watermark record and the log entry are both
// durable. Any failure before the append is returned for the caller to log;
// a failed append leaves nothing to log against, so it is returned as is.
func (s *Service) deliver(ctx context.Context, room *models.DataRoom, doc *models.Document, ident watermark.Identity, entry models.AccessLog, opts watermark.Options, counters func(context.Context) error) (*AccessGrant, error) {
	now := entry.Timestamp

	url, err := retry(ctx, s, "presign content", func(ctx context.Context) (string, error) {
		return s.signer.GetURL(ctx, doc.FileKey, s.contentURLTTL)
	})
	if err != nil {
		return nil, err
	}

	grant := &AccessGrant{
		URL:                  url,
		ExpiresAt:            now.Add(s.contentURLTTL),
		CopyEnabled:          room.CopyEnabled,
		ScreenshotProtection: room.ScreenshotProtection,
	}

	if room.WatermarkEnabled {
		in := watermark.Input{Identity: ident, DocumentID: doc.ID, AccessedAt: now}
		mark := watermark.Mark{Text: s.engine.Text(in), TrackingCode: s.engine.TrackingCode(in)}
		rec := &models.WatermarkRecord{
			ID:           uuid.New(),
			TenantID:     room.TenantID,
			DataRoomID:   room.ID,
			DocumentID:   doc.ID,
			ViewerID:     entry.ViewerID,
			ViewerEmail:  ident.ViewerEmail,
			ViewerName:   ident.ViewerName,
			CompanyName:  ident.CompanyName,
			TrackingCode: mark.TrackingCode,
			Text:         mark.Text,
			AccessedAt:   now,
			CreatedAt:    now,
		}
		err := retryErr(ctx, s, "record watermark", func(ctx context.Context) error {
			err := s.stores.Watermarks.Create(ctx, rec)
			if errors.Is(err, repository.ErrConflict) {
				return nil
			}
			return err
		})
		if err != nil {
			return nil, err
		}

		cfg := watermark.Config(mark, opts)
		grant.WatermarkID = rec.ID.String()
		grant.TrackingCode = mark.TrackingCode
		grant.Watermark = &cfg
		entry.WatermarkID = grant.WatermarkID
	}

	entry.Success = true
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.LogAccess(gctx, entry)
		return err
	})
	g.Go(func() error {
		if err := counters(gctx); err != nil {
			s.logger.Warn("failed to update usage counters",
				zap.String("room_id", room.ID.String()),
				zap.String("document_id", doc.ID.String()),
				zap.Error(err),
			)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("access log append failed, withholding content url",
			zap.String("room_id", room.ID.String()),
			zap.String("document_id", doc.ID.String()),
			zap.Error(err),
		)
		observ.AccessDecisions.WithLabelValues(string(entry.Action), outcomeLabel(err)).Inc()
		return nil, errDelivered{err}
	}

	observ.AccessDecisions.WithLabelValues(string(entry.Action), "granted").Inc()
	return grant, nil
}

// errDelivered marks a failure after which no further log entry may be
// written for the request.
type errDelivered struct{ err error }

func (e errDelivered) Error() string { return e.err.Error() }
func (e errDelivered) Unwrap() error { return e.err }

// accessTime is the instant stamped on an access. Postgres keeps
// microseconds, and tracking codes are re-derived from the stored value.
func accessTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func (s *Service) incrementDocument(ctx context.Context, documentID uuid.UUID, action models.AccessAction) error {
	views, downloads := 1, 0
	if action == models.ActionDownload {
		views, downloads = 0, 1
	}
	return s.stores.Documents.IncrementCounters(ctx, documentID, views, downloads)
}

func watermarkOptions(o *watermark.Options) (watermark.Options, error) {
	if o == nil {
		return watermark.DefaultOptions(), nil
	}
	opts := *o
	if err := opts.Validate(); err != nil {
		return opts, invalid("%v", err)
	}
	return opts, nil
}

type RedeemRequest struct {
	Token string
	PIN   string
	Email string
	// DocumentID selects the document for a room-wide link. A link scoped
	// to one document ignores a matching value and rejects any other.
	DocumentID *uuid.UUID
	Action     models.AccessAction
	Watermark  *watermark.Options
	RequestMeta
}

// RedeemSecureLink is the anonymous path: the link is the credential. It
// validates the link, checks the requested action against the link's own
// permissions and the room settings, consumes one use and issues a grant.
//
// Once the link resolves to a room, exactly one log entry is written under
// viewer id "link:<id>". An unknown token has no room to log against and is
// only counted and logged to the process log.
func (s *Service) RedeemSecureLink(ctx context.Context, req RedeemRequest) (*AccessGrant, error) {
	now := accessTime(s.now())
	action := req.Action
	if action == "" {
		action = models.ActionView
	}
	entry := models.AccessLog{
		ViewerEmail: models.NormalizeEmail(req.Email),
		Action:      action,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
		Timestamp:   now,
		DocumentID:  req.DocumentID,
	}

	grant, link, err := s.redeem(ctx, req, action, now, &entry)
	if err == nil {
		return grant, nil
	}

	var delivered errDelivered
	switch {
	case errors.As(err, &delivered):
	case link != nil:
		if !action.Valid() {
			entry.Action = models.ActionView
		}
		s.recordOutcome(ctx, entry, err)
	default:
		observ.AccessDecisions.WithLabelValues(string(models.ActionView), outcomeLabel(err)).Inc()
		s.logger.Info("secure link rejected",
			zap.String("reason", Reason(err)),
			zap.String("ip", req.IPAddress),
		)
	}
	return nil, err
}

func (s *Service) redeem(ctx context.Context, req RedeemRequest, action models.AccessAction, now time.Time, entry *models.AccessLog) (*AccessGrant, *models.SecureLink, error) {
	v, err := s.checkLink(ctx, req.Token, req.PIN, req.Email)
	var link *models.SecureLink
	if v != nil {
		link = v.Link
		entry.DataRoomID = link.DataRoomID
		entry.ViewerID = "link:" + link.ID.String()
		if link.DocumentID != nil {
			entry.DocumentID = link.DocumentID
		}
	}
	if err != nil {
		observeLink(err)
		return nil, link, err
	}

	grant, err := s.redeemChecked(ctx, v, req, action, now, *entry)
	return grant, link, err
}

func (s *Service) redeemChecked(ctx context.Context, v *LinkValidation, req RedeemRequest, action models.AccessAction, now time.Time, entry models.AccessLog) (*AccessGrant, error) {
	link, room := v.Link, v.Room

	switch action {
	case models.ActionView, models.ActionPreview, models.ActionDownload, models.ActionPrint:
	default:
		return nil, invalid("action %q is not available through a link", action)
	}
	opts, err := watermarkOptions(req.Watermark)
	if err != nil {
		return nil, err
	}

	docID := link.DocumentID
	switch {
	case docID == nil && req.DocumentID == nil:
		return nil, invalid("documentId is required for a room link")
	case docID == nil:
		docID = req.DocumentID
	case req.DocumentID != nil && *req.DocumentID != *docID:
		return nil, denied("link scoped to another document")
	}

	doc, err := retry(ctx, s, "get document", func(ctx context.Context) (*models.Document, error) {
		return s.stores.Documents.GetByID(ctx, room.ID, *docID)
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	if err := authorizeCapability(room, link.Permissions, doc, action); err != nil {
		return nil, err
	}

	// Consumed last, so a request the link could never serve does not
	// burn a use.
	err = s.consumeLink(ctx, link)
	observeLink(err)
	if err != nil {
		return nil, err
	}

	ident := watermark.Identity{ViewerEmail: entry.ViewerEmail}
	if ident.ViewerEmail == "" {
		ident.ViewerEmail = "secure link " + link.ID.String()[:8]
	}
	counters := func(ctx context.Context) error {
		return s.incrementDocument(ctx, doc.ID, action)
	}
	return s.deliver(ctx, room, doc, ident, entry, opts, counters)
}

// VerifyTrackingCode resolves a tracking code read off a leaked page to the
// access it was issued for. The stored record is re-derived with the HMAC
// key, so a record that was tampered with does not verify.
func (s *Service) VerifyTrackingCode(ctx context.Context, tc tenant.Context, companyID, roomID, documentID uuid.UUID, code string) (*models.WatermarkRecord, error) {
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

	code = watermark.NormalizeCode(code)
	rec, err := retry(ctx, s, "find watermark", func(ctx context.Context) (*models.WatermarkRecord, error) {
		return s.stores.Watermarks.FindByTrackingCode(ctx, room.TenantID, documentID, code)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.DataRoomID != room.ID {
		return nil, ErrNotFound
	}

	in := watermark.Input{
		Identity: watermark.Identity{
			ViewerEmail: rec.ViewerEmail,
			ViewerName:  rec.ViewerName,
			CompanyName: rec.CompanyName,
		},
		DocumentID: rec.DocumentID,
		AccessedAt: rec.AccessedAt,
	}
	if !s.engine.Verify(in, code) {
		s.logger.Warn("watermark record failed verification",
			zap.String("room_id", room.ID.String()),
			zap.String("watermark_id", rec.ID.String()),
		)
		return nil, ErrNotFound
	}
	return rec, nil
}

// ListWatermarks returns every watermark issued for a document of the room,
// newest first. Records of deleted documents stay listable.
func (s *Service) ListWatermarks(ctx context.Context, tc tenant.Context, companyID, roomID, documentID uuid.UUID) ([]models.WatermarkRecord, error) {
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

	records, err := retry(ctx, s, "list watermarks", func(ctx context.Context) ([]models.WatermarkRecord, error) {
		return s.stores.Watermarks.ListByDocument(ctx, room.TenantID, documentID)
	})
	if err != nil {
		return nil, err
	}
	inRoom := records[:0]
	for _, rec := range records {
		if rec.DataRoomID == room.ID {
			inRoom = append(inRoom, rec)
		}
	}
	return inRoom, nil
}
