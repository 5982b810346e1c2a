package dataroom

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/watermark"
)

func TestViewGrantIsWatermarkedAndLogged(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	viewer, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	grant, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("GetSecureViewURL: %v", err)
	}
	if !f.signer.validAt(grant.URL, testStart) || !grant.ExpiresAt.Equal(testStart.Add(4*hour)) {
		t.Fatalf("grant = %+v", grant)
	}

	want := f.svc.engine.TrackingCode(watermark.Input{
		Identity:   watermark.Identity{ViewerEmail: "lp@fund.com", ViewerName: "Vic Viewer", CompanyName: "Acme LP"},
		DocumentID: doc.ID,
		AccessedAt: testStart,
	})
	if grant.TrackingCode != want {
		t.Fatalf("tracking code = %q, want %q", grant.TrackingCode, want)
	}
	if grant.Watermark == nil || grant.Watermark.TrackingCode != want || grant.Watermark.Pattern != watermark.PatternDiagonal {
		t.Fatalf("watermark config = %+v", grant.Watermark)
	}

	views := f.logsFor(room, models.ActionView)
	if len(views) != 1 {
		t.Fatalf("view entries = %d, want 1", len(views))
	}
	e := views[0]
	if !e.Success || e.WatermarkID != grant.WatermarkID || e.ViewerID != viewer.ID.String() || *e.DocumentID != doc.ID {
		t.Fatalf("entry = %+v", e)
	}

	stored, err := f.store.Viewers.GetByID(f.ctx, room.ID, viewer.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != models.ViewerActive || stored.AccessCount != 1 {
		t.Fatalf("viewer after first access = %+v", stored)
	}
}

func TestDownloadBlockedByRoomSetting(t *testing.T) {
	f := newFixture(t)
	settings := openRoom()
	settings.DownloadEnabled = false
	room := f.createRoom(settings)
	doc := f.registerDoc(room, "cim.pdf")
	_, lp := f.addViewer(room, "lp@fund.com", models.RoleExternal, &models.ViewerPermissions{CanView: true, CanDownload: true})

	_, err := f.svc.GetSecureDownloadURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}

	downloads := f.logsFor(room, models.ActionDownload)
	if len(downloads) != 1 || downloads[0].Success {
		t.Fatalf("download entries = %+v", downloads)
	}
	if downloads[0].ErrorReason != "PERMISSION_DENIED: room download disabled" {
		t.Fatalf("reason = %q", downloads[0].ErrorReason)
	}
}

func TestDocumentLevelDenials(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	viewer, lp := f.addViewer(room, "lp@fund.com", models.RoleEditor, nil)

	locked, err := f.svc.RegisterDocument(f.ctx, f.owner, f.company, room.ID, RegisterDocumentInput{
		Name: "locked.pdf", MimeType: "application/pdf", DownloadOverride: ptr(false),
	})
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}
	hidden, err := f.svc.RegisterDocument(f.ctx, f.owner, f.company, room.ID, RegisterDocumentInput{
		Name: "hidden.pdf", MimeType: "application/pdf", ViewerRestrictions: []uuid.UUID{viewer.ID},
	})
	if err != nil {
		t.Fatalf("RegisterDocument: %v", err)
	}

	_, err = f.svc.GetSecureDownloadURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: locked.Document.ID})
	if Reason(err) != "PERMISSION_DENIED: document download disabled" {
		t.Fatalf("override: err = %v", err)
	}
	if _, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: locked.Document.ID}); err != nil {
		t.Fatalf("view of download-locked document: %v", err)
	}

	_, err = f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: hidden.Document.ID})
	if Reason(err) != "PERMISSION_DENIED: viewer restricted from document" {
		t.Fatalf("restriction: err = %v", err)
	}

	docs, err := f.svc.ListDocuments(f.ctx, lp, f.company, room.ID)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != locked.Document.ID {
		t.Fatalf("listing = %+v, want only the unrestricted document", docs)
	}
}

func TestRevokedViewerKeepsIssuedURLsOnly(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	viewer, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	grant, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("GetSecureViewURL: %v", err)
	}
	if err := f.svc.RevokeViewer(f.ctx, f.owner, f.company, room.ID, viewer.ID, RequestMeta{}); err != nil {
		t.Fatalf("RevokeViewer: %v", err)
	}

	f.clock.Advance(hour)
	if _, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if !f.signer.validAt(grant.URL, f.clock.Now()) {
		t.Fatal("URL issued before revocation should stay valid until its TTL")
	}
	if f.signer.validAt(grant.URL, testStart.Add(4*hour)) {
		t.Fatal("URL should lapse at its TTL")
	}
}

func TestGatewayRetriesStorage(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	_, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	before := f.signer.calls
	f.signer.failNext(2, errUnavailable)
	if _, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID}); err != nil {
		t.Fatalf("GetSecureViewURL after two transient failures: %v", err)
	}
	if got := f.signer.calls - before; got != 3 {
		t.Fatalf("presign calls = %d, want 3", got)
	}

	f.signer.failNext(3, errUnavailable)
	_, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}

	views := f.logsFor(room, models.ActionView)
	if len(views) != 2 {
		t.Fatalf("view entries = %d, want 2", len(views))
	}
	if views[0].Success || views[0].ErrorReason != "STORAGE_UNAVAILABLE" || !views[1].Success {
		t.Fatalf("entries = %+v", views)
	}
}

// failingLogs rejects every append with a transport error.
type failingLogs struct {
	appends atomic.Int32
}

func (c *failingLogs) Append(ctx context.Context, entry *models.AccessLog) error {
	c.appends.Add(1)
	return errors.New("connection reset by peer")
}

func (c *failingLogs) Query(ctx context.Context, q models.AccessLogQuery) ([]models.AccessLog, error) {
	return nil, nil
}

func TestGrantWithheldWhenLogAppendFails(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	_, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	logs := &failingLogs{}
	f.svc.stores.AccessLogs = logs

	grant, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID})
	if grant != nil || !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("grant = %+v, err = %v", grant, err)
	}
	// One entry, retried three times; no second failure entry on top.
	if got := logs.appends.Load(); got != 3 {
		t.Fatalf("appends = %d, want 3", got)
	}
}

func TestGrantWithoutWatermark(t *testing.T) {
	f := newFixture(t)
	settings := openRoom()
	settings.WatermarkEnabled = false
	room := f.createRoom(settings)
	doc := f.registerDoc(room, "cim.pdf")
	_, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	grant, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("GetSecureViewURL: %v", err)
	}
	if grant.Watermark != nil || grant.TrackingCode != "" || grant.WatermarkID != "" {
		t.Fatalf("grant = %+v, want no watermark", grant)
	}
	if views := f.logsFor(room, models.ActionView); len(views) != 1 || views[0].WatermarkID != "" {
		t.Fatalf("entries = %+v", views)
	}
}

func TestGatewayRejectsBadWatermarkOptions(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	_, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	opts := watermark.DefaultOptions()
	opts.Opacity = 2
	_, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID, Watermark: &opts})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestArchivedRoomHidesContent(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	_, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	if err := f.svc.ArchiveRoom(f.ctx, f.owner, f.company, room.ID, RequestMeta{}); err != nil {
		t.Fatalf("ArchiveRoom: %v", err)
	}
	if _, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRedeemDocumentLink(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	link, token := f.createLink(room, CreateLinkInput{DocumentID: &doc.ID, MaxUses: ptr(2)})

	_, err := f.svc.RedeemSecureLink(f.ctx, RedeemRequest{Token: token, Action: models.ActionDownload})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("download through view-only link: err = %v, want ErrPermissionDenied", err)
	}
	stored, _ := f.store.Links.GetByTokenHash(f.ctx, link.TokenHash)
	if stored.CurrentUses != 0 {
		t.Fatalf("currentUses = %d, want 0 after a denied action", stored.CurrentUses)
	}

	grant, err := f.svc.RedeemSecureLink(f.ctx, RedeemRequest{Token: token})
	if err != nil {
		t.Fatalf("RedeemSecureLink: %v", err)
	}
	if grant.URL == "" || grant.TrackingCode == "" {
		t.Fatalf("grant = %+v", grant)
	}
	stored, _ = f.store.Links.GetByTokenHash(f.ctx, link.TokenHash)
	if stored.CurrentUses != 1 {
		t.Fatalf("currentUses = %d, want 1", stored.CurrentUses)
	}

	downloads := f.logsFor(room, models.ActionDownload)
	views := f.logsFor(room, models.ActionView)
	if len(downloads) != 1 || downloads[0].Success || len(views) != 1 || !views[0].Success {
		t.Fatalf("downloads = %+v, views = %+v", downloads, views)
	}
	if views[0].ViewerID != "link:"+link.ID.String() || views[0].WatermarkID != grant.WatermarkID {
		t.Fatalf("view entry = %+v", views[0])
	}

	other := f.registerDoc(room, "other.pdf")
	if _, err := f.svc.RedeemSecureLink(f.ctx, RedeemRequest{Token: token, DocumentID: &other.ID}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("other document: err = %v, want ErrPermissionDenied", err)
	}
}

func TestRedeemRoomLinkNeedsDocument(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	_, token := f.createLink(room, CreateLinkInput{RequireEmail: true})

	if _, err := f.svc.RedeemSecureLink(f.ctx, RedeemRequest{Token: token, Email: "guest@bank.com"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	grant, err := f.svc.RedeemSecureLink(f.ctx, RedeemRequest{Token: token, Email: "guest@bank.com", DocumentID: &doc.ID})
	if err != nil {
		t.Fatalf("RedeemSecureLink: %v", err)
	}
	if grant.Watermark == nil || grant.Watermark.Text == "" {
		t.Fatalf("grant = %+v", grant)
	}
	rec, err := f.svc.VerifyTrackingCode(f.ctx, f.owner, f.company, room.ID, doc.ID, grant.TrackingCode)
	if err != nil {
		t.Fatalf("VerifyTrackingCode: %v", err)
	}
	if rec.ViewerEmail != "guest@bank.com" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestRedeemUnknownTokenWritesNoEntry(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())

	if _, err := f.svc.RedeemSecureLink(f.ctx, RedeemRequest{Token: "no-such-token"}); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("err = %v, want ErrInvalidLink", err)
	}
	if entries := f.logs(room); len(entries) != 0 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestVerifyTrackingCode(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	viewer, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	grant, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("GetSecureViewURL: %v", err)
	}

	loose := "  " + grant.TrackingCode[:4] + grant.TrackingCode[5:9] + grant.TrackingCode[10:] + " "
	rec, err := f.svc.VerifyTrackingCode(f.ctx, f.owner, f.company, room.ID, doc.ID, loose)
	if err != nil {
		t.Fatalf("VerifyTrackingCode: %v", err)
	}
	if rec.ViewerID != viewer.ID.String() || rec.ID.String() != grant.WatermarkID || !rec.AccessedAt.Equal(testStart) {
		t.Fatalf("record = %+v", rec)
	}

	if _, err := f.svc.VerifyTrackingCode(f.ctx, f.owner, f.company, room.ID, doc.ID, "0000-0000-0000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.VerifyTrackingCode(f.ctx, lp, f.company, room.ID, doc.ID, grant.TrackingCode); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("viewer without manage: err = %v, want ErrPermissionDenied", err)
	}
}

func TestExpiredViewerDeniedBeforeDocumentLookup(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	perms := models.ViewerPermissions{CanView: true, ExpiresAt: ptr(testStart.Add(hour))}
	_, lp := f.addViewer(room, "lp@fund.com", models.RoleExternal, &perms)
	f.clock.Advance(2 * hour)

	_, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: uuid.New()})
	if !errors.Is(err, ErrPermissionDenied) || Reason(err) != "PERMISSION_DENIED: viewer access expired" {
		t.Fatalf("err = %v (%s), want expiry denial", err, Reason(err))
	}
	views := f.logsFor(room, models.ActionView)
	if len(views) != 1 || views[0].Success || views[0].ErrorReason != Reason(err) {
		t.Fatalf("view entries = %+v", views)
	}
}

func TestListWatermarks(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	viewer, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	grant, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("GetSecureViewURL: %v", err)
	}
	// A record for the same document id under another room of the tenant.
	err = f.store.Watermarks.Create(f.ctx, &models.WatermarkRecord{
		ID:           uuid.New(),
		TenantID:     room.TenantID,
		DataRoomID:   uuid.New(),
		DocumentID:   doc.ID,
		ViewerID:     "elsewhere",
		TrackingCode: "AAAA-BBBB-CCCC",
		AccessedAt:   testStart,
		CreatedAt:    testStart,
	})
	if err != nil {
		t.Fatalf("seed foreign watermark: %v", err)
	}

	records, err := f.svc.ListWatermarks(f.ctx, f.owner, f.company, room.ID, doc.ID)
	if err != nil {
		t.Fatalf("ListWatermarks: %v", err)
	}
	if len(records) != 1 || records[0].ID.String() != grant.WatermarkID || records[0].ViewerID != viewer.ID.String() {
		t.Fatalf("records = %+v", records)
	}

	if _, err := f.svc.ListWatermarks(f.ctx, lp, f.company, room.ID, doc.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("viewer without manage: err = %v, want ErrPermissionDenied", err)
	}
	none, err := f.svc.ListWatermarks(f.ctx, f.owner, f.company, room.ID, uuid.New())
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown document: records = %+v, err = %v", none, err)
	}
}
