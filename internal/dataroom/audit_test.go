package dataroom

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
)

// auditRoom seeds a room with two documents, one viewer and a view of
// each document, an hour apart.
func auditRoom(t *testing.T) (*fixture, *models.DataRoom, *models.Viewer, [2]*models.Document) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	docs := [2]*models.Document{f.registerDoc(room, "cim.pdf"), f.registerDoc(room, "model.xlsx")}
	viewer, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)

	for _, doc := range docs {
		f.clock.Advance(hour)
		if _, err := f.svc.GetSecureViewURL(f.ctx, lp, f.company, room.ID, AccessRequest{DocumentID: doc.ID}); err != nil {
			t.Fatalf("view %s: %v", doc.Name, err)
		}
	}
	return f, room, viewer, docs
}

func TestGetAccessLogsFilters(t *testing.T) {
	f, room, viewer, docs := auditRoom(t)

	all, err := f.svc.GetAccessLogs(f.ctx, f.owner, f.company, room.ID, AccessLogFilter{})
	if err != nil {
		t.Fatalf("GetAccessLogs: %v", err)
	}
	// upload, upload, share, view, view
	if len(all.Entries) != 5 || all.NextCursor != "" {
		t.Fatalf("entries = %d, cursor = %q", len(all.Entries), all.NextCursor)
	}
	for i := 1; i < len(all.Entries); i++ {
		if all.Entries[i-1].ID <= all.Entries[i].ID {
			t.Fatal("entries are not newest first")
		}
	}
	if all.Entries[0].DocumentID == nil || *all.Entries[0].DocumentID != docs[1].ID {
		t.Fatalf("newest entry = %+v, want view of %s", all.Entries[0], docs[1].Name)
	}

	byDoc, err := f.svc.GetAccessLogs(f.ctx, f.owner, f.company, room.ID, AccessLogFilter{DocumentID: &docs[0].ID})
	if err != nil {
		t.Fatalf("by document: %v", err)
	}
	if len(byDoc.Entries) != 2 || byDoc.Entries[0].Action != models.ActionView || byDoc.Entries[1].Action != models.ActionUpload {
		t.Fatalf("by document = %+v", byDoc.Entries)
	}

	byViewer, err := f.svc.GetAccessLogs(f.ctx, f.owner, f.company, room.ID, AccessLogFilter{ViewerID: viewer.ID.String()})
	if err != nil {
		t.Fatalf("by viewer: %v", err)
	}
	if len(byViewer.Entries) != 2 {
		t.Fatalf("by viewer = %d entries, want 2", len(byViewer.Entries))
	}
	for _, e := range byViewer.Entries {
		if e.ViewerID != viewer.ID.String() || e.Action != models.ActionView || !e.Success {
			t.Fatalf("entry = %+v", e)
		}
	}
}

func TestGetAccessLogsDateRange(t *testing.T) {
	f, room, _, docs := auditRoom(t)

	start := testStart.Add(hour + hour/2)
	page, err := f.svc.GetAccessLogs(f.ctx, f.owner, f.company, room.ID, AccessLogFilter{StartDate: &start})
	if err != nil {
		t.Fatalf("GetAccessLogs: %v", err)
	}
	if len(page.Entries) != 1 || *page.Entries[0].DocumentID != docs[1].ID {
		t.Fatalf("entries = %+v", page.Entries)
	}

	end := testStart.Add(hour)
	page, err = f.svc.GetAccessLogs(f.ctx, f.owner, f.company, room.ID, AccessLogFilter{EndDate: &end})
	if err != nil {
		t.Fatalf("GetAccessLogs: %v", err)
	}
	if len(page.Entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(page.Entries))
	}

	if _, err := f.svc.GetAccessLogs(f.ctx, f.owner, f.company, room.ID, AccessLogFilter{StartDate: &start, EndDate: &end}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("inverted range: err = %v, want ErrInvalidInput", err)
	}
}

func TestGetAccessLogsPaging(t *testing.T) {
	f, room, _, _ := auditRoom(t)

	var seen []string
	cursor := ""
	for pages := 0; ; pages++ {
		if pages > 3 {
			t.Fatal("paging did not terminate")
		}
		page, err := f.svc.GetAccessLogs(f.ctx, f.owner, f.company, room.ID, AccessLogFilter{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("GetAccessLogs: %v", err)
		}
		for _, e := range page.Entries {
			seen = append(seen, e.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != 5 {
		t.Fatalf("seen %d entries across pages, want 5", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i-1] <= seen[i] {
			t.Fatalf("pages overlap or are out of order: %v", seen)
		}
	}
}

func TestGetAccessLogsRejectsBadInput(t *testing.T) {
	f, room, viewer, docs := auditRoom(t)

	tests := map[string]AccessLogFilter{
		"document and viewer": {DocumentID: &docs[0].ID, ViewerID: viewer.ID.String()},
		"malformed cursor":    {Cursor: "not-a-cursor"},
		"negative limit":      {Limit: -1},
	}
	for name, filter := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := f.svc.GetAccessLogs(f.ctx, f.owner, f.company, room.ID, filter); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestGetAccessLogsAuthorization(t *testing.T) {
	f, room, _, _ := auditRoom(t)

	stranger := f.caller("owner@fund.com")
	stranger.AuthorizedCompanyIDs = []uuid.UUID{uuid.New()}
	if _, err := f.svc.GetAccessLogs(f.ctx, stranger, f.company, room.ID, AccessLogFilter{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	lp := f.caller("lp@fund.com")
	if _, err := f.svc.GetAccessLogs(f.ctx, lp, f.company, room.ID, AccessLogFilter{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestLogAccessPublishesAndValidates(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())

	entry, err := f.svc.LogAccess(f.ctx, models.AccessLog{
		DataRoomID: room.ID,
		ViewerID:   "system",
		Action:     models.ActionView,
		Success:    true,
	})
	if err != nil {
		t.Fatalf("LogAccess: %v", err)
	}
	if entry.ID == "" || !entry.Timestamp.Equal(testStart) {
		t.Fatalf("entry = %+v", entry)
	}

	f.pub.mu.Lock()
	published := len(f.pub.entries)
	f.pub.mu.Unlock()
	if published != 1 {
		t.Fatalf("published = %d, want 1", published)
	}

	if _, err := f.svc.LogAccess(f.ctx, models.AccessLog{DataRoomID: room.ID, Action: "peek"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := f.svc.LogAccess(f.ctx, models.AccessLog{Action: models.ActionView}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

// Every room-changing call writes one entry, whether it is allowed or not.
func TestRoomChangesLogDenials(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	doc := f.registerDoc(room, "cim.pdf")
	lpViewer, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)
	if err := f.svc.RevokeViewer(f.ctx, f.owner, f.company, room.ID, lpViewer.ID, RequestMeta{}); err != nil {
		t.Fatalf("RevokeViewer: %v", err)
	}
	stranger := f.caller("stranger@other.com")

	calls := []struct {
		name   string
		action models.AccessAction
		email  string
		call   func() error
	}{
		{"link by revoked viewer", models.ActionShare, "lp@fund.com", func() error {
			_, err := f.svc.CreateSecureLink(f.ctx, lp, f.company, room.ID, CreateLinkInput{})
			return err
		}},
		{"upload by revoked viewer", models.ActionUpload, "lp@fund.com", func() error {
			_, err := f.svc.RegisterDocument(f.ctx, lp, f.company, room.ID, RegisterDocumentInput{Name: "x.pdf", MimeType: "application/pdf"})
			return err
		}},
		{"delete by revoked viewer", models.ActionDelete, "lp@fund.com", func() error {
			return f.svc.DeleteDocument(f.ctx, lp, f.company, room.ID, doc.ID, RequestMeta{})
		}},
		{"invite by stranger", models.ActionShare, "stranger@other.com", func() error {
			_, err := f.svc.AddViewer(f.ctx, stranger, f.company, room.ID, AddViewerInput{Email: "friend@other.com"})
			return err
		}},
		{"settings by stranger", models.ActionShare, "stranger@other.com", func() error {
			_, err := f.svc.UpdateRoomSettings(f.ctx, stranger, f.company, room.ID, RoomUpdate{PrintEnabled: ptr(false)})
			return err
		}},
		{"archive by stranger", models.ActionShare, "stranger@other.com", func() error {
			return f.svc.ArchiveRoom(f.ctx, stranger, f.company, room.ID, RequestMeta{})
		}},
		{"nda by stranger", models.ActionShare, "stranger@other.com", func() error {
			_, err := f.svc.AcceptNDA(f.ctx, stranger, f.company, room.ID, RequestMeta{})
			return err
		}},
	}
	for _, c := range calls {
		before := len(f.logs(room))
		if err := c.call(); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("%s: err = %v, want ErrPermissionDenied", c.name, err)
		}
		entries := f.logs(room)
		if len(entries) != before+1 {
			t.Fatalf("%s: wrote %d entries, want 1", c.name, len(entries)-before)
		}
		e := entries[0]
		if e.Success || e.Action != c.action || e.ViewerEmail != c.email || !strings.HasPrefix(e.ErrorReason, "PERMISSION_DENIED") {
			t.Fatalf("%s: entry = %+v", c.name, e)
		}
	}
}

func TestRoomLifecycleChangesAreLogged(t *testing.T) {
	f := newFixture(t)
	room := f.createRoom(openRoom())
	_, lp := f.addViewer(room, "lp@fund.com", models.RoleViewer, nil)
	meta := RequestMeta{IPAddress: "10.0.0.7", UserAgent: "curl/8"}

	if _, err := f.svc.UpdateRoomSettings(f.ctx, f.owner, f.company, room.ID, RoomUpdate{NDARequired: ptr(true), RequestMeta: meta}); err != nil {
		t.Fatalf("UpdateRoomSettings: %v", err)
	}
	if _, err := f.svc.AcceptNDA(f.ctx, lp, f.company, room.ID, meta); err != nil {
		t.Fatalf("AcceptNDA: %v", err)
	}
	if err := f.svc.ArchiveRoom(f.ctx, f.owner, f.company, room.ID, meta); err != nil {
		t.Fatalf("ArchiveRoom: %v", err)
	}

	// invite, settings, nda, archive
	shares := f.logsFor(room, models.ActionShare)
	if len(shares) != 4 {
		t.Fatalf("share entries = %d, want 4", len(shares))
	}
	wantEmails := []string{"owner@fund.com", "lp@fund.com", "owner@fund.com"}
	for i, e := range shares[:3] {
		if !e.Success || e.IPAddress != meta.IPAddress || e.UserAgent != meta.UserAgent || e.ViewerEmail != wantEmails[i] {
			t.Fatalf("entry %d = %+v", i, e)
		}
	}

	if _, err := f.svc.RegisterDocument(f.ctx, f.owner, f.company, room.ID, RegisterDocumentInput{Name: "late.pdf", MimeType: "application/pdf"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("upload to archived room: err = %v, want ErrNotFound", err)
	}
	uploads := f.logsFor(room, models.ActionUpload)
	if len(uploads) != 1 || uploads[0].Success || uploads[0].ErrorReason != "NOT_FOUND" {
		t.Fatalf("upload entries = %+v", uploads)
	}
}
