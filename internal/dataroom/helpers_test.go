package dataroom

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/objectstore"
	"github.com/lalith-99/dataroom/internal/repository/memory"
	"github.com/lalith-99/dataroom/internal/tenant"
	"github.com/lalith-99/dataroom/internal/watermark"
	"go.uber.org/zap"
)

const hour = time.Hour

var testStart = time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeSigner issues URLs that stay valid until their TTL elapses, and can
// be told to fail the next n calls.
type fakeSigner struct {
	mu       sync.Mutex
	clock    *testClock
	issued   map[string]time.Time
	seq      int
	failures int
	failWith error
	calls    int
}

func (f *fakeSigner) sign(key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return "", f.failWith
	}
	f.seq++
	url := fmt.Sprintf("https://storage.test/%s?sig=%d", key, f.seq)
	f.issued[url] = f.clock.Now().Add(ttl)
	return url, nil
}

func (f *fakeSigner) GetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return f.sign(key, ttl)
}

func (f *fakeSigner) PutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	return f.sign(key, ttl)
}

func (f *fakeSigner) failNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.failWith = err
}

// validAt reports whether an issued URL would still be honoured at t.
func (f *fakeSigner) validAt(url string, t time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, ok := f.issued[url]
	return ok && t.Before(exp)
}

type fakePublisher struct {
	mu      sync.Mutex
	entries []models.AccessLog
}

func (p *fakePublisher) Publish(ctx context.Context, entry models.AccessLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return nil
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	svc     *Service
	store   *memory.Store
	signer  *fakeSigner
	clock   *testClock
	pub     *fakePublisher
	company uuid.UUID
	owner   tenant.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{t: testStart}
	store := memory.New()
	signer := &fakeSigner{clock: clock, issued: make(map[string]time.Time)}
	pub := &fakePublisher{}

	svc, err := NewService(Stores{
		Rooms:      store.Rooms,
		Viewers:    store.Viewers,
		Documents:  store.Documents,
		Links:      store.Links,
		AccessLogs: store.AccessLogs,
		Watermarks: store.Watermarks,
	}, signer, watermark.NewEngine("test-secret", time.UTC), zap.NewNop(),
		WithClock(clock.Now),
		WithPublisher(pub),
		WithPublicBaseURL("https://rooms.example.com/"),
		WithRetry(3, 0),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	company := uuid.New()
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		svc:     svc,
		store:   store,
		signer:  signer,
		clock:   clock,
		pub:     pub,
		company: company,
		owner: tenant.Context{
			UserID:               uuid.New(),
			TenantID:             uuid.New(),
			Email:                "owner@fund.com",
			Name:                 "Olivia Owner",
			AuthorizedCompanyIDs: []uuid.UUID{company},
		},
	}
}

// caller returns an identity in the fixture's tenant and company.
func (f *fixture) caller(email string) tenant.Context {
	return tenant.Context{
		UserID:               uuid.New(),
		TenantID:             f.owner.TenantID,
		Email:                email,
		AuthorizedCompanyIDs: []uuid.UUID{f.company},
	}
}

func (f *fixture) createRoom(settings models.RoomSettings) *models.DataRoom {
	f.t.Helper()
	room, err := f.svc.CreateRoom(f.ctx, f.owner, f.company, CreateRoomInput{
		Name:     "Project Falcon",
		Type:     models.RoomTypeDueDiligence,
		Settings: &settings,
	})
	if err != nil {
		f.t.Fatalf("CreateRoom: %v", err)
	}
	return room
}

func (f *fixture) addViewer(room *models.DataRoom, email string, role models.ViewerRole, perms *models.ViewerPermissions) (*models.Viewer, tenant.Context) {
	f.t.Helper()
	v, err := f.svc.AddViewer(f.ctx, f.owner, f.company, room.ID, AddViewerInput{
		Email:       email,
		Name:        "Vic Viewer",
		Company:     "Acme LP",
		Role:        role,
		Permissions: perms,
	})
	if err != nil {
		f.t.Fatalf("AddViewer(%s): %v", email, err)
	}
	return v, f.caller(email)
}

func (f *fixture) registerDoc(room *models.DataRoom, name string) *models.Document {
	f.t.Helper()
	up, err := f.svc.RegisterDocument(f.ctx, f.owner, f.company, room.ID, RegisterDocumentInput{
		Name:     name,
		MimeType: "application/pdf",
		FileSize: 2048,
	})
	if err != nil {
		f.t.Fatalf("RegisterDocument(%s): %v", name, err)
	}
	return up.Document
}

// logs returns every entry of the room, newest first.
func (f *fixture) logs(room *models.DataRoom) []models.AccessLog {
	f.t.Helper()
	entries, err := f.store.AccessLogs.Query(f.ctx, models.AccessLogQuery{DataRoomID: room.ID})
	if err != nil {
		f.t.Fatalf("query logs: %v", err)
	}
	return entries
}

// logsFor filters the room's entries by action.
func (f *fixture) logsFor(room *models.DataRoom, action models.AccessAction) []models.AccessLog {
	var out []models.AccessLog
	for _, e := range f.logs(room) {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func openRoom() models.RoomSettings {
	return models.RoomSettings{
		WatermarkEnabled: true,
		DownloadEnabled:  true,
		PrintEnabled:     true,
	}
}

func ptr[T any](v T) *T { return &v }

var errUnavailable = fmt.Errorf("presign: %w: SlowDown", objectstore.ErrUnavailable)
