// Package memory holds in-process implementations of the repository
// interfaces. They follow the same contracts as the Postgres stores
// (nil, nil on miss; ErrConflict; ErrConditionFailed) and back the
// service tests and local runs without a database.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/repository"
)

// Store groups every repository over one shared lock so multi-entity
// writes (room plus owner) are atomic.
type Store struct {
	mu sync.Mutex

	rooms      map[uuid.UUID]models.DataRoom
	viewers    map[uuid.UUID]models.Viewer
	documents  map[uuid.UUID]models.Document
	links      map[uuid.UUID]models.SecureLink
	logs       []models.AccessLog
	watermarks []models.WatermarkRecord

	Rooms      *RoomStore
	Viewers    *ViewerStore
	Documents  *DocumentStore
	Links      *SecureLinkStore
	AccessLogs *AccessLogStore
	Watermarks *WatermarkStore
}

func New() *Store {
	s := &Store{
		rooms:     make(map[uuid.UUID]models.DataRoom),
		viewers:   make(map[uuid.UUID]models.Viewer),
		documents: make(map[uuid.UUID]models.Document),
		links:     make(map[uuid.UUID]models.SecureLink),
	}
	s.Rooms = &RoomStore{s}
	s.Viewers = &ViewerStore{s}
	s.Documents = &DocumentStore{s}
	s.Links = &SecureLinkStore{s}
	s.AccessLogs = &AccessLogStore{s}
	s.Watermarks = &WatermarkStore{s}
	return s
}

var (
	_ repository.RoomRepository       = (*RoomStore)(nil)
	_ repository.ViewerRepository     = (*ViewerStore)(nil)
	_ repository.DocumentRepository   = (*DocumentStore)(nil)
	_ repository.SecureLinkRepository = (*SecureLinkStore)(nil)
	_ repository.AccessLogRepository  = (*AccessLogStore)(nil)
	_ repository.WatermarkRepository  = (*WatermarkStore)(nil)
)

type RoomStore struct{ s *Store }

func (r *RoomStore) CreateWithOwner(_ context.Context, room *models.DataRoom, owner *models.Viewer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.rooms[room.ID]; ok {
		return repository.ErrConflict
	}
	if err := r.s.insertViewerLocked(owner); err != nil {
		return err
	}
	r.s.rooms[room.ID] = *room
	return nil
}

func (r *RoomStore) GetByID(_ context.Context, tenantID, companyID, roomID uuid.UUID) (*models.DataRoom, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[roomID]
	if !ok || room.TenantID != tenantID || room.CompanyID != companyID {
		return nil, nil
	}
	return &room, nil
}

func (r *RoomStore) GetForLink(_ context.Context, roomID uuid.UUID) (*models.DataRoom, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

func (r *RoomStore) ListByCompany(_ context.Context, tenantID, companyID uuid.UUID) ([]models.DataRoom, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.DataRoom, 0)
	for _, room := range r.s.rooms {
		if room.TenantID == tenantID && room.CompanyID == companyID {
			out = append(out, room)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *RoomStore) UpdateSettings(_ context.Context, roomID uuid.UUID, name string, settings models.RoomSettings, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[roomID]
	if !ok {
		return repository.ErrConditionFailed
	}
	room.Name = name
	room.RoomSettings = settings
	room.UpdatedAt = at
	r.s.rooms[roomID] = room
	return nil
}

func (r *RoomStore) SetStatus(_ context.Context, roomID uuid.UUID, status models.RoomStatus, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[roomID]
	if !ok || room.Status != models.RoomStatusActive {
		return repository.ErrConditionFailed
	}
	room.Status = status
	room.UpdatedAt = at
	r.s.rooms[roomID] = room
	return nil
}

func (r *RoomStore) AdjustCounts(_ context.Context, roomID uuid.UUID, documentsDelta, membersDelta int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[roomID]
	if !ok {
		return repository.ErrConditionFailed
	}
	room.DocumentsCount += documentsDelta
	room.MembersCount += membersDelta
	r.s.rooms[roomID] = room
	return nil
}

type ViewerStore struct{ s *Store }

func (s *Store) insertViewerLocked(v *models.Viewer) error {
	email := models.NormalizeEmail(v.Email)
	for _, existing := range s.viewers {
		if existing.DataRoomID == v.DataRoomID &&
			existing.Status != models.ViewerRevoked &&
			models.NormalizeEmail(existing.Email) == email {
			return repository.ErrConflict
		}
	}
	s.viewers[v.ID] = *v
	return nil
}

func (v *ViewerStore) Create(_ context.Context, viewer *models.Viewer) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.insertViewerLocked(viewer)
}

func (v *ViewerStore) GetByID(_ context.Context, roomID, viewerID uuid.UUID) (*models.Viewer, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	viewer, ok := v.s.viewers[viewerID]
	if !ok || viewer.DataRoomID != roomID {
		return nil, nil
	}
	return &viewer, nil
}

func (v *ViewerStore) GetByEmail(_ context.Context, roomID uuid.UUID, email string) (*models.Viewer, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	email = models.NormalizeEmail(email)
	for _, viewer := range v.s.viewers {
		if viewer.DataRoomID == roomID &&
			viewer.Status != models.ViewerRevoked &&
			models.NormalizeEmail(viewer.Email) == email {
			return &viewer, nil
		}
	}
	return nil, nil
}

func (v *ViewerStore) ListByRoom(_ context.Context, roomID uuid.UUID) ([]models.Viewer, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := make([]models.Viewer, 0)
	for _, viewer := range v.s.viewers {
		if viewer.DataRoomID == roomID {
			out = append(out, viewer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *ViewerStore) update(roomID, viewerID uuid.UUID, fn func(*models.Viewer) bool) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	viewer, ok := v.s.viewers[viewerID]
	if !ok || viewer.DataRoomID != roomID || !fn(&viewer) {
		return repository.ErrConditionFailed
	}
	v.s.viewers[viewerID] = viewer
	return nil
}

func (v *ViewerStore) UpdatePermissions(_ context.Context, roomID, viewerID uuid.UUID, role models.ViewerRole, perms models.ViewerPermissions) error {
	return v.update(roomID, viewerID, func(viewer *models.Viewer) bool {
		if viewer.Status == models.ViewerRevoked {
			return false
		}
		viewer.Role = role
		viewer.Permissions = perms
		return true
	})
}

func (v *ViewerStore) Revoke(_ context.Context, roomID, viewerID uuid.UUID, at time.Time) error {
	return v.update(roomID, viewerID, func(viewer *models.Viewer) bool {
		if viewer.Status == models.ViewerRevoked {
			return false
		}
		viewer.Status = models.ViewerRevoked
		viewer.RevokedAt = &at
		return true
	})
}

func (v *ViewerStore) AcceptNDA(_ context.Context, roomID, viewerID uuid.UUID, at time.Time) error {
	return v.update(roomID, viewerID, func(viewer *models.Viewer) bool {
		if viewer.Status == models.ViewerRevoked {
			return false
		}
		viewer.NDAAcceptedAt = &at
		return true
	})
}

func (v *ViewerStore) RecordAccess(_ context.Context, viewerID uuid.UUID, download bool, at time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	viewer, ok := v.s.viewers[viewerID]
	if !ok {
		return repository.ErrConditionFailed
	}
	viewer.AccessCount++
	if download {
		viewer.DownloadCount++
	}
	viewer.LastAccessAt = &at
	if viewer.Status == models.ViewerInvited {
		viewer.Status = models.ViewerActive
	}
	v.s.viewers[viewerID] = viewer
	return nil
}

type DocumentStore struct{ s *Store }

func (d *DocumentStore) Create(_ context.Context, doc *models.Document) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, existing := range d.s.documents {
		if existing.DataRoomID == doc.DataRoomID && existing.Name == doc.Name && existing.Version == doc.Version {
			return repository.ErrConflict
		}
	}
	d.s.documents[doc.ID] = *doc
	return nil
}

func (d *DocumentStore) GetByID(_ context.Context, roomID, documentID uuid.UUID) (*models.Document, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	doc, ok := d.s.documents[documentID]
	if !ok || doc.DataRoomID != roomID || doc.DeletedAt != nil {
		return nil, nil
	}
	return &doc, nil
}

func (d *DocumentStore) LatestVersion(_ context.Context, roomID uuid.UUID, name string) (*models.Document, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var latest *models.Document
	for _, doc := range d.s.documents {
		if doc.DataRoomID != roomID || doc.Name != name || doc.DeletedAt != nil {
			continue
		}
		if latest == nil || doc.Version > latest.Version {
			doc := doc
			latest = &doc
		}
	}
	return latest, nil
}

func (d *DocumentStore) MaxVersion(_ context.Context, roomID uuid.UUID, name string) (int, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	highest := 0
	for _, doc := range d.s.documents {
		if doc.DataRoomID == roomID && doc.Name == name && doc.Version > highest {
			highest = doc.Version
		}
	}
	return highest, nil
}

func (d *DocumentStore) ListByRoom(_ context.Context, roomID uuid.UUID) ([]models.Document, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	out := make([]models.Document, 0)
	for _, doc := range d.s.documents {
		if doc.DataRoomID == roomID && doc.DeletedAt == nil {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

func (d *DocumentStore) MarkDeleted(_ context.Context, roomID, documentID uuid.UUID, at time.Time) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	doc, ok := d.s.documents[documentID]
	if !ok || doc.DataRoomID != roomID || doc.DeletedAt != nil {
		return repository.ErrConditionFailed
	}
	doc.DeletedAt = &at
	d.s.documents[documentID] = doc
	return nil
}

func (d *DocumentStore) IncrementCounters(_ context.Context, documentID uuid.UUID, views, downloads int) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	doc, ok := d.s.documents[documentID]
	if !ok {
		return repository.ErrConditionFailed
	}
	doc.ViewCount += int64(views)
	doc.DownloadCount += int64(downloads)
	d.s.documents[documentID] = doc
	return nil
}

type SecureLinkStore struct{ s *Store }

func (l *SecureLinkStore) Create(_ context.Context, link *models.SecureLink) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, existing := range l.s.links {
		if existing.TokenHash == link.TokenHash {
			return repository.ErrConflict
		}
	}
	l.s.links[link.ID] = *link
	return nil
}

func (l *SecureLinkStore) GetByTokenHash(_ context.Context, tokenHash string) (*models.SecureLink, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	for _, link := range l.s.links {
		if link.TokenHash == tokenHash {
			return &link, nil
		}
	}
	return nil, nil
}

func (l *SecureLinkStore) ListByRoom(_ context.Context, roomID uuid.UUID) ([]models.SecureLink, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	out := make([]models.SecureLink, 0)
	for _, link := range l.s.links {
		if link.DataRoomID == roomID {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ConsumeUse checks and increments under the store lock, mirroring the
// conditional UPDATE of the Postgres store.
func (l *SecureLinkStore) ConsumeUse(_ context.Context, linkID uuid.UUID, now time.Time) (int, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	link, ok := l.s.links[linkID]
	if !ok || link.RevokedAt != nil || now.After(link.ExpiresAt) {
		return 0, repository.ErrConditionFailed
	}
	if link.MaxUses != nil && link.CurrentUses >= *link.MaxUses {
		return 0, repository.ErrConditionFailed
	}
	link.CurrentUses++
	l.s.links[linkID] = link
	return link.CurrentUses, nil
}

func (l *SecureLinkStore) Revoke(_ context.Context, roomID, linkID uuid.UUID, at time.Time) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	link, ok := l.s.links[linkID]
	if !ok || link.DataRoomID != roomID || link.RevokedAt != nil {
		return repository.ErrConditionFailed
	}
	link.RevokedAt = &at
	l.s.links[linkID] = link
	return nil
}

type AccessLogStore struct{ s *Store }

func (a *AccessLogStore) Append(_ context.Context, entry *models.AccessLog) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, e := range a.s.logs {
		if e.ID == entry.ID {
			return repository.ErrConflict
		}
	}
	a.s.logs = append(a.s.logs, *entry)
	return nil
}

func (a *AccessLogStore) Query(_ context.Context, q models.AccessLogQuery) ([]models.AccessLog, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	out := make([]models.AccessLog, 0)
	for _, e := range a.s.logs {
		if e.DataRoomID != q.DataRoomID {
			continue
		}
		if q.DocumentID != nil && (e.DocumentID == nil || *e.DocumentID != *q.DocumentID) {
			continue
		}
		if q.DocumentID == nil && q.ViewerID != "" && e.ViewerID != q.ViewerID {
			continue
		}
		if q.StartDate != nil && e.Timestamp.Before(*q.StartDate) {
			continue
		}
		if q.EndDate != nil && e.Timestamp.After(*q.EndDate) {
			continue
		}
		if q.Before != "" && e.ID >= q.Before {
			continue
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(x, y models.AccessLog) int {
		switch {
		case x.ID > y.ID:
			return -1
		case x.ID < y.ID:
			return 1
		}
		return 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type WatermarkStore struct{ s *Store }

func (w *WatermarkStore) Create(_ context.Context, rec *models.WatermarkRecord) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.watermarks = append(w.s.watermarks, *rec)
	return nil
}

func (w *WatermarkStore) FindByTrackingCode(_ context.Context, tenantID, documentID uuid.UUID, code string) (*models.WatermarkRecord, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	for i := len(w.s.watermarks) - 1; i >= 0; i-- {
		rec := w.s.watermarks[i]
		if rec.TenantID == tenantID && rec.DocumentID == documentID && rec.TrackingCode == code {
			return &rec, nil
		}
	}
	return nil, nil
}

func (w *WatermarkStore) ListByDocument(_ context.Context, tenantID, documentID uuid.UUID) ([]models.WatermarkRecord, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	out := make([]models.WatermarkRecord, 0)
	for i := len(w.s.watermarks) - 1; i >= 0; i-- {
		rec := w.s.watermarks[i]
		if rec.TenantID == tenantID && rec.DocumentID == documentID {
			out = append(out, rec)
		}
	}
	return out, nil
}
