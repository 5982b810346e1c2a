package dataroom

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/observ"
	"github.com/lalith-99/dataroom/internal/repository"
	"github.com/lalith-99/dataroom/internal/tenant"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenBytes = 32
	minPINLen  = 4
	maxPINLen  = 32
)

type CreateLinkInput struct {
	DocumentID     *uuid.UUID
	ExpiresInHours int
	MaxUses        *int
	RequireEmail   bool
	AllowedEmails  []string
	RequirePIN     bool
	PIN            string
	// Permissions defaults to view-only when nil.
	Permissions *models.ViewerPermissions
	RequestMeta
}

// CreatedLink carries the only copy of the raw token that ever leaves the
// service, embedded in URL.
type CreatedLink struct {
	Link *models.SecureLink `json:"link"`
	URL  string             `json:"url"`
}

// CreateSecureLink issues a tokenized link. The caller must hold canShare
// and the link may only grant capabilities the caller holds.
func (s *Service) CreateSecureLink(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID, in CreateLinkInput) (*CreatedLink, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}

	entry := changeEntry(room, tc, models.ActionShare, in.RequestMeta)
	entry.DocumentID = in.DocumentID
	var created *CreatedLink
	err = s.roomChange(ctx, tc, room, entry, requireActive, func(caller *models.Viewer, _ *models.AccessLog) error {
		var err error
		created, err = s.createSecureLink(ctx, room, caller, in, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("secure link created",
		zap.String("room_id", room.ID.String()),
		zap.String("link_id", created.Link.ID.String()),
		zap.Time("expires_at", created.Link.ExpiresAt),
	)
	return created, nil
}

func (s *Service) createSecureLink(ctx context.Context, room *models.DataRoom, caller *models.Viewer, in CreateLinkInput, now time.Time) (*CreatedLink, error) {
	var doc *models.Document
	if in.DocumentID != nil {
		var err error
		doc, err = retry(ctx, s, "get document", func(ctx context.Context) (*models.Document, error) {
			return s.stores.Documents.GetByID(ctx, room.ID, *in.DocumentID)
		})
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, ErrNotFound
		}
	}
	if err := authorizeViewer(room, caller, doc, models.ActionShare, now); err != nil {
		return nil, err
	}

	perms := models.ViewerPermissions{CanView: true}
	if in.Permissions != nil {
		perms = *in.Permissions
	}
	if !caller.Permissions.Covers(perms) {
		return nil, denied("link exceeds creator permissions")
	}
	// A link's restrictions add to the creator's, never relax them.
	perms.DocumentRestrictions = mergeUnique(perms.DocumentRestrictions, caller.Permissions.DocumentRestrictions)
	perms.FolderRestrictions = mergeUnique(perms.FolderRestrictions, caller.Permissions.FolderRestrictions)

	ttl := s.linkTTL
	switch {
	case in.ExpiresInHours < 0:
		return nil, invalid("expiresInHours must not be negative")
	case in.ExpiresInHours > 0:
		ttl = time.Duration(in.ExpiresInHours) * time.Hour
	}
	// A link never outlives the creator's access or the room.
	expiresAt := now.Add(ttl)
	for _, limit := range []*time.Time{caller.Permissions.ExpiresAt, room.ExpiresAt} {
		if limit != nil && limit.Before(expiresAt) {
			expiresAt = limit.UTC()
		}
	}
	if in.MaxUses != nil && *in.MaxUses < 1 {
		return nil, invalid("maxUses must be at least 1")
	}

	allowed := make([]string, 0, len(in.AllowedEmails))
	for _, raw := range in.AllowedEmails {
		email, err := parseEmail(raw)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(allowed, email) {
			allowed = append(allowed, email)
		}
	}
	if len(allowed) > 0 && !in.RequireEmail {
		return nil, invalid("allowedEmails requires requireEmail")
	}

	var pinHash string
	if in.RequirePIN {
		if len(in.PIN) < minPINLen || len(in.PIN) > maxPINLen {
			return nil, invalid("pin must be %d-%d characters", minPINLen, maxPINLen)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.PIN), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash pin: %w", err)
		}
		pinHash = string(hash)
	} else if in.PIN != "" {
		return nil, invalid("pin given without requirePin")
	}

	token, err := s.newToken()
	if err != nil {
		return nil, err
	}

	link := &models.SecureLink{
		ID:            uuid.New(),
		DataRoomID:    room.ID,
		DocumentID:    in.DocumentID,
		TokenHash:     HashToken(token),
		ExpiresAt:     expiresAt,
		MaxUses:       in.MaxUses,
		RequireEmail:  in.RequireEmail,
		AllowedEmails: allowed,
		RequirePIN:    in.RequirePIN,
		PINHash:       pinHash,
		Permissions:   perms,
		CreatedBy:     caller.ID,
		CreatedAt:     now,
	}
	if err := storageErr("create secure link", s.stores.Links.Create(ctx, link)); err != nil {
		return nil, err
	}

	return &CreatedLink{Link: link, URL: s.baseURL + "/share/" + token}, nil
}

// newToken returns 256 random bits, base64url encoded.
func (s *Service) newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("generate link token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the stored form of a link token: hex SHA-256.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// LinkValidation is a successful redemption.
type LinkValidation struct {
	Link *models.SecureLink
	Room *models.DataRoom
}

// ValidateSecureLink runs the ordered link checks and, when all pass,
// consumes one use. Failures return a distinct error per cause.
func (s *Service) ValidateSecureLink(ctx context.Context, token, pin, email string) (*LinkValidation, error) {
	v, err := s.checkLink(ctx, token, pin, email)
	if err == nil {
		err = s.consumeLink(ctx, v.Link)
	}
	observeLink(err)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// checkLink is every validation step except consumption. On failure it
// still returns what it resolved, so the caller can log against the room.
//  1. lookup by hash (missing or revoked: InvalidLink)
//  2. expiry
//  3. use count
//  4. PIN
//  5. email
func (s *Service) checkLink(ctx context.Context, token, pin, email string) (*LinkValidation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidLink
	}
	link, err := retry(ctx, s, "get secure link", func(ctx context.Context) (*models.SecureLink, error) {
		return s.stores.Links.GetByTokenHash(ctx, HashToken(token))
	})
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrInvalidLink
	}
	v := &LinkValidation{Link: link}
	if link.RevokedAt != nil {
		return v, ErrInvalidLink
	}

	now := s.now()
	if now.After(link.ExpiresAt) {
		return v, ErrLinkExpired
	}
	if link.MaxUses != nil && link.CurrentUses >= *link.MaxUses {
		return v, ErrLinkExhausted
	}

	if link.RequirePIN {
		if pin == "" {
			return v, ErrPinRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(link.PINHash), []byte(pin)) != nil {
			return v, ErrInvalidPin
		}
	}

	if link.RequireEmail {
		email = models.NormalizeEmail(email)
		if email == "" {
			return v, ErrEmailRequired
		}
		if len(link.AllowedEmails) > 0 && !slices.ContainsFunc(link.AllowedEmails, func(allowed string) bool {
			return models.NormalizeEmail(allowed) == email
		}) {
			return v, ErrEmailNotAuthorized
		}
	}

	room, err := retry(ctx, s, "get room", func(ctx context.Context) (*models.DataRoom, error) {
		return s.stores.Rooms.GetForLink(ctx, link.DataRoomID)
	})
	if err != nil {
		return v, err
	}
	if room == nil {
		return v, ErrInvalidLink
	}
	v.Room = room
	if err := requireActive(room, now); err != nil {
		return v, err
	}
	return v, nil
}

// consumeLink takes one use with a single conditional write. When the
// write loses, the link is re-read to report why.
func (s *Service) consumeLink(ctx context.Context, link *models.SecureLink) error {
	now := s.now()
	uses, err := s.stores.Links.ConsumeUse(ctx, link.ID, now)
	if err == nil {
		link.CurrentUses = uses
		return nil
	}
	if !errors.Is(err, repository.ErrConditionFailed) {
		return storageErr("consume secure link", err)
	}

	current, err := retry(ctx, s, "get secure link", func(ctx context.Context) (*models.SecureLink, error) {
		return s.stores.Links.GetByTokenHash(ctx, link.TokenHash)
	})
	switch {
	case err != nil:
		return err
	case current == nil || current.RevokedAt != nil:
		return ErrInvalidLink
	case now.After(current.ExpiresAt):
		return ErrLinkExpired
	}
	return ErrLinkExhausted
}

func observeLink(err error) {
	result := "valid"
	if err != nil {
		result = outcomeLabel(err)
	}
	observ.LinkValidations.WithLabelValues(result).Inc()
}

// ListSecureLinks returns the room's links, newest first. Token hashes and
// PIN hashes are never serialized.
func (s *Service) ListSecureLinks(ctx context.Context, tc tenant.Context, companyID, roomID uuid.UUID) ([]models.SecureLink, error) {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return nil, err
	}
	caller, err := s.actor(ctx, tc, room)
	if err != nil {
		return nil, err
	}
	if err := requireCapability(caller.Permissions.CanShare, "share"); err != nil {
		return nil, err
	}
	return retry(ctx, s, "list secure links", func(ctx context.Context) ([]models.SecureLink, error) {
		return s.stores.Links.ListByRoom(ctx, room.ID)
	})
}

// RevokeSecureLink makes a link fail validation with InvalidLink from now on.
func (s *Service) RevokeSecureLink(ctx context.Context, tc tenant.Context, companyID, roomID, linkID uuid.UUID, meta RequestMeta) error {
	room, err := s.loadRoom(ctx, tc, companyID, roomID)
	if err != nil {
		return err
	}
	err = s.roomChange(ctx, tc, room, changeEntry(room, tc, models.ActionShare, meta), nil, func(caller *models.Viewer, _ *models.AccessLog) error {
		if err := requireCapability(caller.Permissions.CanShare, "share"); err != nil {
			return err
		}
		err := s.stores.Links.Revoke(ctx, room.ID, linkID, s.now().UTC())
		if errors.Is(err, repository.ErrConditionFailed) {
			return ErrNotFound
		}
		return storageErr("revoke secure link", err)
	})
	if err != nil {
		return err
	}

	s.logger.Info("secure link revoked",
		zap.String("room_id", room.ID.String()),
		zap.String("link_id", linkID.String()),
	)
	return nil
}

func mergeUnique[T comparable](dst, src []T) []T {
	for _, v := range src {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
