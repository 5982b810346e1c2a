// Package dataroom is the access-control core: rooms, viewers, documents,
// secure links, the audit log and the gateway that turns an authorized
// request into a time-boxed, watermarked content URL.
//
// Every operation that takes a tenant.Context checks the target company
// before reading any entity of it.
package dataroom

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/observ"
	"github.com/lalith-99/dataroom/internal/repository"
	"github.com/lalith-99/dataroom/internal/watermark"
	"go.uber.org/zap"
)

const (
	defaultContentURLTTL  = 4 * time.Hour
	defaultUploadURLTTL   = 15 * time.Minute
	defaultLinkTTL        = 72 * time.Hour
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Stores are the persistence collaborators.
type Stores struct {
	Rooms      repository.RoomRepository
	Viewers    repository.ViewerRepository
	Documents  repository.DocumentRepository
	Links      repository.SecureLinkRepository
	AccessLogs repository.AccessLogRepository
	Watermarks repository.WatermarkRepository
}

// ContentSigner issues capability URLs for stored objects.
type ContentSigner interface {
	GetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	PutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// Publisher fans appended access-log entries out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, entry models.AccessLog) error
}

type Service struct {
	stores    Stores
	signer    ContentSigner
	engine    *watermark.Engine
	logger    *zap.Logger
	publisher Publisher
	now       func() time.Time
	random    io.Reader

	baseURL       string
	contentURLTTL time.Duration
	uploadURLTTL  time.Duration
	linkTTL       time.Duration

	retryAttempts  int
	retryBaseDelay time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithPublisher streams every appended log entry to p.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) error {
		s.publisher = p
		return nil
	}
}

// WithPublicBaseURL sets the origin secure-link URLs are built on.
func WithPublicBaseURL(base string) ServiceOption {
	return func(s *Service) error {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base == "" {
			return errors.New("dataroom: public base url is required")
		}
		s.baseURL = base
		return nil
	}
}

// WithTTLs overrides content URL, upload URL and default link lifetimes.
// Zero values keep the defaults.
func WithTTLs(content, upload, link time.Duration) ServiceOption {
	return func(s *Service) error {
		if content > 0 {
			s.contentURLTTL = content
		}
		if upload > 0 {
			s.uploadURLTTL = upload
		}
		if link > 0 {
			s.linkTTL = link
		}
		return nil
	}
}

// WithRetry overrides the storage retry policy.
func WithRetry(attempts int, baseDelay time.Duration) ServiceOption {
	return func(s *Service) error {
		if attempts < 1 {
			return errors.New("dataroom: retry attempts must be at least 1")
		}
		s.retryAttempts = attempts
		s.retryBaseDelay = baseDelay
		return nil
	}
}

// WithRandom replaces the token entropy source.
func WithRandom(r io.Reader) ServiceOption {
	return func(s *Service) error {
		if r != nil {
			s.random = r
		}
		return nil
	}
}

func NewService(stores Stores, signer ContentSigner, engine *watermark.Engine, logger *zap.Logger, opts ...ServiceOption) (*Service, error) {
	if engine == nil {
		return nil, errors.New("dataroom: watermark engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		stores:         stores,
		signer:         signer,
		engine:         engine,
		logger:         logger,
		now:            time.Now,
		random:         rand.Reader,
		baseURL:        "http://localhost:8081",
		contentURLTTL:  defaultContentURLTTL,
		uploadURLTTL:   defaultUploadURLTTL,
		linkTTL:        defaultLinkTTL,
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// retry runs fn until it succeeds, fails with a non-retryable error or the
// attempts run out. Only ErrStorageUnavailable is retried; the delay
// doubles from retryBaseDelay. Callers pass idempotent work only.
func retry[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	delay := s.retryBaseDelay
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		err = storageErr(op, err)
		if err == nil || !errors.Is(err, ErrStorageUnavailable) || attempt >= s.retryAttempts {
			return v, err
		}

		observ.StorageRetries.Inc()
		s.logger.Warn("retrying storage call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

// retryErr is retry for calls without a result.
func retryErr(ctx context.Context, s *Service, op string, fn func(context.Context) error) error {
	_, err := retry(ctx, s, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
