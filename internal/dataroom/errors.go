package dataroom

import (
	"context"
	"errors"
	"fmt"

	"github.com/lalith-99/dataroom/internal/objectstore"
	"github.com/lalith-99/dataroom/internal/repository"
	"github.com/lalith-99/dataroom/internal/tenant"
)

var (
	ErrUnauthorized       = tenant.ErrUnauthorized
	ErrNotFound           = errors.New("dataroom: not found")
	ErrInvalidLink        = errors.New("dataroom: invalid link")
	ErrLinkExpired        = errors.New("dataroom: link expired")
	ErrLinkExhausted      = errors.New("dataroom: link exhausted")
	ErrPinRequired        = errors.New("dataroom: pin required")
	ErrInvalidPin         = errors.New("dataroom: invalid pin")
	ErrEmailRequired      = errors.New("dataroom: email required")
	ErrEmailNotAuthorized = errors.New("dataroom: email not authorized")
	ErrPermissionDenied   = errors.New("dataroom: permission denied")
	ErrInvalidInput       = errors.New("dataroom: invalid input")
	ErrAlreadyExists      = errors.New("dataroom: already exists")

	// ErrStorageUnavailable is the only retryable class.
	ErrStorageUnavailable = errors.New("dataroom: storage unavailable")
)

// denial is a PermissionDenied carrying which rule denied.
type denial struct {
	detail string
}

func (d *denial) Error() string { return ErrPermissionDenied.Error() + ": " + d.detail }

func (d *denial) Is(target error) bool { return target == ErrPermissionDenied }

func denied(detail string) error {
	return &denial{detail: detail}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

var reasonCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrNotFound, "NOT_FOUND"},
	{ErrInvalidLink, "INVALID_LINK"},
	{ErrLinkExpired, "LINK_EXPIRED"},
	{ErrLinkExhausted, "LINK_EXHAUSTED"},
	{ErrPinRequired, "PIN_REQUIRED"},
	{ErrInvalidPin, "INVALID_PIN"},
	{ErrEmailRequired, "EMAIL_REQUIRED"},
	{ErrEmailNotAuthorized, "EMAIL_NOT_AUTHORIZED"},
	{ErrPermissionDenied, "PERMISSION_DENIED"},
	{ErrInvalidInput, "INVALID_INPUT"},
	{ErrAlreadyExists, "ALREADY_EXISTS"},
	{ErrStorageUnavailable, "STORAGE_UNAVAILABLE"},
	{context.Canceled, "CANCELLED"},
	{context.DeadlineExceeded, "DEADLINE_EXCEEDED"},
}

// Reason maps err to the code recorded in an access log's errorReason.
// Permission denials keep their detail, e.g.
// "PERMISSION_DENIED: room download disabled".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var d *denial
	if errors.As(err, &d) {
		return "PERMISSION_DENIED: " + d.detail
	}
	for _, rc := range reasonCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return "INTERNAL_ERROR"
}

// IsLinkFailure reports whether err is one of the link validation outcomes
// that an anonymous redeemer only ever sees as "access denied".
func IsLinkFailure(err error) bool {
	for _, target := range []error{
		ErrInvalidLink, ErrLinkExpired, ErrLinkExhausted,
		ErrPinRequired, ErrInvalidPin, ErrEmailRequired, ErrEmailNotAuthorized,
		ErrPermissionDenied, ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storageErr classifies a repository or object-store failure. Contract
// errors (conflict, failed condition, rejected request, cancellation) pass
// through; everything else becomes ErrStorageUnavailable.
func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrConditionFailed),
		errors.Is(err, objectstore.ErrRejected),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
