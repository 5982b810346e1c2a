// Package watermark derives per-access watermark content and lays it out
// over rendered pages.
//
// Everything here is a pure function of its inputs. The access time is an
// input like any other; nothing reads the wall clock.
package watermark

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is how the access time appears in watermark text.
const TimestampLayout = "2006-01-02 15:04:05 MST"

// Identity is who a watermark is issued to.
type Identity struct {
	ViewerEmail string
	ViewerName  string
	CompanyName string
}

// Input is everything a watermark is derived from.
type Input struct {
	Identity
	DocumentID uuid.UUID
	AccessedAt time.Time
}

type Engine struct {
	secret []byte
	loc    *time.Location
}

// NewEngine returns an engine keyed with secret. Timestamps in watermark
// text are rendered in loc (UTC when nil).
func NewEngine(secret string, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{secret: []byte(secret), loc: loc}
}

// Text renders "{name} | {company} | {email} | {timestamp}". Empty name and
// company segments are left out.
func (e *Engine) Text(in Input) string {
	parts := make([]string, 0, 4)
	if name := strings.TrimSpace(in.ViewerName); name != "" {
		parts = append(parts, name)
	}
	if company := strings.TrimSpace(in.CompanyName); company != "" {
		parts = append(parts, company)
	}
	parts = append(parts, strings.TrimSpace(in.ViewerEmail))
	parts = append(parts, in.AccessedAt.In(e.loc).Format(TimestampLayout))
	return strings.Join(parts, " | ")
}

// TrackingCode is an HMAC-SHA256 over the identity, document and access
// time, truncated to 48 bits and grouped as XXXX-XXXX-XXXX. Without the
// secret a code cannot be forged; with it the server re-derives the code
// from a stored record.
func (e *Engine) TrackingCode(in Input) string {
	mac := hmac.New(sha256.New, e.secret)
	mac.Write([]byte(strings.Join([]string{
		strings.TrimSpace(in.ViewerEmail),
		strings.TrimSpace(in.ViewerName),
		strings.TrimSpace(in.CompanyName),
		in.DocumentID.String(),
		in.AccessedAt.UTC().Format(time.RFC3339Nano),
	}, "\x1f")))
	raw := strings.ToUpper(hex.EncodeToString(mac.Sum(nil)[:6]))
	return raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12]
}

// Verify reports whether code was issued for in, in constant time.
func (e *Engine) Verify(in Input, code string) bool {
	want := e.TrackingCode(in)
	return hmac.Equal([]byte(want), []byte(NormalizeCode(code)))
}

// NormalizeCode upper-cases a code and restores its dashes, so codes read
// off a printed page can be typed in loosely.
func NormalizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) != 12 {
		return s
	}
	return s[0:4] + "-" + s[4:8] + "-" + s[8:12]
}
