package objectstore

import (
	"context"
	"errors"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

type fakePresignClient struct {
	err     error
	gotKey  string
	gotType string
	gotTTL  time.Duration
}

func (f *fakePresignClient) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.gotKey = *params.Key
	f.gotTTL = expiresOf(optFns)
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3/" + *params.Key + "?sig=get", Method: "GET"}, nil
}

func (f *fakePresignClient) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.gotKey = *params.Key
	f.gotType = *params.ContentType
	f.gotTTL = expiresOf(optFns)
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://bucket.s3/" + *params.Key + "?sig=put", Method: "PUT"}, nil
}

func expiresOf(optFns []func(*s3.PresignOptions)) time.Duration {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts.Expires
}

type fakeAPIError struct {
	code  string
	fault smithy.ErrorFault
}

func (e fakeAPIError) Error() string                 { return e.code }
func (e fakeAPIError) ErrorCode() string             { return e.code }
func (e fakeAPIError) ErrorMessage() string          { return e.code }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return e.fault }

var _ smithy.APIError = fakeAPIError{}

func TestGetURL(t *testing.T) {
	client := &fakePresignClient{}
	p := NewWithClient(client, "docs")

	url, err := p.GetURL(context.Background(), "tenants/a/doc.pdf", 4*time.Hour)
	if err != nil {
		t.Fatalf("GetURL: %v", err)
	}
	if url != "https://bucket.s3/tenants/a/doc.pdf?sig=get" {
		t.Fatalf("url = %q", url)
	}
	if client.gotTTL != 4*time.Hour {
		t.Fatalf("ttl = %v, want 4h", client.gotTTL)
	}
}

func TestPutURL(t *testing.T) {
	client := &fakePresignClient{}
	p := NewWithClient(client, "docs")

	if _, err := p.PutURL(context.Background(), "k", "application/pdf", 15*time.Minute); err != nil {
		t.Fatalf("PutURL: %v", err)
	}
	if client.gotType != "application/pdf" || client.gotTTL != 15*time.Minute {
		t.Fatalf("content type %q ttl %v", client.gotType, client.gotTTL)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "throttled", err: fakeAPIError{code: "SlowDown", fault: smithy.FaultClient}, want: ErrUnavailable},
		{name: "server fault", err: fakeAPIError{code: "Whatever", fault: smithy.FaultServer}, want: ErrUnavailable},
		{name: "access denied", err: fakeAPIError{code: "AccessDenied", fault: smithy.FaultClient}, want: ErrRejected},
		{name: "transport", err: errors.New("dial tcp: connection refused"), want: ErrUnavailable},
		{name: "cancelled", err: context.Canceled, want: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewWithClient(&fakePresignClient{err: tt.err}, "docs")
			_, err := p.GetURL(context.Background(), "k", time.Minute)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestContentKey(t *testing.T) {
	tenantID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	companyID := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	roomID := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	docID := uuid.MustParse("44444444-4444-4444-4444-444444444444")

	got := ContentKey(tenantID, companyID, roomID, docID, "Q3 report.pdf")
	want := "tenants/11111111-1111-1111-1111-111111111111/companies/22222222-2222-2222-2222-222222222222" +
		"/rooms/33333333-3333-3333-3333-333333333333/44444444-4444-4444-4444-444444444444/Q3 report.pdf"
	if got != want {
		t.Fatalf("ContentKey = %q\nwant %q", got, want)
	}
}

func TestSafeFileName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":              "report.pdf",
		"../../etc/passwd":        "passwd",
		`..\..\secret.xlsx`:       "secret.xlsx",
		"..":                      "file",
		"":                        "file",
		"folder/sub/model v2.xls": "model v2.xls",
	}
	for in, want := range tests {
		if got := SafeFileName(in); got != want {
			t.Fatalf("SafeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
