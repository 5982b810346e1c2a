package watermark

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

var (
	testDoc  = uuid.MustParse("6f1c2a8e-3b4d-4e5f-8a9b-0c1d2e3f4a5b")
	testTime = time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)
)

func testInput() Input {
	return Input{
		Identity: Identity{
			ViewerEmail: "jane@fund.com",
			ViewerName:  "Jane Doe",
			CompanyName: "Acme Capital",
		},
		DocumentID: testDoc,
		AccessedAt: testTime,
	}
}

func TestText(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)

	tests := []struct {
		name string
		loc  *time.Location
		in   func(*Input)
		want string
	}{
		{
			name: "full identity",
			want: "Jane Doe | Acme Capital | jane@fund.com | 2025-03-01 14:30:00 UTC",
		},
		{
			name: "local zone",
			loc:  est,
			want: "Jane Doe | Acme Capital | jane@fund.com | 2025-03-01 09:30:00 EST",
		},
		{
			name: "no company",
			in:   func(in *Input) { in.CompanyName = "" },
			want: "Jane Doe | jane@fund.com | 2025-03-01 14:30:00 UTC",
		},
		{
			name: "email only",
			in:   func(in *Input) { in.ViewerName, in.CompanyName = "", " " },
			want: "jane@fund.com | 2025-03-01 14:30:00 UTC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := testInput()
			if tt.in != nil {
				tt.in(&in)
			}
			got := NewEngine("test-secret", tt.loc).Text(in)
			if got != tt.want {
				t.Fatalf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTrackingCodeVectors(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		in     func(*Input)
		want   string
	}{
		{name: "base", want: "AE7B-413F-2FA7"},
		{name: "other email", in: func(in *Input) { in.ViewerEmail = "john@fund.com" }, want: "D795-729F-07C6"},
		{name: "other document", in: func(in *Input) {
			in.DocumentID = uuid.MustParse("6f1c2a8e-3b4d-4e5f-8a9b-0c1d2e3f4a5c")
		}, want: "5D67-0E89-A0BE"},
		{name: "one second later", in: func(in *Input) { in.AccessedAt = testTime.Add(time.Second) }, want: "BE8B-900D-F2AD"},
		{name: "other secret", secret: "other-secret", want: "ECC2-DEF2-BA60"},
		{name: "email only", in: func(in *Input) { in.ViewerName, in.CompanyName = "", "" }, want: "9686-CA5E-7DDB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret := tt.secret
			if secret == "" {
				secret = "test-secret"
			}
			in := testInput()
			if tt.in != nil {
				tt.in(&in)
			}
			e := NewEngine(secret, nil)
			got := e.TrackingCode(in)
			if got != tt.want {
				t.Fatalf("TrackingCode() = %q, want %q", got, tt.want)
			}
			if again := e.TrackingCode(in); again != got {
				t.Fatalf("not deterministic: %q then %q", got, again)
			}
		})
	}
}

func TestTrackingCodeIgnoresLocation(t *testing.T) {
	in := testInput()
	local := in
	local.AccessedAt = testTime.In(time.FixedZone("CET", 60*60))

	e := NewEngine("test-secret", nil)
	if e.TrackingCode(in) != e.TrackingCode(local) {
		t.Fatal("same instant in another zone produced a different code")
	}
}

func TestVerify(t *testing.T) {
	e := NewEngine("test-secret", nil)
	in := testInput()

	for _, code := range []string{"AE7B-413F-2FA7", "ae7b413f2fa7", " ae7b-413f-2fa7 "} {
		if !e.Verify(in, code) {
			t.Fatalf("Verify(%q) = false, want true", code)
		}
	}

	if e.Verify(in, "AE7B-413F-2FA8") {
		t.Fatal("accepted a code with one digit changed")
	}
	other := in
	other.ViewerEmail = "john@fund.com"
	if e.Verify(other, "AE7B-413F-2FA7") {
		t.Fatal("accepted a code issued to another viewer")
	}
	if NewEngine("other-secret", nil).Verify(in, "AE7B-413F-2FA7") {
		t.Fatal("accepted a code under another secret")
	}
}

func TestLayoutCounts(t *testing.T) {
	mark := Mark{Text: "Jane Doe | jane@fund.com", TrackingCode: "AE7B-413F-2FA7"}

	tests := []struct {
		pattern Pattern
		want    int
	}{
		{PatternDiagonal, 80},
		{PatternGrid, 16},
		{PatternCenter, 1},
		{PatternFooter, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.pattern), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Pattern = tt.pattern
			if got := len(Layout(Letter, mark, opts)); got != tt.want {
				t.Fatalf("placements = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLayoutDiagonalCoversBeyondEdges(t *testing.T) {
	opts := DefaultOptions()
	placements := Layout(Letter, Mark{Text: "x"}, opts)

	minX, minY := placements[0].X, placements[0].Y
	maxX, maxY := minX, minY
	for _, p := range placements {
		if p.Rotation != -45 {
			t.Fatalf("rotation = %v, want -45", p.Rotation)
		}
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	if minX != -Letter.Width || minY != -Letter.Height {
		t.Fatalf("origin = (%v, %v), want (%v, %v)", minX, minY, -Letter.Width, -Letter.Height)
	}
	if maxX < Letter.Width || maxY < Letter.Height {
		t.Fatalf("tiling stops at (%v, %v), inside the page", maxX, maxY)
	}
}

func TestLayoutPatterns(t *testing.T) {
	mark := Mark{Text: "jane@fund.com", TrackingCode: "AE7B-413F-2FA7"}

	t.Run("center", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Pattern = PatternCenter
		p := Layout(Letter, mark, opts)[0]
		if p.Text != "CONFIDENTIAL | jane@fund.com | AE7B-413F-2FA7" {
			t.Fatalf("text = %q", p.Text)
		}
		if p.X != 306 || p.Y != 396 || p.Align != AlignCenter {
			t.Fatalf("placement = %+v", p)
		}
		if p.FontSize != 24 || p.Opacity != 0.075 {
			t.Fatalf("size/opacity = %v/%v", p.FontSize, p.Opacity)
		}
	})

	t.Run("grid", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Pattern = PatternGrid
		for _, p := range Layout(Letter, mark, opts) {
			if p.Rotation != 0 {
				t.Fatalf("grid placement rotated: %+v", p)
			}
			if p.Opacity >= opts.Opacity {
				t.Fatalf("grid opacity %v not below diagonal %v", p.Opacity, opts.Opacity)
			}
		}
	})

	t.Run("footer", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Pattern = PatternFooter
		got := Layout(Letter, mark, opts)
		want := []Placement{
			{Text: "jane@fund.com", X: 20, Y: 20, FontSize: 12, Opacity: 0.15, Color: "#808080", Align: AlignLeft},
			{Text: "AE7B-413F-2FA7", X: 592, Y: 20, FontSize: 12, Opacity: 0.15, Color: "#808080", Align: AlignRight},
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("footer = %+v\nwant %+v", got, want)
		}
	})
}

type fakeSurface struct {
	pages []Page
	drawn map[int][]Placement
	fail  int
}

func (f *fakeSurface) PageCount() int          { return len(f.pages) }
func (f *fakeSurface) PageSize(index int) Page { return f.pages[index] }
func (f *fakeSurface) DrawText(index int, p Placement) error {
	if index == f.fail {
		return errors.New("surface closed")
	}
	if f.drawn == nil {
		f.drawn = make(map[int][]Placement)
	}
	f.drawn[index] = append(f.drawn[index], p)
	return nil
}

func TestApply(t *testing.T) {
	mark := Mark{Text: "jane@fund.com", TrackingCode: "AE7B-413F-2FA7"}
	opts := DefaultOptions()
	opts.Pattern = PatternGrid

	first := &fakeSurface{pages: []Page{Letter, {Width: 842, Height: 595}}, fail: -1}
	second := &fakeSurface{pages: []Page{Letter, {Width: 842, Height: 595}}, fail: -1}
	if err := Apply(first, mark, opts); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := Apply(second, mark, opts); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(first.drawn, second.drawn) {
		t.Fatal("same inputs produced different output")
	}
	if len(first.drawn[0]) != 16 || len(first.drawn[1]) != 15 {
		t.Fatalf("placements per page = %d, %d", len(first.drawn[0]), len(first.drawn[1]))
	}

	failing := &fakeSurface{pages: []Page{Letter}, fail: 0}
	if err := Apply(failing, mark, opts); err == nil {
		t.Fatal("expected draw error")
	}

	opts.Opacity = 0
	if err := Apply(first, mark, opts); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("err = %v, want ErrInvalidOptions", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := map[string]func(*Options){
		"pattern":   func(o *Options) { o.Pattern = "spiral" },
		"opacity":   func(o *Options) { o.Opacity = 1.5 },
		"font size": func(o *Options) { o.FontSize = 0 },
		"rotation":  func(o *Options) { o.Rotation = 720 },
		"color":     func(o *Options) { o.Color = "grey" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions()
			mutate(&opts)
			if err := opts.Validate(); !errors.Is(err, ErrInvalidOptions) {
				t.Fatalf("err = %v, want ErrInvalidOptions", err)
			}
		})
	}
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestConfig(t *testing.T) {
	mark := Mark{Text: "jane@fund.com", TrackingCode: "AE7B-413F-2FA7"}
	cfg := Config(mark, DefaultOptions())
	if cfg.Repetitions != 80 || cfg.Text != mark.Text || cfg.Rotation != -45 || cfg.Color != "#808080" {
		t.Fatalf("config = %+v", cfg)
	}
}
