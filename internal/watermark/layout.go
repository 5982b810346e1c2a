package watermark

import (
	"errors"
	"fmt"
	"regexp"
)

type Pattern string

const (
	PatternDiagonal Pattern = "diagonal"
	PatternCenter   Pattern = "center"
	PatternFooter   Pattern = "footer"
	PatternGrid     Pattern = "grid"
)

func (p Pattern) Valid() bool {
	switch p {
	case PatternDiagonal, PatternCenter, PatternFooter, PatternGrid:
		return true
	}
	return false
}

var ErrInvalidOptions = errors.New("watermark: invalid options")

var colorRe = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type Options struct {
	Pattern  Pattern `json:"pattern"`
	Opacity  float64 `json:"opacity"`
	FontSize float64 `json:"font_size"`
	Rotation float64 `json:"rotation"`
	Color    string  `json:"color"`
}

func DefaultOptions() Options {
	return Options{
		Pattern:  PatternDiagonal,
		Opacity:  0.15,
		FontSize: 12,
		Rotation: -45,
		Color:    "#808080",
	}
}

func (o Options) Validate() error {
	if !o.Pattern.Valid() {
		return fmt.Errorf("%w: pattern %q", ErrInvalidOptions, o.Pattern)
	}
	if o.Opacity <= 0 || o.Opacity > 1 {
		return fmt.Errorf("%w: opacity must be in (0, 1]", ErrInvalidOptions)
	}
	if o.FontSize <= 0 {
		return fmt.Errorf("%w: font size must be positive", ErrInvalidOptions)
	}
	if o.Rotation < -360 || o.Rotation > 360 {
		return fmt.Errorf("%w: rotation out of range", ErrInvalidOptions)
	}
	if !colorRe.MatchString(o.Color) {
		return fmt.Errorf("%w: color must be #RRGGBB", ErrInvalidOptions)
	}
	return nil
}

// Page is a page size in points. The origin is the bottom-left corner.
type Page struct {
	Width  float64
	Height float64
}

// Letter is the page used to size renderer configs.
var Letter = Page{Width: 612, Height: 792}

type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Placement is one text insertion on a page.
type Placement struct {
	Text     string
	X        float64
	Y        float64
	Rotation float64
	FontSize float64
	Opacity  float64
	Color    string
	Align    Align
}

// Mark is what gets drawn: the human-readable text and its tracking code.
type Mark struct {
	Text         string
	TrackingCode string
}

// label joins text and code for the patterns that draw a single string.
func (m Mark) label() string {
	if m.TrackingCode == "" {
		return m.Text
	}
	return m.Text + " | " + m.TrackingCode
}

const (
	diagonalStepX = 400
	diagonalStepY = 150
	gridStepX     = 200
	gridStepY     = 250
	footerMargin  = 20

	centerPrefix = "CONFIDENTIAL | "
)

// Layout computes the placements for one page. The result depends only on
// its arguments.
func Layout(page Page, mark Mark, opts Options) []Placement {
	base := Placement{
		FontSize: opts.FontSize,
		Opacity:  opts.Opacity,
		Color:    opts.Color,
		Align:    AlignLeft,
	}

	switch opts.Pattern {
	case PatternCenter:
		p := base
		p.Text = centerPrefix + mark.label()
		p.X, p.Y = page.Width/2, page.Height/2
		p.Rotation = opts.Rotation
		p.FontSize = opts.FontSize * 2
		p.Opacity = opts.Opacity * 0.5
		p.Align = AlignCenter
		return []Placement{p}

	case PatternGrid:
		var out []Placement
		for y := 0.0; y < page.Height; y += gridStepY {
			for x := 0.0; x < page.Width; x += gridStepX {
				p := base
				p.Text = mark.label()
				p.X, p.Y = x, y
				p.Opacity = opts.Opacity * 0.6
				out = append(out, p)
			}
		}
		return out

	case PatternFooter:
		text := base
		text.Text = mark.Text
		text.X, text.Y = footerMargin, footerMargin
		out := []Placement{text}
		if mark.TrackingCode != "" {
			code := base
			code.Text = mark.TrackingCode
			code.X, code.Y = page.Width-footerMargin, footerMargin
			code.Align = AlignRight
			out = append(out, code)
		}
		return out

	default:
		// Rotated rows start a full page outside each edge so the rotated
		// band still covers the corners.
		var out []Placement
		for y := -page.Height; y < 2*page.Height; y += diagonalStepY {
			for x := -page.Width; x < 2*page.Width; x += diagonalStepX {
				p := base
				p.Text = mark.label()
				p.X, p.Y = x, y
				p.Rotation = opts.Rotation
				out = append(out, p)
			}
		}
		return out
	}
}

// Surface is a rendered document that accepts positioned text.
type Surface interface {
	PageCount() int
	PageSize(index int) Page
	DrawText(index int, p Placement) error
}

// Apply draws mark on every page of s.
func Apply(s Surface, mark Mark, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	for i := 0; i < s.PageCount(); i++ {
		for _, p := range Layout(s.PageSize(i), mark, opts) {
			if err := s.DrawText(i, p); err != nil {
				return fmt.Errorf("draw page %d: %w", i, err)
			}
		}
	}
	return nil
}

// RendererConfig is what a document viewer needs to draw the overlay
// itself, without seeing the viewer's identity fields separately.
type RendererConfig struct {
	Text         string  `json:"text"`
	TrackingCode string  `json:"tracking_code"`
	Pattern      Pattern `json:"pattern"`
	Opacity      float64 `json:"opacity"`
	FontSize     float64 `json:"font_size"`
	Rotation     float64 `json:"rotation"`
	Color        string  `json:"color"`
	Repetitions  int     `json:"repetitions"`
}

// Config builds the renderer config for mark. Repetitions is the number of
// placements on a Letter page.
func Config(mark Mark, opts Options) RendererConfig {
	return RendererConfig{
		Text:         mark.Text,
		TrackingCode: mark.TrackingCode,
		Pattern:      opts.Pattern,
		Opacity:      opts.Opacity,
		FontSize:     opts.FontSize,
		Rotation:     opts.Rotation,
		Color:        opts.Color,
		Repetitions:  len(Layout(Letter, mark, opts)),
	}
}
