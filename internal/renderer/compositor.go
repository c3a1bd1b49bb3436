package renderer

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/textoverlay/internal/config"
)

const (
	// StrokeWidth of the legibility outline, drawn centered on the glyph edge.
	StrokeWidth = 8
	// StrokeAlpha is 60% black, independent of the fill opacity.
	StrokeAlpha = 0.6
)

// Compositor paints video frames and the text overlay onto a surface.
// It is not safe for concurrent use: one compositor per surface.
type Compositor struct {
	font  *opentype.Font
	faces map[int]font.Face
	last  *textMask
}

// textMask caches the rasterized glyphs of the most recent text.
type textMask struct {
	text    string
	size    int
	fill    *image.Alpha
	stroke  *image.Alpha
	advance float64 // width of the text run
	height  float64 // ascent + descent
	pad     int
}

// NewCompositor loads the bold Go font.
func NewCompositor() (*Compositor, error) {
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse overlay font: %w", err)
	}
	return &Compositor{font: f, faces: make(map[int]font.Face)}, nil
}

// Draw renders frame scaled to dst, then the overlay state at time t.
func (c *Compositor) Draw(dst *image.RGBA, frame image.Image, tc config.TimelineConfig, t float64) error {
	c.drawFrame(dst, frame)

	if !Visible(tc, t) {
		return nil
	}
	state := StateAt(tc, t)
	if state.VisibleText == "" {
		return nil
	}

	m, err := c.mask(state.VisibleText, tc.FontSize)
	if err != nil {
		return err
	}

	b := dst.Bounds()
	cx, cy := Anchor(b.Dx(), b.Dy(), tc.Position)
	cy += state.YOffset

	// textAlign=center, textBaseline=middle
	left := int(math.Round(cx-m.advance/2)) - m.pad + b.Min.X
	top := int(math.Round(cy-m.height/2)) - m.pad + b.Min.Y
	r := m.fill.Bounds().Add(image.Pt(left, top))

	stroke := color.NRGBA{A: uint8(math.Round(StrokeAlpha * 255))}
	draw.DrawMask(dst, r, image.NewUniform(stroke), image.Point{}, m.stroke, image.Point{}, draw.Over)

	fill := color.NRGBA{R: tc.Color.R, G: tc.Color.G, B: tc.Color.B, A: uint8(math.Round(state.Opacity * 255))}
	if fill.A > 0 {
		draw.DrawMask(dst, r, image.NewUniform(fill), image.Point{}, m.fill, image.Point{}, draw.Over)
	}
	return nil
}

// Close releases cached font faces.
func (c *Compositor) Close() error {
	for size, f := range c.faces {
		f.Close()
		delete(c.faces, size)
	}
	c.last = nil
	return nil
}

func (c *Compositor) drawFrame(dst *image.RGBA, frame image.Image) {
	b := dst.Bounds()
	if frame == nil {
		draw.Draw(dst, b, image.Black, image.Point{}, draw.Src)
		return
	}
	if frame.Bounds().Size() == b.Size() {
		draw.Draw(dst, b, frame, frame.Bounds().Min, draw.Src)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, b, frame, frame.Bounds(), xdraw.Src, nil)
}

func (c *Compositor) face(size int) (font.Face, error) {
	if f, ok := c.faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("font face %dpx: %w", size, err)
	}
	c.faces[size] = f
	return f, nil
}

func (c *Compositor) mask(text string, size int) (*textMask, error) {
	if c.last != nil && c.last.text == text && c.last.size == size {
		return c.last, nil
	}

	face, err := c.face(size)
	if err != nil {
		return nil, err
	}

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	descent := metrics.Descent.Ceil()
	advance := font.MeasureString(face, text)

	radius := StrokeWidth / 2
	pad := radius + 2
	w := advance.Ceil() + 2*pad
	h := ascent + descent + 2*pad

	fill := image.NewAlpha(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  fill,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(pad, pad+ascent),
	}
	d.DrawString(text)

	c.last = &textMask{
		text:    text,
		size:    size,
		fill:    fill,
		stroke:  dilate(fill, radius),
		advance: float64(advance) / 64,
		height:  float64(ascent + descent),
		pad:     pad,
	}
	return c.last, nil
}

// dilate grows the mask by a disk of the given radius, which approximates
// stroking the glyph outline with a line of width 2*radius.
func dilate(src *image.Alpha, radius int) *image.Alpha {
	b := src.Bounds()
	dst := image.NewAlpha(b)

	var offsets []image.Point
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				offsets = append(offsets, image.Pt(dx, dy))
			}
		}
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var peak uint8
			for _, o := range offsets {
				px, py := x+o.X, y+o.Y
				if px < b.Min.X || px >= b.Max.X || py < b.Min.Y || py >= b.Max.Y {
					continue
				}
				if a := src.Pix[(py-b.Min.Y)*src.Stride+(px-b.Min.X)]; a > peak {
					peak = a
					if peak == 0xff {
						break
					}
				}
			}
			dst.Pix[(y-b.Min.Y)*dst.Stride+(x-b.Min.X)] = peak
		}
	}
	return dst
}
