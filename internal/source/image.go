package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"

	xdraw "golang.org/x/image/draw"
)

// ImageSource holds a still picture for a fixed duration. It has no audio
// and needs no external decoder.
type ImageSource struct {
	img      image.Image
	duration float64
}

// NewImageSource loads a JPEG or PNG still.
func NewImageSource(path string, duration float64) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &ImageSource{img: img, duration: duration}, nil
}

// NewSolidSource is a synthetic w×h clip filled with c.
func NewSolidSource(w, h int, c color.Color, duration float64) *ImageSource {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return &ImageSource{img: img, duration: duration}
}

func (s *ImageSource) Dimensions() (int, int, bool) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy(), true
}

func (s *ImageSource) Duration() float64 {
	return s.duration
}

func (s *ImageSource) HasAudio() bool {
	return false
}

// FrameCount is the number of frames the still lasts at fps.
func (s *ImageSource) FrameCount(fps int) int {
	return int(math.Round(s.duration * float64(fps)))
}

func (s *ImageSource) OpenFrames(_ context.Context, w, h, fps int) (FrameReader, error) {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	b := s.img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		draw.Draw(frame, frame.Bounds(), s.img, b.Min, draw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(frame, frame.Bounds(), s.img, b, xdraw.Src, nil)
	}
	return &stillFrames{pix: frame.Pix, remaining: s.FrameCount(fps)}, nil
}

func (s *ImageSource) OpenAudio(context.Context, int) (io.ReadCloser, error) {
	return nil, nil
}

func (s *ImageSource) Close() error {
	return nil
}

type stillFrames struct {
	pix       []byte
	remaining int
}

func (f *stillFrames) ReadFrame(dst *image.RGBA) error {
	if f.remaining <= 0 {
		return io.EOF
	}
	if len(dst.Pix) != len(f.pix) {
		return fmt.Errorf("frame size mismatch: got %d bytes, want %d", len(dst.Pix), len(f.pix))
	}
	copy(dst.Pix, f.pix)
	f.remaining--
	return nil
}

func (f *stillFrames) Close() error {
	f.remaining = 0
	return nil
}
