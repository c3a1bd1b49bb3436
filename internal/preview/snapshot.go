package preview

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/textoverlay/internal/config"
	"github.com/ivlev/textoverlay/internal/renderer"
	"github.com/ivlev/textoverlay/internal/source"
	"github.com/ivlev/textoverlay/internal/system"
)

// Render composites the frame at time t of src with the overlay. Sources
// without known dimensions render at the default size.
func Render(ctx context.Context, src source.Source, tc config.TimelineConfig, t float64, fps int) (*image.RGBA, error) {
	tc, err := tc.Normalize()
	if err != nil {
		return nil, err
	}
	w, h, ok := src.Dimensions()
	if !ok || w <= 0 || h <= 0 {
		w, h = config.DefaultWidth, config.DefaultHeight
	}

	pb := source.NewPlayback(src, w, h, fps)
	defer pb.Close()
	if err := pb.Seek(t); err != nil {
		return nil, err
	}
	if err := pb.Play(ctx); err != nil {
		return nil, err
	}
	f, ok := <-pb.Frames()
	if !ok {
		if err := pb.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("no frame at %.2fs", t)
	}
	defer system.PutImage(f.Image)

	comp, err := renderer.NewCompositor()
	if err != nil {
		return nil, err
	}
	defer comp.Close()

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := comp.Draw(out, f.Image, tc, t); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot writes the composited frame at time t to path as PNG.
func Snapshot(ctx context.Context, src source.Source, tc config.TimelineConfig, t float64, fps int, path string) error {
	img, err := Render(ctx, src, tc, t, fps)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	logrus.WithFields(logrus.Fields{
		"path": path,
		"time": t,
	}).Debug("Snapshot written")
	return f.Close()
}
