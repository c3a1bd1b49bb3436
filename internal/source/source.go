// Package source opens the clip the overlay is composited onto and plays it
// back as a stream of decoded frames plus a mono PCM track.
package source

import (
	"context"
	"errors"
	"image"
	"io"
)

var (
	// ErrPlaybackStart means the decoder could not start or produced no
	// first frame.
	ErrPlaybackStart = errors.New("playback failed to start")
	// ErrNotStarted is returned by Playback operations that need Play.
	ErrNotStarted = errors.New("playback not started")
)

// Source is a clip that can be probed and decoded.
type Source interface {
	// Dimensions reports the native frame size; ok is false while the
	// metadata is not known.
	Dimensions() (w, h int, ok bool)
	// Duration in seconds, zero when unknown.
	Duration() float64
	HasAudio() bool
	// OpenFrames decodes frames scaled to w×h at fps.
	OpenFrames(ctx context.Context, w, h, fps int) (FrameReader, error)
	// OpenAudio decodes mono float32 little-endian PCM at sampleRate. It
	// returns a nil reader for sources without audio.
	OpenAudio(ctx context.Context, sampleRate int) (io.ReadCloser, error)
	Close() error
}

// FrameReader yields decoded RGBA frames in presentation order.
type FrameReader interface {
	// ReadFrame fills dst, which must match the size requested from
	// OpenFrames. It returns io.EOF after the last frame.
	ReadFrame(dst *image.RGBA) error
	Close() error
}

// rawFrames reads packed RGBA frames from a byte stream.
type rawFrames struct {
	r      io.Reader
	closer func() error
}

func (f *rawFrames) ReadFrame(dst *image.RGBA) error {
	_, err := io.ReadFull(f.r, dst.Pix)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

func (f *rawFrames) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}
