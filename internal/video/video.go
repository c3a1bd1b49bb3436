package video

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/textoverlay/internal/system"
)

// ErrUnsupportedContainer is logged when no candidate is accepted and the
// generic container is used anyway.
var ErrUnsupportedContainer = errors.New("no candidate container supported")

// MimeCandidates are tried in order; the last one is the generic fallback.
var MimeCandidates = []string{
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm",
}

// GenericMime is the container used when nothing better is supported.
const GenericMime = "video/webm"

// Facility is a recording backend.
type Facility interface {
	IsTypeSupported(mime string) bool
	NewRecorder(opts RecorderOptions) (Recorder, error)
}

// Negotiate returns the first candidate the facility accepts, falling back
// to the generic container.
func Negotiate(f Facility) string {
	for _, mime := range MimeCandidates {
		if f.IsTypeSupported(mime) {
			return mime
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Negotiate",
		"fallback": GenericMime,
	}).WithError(ErrUnsupportedContainer).Warn("Falling back to generic container")
	return GenericMime
}

// Codecs maps a codec name from a MIME parameter to the ffmpeg encoder.
var Codecs = map[string]string{
	"vp9":    "libvpx-vp9",
	"vp8":    "libvpx",
	"opus":   "libopus",
	"vorbis": "libvorbis",
}

// ParseMime splits "video/webm;codecs=vp9,opus" into the container type and
// its codec list.
func ParseMime(mime string) (container string, codecs []string) {
	parts := strings.Split(mime, ";")
	container = strings.TrimSpace(parts[0])
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.TrimSpace(k) != "codecs" {
			continue
		}
		v = strings.Trim(strings.TrimSpace(v), `"`)
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codecs = append(codecs, c)
			}
		}
	}
	return container, codecs
}

// Extension is the file suffix for a negotiated MIME type.
func Extension(mime string) string {
	container, _ := ParseMime(mime)
	switch container {
	case "video/mp4":
		return ".mp4"
	default:
		return ".webm"
	}
}

// FFmpegFacility records with an ffmpeg process. Encoder support is read
// once from `ffmpeg -encoders`.
type FFmpegFacility struct {
	Bin string

	once     sync.Once
	encoders map[string]bool
}

func NewFFmpegFacility(bin string) *FFmpegFacility {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegFacility{Bin: bin}
}

func (f *FFmpegFacility) loadEncoders() {
	f.once.Do(func() {
		enc, err := system.SupportedEncoders(context.Background(), f.Bin)
		if err != nil {
			logrus.WithError(err).WithField("function", "FFmpegFacility.loadEncoders").Warn("Cannot list encoders")
			enc = map[string]bool{}
		}
		f.encoders = enc
	})
}

// IsTypeSupported accepts webm types whose codecs all have an encoder. The
// bare container is accepted whenever ffmpeg can be run at all.
func (f *FFmpegFacility) IsTypeSupported(mime string) bool {
	container, codecs := ParseMime(mime)
	if container != GenericMime {
		return false
	}
	f.loadEncoders()
	if len(f.encoders) == 0 {
		return false
	}
	for _, c := range codecs {
		enc, ok := Codecs[c]
		if !ok || !f.encoders[enc] {
			return false
		}
	}
	return true
}

func (f *FFmpegFacility) NewRecorder(opts RecorderOptions) (Recorder, error) {
	return newFFmpegRecorder(f.Bin, opts)
}

// RecorderOptions describe the composed stream fed to a recorder.
type RecorderOptions struct {
	Width, Height int
	FPS           int
	SampleRate    int
	VideoBitrate  int
	Mime          string

	// OnData receives encoded chunks in order.
	OnData func([]byte)
	// OnStop fires once after the last chunk was delivered.
	OnStop func()
	// OnError fires instead of OnStop when recording failed.
	OnError func(error)
}

// Recorder encodes the composed stream. Handlers run on the recorder's own
// goroutine.
type Recorder interface {
	Start(ctx context.Context) error
	WriteVideo(frame *image.RGBA) error
	WriteAudio(samples []float32) error
	// Stop ends the input streams. Completion is reported through OnStop or
	// OnError, never by Stop itself.
	Stop() error
	// Close aborts a recorder that is still running.
	Close() error
}
