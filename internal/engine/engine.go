package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/textoverlay/internal/audio"
	"github.com/ivlev/textoverlay/internal/config"
	"github.com/ivlev/textoverlay/internal/effects"
	"github.com/ivlev/textoverlay/internal/renderer"
	"github.com/ivlev/textoverlay/internal/source"
	"github.com/ivlev/textoverlay/internal/system"
	"github.com/ivlev/textoverlay/internal/video"
)

// DefaultMetadataWait is how long Preparing waits once for source
// dimensions before falling back to the default size.
const DefaultMetadataWait = 200 * time.Millisecond

// audioQueue bounds how far audio may run ahead of video on the encoder
// pipes, in frames.
const audioQueue = 256

// Artifact is the finished recording.
type Artifact struct {
	Name     string
	Mime     string
	Path     string
	Data     []byte
	Frames   int64
	Duration float64
}

// Release drops the in-memory copy of the recording.
func (a *Artifact) Release() error {
	a.Data = nil
	return nil
}

// Exporter renders a timeline over a source into a single recording. One
// export runs at a time.
type Exporter struct {
	Config       *config.Config
	Facility     video.Facility
	Compositor   *renderer.Compositor
	MetadataWait time.Duration
	// Rand drives cue randomness; nil seeds from the clock per export.
	Rand *rand.Rand
	// OnStatus observes every session state change.
	OnStatus func(Status)

	mu        sync.Mutex
	running   bool
	session   *Session
	artifacts *Resources
}

func NewExporter(cfg *config.Config, facility video.Facility) (*Exporter, error) {
	comp, err := renderer.NewCompositor()
	if err != nil {
		return nil, fmt.Errorf("compositor: %w", err)
	}
	return &Exporter{
		Config:       cfg,
		Facility:     facility,
		Compositor:   comp,
		MetadataWait: DefaultMetadataWait,
		artifacts:    NewResources(),
	}, nil
}

// Session returns the most recent export session, nil before the first.
func (e *Exporter) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Close releases the last artifact and the compositor.
func (e *Exporter) Close() error {
	return errors.Join(e.artifacts.ReleaseAll(), e.Compositor.Close())
}

// Export plays src once from the start, composites tc over every frame,
// mixes the source audio with the cue and records the result. The artifact
// is assembled only after the recorder reports it has stopped.
func (e *Exporter) Export(ctx context.Context, src source.Source, tc config.TimelineConfig) (*Artifact, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrExportInProgress
	}
	e.running = true
	sess := NewSession(e.OnStatus)
	e.session = sess
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	res := NewResources()
	defer func() {
		if err := res.ReleaseAll(); err != nil {
			logrus.WithField("session", sess.ID).WithError(err).Warn("Session resources not fully released")
		}
	}()

	stats := &runStats{start: time.Now()}
	art, err := e.run(ctx, sess, res, src, tc, stats)
	if err != nil {
		sess.Fail(err)
		return nil, err
	}

	if err := e.artifacts.Track("artifact", art.Release); err != nil {
		logrus.WithError(err).Warn("Previous artifact not released")
	}
	if e.Config.ShowStats {
		e.report(sess, art, stats)
	}
	return art, nil
}

func (e *Exporter) run(ctx context.Context, sess *Session, res *Resources, src source.Source, tc config.TimelineConfig, stats *runStats) (*Artifact, error) {
	if err := sess.Transition(Preparing, "Preparing export..."); err != nil {
		return nil, err
	}
	tc, err := tc.Normalize()
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}

	cfg := e.Config
	fps, rate := config.CaptureFPS, cfg.SampleRate
	w, h := e.resolveDimensions(ctx, sess, src)

	surface := system.GetImage(image.Rect(0, 0, w, h))
	res.Track("surface", func() error {
		system.PutImage(surface)
		return nil
	})

	actx := audio.NewContext(rate)
	res.Track("audio", actx.Close)

	pb := source.NewPlayback(src, w, h, fps, source.WithSampleRate(rate))
	pb.Muted = true
	res.Track("playback", pb.Close)

	// one snapshot of both clocks; every schedule derives from it
	pair := audio.Capture(actx, pb, audio.DefaultLead)
	when := pair.EngineTime(tc.StartTime)

	media := actx.NewMediaSource()
	cue, err := effects.BuildCue(actx, tc, when, e.rng())
	if err != nil {
		return nil, err
	}
	graph := audio.Compose(actx, media, cue)

	mime := video.Negotiate(e.Facility)
	sess.setFormat(w, h, fps, mime)

	monitor, err := e.openMonitor(res, rate)
	if err != nil {
		return nil, err
	}

	recCtx, cancelRec := context.WithCancelCause(ctx)
	defer cancelRec(nil)

	stopped := make(chan []byte, 1)
	rec, err := e.Facility.NewRecorder(video.RecorderOptions{
		Width:        w,
		Height:       h,
		FPS:          fps,
		SampleRate:   rate,
		VideoBitrate: cfg.VideoBitrate,
		Mime:         mime,
		OnData:       sess.appendChunk,
		OnStop: func() {
			stopped <- sess.assemble()
		},
		OnError: func(err error) {
			if !errors.Is(err, ErrRecorderFault) {
				err = fmt.Errorf("%w: %v", ErrRecorderFault, err)
			}
			cancelRec(err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecorderFault, err)
	}
	res.Track("recorder", rec.Close)

	if err := pb.Seek(0); err != nil {
		return nil, err
	}
	if err := pb.Play(recCtx); err != nil {
		return nil, err
	}
	media.Attach(pb.Audio(), actx.CurrentFrame())
	if err := rec.Start(recCtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecorderFault, err)
	}

	logrus.WithFields(logrus.Fields{
		"session": sess.ID,
		"size":    fmt.Sprintf("%dx%d", w, h),
		"fps":     fps,
		"mime":    mime,
		"cue":     tc.Cue,
		"cue_at":  when,
	}).Info("Export started")

	if err := sess.Transition(Rendering, "Rendering..."); err != nil {
		return nil, err
	}
	stats.renderStart = time.Now()
	frames, err := e.render(recCtx, pb, graph, actx, rec, surface, monitor, tc)
	stats.renderEnd = time.Now()
	stats.frames = frames
	if err != nil {
		return nil, err
	}
	if frames == 0 {
		return nil, fmt.Errorf("%w: no frames rendered", ErrPlaybackStart)
	}

	if err := rec.Stop(); err != nil {
		return nil, fmt.Errorf("%w: stop: %v", ErrRecorderFault, err)
	}
	if err := sess.Transition(Finalizing, "Finalizing..."); err != nil {
		return nil, err
	}

	var data []byte
	select {
	case data = <-stopped:
	case <-recCtx.Done():
		return nil, context.Cause(recCtx)
	}
	stats.finalizeEnd = time.Now()

	art := &Artifact{
		Name:     "export" + video.Extension(mime),
		Mime:     mime,
		Data:     data,
		Frames:   frames,
		Duration: float64(frames) / float64(fps),
	}
	if cfg.OutputPath != "" {
		if err := writeArtifact(res, cfg.OutputPath, data); err != nil {
			return nil, err
		}
		art.Path = cfg.OutputPath
	}

	if err := sess.Transition(Complete, fmt.Sprintf("Done: %s (%d bytes)", art.Name, len(data))); err != nil {
		return nil, err
	}
	return art, nil
}

// render draws one surface per decoded frame and renders the matching slice
// of audio. Video goes to the recorder from this goroutine, audio through a
// queue so neither encoder pipe can stall the other.
func (e *Exporter) render(
	ctx context.Context,
	pb *source.Playback,
	graph *audio.Graph,
	actx *audio.Context,
	rec video.Recorder,
	surface *image.RGBA,
	monitor *audio.WAVWriter,
	tc config.TimelineConfig,
) (int64, error) {
	fps, rate := config.CaptureFPS, e.Config.SampleRate
	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan []float32, audioQueue)

	g.Go(func() error {
		for block := range queue {
			if err := rec.WriteAudio(block); err != nil {
				return err
			}
		}
		return nil
	})

	var frames int64
	g.Go(func() error {
		defer close(queue)
		for {
			var f source.Frame
			var ok bool
			select {
			case <-gctx.Done():
				return context.Cause(gctx)
			case f, ok = <-pb.Frames():
			}
			if !ok {
				if err := pb.Err(); err != nil {
					return fmt.Errorf("decode: %w", err)
				}
				return nil
			}

			err := e.Compositor.Draw(surface, f.Image, tc, f.Time)
			system.PutImage(f.Image)
			if err != nil {
				return err
			}

			n := SamplesForFrame(frames, rate, fps)
			capture, mon, err := graph.Render(actx, n)
			if err != nil {
				return err
			}
			if monitor != nil {
				if err := monitor.Write(mon); err != nil {
					return fmt.Errorf("monitor: %w", err)
				}
			}
			block := make([]float32, n)
			for i, s := range capture {
				block[i] = float32(s)
			}

			select {
			case queue <- block:
			case <-gctx.Done():
				return context.Cause(gctx)
			}
			if err := rec.WriteVideo(surface); err != nil {
				return err
			}
			frames++
		}
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		// playback ends quietly on cancellation
		err = context.Cause(ctx)
	}
	return frames, err
}

// SamplesForFrame is the audio block length for frame i so that n frames
// always carry exactly n*rate/fps samples.
func SamplesForFrame(i int64, rate, fps int) int {
	r, f := int64(rate), int64(fps)
	return int((i+1)*r/f - i*r/f)
}

func (e *Exporter) resolveDimensions(ctx context.Context, sess *Session, src source.Source) (int, int) {
	if w, h, ok := src.Dimensions(); ok && w > 0 && h > 0 {
		return evenSize(w), evenSize(h)
	}

	select {
	case <-time.After(e.MetadataWait):
	case <-ctx.Done():
	}
	if w, h, ok := src.Dimensions(); ok && w > 0 && h > 0 {
		return evenSize(w), evenSize(h)
	}

	logrus.WithFields(logrus.Fields{
		"session":  sess.ID,
		"fallback": fmt.Sprintf("%dx%d", config.DefaultWidth, config.DefaultHeight),
	}).WithError(ErrMetadataUnavailable).Warn("Using default dimensions")
	return config.DefaultWidth, config.DefaultHeight
}

// evenSize rounds up to an even number for 4:2:0 chroma subsampling.
func evenSize(v int) int {
	if v%2 != 0 {
		v++
	}
	return v
}

func (e *Exporter) rng() *rand.Rand {
	if e.Rand != nil {
		return e.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func (e *Exporter) openMonitor(res *Resources, rate int) (*audio.WAVWriter, error) {
	path := e.Config.MonitorPath
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	wav, err := audio.NewWAVWriter(f, rate)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("monitor: %w", err)
	}
	res.Track("monitor", func() error {
		if n := wav.Clipped(); n > 0 {
			logrus.WithField("samples", n).Warn("Monitor output clipped")
		}
		return errors.Join(wav.Close(), f.Close())
	})
	return wav, nil
}

// writeArtifact writes through a temp file in the target folder so a failed
// export never leaves a truncated file behind.
func writeArtifact(res *Resources, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".export-*.tmp")
	if err != nil {
		return err
	}
	res.Track("artifact-tmp", func() error {
		err := os.Remove(tmp.Name())
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	})

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
