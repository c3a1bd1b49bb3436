package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/textoverlay/internal/system"
)

// Frame is one decoded picture. Image comes from the surface pool and
// belongs to the receiver, which returns it with system.PutImage.
type Frame struct {
	Image *image.RGBA
	Index int64
	Time  float64
}

// PlaybackOption configures a Playback.
type PlaybackOption func(*Playback)

// WithRealtime paces frame delivery by the wall clock instead of as fast
// as the consumer reads.
func WithRealtime() PlaybackOption {
	return func(p *Playback) {
		p.realtime = true
	}
}

// WithSampleRate sets the rate of the audio stream returned by Audio.
func WithSampleRate(rate int) PlaybackOption {
	return func(p *Playback) {
		p.sampleRate = rate
	}
}

// Playback plays a Source from a start position. Its clock is the
// presentation time of the last delivered frame and starts over on Seek.
// The end of the clip is signalled by closing Frames and Ended.
type Playback struct {
	src        Source
	w, h, fps  int
	sampleRate int
	realtime   bool

	// Muted keeps the clip's own audio out of any direct output; the audio
	// stream is then only heard through the mixing graph.
	Muted bool

	mu      sync.Mutex
	started bool
	running bool
	paused  bool
	pos     int64 // frame index of the seek target
	current float64
	err     error

	frames  chan Frame
	ended   chan struct{}
	endOnce sync.Once
	reader  FrameReader
	audio   io.ReadCloser
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPlayback prepares playback of src decoded at w×h and fps.
func NewPlayback(src Source, w, h, fps int, opts ...PlaybackOption) *Playback {
	p := &Playback{
		src:        src,
		w:          w,
		h:          h,
		fps:        fps,
		sampleRate: 48000,
		paused:     true,
		frames:     make(chan Frame, 2),
		ended:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Seek moves the start position. Only the beginning of the clip is
// supported once decoding runs, so seeking after Play is an error.
func (p *Playback) Seek(t float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("seek after play is not supported")
	}
	if t < 0 {
		t = 0
	}
	p.pos = int64(t * float64(p.fps))
	p.current = float64(p.pos) / float64(p.fps)
	return nil
}

// Play starts the decoders and waits for the first frame. Any failure up to
// that point is reported as ErrPlaybackStart.
func (p *Playback) Play(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	skip := p.pos
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	reader, err := p.src.OpenFrames(runCtx, p.w, p.h, p.fps)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrPlaybackStart, err)
	}
	p.reader = reader

	first := system.GetImage(image.Rect(0, 0, p.w, p.h))
	for i := int64(0); i <= skip; i++ {
		if err := reader.ReadFrame(first); err != nil {
			system.PutImage(first)
			cancel()
			_ = reader.Close()
			if errors.Is(err, io.EOF) {
				err = errors.New("no frames decoded")
			}
			return fmt.Errorf("%w: %v", ErrPlaybackStart, err)
		}
	}

	audio, err := p.src.OpenAudio(runCtx, p.sampleRate)
	if err != nil {
		system.PutImage(first)
		cancel()
		_ = reader.Close()
		return fmt.Errorf("%w: %v", ErrPlaybackStart, err)
	}
	p.audio = audio
	if audio != nil && skip > 0 {
		lead := skip * int64(p.sampleRate) / int64(p.fps) * 4
		if _, err := io.CopyN(io.Discard, audio, lead); err != nil && !errors.Is(err, io.EOF) {
			p.setErr(err)
		}
	}

	p.mu.Lock()
	p.paused = false
	p.running = true
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Playback.Play",
		"size":     fmt.Sprintf("%dx%d", p.w, p.h),
		"fps":      p.fps,
		"muted":    p.Muted,
		"audio":    audio != nil,
		"realtime": p.realtime,
	}).Debug("Playback started")

	p.wg.Add(1)
	go p.run(runCtx, first, skip)
	return nil
}

func (p *Playback) run(ctx context.Context, first *image.RGBA, index int64) {
	defer p.wg.Done()
	defer p.finish()

	var tick <-chan time.Time
	if p.realtime {
		t := time.NewTicker(time.Second / time.Duration(p.fps))
		defer t.Stop()
		tick = t.C
	}

	img := first
	for {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				system.PutImage(img)
				return
			}
		}

		ts := float64(index) / float64(p.fps)
		select {
		case p.frames <- Frame{Image: img, Index: index, Time: ts}:
		case <-ctx.Done():
			system.PutImage(img)
			return
		}
		p.mu.Lock()
		p.current = ts
		p.mu.Unlock()

		index++
		img = system.GetImage(image.Rect(0, 0, p.w, p.h))
		if err := p.reader.ReadFrame(img); err != nil {
			system.PutImage(img)
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				p.setErr(err)
			}
			return
		}
	}
}

func (p *Playback) finish() {
	p.endOnce.Do(func() {
		p.mu.Lock()
		p.paused = true
		p.mu.Unlock()
		close(p.frames)
		close(p.ended)
	})
}

func (p *Playback) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// Frames delivers decoded frames and is closed after the last one.
func (p *Playback) Frames() <-chan Frame {
	return p.frames
}

// Ended is closed when playback reached the end or was closed.
func (p *Playback) Ended() <-chan struct{} {
	return p.ended
}

// Audio is the decoded mono track, nil when the source has none or before
// Play.
func (p *Playback) Audio() io.Reader {
	if p.audio == nil {
		return nil
	}
	return p.audio
}

// CurrentTime is the media clock in seconds.
func (p *Playback) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Playback) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Err reports a decode failure that ended playback early.
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close stops decoding and releases the decoders. Frames not yet received
// are dropped.
func (p *Playback) Close() error {
	p.mu.Lock()
	running := p.running
	p.started = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	if !running {
		p.finish()
	} else {
		// drain so run can observe cancellation and exit
		go func() {
			for f := range p.frames {
				system.PutImage(f.Image)
			}
		}()
		p.wg.Wait()
	}

	var errs []error
	if p.reader != nil {
		errs = append(errs, p.reader.Close())
	}
	if p.audio != nil {
		errs = append(errs, p.audio.Close())
	}
	return errors.Join(errs...)
}
