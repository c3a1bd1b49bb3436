package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/textoverlay/internal/config"
	"github.com/ivlev/textoverlay/internal/source"
	"github.com/ivlev/textoverlay/internal/video"
)

type fakeRecorder struct {
	opts      video.RecorderOptions
	failAfter int // frames before OnError fires, 0 disables

	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
	frames  int
	samples int
	audio   []float32
	failed  bool
}

func (r *fakeRecorder) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *fakeRecorder) WriteVideo(frame *image.RGBA) error {
	r.mu.Lock()
	r.frames++
	n := r.frames
	fail := r.failAfter > 0 && n == r.failAfter
	if fail {
		r.failed = true
	}
	r.mu.Unlock()

	r.opts.OnData([]byte{byte(n)})
	if fail {
		go r.opts.OnError(errors.New("encoder crashed"))
	}
	return nil
}

func (r *fakeRecorder) WriteAudio(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples += len(samples)
	r.audio = append(r.audio, samples...)
	return nil
}

// Stop finishes asynchronously: the tail chunk arrives after Stop returned
// and before OnStop.
func (r *fakeRecorder) Stop() error {
	r.mu.Lock()
	r.stopped = true
	failed := r.failed
	r.mu.Unlock()
	if failed {
		return nil
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.opts.OnData([]byte("END"))
		r.opts.OnStop()
	}()
	return nil
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeFacility struct {
	supported map[string]bool
	failAfter int
	newErr    error

	mu  sync.Mutex
	rec *fakeRecorder
}

func (f *fakeFacility) IsTypeSupported(mime string) bool { return f.supported[mime] }

func (f *fakeFacility) NewRecorder(opts video.RecorderOptions) (video.Recorder, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec = &fakeRecorder{opts: opts, failAfter: f.failAfter}
	return f.rec, nil
}

func (f *fakeFacility) recorder() *fakeRecorder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec
}

// unsizedSource reports no dimensions for the first misses calls.
type unsizedSource struct {
	*source.ImageSource
	mu     sync.Mutex
	misses int
	calls  int
}

func (s *unsizedSource) Dimensions() (int, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.misses {
		return 0, 0, false
	}
	return s.ImageSource.Dimensions()
}

type refusingSource struct {
	*source.ImageSource
}

func (refusingSource) OpenFrames(context.Context, int, int, int) (source.FrameReader, error) {
	return nil, errors.New("autoplay blocked")
}

func newTestExporter(t *testing.T, f video.Facility) *Exporter {
	t.Helper()
	cfg := config.Default()
	cfg.OutputPath = ""
	cfg.MonitorPath = ""
	e, err := NewExporter(cfg, f)
	require.NoError(t, err)
	e.Rand = rand.New(rand.NewSource(1))
	e.MetadataWait = 10 * time.Millisecond
	t.Cleanup(func() { e.Close() })
	return e
}

func allCodecs() map[string]bool {
	return map[string]bool{"video/webm;codecs=vp9,opus": true, "video/webm;codecs=vp8,opus": true, "video/webm": true}
}

func testTimeline() config.TimelineConfig {
	tc := config.DefaultTimeline()
	tc.Text = "Hello"
	tc.StartTime = 0.5
	tc.EndTime = 1.5
	tc.Cue = config.CuePop
	return tc
}

func TestExportCompletes(t *testing.T) {
	f := &fakeFacility{supported: allCodecs()}
	e := newTestExporter(t, f)

	var mu sync.Mutex
	var states []State
	e.OnStatus = func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}

	src := source.NewSolidSource(64, 36, color.RGBA{B: 200, A: 255}, 2)
	art, err := e.Export(context.Background(), src, testTimeline())
	require.NoError(t, err)

	assert.Equal(t, "export.webm", art.Name)
	assert.Equal(t, "video/webm;codecs=vp9,opus", art.Mime)
	assert.Equal(t, int64(60), art.Frames)
	assert.InDelta(t, 2.0, art.Duration, 1e-9)

	// the tail chunk delivered after Stop is part of the artifact
	require.Len(t, art.Data, 60+3)
	assert.Equal(t, byte(1), art.Data[0])
	assert.Equal(t, "END", string(art.Data[60:]))

	rec := f.recorder()
	assert.Equal(t, config.CaptureFPS, rec.opts.FPS)
	assert.True(t, rec.started)
	assert.True(t, rec.stopped)
	assert.True(t, rec.closed, "recorder released at session end")
	assert.Equal(t, 60, rec.frames)
	assert.Equal(t, 2*48000, rec.samples)

	sess := e.Session()
	assert.Equal(t, Complete, sess.State())
	assert.False(t, sess.Status().InProgress)
	w, h := sess.Dimensions()
	assert.Equal(t, []int{64, 36}, []int{w, h})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Preparing, Rendering, Finalizing, Complete}, states)
}

func TestExportCueLandsAfterLead(t *testing.T) {
	f := &fakeFacility{supported: allCodecs()}
	e := newTestExporter(t, f)

	src := source.NewSolidSource(32, 18, color.Black, 2)
	_, err := e.Export(context.Background(), src, testTimeline())
	require.NoError(t, err)

	samples := f.recorder().audio
	peak := func(from, to float64) float64 {
		m := 0.0
		for _, s := range samples[int(from*48000):int(to*48000)] {
			m = math.Max(m, math.Abs(float64(s)))
		}
		return m
	}
	// pop scheduled at 0.1 lead + 0.5 start
	assert.Zero(t, peak(0, 0.59))
	assert.Greater(t, peak(0.6, 0.68), 0.1)
	assert.Zero(t, peak(0.7, 2))
}

func TestExportFallsBackToGenericContainer(t *testing.T) {
	f := &fakeFacility{supported: map[string]bool{}}
	e := newTestExporter(t, f)

	art, err := e.Export(context.Background(), source.NewSolidSource(16, 16, color.White, 0.2), testTimeline())
	require.NoError(t, err)
	assert.Equal(t, video.GenericMime, art.Mime)
	assert.Equal(t, "export.webm", art.Name)
}

func TestExportMetadataFallback(t *testing.T) {
	tests := []struct {
		name   string
		misses int
		wantW  int
		wantH  int
	}{
		{"recovered after wait", 1, 40, 20},
		{"default after wait", 2, config.DefaultWidth, config.DefaultHeight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFacility{supported: allCodecs()}
			e := newTestExporter(t, f)
			src := &unsizedSource{ImageSource: source.NewSolidSource(40, 20, color.White, 0.1), misses: tt.misses}

			_, err := e.Export(context.Background(), src, testTimeline())
			require.NoError(t, err)
			w, h := e.Session().Dimensions()
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.Equal(t, tt.wantW, f.recorder().opts.Width)
		})
	}
}

func TestExportOddDimensionsRoundedUp(t *testing.T) {
	f := &fakeFacility{supported: allCodecs()}
	e := newTestExporter(t, f)

	_, err := e.Export(context.Background(), source.NewSolidSource(33, 17, color.White, 0.1), testTimeline())
	require.NoError(t, err)
	w, h := e.Session().Dimensions()
	assert.Equal(t, 34, w)
	assert.Equal(t, 18, h)
}

func TestExportPlaybackStartFailure(t *testing.T) {
	f := &fakeFacility{supported: allCodecs()}
	e := newTestExporter(t, f)

	src := refusingSource{source.NewSolidSource(16, 16, color.White, 1)}
	_, err := e.Export(context.Background(), src, testTimeline())
	require.ErrorIs(t, err, ErrPlaybackStart)

	sess := e.Session()
	assert.Equal(t, Failed, sess.State())
	assert.ErrorIs(t, sess.Err(), ErrPlaybackStart)
	assert.False(t, sess.Status().InProgress)

	rec := f.recorder()
	assert.False(t, rec.started)
	assert.True(t, rec.closed)
}

func TestExportRecorderFault(t *testing.T) {
	f := &fakeFacility{supported: allCodecs(), failAfter: 5}
	e := newTestExporter(t, f)

	_, err := e.Export(context.Background(), source.NewSolidSource(16, 16, color.White, 2), testTimeline())
	require.ErrorIs(t, err, ErrRecorderFault)

	sess := e.Session()
	assert.Equal(t, Failed, sess.State())
	assert.True(t, f.recorder().closed)
}

func TestExportRecorderUnavailable(t *testing.T) {
	f := &fakeFacility{supported: allCodecs(), newErr: errors.New("no encoder")}
	e := newTestExporter(t, f)

	_, err := e.Export(context.Background(), source.NewSolidSource(16, 16, color.White, 1), testTimeline())
	assert.ErrorIs(t, err, ErrRecorderFault)
	assert.Equal(t, Failed, e.Session().State())
}

func TestExportInvalidTimeline(t *testing.T) {
	e := newTestExporter(t, &fakeFacility{supported: allCodecs()})
	tc := testTimeline()
	tc.StartTime, tc.EndTime = 5, 1

	_, err := e.Export(context.Background(), source.NewSolidSource(16, 16, color.White, 1), tc)
	assert.ErrorIs(t, err, config.ErrInvalidWindow)
	assert.Equal(t, Failed, e.Session().State())
}

func TestExportCancelled(t *testing.T) {
	e := newTestExporter(t, &fakeFacility{supported: allCodecs()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Export(ctx, source.NewSolidSource(16, 16, color.White, 1), testTimeline())
	assert.Error(t, err)
	assert.Equal(t, Failed, e.Session().State())
}

func TestExportWritesOutputAndMonitor(t *testing.T) {
	dir := t.TempDir()
	f := &fakeFacility{supported: allCodecs()}
	e := newTestExporter(t, f)
	e.Config.OutputPath = filepath.Join(dir, "out", config.ArtifactName)
	e.Config.MonitorPath = filepath.Join(dir, "monitor.wav")

	art, err := e.Export(context.Background(), source.NewSolidSource(16, 16, color.White, 1), testTimeline())
	require.NoError(t, err)
	assert.Equal(t, e.Config.OutputPath, art.Path)

	data, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, art.Data, data)

	wav, err := os.Stat(e.Config.MonitorPath)
	require.NoError(t, err)
	assert.Equal(t, int64(44+2*48000), wav.Size())

	leftovers, err := filepath.Glob(filepath.Join(dir, "out", ".export-*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestExportSupersedesPreviousArtifact(t *testing.T) {
	e := newTestExporter(t, &fakeFacility{supported: allCodecs()})
	src := source.NewSolidSource(16, 16, color.White, 0.2)

	first, err := e.Export(context.Background(), src, testTimeline())
	require.NoError(t, err)
	require.NotEmpty(t, first.Data)

	second, err := e.Export(context.Background(), src, testTimeline())
	require.NoError(t, err)
	assert.Nil(t, first.Data, "superseded artifact released")
	assert.NotEmpty(t, second.Data)
}

func TestSamplesForFrame(t *testing.T) {
	total := 0
	for i := int64(0); i < 30; i++ {
		n := SamplesForFrame(i, 44100, 30)
		assert.Equal(t, 1470, n)
		total += n
	}
	assert.Equal(t, 44100, total)

	total = 0
	for i := int64(0); i < 7; i++ {
		total += SamplesForFrame(i, 1000, 7)
	}
	assert.Equal(t, 1000, total)
}

func TestExportRoundTripWithFFmpeg(t *testing.T) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not available")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available")
	}

	cfg := config.Default()
	cfg.OutputPath = filepath.Join(t.TempDir(), config.ArtifactName)
	e, err := NewExporter(cfg, video.NewFFmpegFacility(ffmpeg))
	require.NoError(t, err)
	defer e.Close()

	tc := testTimeline()
	tc.Cue = config.CueWhoosh
	art, err := e.Export(context.Background(), source.NewSolidSource(160, 90, color.RGBA{G: 120, A: 255}, 2), tc)
	if errors.Is(err, ErrRecorderFault) {
		t.Skipf("ffmpeg lacks webm encoders: %v", err)
	}
	require.NoError(t, err)

	out, err := exec.Command("ffprobe", "-v", "error", "-count_frames",
		"-select_streams", "v:0", "-show_entries", "stream=nb_read_frames",
		"-of", "default=nokey=1:noprint_wrappers=1", art.Path).Output()
	require.NoError(t, err)
	assert.Contains(t, []string{"59\n", "60\n", "61\n"}, string(out))

	// the whoosh starts at 0.6s on the recording
	pcm, err := exec.Command(ffmpeg, "-v", "error", "-i", art.Path,
		"-ss", "0.6", "-t", "0.5", "-vn", "-ac", "1", "-ar", "48000", "-f", "f32le", "pipe:1").Output()
	require.NoError(t, err)
	peak := 0.0
	for i := 0; i+4 <= len(pcm); i += 4 {
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(pcm[i:])))
		peak = math.Max(peak, math.Abs(v))
	}
	assert.Greater(t, peak, 0.01)
}
