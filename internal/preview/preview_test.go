package preview

import (
	"context"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/textoverlay/internal/config"
	"github.com/ivlev/textoverlay/internal/renderer"
	"github.com/ivlev/textoverlay/internal/source"
)

type manualClock struct {
	bits atomic.Uint64
}

func (c *manualClock) Set(t float64) { c.bits.Store(math.Float64bits(t)) }
func (c *manualClock) CurrentTime() float64 { return math.Float64frombits(c.bits.Load()) }

type recorder struct {
	mu     sync.Mutex
	states []renderer.AnimationState
}

func (r *recorder) add(st renderer.AnimationState, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) last() (renderer.AnimationState, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return renderer.AnimationState{}, 0
	}
	return r.states[len(r.states)-1], len(r.states)
}

func timeline() config.TimelineConfig {
	tc := config.DefaultTimeline()
	tc.Text = "Hi"
	tc.InAnim = config.InNone
	tc.StartTime = 1
	tc.EndTime = 2
	return tc
}

func TestLoopPublishesChanges(t *testing.T) {
	rec := &recorder{}
	l := NewLoop(timeline(), rec.add)
	l.Interval = time.Millisecond

	clock := &manualClock{}
	l.Start(context.Background(), clock)
	defer l.Stop()

	require.Eventually(t, func() bool { _, n := rec.last(); return n == 1 }, time.Second, time.Millisecond)
	st, _ := rec.last()
	assert.False(t, st.Visible)

	// unchanged state is not republished
	time.Sleep(10 * time.Millisecond)
	_, n := rec.last()
	assert.Equal(t, 1, n)

	clock.Set(1.5)
	require.Eventually(t, func() bool { st, _ := rec.last(); return st.Visible }, time.Second, time.Millisecond)
	st, _ = rec.last()
	assert.Equal(t, "Hi", st.VisibleText)
	assert.InDelta(t, 1.0, st.Opacity, 1e-9)
}

func TestLoopRestartFollowsNewClock(t *testing.T) {
	rec := &recorder{}
	l := NewLoop(timeline(), rec.add)
	l.Interval = time.Millisecond

	old := &manualClock{}
	l.Start(context.Background(), old)
	require.Eventually(t, func() bool { _, n := rec.last(); return n > 0 }, time.Second, time.Millisecond)

	fresh := &manualClock{}
	fresh.Set(1.5)
	l.Restart(fresh)
	require.Eventually(t, func() bool { st, _ := rec.last(); return st.Visible }, time.Second, time.Millisecond)

	l.Stop()
	_, n := rec.last()
	fresh.Set(5)
	old.Set(1.5)
	time.Sleep(10 * time.Millisecond)
	_, after := rec.last()
	assert.Equal(t, n, after, "stopped loop publishes nothing")
}

func TestLoopStopsWithContext(t *testing.T) {
	l := NewLoop(timeline(), nil)
	l.Interval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx, &manualClock{})

	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on cancel")
	}
	l.Stop()
}

func TestLoopSetTimeline(t *testing.T) {
	rec := &recorder{}
	l := NewLoop(timeline(), rec.add)
	l.Interval = time.Millisecond
	clock := &manualClock{}
	clock.Set(1.5)
	l.Start(context.Background(), clock)
	defer l.Stop()

	require.Eventually(t, func() bool { st, _ := rec.last(); return st.VisibleText == "Hi" }, time.Second, time.Millisecond)

	tc := timeline()
	tc.Text = "Bye"
	l.SetTimeline(tc)
	require.Eventually(t, func() bool { st, _ := rec.last(); return st.VisibleText == "Bye" }, time.Second, time.Millisecond)
}

func TestRenderDrawsOverlayOnlyInWindow(t *testing.T) {
	src := source.NewSolidSource(320, 180, color.RGBA{B: 255, A: 255}, 3)
	tc := timeline()
	tc.Color = config.RGB{R: 255}

	before, err := Render(context.Background(), src, tc, 0.5, 30)
	require.NoError(t, err)
	inside, err := Render(context.Background(), src, tc, 1.5, 30)
	require.NoError(t, err)

	red := func(img interface {
		RGBAAt(x, y int) color.RGBA
	}) int {
		n := 0
		for y := 0; y < 180; y++ {
			for x := 0; x < 320; x++ {
				if c := img.RGBAAt(x, y); c.R > 200 && c.B < 60 {
					n++
				}
			}
		}
		return n
	}
	assert.Zero(t, red(before))
	assert.Greater(t, red(inside), 50)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, inside.RGBAAt(0, 0))
}

func TestRenderPastEnd(t *testing.T) {
	src := source.NewSolidSource(16, 16, color.White, 1)
	_, err := Render(context.Background(), src, timeline(), 5, 30)
	assert.ErrorIs(t, err, source.ErrPlaybackStart)
}

func TestSnapshotWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shots", "frame.png")
	src := source.NewSolidSource(64, 36, color.Black, 2)

	require.NoError(t, Snapshot(context.Background(), src, timeline(), 1.5, 30, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 36, img.Bounds().Dy())
}
