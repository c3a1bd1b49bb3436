// Package preview follows a playing source and reports how the overlay
// looks at the current playback position.
package preview

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/textoverlay/internal/audio"
	"github.com/ivlev/textoverlay/internal/config"
	"github.com/ivlev/textoverlay/internal/renderer"
)

// RefreshInterval approximates one display refresh.
const RefreshInterval = time.Second / 60

// StateFunc receives the overlay state and the clock time it was taken at.
type StateFunc func(state renderer.AnimationState, t float64)

// Loop polls a playback clock once per refresh and publishes the overlay
// state whenever it changes. A Loop follows one clock at a time.
type Loop struct {
	Interval time.Duration
	OnState  StateFunc

	mu       sync.Mutex
	parent   context.Context
	timeline config.TimelineConfig
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewLoop(tc config.TimelineConfig, onState StateFunc) *Loop {
	return &Loop{
		Interval: RefreshInterval,
		OnState:  onState,
		timeline: tc,
	}
}

// Start follows clock until ctx is cancelled, Restart or Stop.
func (l *Loop) Start(ctx context.Context, clock audio.Clock) {
	l.mu.Lock()
	l.parent = ctx
	l.mu.Unlock()
	l.Restart(clock)
}

// Restart cancels the current run and follows clock instead, as when a new
// source is loaded.
func (l *Loop) Restart(clock audio.Clock) {
	l.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	parent := l.parent
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	go l.run(ctx, clock, done)
}

// SetTimeline swaps the overlay being previewed.
func (l *Loop) SetTimeline(tc config.TimelineConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeline = tc
}

// Stop cancels the current run and waits for it to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Loop) run(ctx context.Context, clock audio.Clock, done chan struct{}) {
	defer close(done)

	interval := l.Interval
	if interval <= 0 {
		interval = RefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last renderer.AnimationState
	first := true
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("function", "Loop.run").Debug("Preview loop stopped")
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		tc := l.timeline
		l.mu.Unlock()

		t := clock.CurrentTime()
		st := renderer.StateAt(tc, t)
		if !first && st == last {
			continue
		}
		first = false
		last = st
		if l.OnState != nil {
			l.OnState(st, t)
		}
	}
}
