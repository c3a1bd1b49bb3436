// Package audio implements a small pull-based audio graph used to mix the
// source track with synthesized cues.
//
// The graph is rendered block by block from its destinations. Every node
// caches the block it produced last, so a node connected to more than one
// destination is only computed once per block. All scheduling happens on
// the engine clock owned by Context, never on wall-clock or media time.
package audio

import (
	"errors"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrContextClosed is returned when rendering a disposed context.
	ErrContextClosed = errors.New("audio context closed")
)

// Node produces mono samples for a block starting at an absolute engine frame.
type Node interface {
	Pull(start int64, n int) []float64
}

// Sink accepts connections from upstream nodes.
type Sink interface {
	AddInput(n Node)
}

// Connect wires from into to, like AudioNode.connect.
func Connect(from Node, to Sink) {
	to.AddInput(from)
}

type disposer interface {
	dispose()
}

// Context is the audio engine of one export session. Its clock starts at
// origin and advances only when blocks are rendered.
type Context struct {
	mu         sync.Mutex
	sampleRate float64
	origin     float64
	frame      int64
	nodes      []disposer
	closed     bool
}

// Option configures a Context.
type Option func(*Context)

// WithOrigin sets the engine time, in seconds, of the first rendered frame.
func WithOrigin(seconds float64) Option {
	return func(c *Context) {
		c.origin = seconds
	}
}

// NewContext creates an engine running at sampleRate frames per second.
func NewContext(sampleRate int, opts ...Option) *Context {
	c := &Context{sampleRate: float64(sampleRate)}
	for _, opt := range opts {
		opt(c)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewContext",
		"sample_rate": sampleRate,
		"origin":      c.origin,
	}).Debug("Audio context created")
	return c
}

func (c *Context) SampleRate() float64 {
	return c.sampleRate
}

// CurrentTime is the engine clock in seconds.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeOf(c.frame)
}

// CurrentFrame is the absolute frame the next Render starts at.
func (c *Context) CurrentFrame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// FrameOf converts an engine time to an absolute frame index.
func (c *Context) FrameOf(t float64) int64 {
	return int64(math.Round((t - c.origin) * c.sampleRate))
}

func (c *Context) timeOf(frame int64) float64 {
	return c.origin + float64(frame)/c.sampleRate
}

// Render pulls n frames from each destination at the current engine frame,
// then advances the clock by n. The returned buffers are owned by the
// destinations and valid until the next Render.
func (c *Context) Render(n int, dests ...*Destination) ([][]float64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrContextClosed
	}
	start := c.frame
	c.mu.Unlock()

	out := make([][]float64, len(dests))
	for i, d := range dests {
		out[i] = d.Pull(start, n)
	}

	c.mu.Lock()
	c.frame += int64(n)
	c.mu.Unlock()
	return out, nil
}

// Close disposes every node created by this context. Safe to call twice.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, n := range c.nodes {
		n.dispose()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Context.Close",
		"nodes":    len(c.nodes),
		"time":     c.timeOf(c.frame),
	}).Debug("Audio context closed")
	c.nodes = nil
	return nil
}

func (c *Context) track(n disposer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append(c.nodes, n)
}

// block is the per-node cache of the last rendered block.
type block struct {
	start int64
	buf   []float64
	valid bool
}

// get returns the cached buffer and true on a hit, otherwise a zeroed
// buffer for the new block and false.
func (b *block) get(start int64, n int) ([]float64, bool) {
	if b.valid && b.start == start && len(b.buf) == n {
		return b.buf, true
	}
	if cap(b.buf) < n {
		b.buf = make([]float64, n)
	}
	b.buf = b.buf[:n]
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.start = start
	b.valid = true
	return b.buf, false
}

// inputs sums the upstream nodes of a Sink.
type inputs struct {
	mu    sync.Mutex
	nodes []Node
}

func (in *inputs) AddInput(n Node) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.nodes = append(in.nodes, n)
}

func (in *inputs) mix(start int64, dst []float64) {
	in.mu.Lock()
	nodes := in.nodes
	in.mu.Unlock()
	for _, n := range nodes {
		src := n.Pull(start, len(dst))
		for i, v := range src {
			dst[i] += v
		}
	}
}

func (in *inputs) clear() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.nodes = nil
}
