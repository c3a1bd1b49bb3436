package audio

import (
	"math"
)

// Gain multiplies the sum of its inputs by an automatable gain.
type Gain struct {
	inputs
	ctx   *Context
	Gain  *Param
	cache block
}

func (c *Context) NewGain() *Gain {
	g := &Gain{ctx: c, Gain: NewParam(1)}
	c.track(g)
	return g
}

func (g *Gain) Pull(start int64, n int) []float64 {
	out, hit := g.cache.get(start, n)
	if hit {
		return out
	}
	g.mix(start, out)
	for i := range out {
		out[i] *= g.Gain.ValueAt(g.ctx.timeOf(start + int64(i)))
	}
	return out
}

func (g *Gain) dispose() {
	g.clear()
	g.cache = block{}
}

// scheduled is the start/stop window shared by source nodes.
type scheduled struct {
	startFrame int64
	stopFrame  int64
	started    bool
}

func (s *scheduled) active(frame int64) bool {
	return s.started && frame >= s.startFrame && (s.stopFrame < 0 || frame < s.stopFrame)
}

// Waveform selects the oscillator shape.
type Waveform int

const (
	Sine Waveform = iota
	Square
)

// Oscillator is a periodic source with an automatable frequency.
type Oscillator struct {
	scheduled
	ctx       *Context
	Waveform  Waveform
	Frequency *Param
	phase     float64
	cache     block
}

func (c *Context) NewOscillator(w Waveform) *Oscillator {
	o := &Oscillator{
		ctx:       c,
		Waveform:  w,
		Frequency: NewParam(440),
		scheduled: scheduled{stopFrame: -1},
	}
	c.track(o)
	return o
}

// Start schedules the oscillator at engine time t.
func (o *Oscillator) Start(t float64) {
	o.startFrame = o.ctx.FrameOf(t)
	o.started = true
	o.phase = 0
}

// Stop schedules the end at engine time t.
func (o *Oscillator) Stop(t float64) {
	o.stopFrame = o.ctx.FrameOf(t)
}

func (o *Oscillator) Pull(start int64, n int) []float64 {
	out, hit := o.cache.get(start, n)
	if hit {
		return out
	}
	rate := o.ctx.sampleRate
	for i := range out {
		f := start + int64(i)
		if !o.active(f) {
			continue
		}
		s := math.Sin(2 * math.Pi * o.phase)
		if o.Waveform == Square {
			if s >= 0 {
				s = 1
			} else {
				s = -1
			}
		}
		out[i] = s
		o.phase += o.Frequency.ValueAt(o.ctx.timeOf(f)) / rate
		o.phase -= math.Floor(o.phase)
	}
	return out
}

func (o *Oscillator) dispose() {
	o.started = false
	o.cache = block{}
}

// BufferSource plays a fixed sample buffer once.
type BufferSource struct {
	scheduled
	ctx    *Context
	Buffer []float64
	cache  block
}

func (c *Context) NewBufferSource(buf []float64) *BufferSource {
	b := &BufferSource{ctx: c, Buffer: buf, scheduled: scheduled{stopFrame: -1}}
	c.track(b)
	return b
}

func (b *BufferSource) Start(t float64) {
	b.startFrame = b.ctx.FrameOf(t)
	b.started = true
}

func (b *BufferSource) Stop(t float64) {
	b.stopFrame = b.ctx.FrameOf(t)
}

func (b *BufferSource) Pull(start int64, n int) []float64 {
	out, hit := b.cache.get(start, n)
	if hit {
		return out
	}
	for i := range out {
		f := start + int64(i)
		if !b.active(f) {
			continue
		}
		idx := f - b.startFrame
		if idx < int64(len(b.Buffer)) {
			out[i] = b.Buffer[idx]
		}
	}
	return out
}

func (b *BufferSource) dispose() {
	b.started = false
	b.Buffer = nil
	b.cache = block{}
}

// Highpass is a second order high-pass biquad (RBJ cookbook) whose cutoff
// may be automated. Coefficients are recomputed per sample.
type Highpass struct {
	inputs
	ctx       *Context
	Frequency *Param
	Q         float64

	x1, x2, y1, y2 float64
	cache          block
}

// DefaultQ is the linear resonance of a filter whose Q is 1 dB.
var DefaultQ = math.Pow(10, 1.0/20)

func (c *Context) NewHighpass() *Highpass {
	h := &Highpass{ctx: c, Frequency: NewParam(350), Q: DefaultQ}
	c.track(h)
	return h
}

func (h *Highpass) Pull(start int64, n int) []float64 {
	out, hit := h.cache.get(start, n)
	if hit {
		return out
	}
	in := make([]float64, n)
	h.mix(start, in)

	nyquist := h.ctx.sampleRate / 2
	for i, x := range in {
		f := h.Frequency.ValueAt(h.ctx.timeOf(start + int64(i)))
		if f <= 0 {
			f = 1
		}
		if f >= nyquist {
			f = nyquist * 0.999
		}
		w0 := 2 * math.Pi * f / h.ctx.sampleRate
		cosw := math.Cos(w0)
		alpha := math.Sin(w0) / (2 * h.Q)

		a0 := 1 + alpha
		b0 := (1 + cosw) / 2 / a0
		b1 := -(1 + cosw) / a0
		b2 := b0
		a1 := -2 * cosw / a0
		a2 := (1 - alpha) / a0

		y := b0*x + b1*h.x1 + b2*h.x2 - a1*h.y1 - a2*h.y2
		h.x2, h.x1 = h.x1, x
		h.y2, h.y1 = h.y1, y
		out[i] = y
	}
	return out
}

func (h *Highpass) dispose() {
	h.clear()
	h.cache = block{}
}

// Destination is a summing bus at the end of the graph.
type Destination struct {
	inputs
	name  string
	cache block
}

func (c *Context) NewDestination(name string) *Destination {
	d := &Destination{name: name}
	c.track(d)
	return d
}

func (d *Destination) Name() string {
	return d.name
}

func (d *Destination) Pull(start int64, n int) []float64 {
	out, hit := d.cache.get(start, n)
	if hit {
		return out
	}
	d.mix(start, out)
	return out
}

func (d *Destination) dispose() {
	d.clear()
	d.cache = block{}
}
