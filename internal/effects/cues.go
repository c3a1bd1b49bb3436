package effects

import (
	"math"
	"math/rand"

	"github.com/ivlev/textoverlay/internal/audio"
)

// WhooshParams shape a decaying noise burst through a rising high-pass.
type WhooshParams struct {
	Duration   float64
	NoiseDecay float64 // per-sample envelope exp(-NoiseDecay*t)
	CutoffFrom float64
	CutoffTo   float64
	Envelope   Envelope
}

var DefaultWhoosh = WhooshParams{
	Duration:   0.6,
	NoiseDecay: 3,
	CutoffFrom: 200,
	CutoffTo:   4000,
	Envelope:   Envelope{Floor: 0.0001, Peak: 0.5, Attack: 0.05},
}

type Whoosh struct {
	Params WhooshParams
	rng    *rand.Rand
}

func (w *Whoosh) Name() string { return "whoosh" }

// Build ignores duration and text: the whoosh always lasts Params.Duration.
func (w *Whoosh) Build(ctx *audio.Context, when, _ float64, _ string) audio.Node {
	p := w.Params
	rate := ctx.SampleRate()

	noise := make([]float64, int(rate*p.Duration))
	for i := range noise {
		t := float64(i) / rate
		noise[i] = (w.rng.Float64()*2 - 1) * math.Exp(-p.NoiseDecay*t)
	}
	src := ctx.NewBufferSource(noise)

	filter := ctx.NewHighpass()
	filter.Frequency.SetValueAtTime(p.CutoffFrom, when)
	filter.Frequency.ExponentialRampToValueAtTime(p.CutoffTo, when+p.Duration)

	gain := ctx.NewGain()
	p.Envelope.Apply(gain.Gain, when, p.Duration)

	audio.Connect(src, filter)
	audio.Connect(filter, gain)
	src.Start(when)
	src.Stop(when + p.Duration)
	return gain
}

// PopParams shape a short upward sine chirp.
type PopParams struct {
	Duration      float64
	FreqFrom      float64
	FreqTo        float64
	SweepFraction float64 // share of Duration spent sweeping
	Envelope      Envelope
}

var DefaultPop = PopParams{
	Duration:      0.08,
	FreqFrom:      220,
	FreqTo:        880,
	SweepFraction: 0.4,
	Envelope:      Envelope{Floor: 0.0001, Peak: 0.8, Attack: 0.01},
}

type Pop struct {
	Params PopParams
}

func (p *Pop) Name() string { return "pop" }

func (p *Pop) Build(ctx *audio.Context, when, _ float64, _ string) audio.Node {
	pp := p.Params

	osc := ctx.NewOscillator(audio.Sine)
	osc.Frequency.SetValueAtTime(pp.FreqFrom, when)
	osc.Frequency.ExponentialRampToValueAtTime(pp.FreqTo, when+pp.Duration*pp.SweepFraction)

	gain := ctx.NewGain()
	pp.Envelope.Apply(gain.Gain, when, pp.Duration)

	audio.Connect(osc, gain)
	osc.Start(when)
	osc.Stop(when + pp.Duration)
	return gain
}

// TypewriterParams shape a train of square-wave clicks.
type TypewriterParams struct {
	ClicksPerSecond float64
	ClickLength     float64
	PitchMin        float64
	PitchSpread     float64
	Envelope        Envelope
}

var DefaultTypewriter = TypewriterParams{
	ClicksPerSecond: 20,
	ClickLength:     0.05,
	PitchMin:        800,
	PitchSpread:     400,
	Envelope:        Envelope{Floor: 0.0001, Peak: 0.6, Attack: 0.005},
}

type Typewriter struct {
	Params TypewriterParams
	rng    *rand.Rand
}

func (tw *Typewriter) Name() string { return "typewriter" }

// ClickCount is floor(duration*rate) clamped to [1, len(text)], with at
// least one click even for empty text.
func ClickCount(duration float64, text string, clicksPerSecond float64) int {
	n := int(math.Floor(duration * clicksPerSecond))
	if l := len([]rune(text)); n > l {
		n = l
	}
	if n < 1 {
		n = 1
	}
	return n
}

// TypewriterClickCount uses the default click rate.
func TypewriterClickCount(duration float64, text string) int {
	return ClickCount(duration, text, DefaultTypewriter.ClicksPerSecond)
}

// ClickTimes spreads count clicks evenly over [when, when+duration).
func ClickTimes(when, duration float64, count int) []float64 {
	times := make([]float64, count)
	for i := range times {
		times[i] = when + float64(i)/float64(count)*duration
	}
	return times
}

func (tw *Typewriter) Build(ctx *audio.Context, when, duration float64, text string) audio.Node {
	p := tw.Params
	root := ctx.NewGain()
	root.Gain.SetValue(1)

	count := ClickCount(duration, text, p.ClicksPerSecond)
	for _, t := range ClickTimes(when, duration, count) {
		click := ctx.NewOscillator(audio.Square)
		click.Frequency.SetValue(p.PitchMin + tw.rng.Float64()*p.PitchSpread)

		g := ctx.NewGain()
		p.Envelope.Apply(g.Gain, t, p.ClickLength)

		audio.Connect(click, g)
		audio.Connect(g, root)
		click.Start(t)
		click.Stop(t + p.ClickLength)
	}
	return root
}
