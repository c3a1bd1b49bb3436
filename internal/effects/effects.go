package effects

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ivlev/textoverlay/internal/audio"
	"github.com/ivlev/textoverlay/internal/config"
)

// Cue synthesizes a sound effect as a node graph on the engine clock.
type Cue interface {
	// Build schedules the cue at engine time when and returns its output
	// node, ready to be connected to a bus.
	Build(ctx *audio.Context, when, duration float64, text string) audio.Node
	Name() string
}

// Envelope is an exponential attack/release gain shape. Exponential ramps
// cannot start from zero, so the curve starts and ends at Floor.
type Envelope struct {
	Floor  float64
	Peak   float64
	Attack float64 // seconds from start to Peak
}

// Apply schedules the envelope on p from when to when+length.
func (e Envelope) Apply(p *audio.Param, when, length float64) {
	p.SetValueAtTime(e.Floor, when)
	p.ExponentialRampToValueAtTime(e.Peak, when+e.Attack)
	p.ExponentialRampToValueAtTime(e.Floor, when+length)
}

// NewCue returns the synthesizer for a cue type. CueNone yields a nil Cue
// and no error. A nil rng seeds one from the clock.
func NewCue(t config.CueType, rng *rand.Rand) (Cue, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	switch t {
	case config.CueNone, "":
		return nil, nil
	case config.CueWhoosh:
		return &Whoosh{Params: DefaultWhoosh, rng: rng}, nil
	case config.CuePop:
		return &Pop{Params: DefaultPop}, nil
	case config.CueTypewriter:
		return &Typewriter{Params: DefaultTypewriter, rng: rng}, nil
	default:
		return nil, fmt.Errorf("unknown cue type: %s", t)
	}
}

// BuildCue is a convenience for the orchestrator: it resolves the cue and
// builds it, returning a nil node for CueNone.
func BuildCue(ctx *audio.Context, tc config.TimelineConfig, when float64, rng *rand.Rand) (audio.Node, error) {
	cue, err := NewCue(tc.Cue, rng)
	if err != nil || cue == nil {
		return nil, err
	}

	node := cue.Build(ctx, when, tc.Duration(), tc.Text)
	logrus.WithFields(logrus.Fields{
		"function": "BuildCue",
		"cue":      cue.Name(),
		"when":     when,
		"duration": tc.Duration(),
	}).Debug("Cue scheduled")
	return node, nil
}
