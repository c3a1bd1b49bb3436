package audio

import "math"

// DefaultLead is the fixed margin between "now" on the engine clock and the
// earliest scheduled cue.
const DefaultLead = 0.1

// Clock exposes a current time in seconds.
type Clock interface {
	CurrentTime() float64
}

// ClockPair is a snapshot of the engine clock and the media playback clock
// taken at the same moment. The two clocks do not share an origin: the
// engine clock is monotonic, the media clock resets on seek and pauses with
// playback. Take one snapshot per export run and do all scheduling math
// through it.
type ClockPair struct {
	Engine float64
	Media  float64
	Lead   float64
}

// Capture reads both clocks now.
func Capture(engine, media Clock, lead float64) ClockPair {
	return ClockPair{
		Engine: engine.CurrentTime(),
		Media:  media.CurrentTime(),
		Lead:   lead,
	}
}

// EngineTime maps a media timestamp onto the engine clock. Media times at
// or before the snapshot map to the lead point.
func (p ClockPair) EngineTime(mediaTime float64) float64 {
	return p.Engine + p.Lead + math.Max(0, mediaTime-p.Media)
}
