package renderer

import (
	"math"

	"github.com/ivlev/textoverlay/internal/config"
)

const (
	// FadeIn and FadeOut windows, seconds.
	FadeIn  = 0.5
	FadeOut = 0.5

	// SlideDistance is the vertical travel of slide animations in pixels.
	SlideDistance = 24.0

	minTypewriterSpan = 0.01
)

// AnimationState is the overlay's look at one instant. It is derived, never stored.
type AnimationState struct {
	Visible     bool
	Opacity     float64
	YOffset     float64
	VisibleText string
}

// StateAt evaluates the animation model at time t.
func StateAt(tc config.TimelineConfig, t float64) AnimationState {
	return AnimationState{
		Visible:     Visible(tc, t),
		Opacity:     Opacity(tc, t),
		YOffset:     YOffset(tc, t),
		VisibleText: VisibleText(tc, t),
	}
}

// Visible is true inside [StartTime, EndTime], both ends inclusive.
func Visible(tc config.TimelineConfig, t float64) bool {
	return t >= tc.StartTime && t <= tc.EndTime
}

// VisibleText returns the revealed prefix of the text. Only the typewriter
// in-animation reveals progressively; the count is in runes.
func VisibleText(tc config.TimelineConfig, t float64) string {
	if tc.InAnim != config.InTypewriter {
		return tc.Text
	}
	if t < tc.StartTime {
		return ""
	}

	runes := []rune(tc.Text)
	p := clamp((t-tc.StartTime)/math.Max(minTypewriterSpan, tc.EndTime-tc.StartTime), 0, 1)
	chars := int(math.Floor(float64(len(runes)) * p))
	if chars < 1 {
		chars = 1
	}
	if chars > len(runes) {
		chars = len(runes)
	}
	return string(runes[:chars])
}

// Opacity is 0 outside the window. Fade-out takes the minimum with fade-in.
func Opacity(tc config.TimelineConfig, t float64) float64 {
	if !Visible(tc, t) {
		return 0
	}

	a := 1.0
	if tc.InAnim == config.InFade {
		a = clamp((t-tc.StartTime)/FadeIn, 0, 1)
	}
	if tc.OutAnim == config.OutFade {
		a = math.Min(a, clamp((tc.EndTime-t)/FadeOut, 0, 1))
	}
	return a
}

// YOffset is the downward shift in pixels. When both slides are configured
// the out-slide value replaces the in-slide value; they are not combined.
func YOffset(tc config.TimelineConfig, t float64) float64 {
	y := 0.0
	if tc.InAnim == config.InSlide {
		y = math.Round(SlideDistance * math.Max(0, 1-(t-tc.StartTime)/FadeIn))
	}
	if tc.OutAnim == config.OutSlide {
		y = math.Round(SlideDistance * math.Max(0, 1-(tc.EndTime-t)/FadeOut))
	}
	return y
}

// Anchor returns the point the text is centered on for a surface of w x h.
func Anchor(w, h int, pos config.Position) (x, y float64) {
	x = float64(w) / 2
	switch pos {
	case config.PositionTop:
		return x, float64(h) * 0.12
	case config.PositionBottom:
		return x, float64(h) * 0.88
	default:
		return x, float64(h) / 2
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
