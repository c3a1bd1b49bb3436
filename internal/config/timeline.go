package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Position string

const (
	PositionTop    Position = "top"
	PositionMiddle Position = "middle"
	PositionBottom Position = "bottom"
)

type InAnimation string

const (
	InNone       InAnimation = "none"
	InFade       InAnimation = "fade"
	InSlide      InAnimation = "slide"
	InTypewriter InAnimation = "typewriter"
)

type OutAnimation string

const (
	OutNone  OutAnimation = "none"
	OutFade  OutAnimation = "fade"
	OutSlide OutAnimation = "slide"
)

type CueType string

const (
	CueNone       CueType = "none"
	CueWhoosh     CueType = "whoosh"
	CuePop        CueType = "pop"
	CueTypewriter CueType = "typewriter"
)

const (
	MinFontSize = 24
	MaxFontSize = 96
	MinEndTime  = 0.5
)

var (
	// ErrInvalidWindow means startTime is after endTime.
	ErrInvalidWindow = errors.New("overlay start time is after end time")

	// ErrInvalidColor means a color string is not #rrggbb.
	ErrInvalidColor = errors.New("invalid color, expected #rrggbb")
)

// RGB is an opaque overlay color.
type RGB struct {
	R, G, B uint8
}

var White = RGB{R: 255, G: 255, B: 255}

// ParseRGB parses "#rrggbb" or "rrggbb".
func ParseRGB(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// ParseRGBOrWhite mirrors the UI behaviour: bad input renders white.
func ParseRGBOrWhite(s string) RGB {
	c, err := ParseRGB(s)
	if err != nil {
		return White
	}
	return c
}

func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c RGB) MarshalYAML() (interface{}, error) {
	return c.Hex(), nil
}

func (c *RGB) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*c = ParseRGBOrWhite(s)
	return nil
}

// TimelineConfig describes a single overlay and its cue. It is immutable
// for the duration of an export run.
type TimelineConfig struct {
	Text      string       `yaml:"text"`
	FontSize  int          `yaml:"font_size"`
	Color     RGB          `yaml:"color"`
	Position  Position     `yaml:"position"`
	InAnim    InAnimation  `yaml:"in_animation"`
	OutAnim   OutAnimation `yaml:"out_animation"`
	StartTime float64      `yaml:"start_time"`
	EndTime   float64      `yaml:"end_time"`
	Cue       CueType      `yaml:"cue"`
}

// DefaultTimeline matches the editor's initial form state.
func DefaultTimeline() TimelineConfig {
	return TimelineConfig{
		Text:      "Your Awesome Title",
		FontSize:  48,
		Color:     White,
		Position:  PositionMiddle,
		InAnim:    InFade,
		OutAnim:   OutNone,
		StartTime: 0.5,
		EndTime:   3,
		Cue:       CueWhoosh,
	}
}

// Normalize clamps numeric fields and replaces unknown enum values.
func (tc TimelineConfig) Normalize() (TimelineConfig, error) {
	if tc.FontSize < MinFontSize {
		tc.FontSize = MinFontSize
	}
	if tc.FontSize > MaxFontSize {
		tc.FontSize = MaxFontSize
	}
	if tc.StartTime < 0 {
		tc.StartTime = 0
	}
	if tc.EndTime < MinEndTime {
		tc.EndTime = MinEndTime
	}

	switch tc.Position {
	case PositionTop, PositionMiddle, PositionBottom:
	default:
		tc.Position = PositionMiddle
	}
	switch tc.InAnim {
	case InNone, InFade, InSlide, InTypewriter:
	default:
		tc.InAnim = InNone
	}
	switch tc.OutAnim {
	case OutNone, OutFade, OutSlide:
	default:
		tc.OutAnim = OutNone
	}
	switch tc.Cue {
	case CueNone, CueWhoosh, CuePop, CueTypewriter:
	default:
		tc.Cue = CueNone
	}

	if tc.StartTime > tc.EndTime {
		return tc, fmt.Errorf("%w: start=%.2fs end=%.2fs", ErrInvalidWindow, tc.StartTime, tc.EndTime)
	}
	return tc, nil
}

// Duration of the overlay window in seconds.
func (tc TimelineConfig) Duration() float64 {
	return tc.EndTime - tc.StartTime
}
