package audio

import (
	"github.com/sirupsen/logrus"
)

// Graph is the composed mix: the capture bus feeds the recorder, the
// monitor bus feeds local listening.
type Graph struct {
	Capture *Destination
	Monitor *Destination
}

// Compose routes the source track and the cue bus (either may be nil) to
// both the capture and the monitor destination. All connections exist when
// Compose returns, so recording started afterwards loses no audio.
func Compose(ctx *Context, media Node, cue Node) *Graph {
	g := &Graph{
		Capture: ctx.NewDestination("capture"),
		Monitor: ctx.NewDestination("monitor"),
	}

	for _, n := range []Node{media, cue} {
		if n == nil {
			continue
		}
		Connect(n, g.Capture)
		Connect(n, g.Monitor)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Compose",
		"media":    media != nil,
		"cue":      cue != nil,
	}).Debug("Audio graph composed")
	return g
}

// Render produces the next n frames of both buses and advances the engine.
func (g *Graph) Render(ctx *Context, n int) (capture, monitor []float64, err error) {
	bufs, err := ctx.Render(n, g.Capture, g.Monitor)
	if err != nil {
		return nil, nil, err
	}
	return bufs[0], bufs[1], nil
}
