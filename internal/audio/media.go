package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// MediaSource streams the decoded source track (mono f32le) into the
// graph. It is silent until Attach aligns the stream with the engine frame
// at which playback started; reads then follow the engine clock.
type MediaSource struct {
	mu         sync.Mutex
	ctx        *Context
	r          *bufio.Reader
	startFrame int64
	next       int64 // index of the next sample in the stream
	attached   bool
	eof        bool
	err        error
	cache      block
	scratch    [4]byte
}

func (c *Context) NewMediaSource() *MediaSource {
	m := &MediaSource{ctx: c}
	c.track(m)
	return m
}

// Attach starts reading r at the engine frame startFrame. A nil reader
// keeps the node silent, which is how sources without audio behave.
func (m *MediaSource) Attach(r io.Reader, startFrame int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startFrame = startFrame
	m.next = 0
	m.eof = r == nil
	m.err = nil
	m.attached = true
	if r != nil {
		m.r = bufio.NewReaderSize(r, 64*1024)
	}
}

// Err reports a read failure other than EOF.
func (m *MediaSource) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MediaSource) Pull(start int64, n int) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out, hit := m.cache.get(start, n)
	if hit || !m.attached {
		return out
	}

	for i := range out {
		idx := start + int64(i) - m.startFrame
		if idx < 0 {
			continue
		}
		for !m.eof && m.next <= idx {
			v, ok := m.read()
			if !ok {
				break
			}
			if m.next == idx {
				out[i] = v
			}
			m.next++
		}
	}
	return out
}

func (m *MediaSource) read() (float64, bool) {
	if _, err := io.ReadFull(m.r, m.scratch[:]); err != nil {
		m.eof = true
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			m.err = err
			logrus.WithFields(logrus.Fields{
				"function": "MediaSource.read",
				"error":    err.Error(),
			}).Warn("Source audio stream failed")
		}
		return 0, false
	}
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(m.scratch[:]))), true
}

func (m *MediaSource) dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached = false
	m.r = nil
	m.cache = block{}
}
