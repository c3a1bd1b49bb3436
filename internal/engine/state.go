package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle stage of an export session.
type State int

const (
	Idle State = iota
	Preparing
	Rendering
	Finalizing
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Rendering:
		return "rendering"
	case Finalizing:
		return "finalizing"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Idle:       {Preparing},
	Preparing:  {Rendering, Failed},
	Rendering:  {Finalizing, Failed},
	Finalizing: {Complete, Failed},
}

// CanTransition reports whether from → to is a legal step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal states end a session.
func (s State) Terminal() bool {
	return s == Complete || s == Failed
}

// Status is the caller-facing view of a session.
type Status struct {
	SessionID  string
	State      State
	Message    string
	InProgress bool
	Err        error
}

// Session is the mutable record of one export run.
type Session struct {
	ID string

	mu       sync.Mutex
	state    State
	message  string
	width    int
	height   int
	fps      int
	mime     string
	chunks   [][]byte
	bytes    int
	err      error
	started  time.Time
	observer func(Status)
}

func NewSession(observer func(Status)) *Session {
	return &Session{
		ID:       uuid.NewString(),
		state:    Idle,
		message:  "Ready",
		started:  time.Now(),
		observer: observer,
	}
}

// Transition moves to the next state with a status message.
func (s *Session) Transition(to State, message string) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	s.state = to
	s.message = message
	st := s.statusLocked()
	obs := s.observer
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session": s.ID,
		"from":    from.String(),
		"to":      to.String(),
	}).Debug(message)
	if obs != nil {
		obs(st)
	}
	return nil
}

// Fail records err and moves to Failed from any non-terminal state.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = Failed
	s.err = err
	s.message = "Export failed: " + err.Error()
	st := s.statusLocked()
	obs := s.observer
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session": s.ID,
		"error":   err.Error(),
	}).Error("Export failed")
	if obs != nil {
		obs(st)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed is the time since the session was created.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.started)
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		SessionID:  s.ID,
		State:      s.state,
		Message:    s.message,
		InProgress: s.state != Idle && !s.state.Terminal(),
		Err:        s.err,
	}
}

func (s *Session) setFormat(w, h, fps int, mime string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width, s.height, s.fps, s.mime = w, h, fps, mime
}

// Dimensions of the render surface.
func (s *Session) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *Session) Mime() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mime
}

func (s *Session) appendChunk(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, b)
	s.bytes += len(b)
}

// ChunkCount is the number of encoded chunks received so far.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// assemble concatenates the chunks and drops them from the session.
func (s *Session) assemble() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, s.bytes)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	s.chunks = nil
	s.bytes = 0
	return out
}
