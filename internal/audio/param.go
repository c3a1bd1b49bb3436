package audio

import (
	"math"
	"sort"
	"sync"
)

type rampKind int

const (
	setValue rampKind = iota
	linearRamp
	exponentialRamp
)

type automationEvent struct {
	kind  rampKind
	time  float64
	value float64
}

// Param is an automatable value on the engine clock.
//
// Between a SetValueAtTime and a following ramp event the value moves from
// the earlier event's value to the ramp's target. Before the first event
// the default value applies; after the last event its value is held.
type Param struct {
	mu     sync.RWMutex
	def    float64
	events []automationEvent
}

func NewParam(defaultValue float64) *Param {
	return &Param{def: defaultValue}
}

func (p *Param) SetValueAtTime(value, t float64) *Param {
	p.insert(automationEvent{kind: setValue, time: t, value: value})
	return p
}

func (p *Param) LinearRampToValueAtTime(value, t float64) *Param {
	p.insert(automationEvent{kind: linearRamp, time: t, value: value})
	return p
}

// ExponentialRampToValueAtTime ramps geometrically. The curve is only
// defined when both endpoints are non-zero with the same sign; otherwise
// the previous value is held until t.
func (p *Param) ExponentialRampToValueAtTime(value, t float64) *Param {
	p.insert(automationEvent{kind: exponentialRamp, time: t, value: value})
	return p
}

// SetValue replaces the default value.
func (p *Param) SetValue(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.def = v
}

func (p *Param) insert(e automationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > e.time })
	p.events = append(p.events, automationEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = e
}

// ValueAt evaluates the automation at engine time t.
func (p *Param) ValueAt(t float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// first event strictly after t
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > t })
	if i == 0 {
		return p.def
	}
	if i == len(p.events) {
		return p.events[i-1].value
	}

	prev, next := p.events[i-1], p.events[i]
	span := next.time - prev.time
	if span <= 0 {
		return prev.value
	}
	frac := (t - prev.time) / span

	switch next.kind {
	case linearRamp:
		return prev.value + (next.value-prev.value)*frac
	case exponentialRamp:
		if prev.value == 0 || next.value == 0 || (prev.value > 0) != (next.value > 0) {
			return prev.value
		}
		return prev.value * math.Pow(next.value/prev.value, frac)
	default:
		return prev.value
	}
}
