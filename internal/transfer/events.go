package transfer

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names an engine event.
type EventType string

const (
	EventMode     EventType = "mode"
	EventPhase    EventType = "phase"
	EventPosition EventType = "position"
	EventIO       EventType = "io"
	EventHoming   EventType = "homing"
	EventCycle    EventType = "cycle"
	EventFault    EventType = "fault"
)

// HomingProgress reports one axis of a homing run.
type HomingProgress struct {
	Axis string `json:"axis"`
	Done bool   `json:"done"`
}

// Event is a change notification. Only the payload fields belonging to
// Type are set.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	Mode        Mode               `json:"mode,omitempty"`
	Status      string             `json:"status,omitempty"`
	Phase       *Phase             `json:"phase,omitempty"`
	CycleID     string             `json:"cycle_id,omitempty"`
	Observation *AxisObservation   `json:"observation,omitempty"`
	Zones       *ZoneMembership    `json:"zones,omitempty"`
	IO          *DigitalIOSnapshot `json:"io,omitempty"`
	Homing      *HomingProgress    `json:"homing,omitempty"`
	Cycle       *CycleRecord       `json:"cycle,omitempty"`
	Fault       *Fault             `json:"fault,omitempty"`
}

// Bus fans engine events out to subscribers. A slow subscriber loses
// events rather than stalling the engine.
type Bus struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	dropped atomic.Uint64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events and a function that unsubscribes
// and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were discarded because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
