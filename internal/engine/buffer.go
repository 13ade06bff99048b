package engine

import "time"

// Event is an opaque platform key event. The engine only ever copies it so
// a buffered event outlives the callback that delivered it.
type Event interface {
	Copy() Event
}

// BufferedEvent is a non-mod key event held back while a decision is pending.
type BufferedEvent struct {
	Event     Event
	KeyCode   uint16
	Down      bool
	Timestamp time.Duration
}

// Buffer is an unbounded FIFO of held-back events.
type Buffer struct {
	events []BufferedEvent
}

// Append adds an event at the tail.
func (b *Buffer) Append(ev BufferedEvent) {
	b.events = append(b.events, ev)
}

// Drain empties the buffer and returns its events in insertion order.
func (b *Buffer) Drain() []BufferedEvent {
	events := b.events
	b.events = nil
	return events
}

func (b *Buffer) Len() int { return len(b.events) }

func (b *Buffer) Empty() bool { return len(b.events) == 0 }
