package eventtap

import (
	"sync"
)

// SimulatedTap is an in-memory Tap. Events are fed with Inject and every
// outcome is recorded, which makes it suitable for tests and dry runs.
type SimulatedTap struct {
	// OpenErr, when set, is returned by Open.
	OpenErr error

	mu      sync.Mutex
	handler Handler
	closed  chan struct{}
	exit    chan error
	posted  []Event
	passed  []Event
	enables int
}

// NewSimulatedTap creates a simulated tap.
func NewSimulatedTap() *SimulatedTap {
	return &SimulatedTap{}
}

func (t *SimulatedTap) Open(h Handler) error {
	if t.OpenErr != nil {
		return t.OpenErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
	t.closed = make(chan struct{})
	t.exit = make(chan error, 1)
	return nil
}

func (t *SimulatedTap) Run() error {
	t.mu.Lock()
	closed, exit := t.closed, t.exit
	t.mu.Unlock()
	if closed == nil {
		return ErrClosed
	}
	select {
	case <-closed:
		return nil
	case err := <-exit:
		return err
	}
}

// Exit makes Run return err without Close, like a tap whose devices
// disappeared.
func (t *SimulatedTap) Exit(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exit != nil {
		select {
		case t.exit <- err:
		default:
		}
	}
}

func (t *SimulatedTap) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enables++
	return nil
}

func (t *SimulatedTap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		close(t.closed)
		t.closed = nil
	}
	t.handler = nil
	return nil
}

func (t *SimulatedTap) Post(ev Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed == nil {
		return ErrClosed
	}
	t.posted = append(t.posted, ev)
	return nil
}

// Inject delivers ev to the installed handler as if it came from the
// keyboard. Passed events are recorded with the handler's modifications.
// Without a handler the event passes untouched.
func (t *SimulatedTap) Inject(ev Event) Verdict {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h == nil {
		return Pass
	}

	v := h(&ev)
	if v == Pass && ev.Type != TapDisabled {
		t.mu.Lock()
		t.passed = append(t.passed, ev)
		t.mu.Unlock()
	}
	return v
}

// Posted returns the synthetic events posted so far.
func (t *SimulatedTap) Posted() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.posted...)
}

// Passed returns the injected events that were let through.
func (t *SimulatedTap) Passed() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.passed...)
}

// Reset forgets recorded events.
func (t *SimulatedTap) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.posted = nil
	t.passed = nil
}

// Enables returns how many times Enable was called.
func (t *SimulatedTap) Enables() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enables
}
