package page

import "time"

// SignalKind enumerates the signals a page raises
type SignalKind string

const (
	SignalScroll       SignalKind = "scroll"
	SignalPointerLeave SignalKind = "pointer_leave"
	SignalActivity     SignalKind = "activity"
	SignalCustom       SignalKind = "custom"
	SignalNavigate     SignalKind = "navigate"
	SignalResize       SignalKind = "resize"
)

// Signal is one observed page event
type Signal struct {
	Kind    SignalKind
	At      time.Time
	Name    string  // custom event name, or the new URL for navigate
	ScrollY float64 // scroll
	ClientY float64 // pointer_leave
}

type subscription struct {
	kind   SignalKind
	fn     func(Signal)
	active bool
}

// Bus fans signals out to subscribers in subscription order. It is not safe for
// concurrent use; the owning page confines it to one event loop.
type Bus struct {
	subs []*subscription
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for one signal kind. The returned func unsubscribes; it is
// idempotent and takes effect immediately, even in the middle of a Publish.
func (b *Bus) Subscribe(kind SignalKind, fn func(Signal)) (unsubscribe func()) {
	s := &subscription{kind: kind, fn: fn, active: true}
	b.subs = append(b.subs, s)
	return func() {
		if !s.active {
			return
		}
		s.active = false
		b.compact()
	}
}

// Publish delivers sig to every active subscriber of its kind. Subscribers added
// during delivery do not receive the signal being published.
func (b *Bus) Publish(sig Signal) {
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	for _, s := range snapshot {
		if s.active && s.kind == sig.Kind {
			s.fn(sig)
		}
	}
}

// Len returns the number of live subscriptions
func (b *Bus) Len() int {
	return len(b.subs)
}

func (b *Bus) compact() {
	live := b.subs[:0]
	for _, s := range b.subs {
		if s.active {
			live = append(live, s)
		}
	}
	for i := len(live); i < len(b.subs); i++ {
		b.subs[i] = nil
	}
	b.subs = live
}
