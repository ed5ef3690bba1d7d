// Package timer schedules the delayed reminders that drive rekeying and
// liveness: each armed timer posts a Message onto a shared channel once it
// fires, rather than mutating state directly, so the Peer Server loop
// remains the sole mutator of peer/session state.
package timer

import "time"

// Kind names which timer fired.
type Kind int

const (
	Rekey Kind = iota
	Reject
	PassiveKeepalive
	PersistentKeepalive
)

func (k Kind) String() string {
	switch k {
	case Rekey:
		return "rekey"
	case Reject:
		return "reject"
	case PassiveKeepalive:
		return "passive-keepalive"
	case PersistentKeepalive:
		return "persistent-keepalive"
	default:
		return "unknown"
	}
}

// Message is what a fired timer posts. Owner is the peer the timer was
// armed for (typed as any to avoid a dependency on the peer package);
// Index is the receiver id the timer was armed against — timer handlers
// must re-check that this id still names a live session, since timers are
// non-authoritative reminders.
type Message struct {
	Kind  Kind
	Owner any
	Index uint32
}

// Set spawns delayed Messages onto a shared channel. The zero value is not
// usable; construct with NewSet.
type Set struct {
	out chan<- Message
}

// NewSet returns a Set that posts fired timers onto out.
func NewSet(out chan<- Message) *Set {
	return &Set{out: out}
}

// SpawnDelayed arms a one-shot timer that posts msg onto the set's channel
// after d elapses. SpawnDelayed itself returns immediately; the send happens
// on the goroutine backing time.AfterFunc, which blocks until there is room
// if the channel is full, matching the event loop's backpressure discipline
// for producer streams other than ingress.
func (s *Set) SpawnDelayed(d time.Duration, kind Kind, owner any, index uint32) *time.Timer {
	return time.AfterFunc(d, func() {
		s.out <- Message{Kind: kind, Owner: owner, Index: index}
	})
}
