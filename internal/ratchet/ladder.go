package ratchet

// Slot names the three positions in a peer's SessionLadder.
type Slot int

const (
	SlotNone Slot = iota
	SlotPast
	SlotCurrent
	SlotNext
)

func (s Slot) String() string {
	switch s {
	case SlotPast:
		return "past"
	case SlotCurrent:
		return "current"
	case SlotNext:
		return "next"
	default:
		return "none"
	}
}

// Ladder holds the three-generation session structure for one peer: next
// (a session derived as responder while a current session already exists,
// not yet confirmed by inbound traffic), current (the session outbound
// traffic is encrypted under), and past (the previous current, kept
// briefly to decrypt packets still in flight). At most one session
// occupies each slot. An initiator-side session does not wait in next: it
// is promoted to current as soon as it is installed. A responder session
// installed directly into current stays unconfirmed until traffic arrives
// on it.
type Ladder struct {
	Past    *Session
	Current *Session
	Next    *Session
}

// SetNext installs s as the ladder's next session, replacing and releasing
// whatever was there before. Returns the receiver id of the displaced
// session, if any, so the caller can release it from the index map.
func (l *Ladder) SetNext(s *Session) (displacedID uint32, hadDisplaced bool) {
	if l.Next != nil {
		displacedID, hadDisplaced = l.Next.LocalIndex, true
		l.Next.Zero()
	}
	l.Next = s
	return displacedID, hadDisplaced
}

// SetCurrentDirect installs s as current with no promotion, used on the
// responder path when no current session exists yet.
func (l *Ladder) SetCurrentDirect(s *Session) {
	l.Current = s
}

// Promote moves next into current, current into past, and destroys the
// previous past, releasing its receiver id. It is idempotent: promoting a
// next that is already current is a no-op and returns hadPromotion=false.
func (l *Ladder) Promote() (releasedPastID uint32, hadPromotion bool) {
	if l.Next == nil {
		return 0, false
	}
	if l.Current == l.Next {
		return 0, false
	}

	if l.Past != nil {
		releasedPastID, hadPromotion = l.Past.LocalIndex, true
		l.Past.Zero()
	}
	l.Past = l.Current
	l.Current = l.Next
	l.Next = nil
	l.Current.Confirmed = true
	return releasedPastID, hadPromotion
}

// Find returns the session occupying slot id, and which slot it's in, or
// nil/SlotNone if none matches.
func (l *Ladder) Find(localIndex uint32) (*Session, Slot) {
	switch {
	case l.Next != nil && l.Next.LocalIndex == localIndex:
		return l.Next, SlotNext
	case l.Current != nil && l.Current.LocalIndex == localIndex:
		return l.Current, SlotCurrent
	case l.Past != nil && l.Past.LocalIndex == localIndex:
		return l.Past, SlotPast
	default:
		return nil, SlotNone
	}
}

// Clear destroys every session in the ladder, returning the receiver ids
// that need to be released from the index map.
func (l *Ladder) Clear() []uint32 {
	var ids []uint32
	for _, s := range []*Session{l.Past, l.Current, l.Next} {
		if s != nil {
			ids = append(ids, s.LocalIndex)
			s.Zero()
		}
	}
	l.Past, l.Current, l.Next = nil, nil, nil
	return ids
}
