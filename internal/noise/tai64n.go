package noise

import (
	"encoding/binary"
	"time"
)

// Timestamp is a TAI64N value: 8 bytes of seconds since the TAI epoch
// (offset by 2^62, per the TAI64 convention) followed by 4 bytes of
// nanoseconds.
type Timestamp [TimestampSize]byte

const tai64Epoch = 1 << 62

// Now returns the current time encoded as TAI64N.
func Now() Timestamp {
	return fromTime(time.Now())
}

func fromTime(t time.Time) Timestamp {
	var ts Timestamp
	binary.BigEndian.PutUint64(ts[0:8], tai64Epoch+uint64(t.Unix()))
	binary.BigEndian.PutUint32(ts[8:12], uint32(t.Nanosecond()))
	return ts
}

// After reports whether ts is strictly later than other, used to enforce
// monotonic handshake timestamps per peer.
func (ts Timestamp) After(other Timestamp) bool {
	return string(ts[:]) > string(other[:])
}

// IsZero reports whether ts is the zero value, i.e. no timestamp has been
// recorded yet for a peer.
func (ts Timestamp) IsZero() bool {
	return ts == Timestamp{}
}
