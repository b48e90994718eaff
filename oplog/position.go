package oplog

import (
	"fmt"
	"time"

	"github.com/juju/mgo/v3/bson"
)

// Position identifies a point in the oplog. T is the coarse component
// (seconds) and I the fine component disambiguating entries within the
// same second. Positions order by T, then by I.
type Position struct {
	T uint32 `json:"t" toml:"t" msgpack:"t"`
	I uint32 `json:"i" toml:"i" msgpack:"i"`
}

// FromWallClock converts a wall-clock time to a Position.
// The millisecond remainder is carried in I so that WallClock is its
// exact inverse at millisecond resolution.
func FromWallClock(t time.Time) Position {
	return FromMillis(t.UnixMilli())
}

// FromMillis converts unix milliseconds to a Position.
// Negative values clamp to the zero Position.
func FromMillis(ms int64) Position {
	if ms <= 0 {
		return Position{}
	}
	return Position{
		T: uint32(ms / 1000),
		I: uint32(ms % 1000),
	}
}

// Millis returns the wall-clock value of p in unix milliseconds.
func (p Position) Millis() int64 {
	return int64(p.T)*1000 + int64(p.I)
}

// FloorMillis returns p in unix milliseconds with the fine component
// capped at 999. FromMillis of the result never sorts after p, so a
// position persisted this way resumes at or before p.
func (p Position) FloorMillis() int64 {
	return int64(p.T)*1000 + int64(min(p.I, 999))
}

// WallClock returns the wall-clock time encoded by p.
func (p Position) WallClock() time.Time {
	return time.UnixMilli(p.Millis())
}

// Compare returns -1, 0 or +1 depending on whether a sorts before,
// equal to, or after b.
func Compare(a, b Position) int {
	switch {
	case a.T < b.T:
		return -1
	case a.T > b.T:
		return 1
	case a.I < b.I:
		return -1
	case a.I > b.I:
		return 1
	}
	return 0
}

// Less reports whether p sorts strictly before o.
func (p Position) Less(o Position) bool {
	return Compare(p, o) < 0
}

// IsZero reports whether p is the zero Position (start of the log).
func (p Position) IsZero() bool {
	return p.T == 0 && p.I == 0
}

// MongoTimestamp packs p the way the oplog stores its ts field.
func (p Position) MongoTimestamp() bson.MongoTimestamp {
	return bson.MongoTimestamp(int64(p.T)<<32 | int64(p.I))
}

// PositionFromMongoTimestamp unpacks an oplog ts value.
func PositionFromMongoTimestamp(ts bson.MongoTimestamp) Position {
	return PositionFromUint64(uint64(ts))
}

// Uint64 packs p into a single ordered integer.
func (p Position) Uint64() uint64 {
	return uint64(p.T)<<32 | uint64(p.I)
}

// PositionFromUint64 is the inverse of Uint64.
func PositionFromUint64(v uint64) Position {
	return Position{T: uint32(v >> 32), I: uint32(v)}
}

func (p Position) String() string {
	return fmt.Sprintf("Timestamp(%d, %d)", p.T, p.I)
}
