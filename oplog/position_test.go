package oplog

import (
	"sort"
	"testing"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromWallClock_RoundTrip(t *testing.T) {
	times := []int64{
		0,
		1,
		999,
		1000,
		1429559473002,
		1430017181001,
		time.Date(2038, 1, 19, 3, 14, 7, 999e6, time.UTC).UnixMilli(),
	}

	for _, ms := range times {
		wall := time.UnixMilli(ms)
		pos := FromWallClock(wall)
		assert.True(t, pos.WallClock().Equal(wall), "round trip of %d gave %d", ms, pos.Millis())
		assert.Equal(t, ms, pos.Millis())
	}
}

func TestFromWallClock_Split(t *testing.T) {
	pos := FromMillis(1429559473002)
	assert.Equal(t, uint32(1429559473), pos.T)
	assert.Equal(t, uint32(2), pos.I)
}

func TestFromMillis_NegativeClampsToZero(t *testing.T) {
	assert.True(t, FromMillis(-5).IsZero())
	assert.True(t, FromMillis(0).IsZero())
}

func TestFloorMillis_NeverResumesPastPosition(t *testing.T) {
	tests := []struct {
		pos  Position
		want int64
	}{
		{Position{T: 100, I: 0}, 100000},
		{Position{T: 100, I: 999}, 100999},
		{Position{T: 100, I: 1000}, 100999},
		{Position{T: 100, I: 1001}, 100999},
	}

	for _, tc := range tests {
		t.Run(tc.pos.String(), func(t *testing.T) {
			ms := tc.pos.FloorMillis()
			assert.Equal(t, tc.want, ms)
			assert.LessOrEqual(t, Compare(FromMillis(ms), tc.pos), 0)
		})
	}

	wall := time.UnixMilli(1429559473002)
	assert.Equal(t, wall.UnixMilli(), FromWallClock(wall).FloorMillis())
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Position
		want int
	}{
		{"equal", Position{T: 10, I: 1}, Position{T: 10, I: 1}, 0},
		{"coarse before", Position{T: 9, I: 999}, Position{T: 10, I: 0}, -1},
		{"coarse after", Position{T: 11, I: 0}, Position{T: 10, I: 5}, 1},
		{"fine before", Position{T: 10, I: 1}, Position{T: 10, I: 2}, -1},
		{"fine after", Position{T: 10, I: 3}, Position{T: 10, I: 2}, 1},
		{"zero first", Position{}, Position{T: 0, I: 1}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
			assert.Equal(t, -tt.want, Compare(tt.b, tt.a))
			assert.Equal(t, tt.want < 0, tt.a.Less(tt.b))
		})
	}
}

func TestCompare_MatchesPackedOrder(t *testing.T) {
	positions := []Position{
		{T: 3, I: 0}, {T: 1, I: 7}, {T: 1, I: 2}, {T: 2, I: 999}, {T: 0, I: 0},
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Less(positions[j]) })

	for i := 1; i < len(positions); i++ {
		assert.Less(t, positions[i-1].Uint64(), positions[i].Uint64())
		assert.Less(t, int64(positions[i-1].MongoTimestamp()), int64(positions[i].MongoTimestamp()))
	}
}

func TestMongoTimestamp_RoundTrip(t *testing.T) {
	pos := Position{T: 1429559473, I: 2}
	ts := pos.MongoTimestamp()
	require.Equal(t, bson.MongoTimestamp(int64(1429559473)<<32|2), ts)
	assert.Equal(t, pos, PositionFromMongoTimestamp(ts))
	assert.Equal(t, pos, PositionFromUint64(pos.Uint64()))
}

func TestPosition_String(t *testing.T) {
	assert.Equal(t, "Timestamp(1429559473, 2)", Position{T: 1429559473, I: 2}.String())
}
