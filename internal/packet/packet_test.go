package packet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampConversion(t *testing.T) {
	ts := FromMillis(42)
	assert.Equal(t, int64(42000), ts.Value())
	assert.Equal(t, int64(42), ts.Millis())
	assert.True(t, ts.IsSet())

	assert.False(t, Unset.IsSet())
	assert.Equal(t, Unset.Value(), Unset.Millis(), "Unset must survive conversion")
}

func TestParseMillisBounds(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		ok   bool
	}{
		{"zero", 0, true},
		{"max", MaxMillis, true},
		{"min", MinMillis, true},
		{"above max", MaxMillis + 1, false},
		{"below min", MinMillis - 1, false},
		{"int64 max", math.MaxInt64, false},
		{"int64 min", math.MinInt64, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ParseMillis(tt.ms)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrTimestampRange)
				return
			}
			require.NoError(t, err)
			assert.True(t, ts.IsSet())
			assert.Equal(t, tt.ms, ts.Millis(), "round trip")
		})
	}
}

func TestPacketGet(t *testing.T) {
	p := Make([]int{1, 2}).At(FromMillis(5))

	v, err := Get[[]int](p)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, v)
	assert.Equal(t, FromMillis(5), p.Timestamp())

	_, err = Get[string](p)
	assert.Error(t, err, "wrong type must fail")

	_, err = Get[[]int](Empty(FromMillis(5)))
	assert.Error(t, err, "empty packet must fail")
}

func TestMapAccessors(t *testing.T) {
	var m Map
	_, ok := m.Get("missing")
	assert.False(t, ok)

	m.Set("b", Make(2))
	m.Set("a", Make(1))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"a", "b"}, m.Names())

	stamped := m.StampAll(FromMillis(7))
	ts, err := stamped.Timestamp()
	require.NoError(t, err)
	assert.Equal(t, FromMillis(7), ts)

	// StampAll copies; m keeps its timestamps.
	p, _ := m.Get("a")
	assert.Equal(t, Unset, p.Timestamp())
}

func TestMapTimestampMismatch(t *testing.T) {
	m := NewMap(map[string]Packet{
		"a": Make(1).At(1),
		"b": Make(2).At(2),
	})
	_, err := m.Timestamp()
	assert.Error(t, err)

	_, err = Map{}.Timestamp()
	assert.Error(t, err)
}
