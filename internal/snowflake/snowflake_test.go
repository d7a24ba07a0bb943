package snowflake

import (
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_UniqueAndMonotonic(t *testing.T) {
	gen := NewGenerator()

	start := uint64(time.Now().UnixMilli())

	const workers = 8
	const perWorker = 2000

	var mu sync.Mutex
	all := make([]ID, 0, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]ID, 0, perWorker)
			var prev ID
			for i := 0; i < perWorker; i++ {
				id := gen.Next()
				if i > 0 {
					assert.True(t, prev.Less(id), "ids from one goroutine must increase")
				}
				prev = id
				local = append(local, id)
			}
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	end := uint64(time.Now().UnixMilli())

	seen := make(map[ID]struct{}, len(all))
	for _, id := range all {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}

		ts := ToTimestamp(id)
		assert.GreaterOrEqual(t, ts, start)
		assert.LessOrEqual(t, ts, end)
	}
}

func TestGenerator_SequenceOverflowWaitsForNextMillisecond(t *testing.T) {
	base := time.UnixMilli(int64(Epoch) + 5_000)
	current := base
	sleeps := 0

	gen := NewGenerator(
		WithClock(func() time.Time { return current }),
		WithSleep(func(time.Duration) {
			sleeps++
			// 模拟时钟在等待若干次后前进一毫秒
			if sleeps%3 == 0 {
				current = current.Add(time.Millisecond)
			}
		}),
	)

	ids := make([]ID, 0, 5000)
	for i := 0; i < 5000; i++ {
		ids = append(ids, gen.Next())
	}

	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i].Less(ids[j]) }))
	for i := 1; i < len(ids); i++ {
		require.NotEqual(t, ids[i-1], ids[i])
	}

	assert.Equal(t, 3, sleeps, "overflow should poll the clock rather than spin")
	assert.Equal(t, uint64(base.UnixMilli()), ToTimestamp(ids[4095]))
	assert.Equal(t, uint64(base.UnixMilli())+1, ToTimestamp(ids[4096]))
	assert.Equal(t, ID{lo: 5001 << SequenceBits}, ids[4096])
}

func TestGenerator_ClockRegressionKeepsOrder(t *testing.T) {
	now := time.UnixMilli(int64(Epoch) + 10_000)
	gen := NewGenerator(WithClock(func() time.Time { return now }))

	first := gen.Next()
	now = now.Add(-5 * time.Millisecond)
	second := gen.Next()

	assert.True(t, first.Less(second))
	assert.Equal(t, ToTimestamp(first), ToTimestamp(second))
}

func TestToTimestamp(t *testing.T) {
	ms := int64(Epoch) + 123_456_789
	gen := NewGenerator(WithClock(func() time.Time { return time.UnixMilli(ms) }))

	id := gen.Next()
	assert.Equal(t, uint64(ms), ToTimestamp(id))
	assert.Equal(t, uint64(ms), id.Timestamp())
	assert.Equal(t, ID{lo: 123_456_789 << SequenceBits}, id)
}

func TestParseID(t *testing.T) {
	t.Run("十进制往返", func(t *testing.T) {
		id := ID{hi: 7, lo: 42}
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("仅低 64 位的十进制形式", func(t *testing.T) {
		assert.Equal(t, "0", ID{}.String())
		assert.Equal(t, "18446744073709551615", ID{lo: ^uint64(0)}.String())
		assert.Equal(t, "18446744073709551616", ID{hi: 1}.String())
	})

	t.Run("最大值", func(t *testing.T) {
		parsed, err := ParseID("340282366920938463463374607431768211455")
		require.NoError(t, err)
		assert.Equal(t, ID{hi: ^uint64(0), lo: ^uint64(0)}, parsed)
	})

	t.Run("非法输入", func(t *testing.T) {
		for _, in := range []string{"", "abc", "-1", "+1", "1.5", " 12", "340282366920938463463374607431768211456"} {
			_, err := ParseID(in)
			assert.ErrorIs(t, err, ErrInvalidID, in)
		}
	})
}

func TestID_KeyOrdering(t *testing.T) {
	small := ID{lo: 1 << 40}
	large := ID{hi: 1, lo: 0}

	assert.Less(t, small.Hex(), large.Hex())
	assert.Len(t, small.Hex(), 32)

	back, err := ParseHex(large.Hex())
	require.NoError(t, err)
	assert.Equal(t, large, back)

	assert.Equal(t, large, FromBytes(large.Bytes()))

	_, err = ParseHex("zz")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestID_JSON(t *testing.T) {
	id := ID{lo: 9_007_199_254_740_993}

	data, err := json.Marshal(struct {
		ID ID `json:"id"`
	}{id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":9007199254740993}`, string(data))
	assert.Contains(t, string(data), "9007199254740993")

	var decoded struct {
		ID ID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"12"}`), &decoded))
	assert.Equal(t, FromUint64(12), decoded.ID)
}
