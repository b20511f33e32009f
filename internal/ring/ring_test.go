package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRing_DropNewestPreservesQueuedOnOverflow(t *testing.T) {
	r := New(3, DropNewest)
	require.Equal(t, Accepted, r.Push([]byte{1}))
	require.Equal(t, Accepted, r.Push([]byte{2}))
	require.Equal(t, Accepted, r.Push([]byte{3}))

	res := r.Push([]byte{4})
	assert.Equal(t, Dropped, res)

	stats := r.Stats()
	assert.Equal(t, 3, stats.Count)
	assert.EqualValues(t, 1, stats.OverflowCount)

	first, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, first, "existing elements must be unchanged after a dropped push")
}

func TestRing_DropOldestEvictsHeadOnOverflow(t *testing.T) {
	r := New(3, DropOldest)
	require.Equal(t, Accepted, r.Push([]byte{1}))
	require.Equal(t, Accepted, r.Push([]byte{2}))
	require.Equal(t, Accepted, r.Push([]byte{3}))

	res := r.Push([]byte{4})
	assert.Equal(t, Accepted, res)

	stats := r.Stats()
	assert.Equal(t, 3, stats.Count)
	assert.EqualValues(t, 1, stats.OverflowCount)

	first, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{2}, first, "oldest frame must have been evicted")
}

func TestRing_PushRejectsEmptyFrame(t *testing.T) {
	r := New(2, DropNewest)
	assert.Equal(t, Dropped, r.Push(nil))
	assert.Equal(t, Dropped, r.Push([]byte{}))
	assert.Equal(t, 0, r.Stats().Count)
}

func TestRing_PopOnEmptyNeverBlocks(t *testing.T) {
	r := New(2, DropNewest)
	frame, ok := r.Pop()
	assert.False(t, ok)
	assert.Nil(t, frame)
}

func TestRing_Clear(t *testing.T) {
	r := New(4, DropOldest)
	r.Push([]byte{1})
	r.Push([]byte{2})
	r.Clear()
	stats := r.Stats()
	assert.Equal(t, 0, stats.Count)
	_, ok := r.Pop()
	assert.False(t, ok)
}

// TestRing_CountInvariant is the spec §8 universal invariant: for all
// push/pop sequences, count stays within [0, capacity] and equals
// pushes_accepted - pops_successful (minus head evictions under DropOldest).
func TestRing_CountInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 16).Draw(t, "capacity")
		policy := DropNewest
		if rapid.Bool().Draw(t, "dropOldest") {
			policy = DropOldest
		}
		r := New(capacity, policy)

		ops := rapid.SliceOfN(rapid.IntRange(0, 1), 0, 200).Draw(t, "ops")
		accepted, popped := 0, 0
		pushedFrames := [][]byte{}

		for i, op := range ops {
			if op == 0 {
				frame := []byte{byte(i), byte(i >> 8)}
				before := r.Stats().Count
				res := r.Push(frame)
				after := r.Stats().Count

				switch res {
				case Accepted:
					accepted++
					pushedFrames = append(pushedFrames, frame)
					if policy == DropOldest && before == capacity {
						// an eviction happened; count stays at capacity
						assert.Equal(t, capacity, after)
					} else {
						assert.Equal(t, before+1, after)
					}
				case Dropped:
					if policy == DropNewest && before == capacity {
						assert.Equal(t, before, after)
					}
				}
			} else {
				frame, ok := r.Pop()
				if ok {
					popped++
					assert.Contains(t, pushedFrames, frame, "pop must never return a frame that wasn't pushed")
				}
			}

			stats := r.Stats()
			count := stats.Count
			assert.GreaterOrEqual(t, count, 0)
			assert.LessOrEqual(t, count, capacity)

			want := accepted - popped
			if policy == DropOldest {
				want -= int(stats.OverflowCount)
			}
			assert.Equal(t, want, count)
		}
	})
}
