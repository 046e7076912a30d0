package reqpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAllocFree(t *testing.T) {
	t.Run("AllocUpToDepthThenExhausts", func(t *testing.T) {
		p := New(2)
		r1, err := p.Alloc()
		require.NoError(t, err)
		r2, err := p.Alloc()
		require.NoError(t, err)
		assert.NotSame(t, r1, r2)

		_, err = p.Alloc()
		assert.ErrorIs(t, err, ErrExhausted)
	})

	t.Run("FreeMakesSlotAvailableAgain", func(t *testing.T) {
		p := New(1)
		r, err := p.Alloc()
		require.NoError(t, err)
		assert.True(t, r.IsLive())

		p.Free(r)
		assert.False(t, r.IsLive())

		_, err = p.Alloc()
		assert.NoError(t, err)
	})

	t.Run("InUseCountTracksOutstandingAllocations", func(t *testing.T) {
		p := New(3)
		assert.Equal(t, 0, p.InUseCount())
		r1, _ := p.Alloc()
		assert.Equal(t, 1, p.InUseCount())
		_, _ = p.Alloc()
		assert.Equal(t, 2, p.InUseCount())
		p.Free(r1)
		assert.Equal(t, 1, p.InUseCount())
	})
}

func TestRequestStateTrace(t *testing.T) {
	p := New(1)
	r, err := p.Alloc()
	require.NoError(t, err)

	r.SetState(StateReadBdev)
	r.SetState(StateReadXfer)
	r.SetState(StateSuccess)

	trace := r.Trace()
	require.Len(t, trace, 3)
	assert.Equal(t, TracePoint{From: StateInit, To: StateReadBdev}, trace[0])
	assert.Equal(t, TracePoint{From: StateReadBdev, To: StateReadXfer}, trace[1])
	assert.Equal(t, TracePoint{From: StateReadXfer, To: StateSuccess}, trace[2])
}

func TestRequestAbortCallbacks(t *testing.T) {
	p := New(1)
	r, err := p.Alloc()
	require.NoError(t, err)

	var ran []int
	r.AddAbortCallback(func(*Request) { ran = append(ran, 1) })
	r.AddAbortCallback(func(*Request) { ran = append(ran, 2) })

	r.RunAbortCallbacks()
	assert.Equal(t, []int{1, 2}, ran)

	r.RunAbortCallbacks()
	assert.Equal(t, []int{1, 2}, ran, "callbacks must not re-fire once drained")
}

func TestStateStringCoversAllStates(t *testing.T) {
	for s := StateInit; s <= StateFusedWaiting; s++ {
		assert.NotEqual(t, "unknown", s.String())
	}
}
