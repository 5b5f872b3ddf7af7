package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	q := New(4)
	done := make(chan struct{})

	require.NoError(t, q.Push(Row{1}, done))
	require.NoError(t, q.Push(Row{2}, done))

	row, ok := q.Pop(done)
	require.True(t, ok)
	assert.Equal(t, Row{1}, row)

	row, ok = q.Pop(done)
	require.True(t, ok)
	assert.Equal(t, Row{2}, row)
}

func TestCapacityMinimumOne(t *testing.T) {
	q := New(0)
	assert.Equal(t, 1, q.Cap())
}

func TestCloseDrainsThenReportsExhaustion(t *testing.T) {
	q := New(4)
	done := make(chan struct{})

	require.NoError(t, q.Push(Row{1}, done))
	q.Close()

	row, ok := q.Pop(done)
	require.True(t, ok)
	assert.Equal(t, Row{1}, row)

	_, ok = q.Pop(done)
	assert.False(t, ok)
}

func TestPushAfterCloseReturnsErrClosed(t *testing.T) {
	q := New(1)
	done := make(chan struct{})

	q.Close()
	err := q.Push(Row{1}, done)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPushBlocksUntilCapacityFrees(t *testing.T) {
	q := New(1)
	done := make(chan struct{})
	require.NoError(t, q.Push(Row{1}, done))

	pushed := make(chan struct{})
	go func() {
		_ = q.Push(Row{2}, done)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push on a full queue should have blocked")
	case <-time.After(20 * time.Millisecond):
	}

	_, _ = q.Pop(done)
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push should unblock once capacity frees")
	}
}

func TestLenNeverExceedsCap(t *testing.T) {
	q := New(2)
	done := make(chan struct{})
	require.NoError(t, q.Push(Row{1}, done))
	require.NoError(t, q.Push(Row{2}, done))
	assert.LessOrEqual(t, q.Len(), q.Cap())
}
