package thread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchBlockingRunsOnWorker(t *testing.T) {
	m := NewManager()
	m.Acquire("stage")
	defer m.Release("stage")

	var ran bool
	err := m.DispatchBlocking(context.Background(), "stage", func(ctx context.Context) { ran = true }, time.Second)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestDispatchFIFOOrdering(t *testing.T) {
	m := NewManager()
	m.Acquire("stage")
	defer m.Release("stage")

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		if i == 4 {
			require.NoError(t, m.DispatchBlocking(context.Background(), "stage", func(ctx context.Context) {
				order = append(order, i)
				close(done)
			}, time.Second))
			continue
		}
		require.NoError(t, m.Dispatch("stage", func(ctx context.Context) { order = append(order, i) }))
	}
	<-done
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDispatchAfterReleaseFails(t *testing.T) {
	m := NewManager()
	m.Acquire("stage")
	m.Release("stage")

	err := m.Dispatch("stage", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrWorkerStopped)
}

func TestRefCountKeepsWorkerAliveUntilLastRelease(t *testing.T) {
	m := NewManager()
	m.Acquire("stage")
	m.Acquire("stage")
	assert.Equal(t, 2, m.RefCount("stage"))

	m.Release("stage")
	assert.Equal(t, 1, m.RefCount("stage"))
	err := m.Dispatch("stage", func(ctx context.Context) {})
	assert.NoError(t, err)

	m.Release("stage")
	assert.Equal(t, 0, m.RefCount("stage"))
}

func TestDispatchBlockingTimeout(t *testing.T) {
	m := NewManager()
	m.Acquire("slow")
	defer m.Release("slow")

	release := make(chan struct{})
	require.NoError(t, m.Dispatch("slow", func(ctx context.Context) { <-release }))

	err := m.DispatchBlocking(context.Background(), "slow", func(ctx context.Context) {}, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrDispatchTimeout)
	close(release)
}
