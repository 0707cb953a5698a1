package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

func target(url string) graph.Target {
	return graph.Target{URL: url, Page: graph.PagePlaceDetails, Job: graph.JobPlace}
}

func TestQueueFIFOAndDedupe(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, target("a")))
	require.NoError(t, q.Enqueue(ctx, target("b")))
	require.NoError(t, q.Enqueue(ctx, target("a")))
	require.Equal(t, 2, q.Len())

	got, ok := q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, "a", got.URL)
	got, ok = q.TryDequeue()
	require.True(t, ok)
	require.Equal(t, "b", got.URL)
	_, ok = q.TryDequeue()
	require.False(t, ok)

	// Already admitted once, so it stays out even after being consumed.
	require.NoError(t, q.Enqueue(ctx, target("a")))
	require.Equal(t, 0, q.Len())
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), target("a")))
	require.ErrorIs(t, q.Enqueue(context.Background(), target("b")), ErrFull)

	// A rejected URL may be offered again later.
	q.TryDequeue()
	require.NoError(t, q.Enqueue(context.Background(), target("b")))
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan graph.Target, 1)
	go func() {
		got, err := q.Dequeue(context.Background())
		if err == nil {
			result <- got
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), target("a")))
	select {
	case got := <-result:
		require.Equal(t, "a", got.URL)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return target")
	}
}

func TestQueueCancelationAndClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, q.Enqueue(ctx, target("a")), context.Canceled)

	q.Close()
	q.Close()
	require.ErrorIs(t, q.Enqueue(context.Background(), target("a")), ErrClosed)
	_, err = q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	_, ok := q.TryDequeue()
	require.False(t, ok)
}
