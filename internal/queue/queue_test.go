package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New[string]()
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")
	require.Equal(t, 3, q.Size())

	v, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "a", v)

	v, ok = q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestDequeueEmpty(t *testing.T) {
	q := New[int]()
	_, ok := q.Dequeue()
	require.False(t, ok)
	require.True(t, q.IsEmpty())
}

func TestPeekBatchIdempotent(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	first := q.PeekBatch(3)
	second := q.PeekBatch(3)
	require.Equal(t, first, second)
	require.Equal(t, 5, q.Size(), "PeekBatch must not remove items")
}

func TestPeekBatchMoreThanAvailable(t *testing.T) {
	q := New[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	got := q.PeekBatch(10)
	require.Len(t, got, 2)
}

func TestDequeueBatch(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	got := q.DequeueBatch(3)
	require.Equal(t, []int{0, 1, 2}, got)
	require.Equal(t, 2, q.Size())
}

func TestClearResetsState(t *testing.T) {
	q := New[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Clear()
	require.True(t, q.IsEmpty())
	require.Equal(t, 0, q.Size())
}

func TestQueueDrainsToEmptyAndRefills(t *testing.T) {
	q := New[int]()
	q.Enqueue(1)
	q.Dequeue()
	require.True(t, q.IsEmpty())
	q.Enqueue(2)
	v, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, 2, v)
}
