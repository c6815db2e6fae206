package priorityQueue

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopDueOrdersByReleaseThenArrival(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pq := PriorityQueue{}
	heap.Init(&pq)

	push := func(seq uint64, after time.Duration) {
		heap.Push(&pq, &DelayedDatagram{Release: base.Add(after), Seq: seq})
	}
	push(1, 30*time.Millisecond)
	push(2, 10*time.Millisecond)
	push(3, 10*time.Millisecond)
	push(4, 50*time.Millisecond)
	push(5, 0)

	require.Equal(t, uint64(5), pq.Peek().Seq)
	assert.Empty(t, pq.PopDue(base.Add(-time.Millisecond)))

	var got []uint64
	for _, d := range pq.PopDue(base.Add(30 * time.Millisecond)) {
		got = append(got, d.Seq)
		assert.Equal(t, -1, d.Index)
	}
	assert.Equal(t, []uint64{5, 2, 3, 1}, got)
	assert.Equal(t, 1, pq.Len())
	assert.Equal(t, uint64(4), pq.Peek().Seq)

	pq.PopDue(base.Add(time.Hour))
	assert.Nil(t, pq.Peek())
}

func TestIndexTracksHeapPosition(t *testing.T) {
	base := time.Now()
	pq := PriorityQueue{}
	for i := 0; i < 20; i++ {
		heap.Push(&pq, &DelayedDatagram{Release: base.Add(time.Duration(20-i) * time.Millisecond), Seq: uint64(i)})
	}
	for i, d := range pq {
		assert.Equal(t, i, d.Index)
	}
}
