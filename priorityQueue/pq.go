package priorityQueue

import (
	"container/heap"
	"net/netip"
	"time"
)

// A DelayedDatagram is a datagram held back until its release time.
type DelayedDatagram struct {
	Release time.Time      // when the datagram may be forwarded
	Seq     uint64         // arrival order, breaks ties between equal release times
	From    netip.AddrPort // original sender
	Data    []byte
	Index   int // the index of the item in the heap
}

// A PriorityQueue implements heap.Interface and holds DelayedDatagrams, earliest release first.
type PriorityQueue []*DelayedDatagram

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	if pq[i].Release.Equal(pq[j].Release) {
		return pq[i].Seq < pq[j].Seq
	}
	return pq[i].Release.Before(pq[j].Release)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*DelayedDatagram)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // don't stop the GC from reclaiming the item eventually
	item.Index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// Peek returns the datagram released next without removing it.
func (pq PriorityQueue) Peek() *DelayedDatagram {
	if len(pq) == 0 {
		return nil
	}
	return pq[0]
}

// PopDue removes and returns every datagram whose release time is not after now, in order.
func (pq *PriorityQueue) PopDue(now time.Time) []*DelayedDatagram {
	var due []*DelayedDatagram
	for pq.Len() > 0 && !(*pq)[0].Release.After(now) {
		due = append(due, heap.Pop(pq).(*DelayedDatagram))
	}
	return due
}
