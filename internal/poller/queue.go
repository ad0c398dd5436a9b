package poller

import "container/heap"

// sessionQueue is a min-heap of sessions ordered by next fire time.
// It implements heap.Interface; use the heap package functions to mutate it.
type sessionQueue []*session

var _ heap.Interface = (*sessionQueue)(nil)

func (q sessionQueue) Len() int { return len(q) }

func (q sessionQueue) Less(i, j int) bool {
	if q[i].nextFire.Equal(q[j].nextFire) {
		// stable order for sessions due at the same instant
		return q[i].id < q[j].id
	}
	return q[i].nextFire.Before(q[j].nextFire)
}

func (q sessionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *sessionQueue) Push(x any) {
	sess := x.(*session)
	sess.index = len(*q)
	*q = append(*q, sess)
}

func (q *sessionQueue) Pop() any {
	old := *q
	n := len(old)
	sess := old[n-1]
	old[n-1] = nil
	sess.index = -1
	*q = old[:n-1]
	return sess
}

// peek returns the session that fires first, or nil if the queue is empty.
func (q sessionQueue) peek() *session {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
