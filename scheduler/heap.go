package scheduler

import (
	"github.com/mantlenetworkio/relayer/types"
)

// queueItem wraps a job with its heap index so cancellation can remove it
// in O(log n).
type queueItem struct {
	job   *types.Job
	index int
}

// jobQueue orders jobs by descending effective weight; equal weights break
// toward the earlier scheduled_at. It implements container/heap.
type jobQueue []*queueItem

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	a, b := q[i].job, q[j].job
	if a.Weight != b.Weight {
		return a.Weight > b.Weight
	}
	return a.ScheduledAt.Before(b.ScheduledAt)
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}
