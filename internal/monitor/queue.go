package monitor

import (
	"container/heap"

	"github.com/ethereum/go-ethereum/common"
)

// queueItem is one scheduled check. at is a unix timestamp.
type queueItem struct {
	address common.Address
	at      int64
	index   int
}

// checkQueue is a min-heap over check times with an address index, so each
// account appears at most once and an earlier reschedule moves its entry
// instead of duplicating it. Not goroutine-safe; the monitor's lock guards it.
type checkQueue struct {
	items  []*queueItem
	byAddr map[common.Address]*queueItem
}

func newCheckQueue() *checkQueue {
	return &checkQueue{byAddr: make(map[common.Address]*queueItem)}
}

func (q *checkQueue) Len() int           { return len(q.items) }
func (q *checkQueue) Less(i, j int) bool { return q.items[i].at < q.items[j].at }

func (q *checkQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *checkQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(q.items)
	q.items = append(q.items, item)
}

func (q *checkQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// schedule inserts the address at the given time, or moves its existing
// entry earlier. A later time than the queued one is ignored: the queued
// check will recompute the schedule anyway.
func (q *checkQueue) schedule(addr common.Address, at int64) {
	if item, ok := q.byAddr[addr]; ok {
		if at < item.at {
			item.at = at
			heap.Fix(q, item.index)
		}
		return
	}
	item := &queueItem{address: addr, at: at}
	q.byAddr[addr] = item
	heap.Push(q, item)
}

// popDue removes and returns every address due at or before now.
func (q *checkQueue) popDue(now int64) []common.Address {
	var due []common.Address
	for len(q.items) > 0 && q.items[0].at <= now {
		item := heap.Pop(q).(*queueItem)
		delete(q.byAddr, item.address)
		due = append(due, item.address)
	}
	return due
}

// nextAt returns the earliest scheduled time, or false when empty.
func (q *checkQueue) nextAt() (int64, bool) {
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].at, true
}
