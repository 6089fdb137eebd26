package ble

import "sync"

// queue is a bounded FIFO of inbound messages.
//
// Push drops the message when the queue is full: the orchestrator polls
// one message per tick, and a flooding app must not grow memory or stall
// the reader goroutine.
type queue struct {
	mu    sync.Mutex
	items [][]byte
	cap   int
	drops int
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &queue{cap: capacity}
}

// push enqueues msg, reporting false when it was dropped.
func (q *queue) push(msg []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		q.drops++
		return false
	}
	q.items = append(q.items, msg)
	return true
}

// tryPop dequeues the oldest message without blocking.
func (q *queue) tryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

// reset empties the queue. Called on disconnect so a new session never
// sees the previous session's backlog.
func (q *queue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// dropped returns the number of messages dropped since creation.
func (q *queue) dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}
