package pipeline

import (
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("pipeline queue closed")

// Queue is an unbounded blocking FIFO. Close acts as the shutdown sentinel:
// items pushed before it are still handed out, then Pop reports false.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v and wakes a waiting consumer. It returns the depth after the push.
func (q *Queue[T]) Push(v T) (int, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrQueueClosed
	}
	q.items = append(q.items, v)
	n := len(q.items)
	q.mu.Unlock()
	q.cond.Signal()
	return n, nil
}

// Pop blocks until an item is available. ok is false once the queue is closed
// and empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return v, false
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
