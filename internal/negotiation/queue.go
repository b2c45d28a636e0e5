package negotiation

import "sync"

type event struct {
	name  string
	fn    func() error
	reply chan error // nil for fire-and-forget events
}

// eventQueue is an unbounded FIFO feeding the engine loop. Pushing never
// blocks, so transport callbacks can enqueue from any goroutine, including
// from inside a transport call made by the loop itself.
type eventQueue struct {
	mu     sync.Mutex
	items  []*event
	closed bool
	wake   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev *event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *eventQueue) pop() (*event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	ev := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return ev, true
}

// close refuses further events and returns the ones never processed.
func (q *eventQueue) close() []*event {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	rest := q.items
	q.items = nil
	return rest
}
