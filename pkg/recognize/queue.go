package recognize

import "sync"

// queue is an unbounded FIFO. push never blocks, so transport callbacks are
// never held up by a slow consumer.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push appends v. It reports false if the queue is already closed.
func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, v)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// close stops further pushes. Items already queued can still be popped.
func (q *queue[T]) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// pop blocks until an item is available. It returns false once the queue is
// closed and drained.
func (q *queue[T]) pop() (T, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, true
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-q.done:
		}
	}
}

// pump forwards items to out in order and closes out when the queue is
// closed and drained.
func (q *queue[T]) pump(out chan<- T) {
	defer close(out)
	for {
		v, ok := q.pop()
		if !ok {
			return
		}
		out <- v
	}
}

// Emitter delivers Events in order through an unbounded queue, so Push never
// blocks and never drops. The channel returned by Events is closed once Close
// has been called and every queued event has been received.
type Emitter struct {
	q    *queue[Event]
	out  chan Event
	once sync.Once
}

func NewEmitter(buffer int) *Emitter {
	if buffer < 0 {
		buffer = 0
	}
	return &Emitter{q: newQueue[Event](), out: make(chan Event, buffer)}
}

// Push queues ev. It reports false after Close.
func (e *Emitter) Push(ev Event) bool { return e.q.push(ev) }

// Close ends the stream after the events already queued.
func (e *Emitter) Close() { e.q.close() }

// Events starts delivery on first use and returns the ordered channel.
func (e *Emitter) Events() <-chan Event {
	e.once.Do(func() { go e.q.pump(e.out) })
	return e.out
}
