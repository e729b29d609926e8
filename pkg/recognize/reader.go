package recognize

import (
	"io"
	"sync"
)

// textBuffer is the consumer read side: finalized transcript lines, ended by
// io.EOF once the session closes.
type textBuffer struct {
	q       *queue[[]byte]
	mu      sync.Mutex
	pending []byte
}

func newTextBuffer() *textBuffer {
	return &textBuffer{q: newQueue[[]byte]()}
}

func (b *textBuffer) write(line string) {
	b.q.push([]byte(line + "\n"))
}

func (b *textBuffer) close() { b.q.close() }

func (b *textBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		chunk, ok := b.q.pop()
		if !ok {
			return 0, io.EOF
		}
		b.pending = chunk
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}
