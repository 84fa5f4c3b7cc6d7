package memory

import "sync"

// inbox runs queued callbacks one at a time in push order.
type inbox struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (b *inbox) push(fn func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, fn)
	select {
	case b.wake <- struct{}{}:
	default:
	}
	b.mu.Unlock()
}

func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.queue = nil
	close(b.wake)
}

func (b *inbox) run() {
	for range b.wake {
		for {
			b.mu.Lock()
			if len(b.queue) == 0 || b.closed {
				b.mu.Unlock()
				break
			}
			fn := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			fn()
		}
	}
}
