package input

import "sync"

// RenderThread runs submitted work in order on a dedicated goroutine.
type RenderThread struct {
	work   chan func()
	closed bool
	mu     sync.Mutex

	done chan struct{}
}

// NewRenderThread starts a render thread.
// queueSize is the number of pending work items before Submit blocks.
func NewRenderThread(queueSize int) *RenderThread {
	t := &RenderThread{
		work: make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		for fn := range t.work {
			fn()
		}
	}()
	return t
}

// Submit queues fn, false if the thread is closed.
func (t *RenderThread) Submit(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.work <- fn
	return true
}

// Close runs the queued work and stops the thread.
func (t *RenderThread) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.work)
	}
	t.mu.Unlock()

	<-t.done
}
