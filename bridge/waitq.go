package bridge

import (
	"sync"
)

// waitQueue wakes every waiter at once.
// A waiter obtains the channel before checking its condition, so that a wakeup between the check
// and the wait is not lost.
type waitQueue struct {
	mu sync.Mutex
	ch chan struct{}
}

func (wq *waitQueue) channel() <-chan struct{} {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	if wq.ch == nil {
		wq.ch = make(chan struct{})
	}
	return wq.ch
}

func (wq *waitQueue) wake() {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	if wq.ch != nil {
		close(wq.ch)
		wq.ch = nil
	}
}
