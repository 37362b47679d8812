package syncx

import "sync"

// Latch is a one-shot signal. Release may be called any number of times;
// only the first call closes Done.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// NewLatch creates an unreleased latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Release opens the latch.
func (l *Latch) Release() {
	l.once.Do(func() { close(l.ch) })
}

// Done is closed once the latch is released.
func (l *Latch) Done() <-chan struct{} { return l.ch }

// Released reports whether Release has been called.
func (l *Latch) Released() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}
