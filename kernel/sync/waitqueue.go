package sync

// WaitQueue tracks tasks that are suspended until some condition protected
// by a Spinlock changes. Tasks must register themselves while holding that
// lock and wakers must inspect Active while holding it too; this guarantees
// that a wake-up can never be lost between a waiter dropping the lock and
// going to sleep.
type WaitQueue struct {
	lock    Spinlock
	waiters []chan struct{}
}

// Wait suspends the calling task until the next call to WakeAll. Wait must be
// invoked while holding l; the lock is released while the task sleeps and is
// re-acquired before Wait returns.
func (q *WaitQueue) Wait(l *Spinlock) {
	ch := make(chan struct{})

	q.lock.Acquire()
	q.waiters = append(q.waiters, ch)
	q.lock.Release()

	l.Release()
	<-ch
	l.Acquire()
}

// Active returns true if at least one task is waiting on the queue.
func (q *WaitQueue) Active() bool {
	q.lock.Acquire()
	active := len(q.waiters) != 0
	q.lock.Release()
	return active
}

// WakeAll resumes every task currently waiting on the queue.
func (q *WaitQueue) WakeAll() {
	q.lock.Acquire()
	waiters := q.waiters
	q.waiters = nil
	q.lock.Release()

	for _, ch := range waiters {
		close(ch)
	}
}
