package pfa

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single parked page in the recycle queue
type node[T any] struct {
	page *T
	next atomic.Pointer[node[T]]
}

// pageQueue is a lock-free multi-producer queue of freed pages.
// Any number of goroutines may Push() concurrently; a single internal
// consumer goroutine drains the linked list into the out channel, from
// which any number of allocators may TryPop(). Ordering between
// concurrent pushes is whichever producer's CAS lands first.
type pageQueue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	done     chan struct{}
	consumer sync.WaitGroup
	closed   atomic.Bool

	// Condition variable so the consumer can sleep while the queue is empty
	mu   sync.Mutex
	cond *sync.Cond
}

// newPageQueue creates the queue and starts its consumer goroutine.
func newPageQueue[T any]() *pageQueue[T] {
	// Sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &pageQueue[T]{
		out:  make(chan *T),
		done: make(chan struct{}),
	}

	q.cond = sync.NewCond(&q.mu)

	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push parks a freed page. Returns false if the queue is closed (the
// page is then simply dropped for the runtime GC to collect).
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *pageQueue[T]) Push(page *T) bool {
	if page == nil {
		return false
	}

	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{page: page}

	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()

		// try to atomically append our node to the current tail
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// Appended; the tail CAS may fail if another producer
				// helps update it, which is fine.
				q.tail.CompareAndSwap(tailNode, newNode)

				q.cond.Signal()

				return true
			}
		} else {
			// help update the tail pointer if another producer appended
			// but hasn't updated the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// Exponential backoff under contention: spin at low retry
		// counts, yield at higher ones, so producers don't retry in
		// lockstep after a failed CAS.
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves parked pages from the linked list to the out channel
func (q *pageQueue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()

			if next == nil {
				break // drained
			}

			hasItems = true

			page := next.page

			// move head pointer so the consumed node can be collected
			q.head.Store(next)

			// Nobody may ever pop the page we are holding, so the send
			// must stay interruptible or Close would hang this
			// goroutine forever.
			select {
			case q.out <- page:
			case <-q.done:
				return
			}

			next.page = nil
		}

		// Exit if closed and fully drained
		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			// Double-check after acquiring the lock
			head := q.head.Load()
			if head.next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// TryPop returns a parked page if one is immediately available.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *pageQueue[T]) TryPop() (*T, bool) {
	select {
	case page, ok := <-q.out:
		if !ok {
			return nil, false
		}
		return page, true
	default:
		return nil, false
	}
}

// Close stops the queue and waits for the consumer goroutine to exit.
// Pages still parked are abandoned to the GC. Idempotent.
func (q *pageQueue[T]) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	close(q.done)
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
	q.consumer.Wait()
}
