package uart

import (
	"sync"
	"time"
)

// ring is the software receive buffer between the reader goroutine and Read
type ring struct {
	mu    sync.Mutex
	buf   []byte
	head  int
	size  int
	avail chan struct{}
}

func newRing(capacity int) *ring {
	return &ring{
		buf:   make([]byte, capacity),
		avail: make(chan struct{}, 1),
	}
}

// write stores all of p or nothing. It returns false when p does not fit.
func (r *ring) write(p []byte) bool {
	r.mu.Lock()
	if len(p) > len(r.buf)-r.size {
		r.mu.Unlock()
		return false
	}
	tail := (r.head + r.size) % len(r.buf)
	n := copy(r.buf[tail:], p)
	copy(r.buf, p[n:])
	r.size += len(p)
	r.mu.Unlock()

	select {
	case r.avail <- struct{}{}:
	default:
	}
	return true
}

func (r *ring) take(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := len(p)
	if want > r.size {
		want = r.size
	}
	n := copy(p[:want], r.buf[r.head:])
	if n < want {
		n += copy(p[n:want], r.buf)
	}
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
	if r.size == 0 {
		r.head = 0
	}
	return n
}

// read copies buffered bytes into p, waiting up to timeout for the first one
func (r *ring) read(p []byte, timeout time.Duration) int {
	if len(p) == 0 {
		return 0
	}
	if n := r.take(p); n > 0 || timeout <= 0 {
		return n
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-r.avail:
			if n := r.take(p); n > 0 {
				return n
			}
		case <-timer.C:
			return r.take(p)
		}
	}
}

func (r *ring) reset() {
	r.mu.Lock()
	r.head, r.size = 0, 0
	r.mu.Unlock()
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
