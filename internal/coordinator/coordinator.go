package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/librescoot/uart-wakeup-service/internal/uart"
	"go.uber.org/zap"
)

const (
	DefaultBufferSize  = 1024
	DefaultReadTimeout = 100 * time.Millisecond
)

// Queue is the event source the coordinator drains
type Queue interface {
	Receive(ctx context.Context) (uart.Event, error)
	Reset() int
}

// Port is the serial line the coordinator services
type Port interface {
	Read(p []byte, timeout time.Duration) (int, error)
	Write(p []byte) (int, error)
	FlushInput() error
}

// Lock keeps the system awake between Hold and the returned release
type Lock interface {
	Hold() func()
}

// Result describes what handling one event did
type Result struct {
	Event     uart.Event
	Read      int // bytes taken from the driver
	Consumed  int // bytes handed to the consumer
	Discarded int // queued events dropped by a buffer reset
	Duration  time.Duration
	Err       error
}

// Observer is told about every handled event, after the lock is released
type Observer interface {
	EventHandled(r Result)
}

// Stats are running totals since the coordinator started
type Stats struct {
	Events   map[uart.EventKind]uint64
	Bytes    uint64
	Resets   uint64
	Failures uint64
}

// Coordinator services serial events one at a time, holding the power
// lock only while an event is being handled
type Coordinator struct {
	queue       Queue
	port        Port
	lock        Lock
	logger      *zap.Logger
	buf         []byte
	readTimeout time.Duration
	consume     func(p []byte) error
	observers   []Observer

	mutex sync.Mutex
	stats Stats
}

type Option func(*Coordinator)

// WithConsumer replaces the default echo with an application consumer
func WithConsumer(fn func(p []byte) error) Option {
	return func(c *Coordinator) {
		c.consume = fn
	}
}

func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, o)
	}
}

// WithBufferSize sets the working buffer, which caps a single read
func WithBufferSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.buf = make([]byte, n)
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

func New(queue Queue, port Port, lock Lock, logger *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:       queue,
		port:        port,
		lock:        lock,
		logger:      logger,
		buf:         make([]byte, DefaultBufferSize),
		readTimeout: DefaultReadTimeout,
		stats:       Stats{Events: make(map[uart.EventKind]uint64)},
	}
	c.consume = c.echo
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run handles events until ctx is done. Between events it is blocked in
// Receive with the lock released, which is when the system can sleep.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("Waiting for serial events", zap.Int("buffer", len(c.buf)))
	for {
		ev, err := c.queue.Receive(ctx)
		if err != nil {
			c.logger.Info("Stopped waiting for serial events", zap.Error(err))
			return err
		}

		res := c.handle(ev)
		c.record(res)
		for _, o := range c.observers {
			o.EventHandled(res)
		}
	}
}

// handle services one event. The lock is released on every return path.
func (c *Coordinator) handle(ev uart.Event) (res Result) {
	start := time.Now()
	release := c.lock.Hold()
	defer func() {
		release()
		res.Duration = time.Since(start)
		c.logger.Debug("Released power lock", zap.Stringer("event", ev), zap.Duration("took", res.Duration))
	}()

	res.Event = ev
	c.logger.Debug("Received event", zap.Stringer("event", ev))

	switch ev.Kind {
	case uart.EventData:
		c.handleData(ev, &res)
	case uart.EventFifoOverflow:
		c.logger.Info("Hardware fifo overflow")
		c.resync(&res)
	case uart.EventBufferFull:
		c.logger.Info("Ring buffer full")
		c.resync(&res)
	case uart.EventBreak:
		c.logger.Warn("Rx break")
	case uart.EventParityError:
		c.logger.Warn("Parity error")
	case uart.EventFrameError:
		c.logger.Warn("Frame error")
	case uart.EventWakeup:
		c.logger.Info("Uart wakeup")
	default:
		c.logger.Info("Unhandled uart event", zap.Int("kind", int(ev.Kind)), zap.Int("code", ev.Code))
	}
	return res
}

func (c *Coordinator) handleData(ev uart.Event, res *Result) {
	size := ev.Size
	if size > len(c.buf) {
		c.logger.Warn("Data event larger than read buffer", zap.Int("size", size), zap.Int("buffer", len(c.buf)))
		size = len(c.buf)
	}
	if size <= 0 {
		return
	}

	n, err := c.port.Read(c.buf[:size], c.readTimeout)
	res.Read = n
	if err != nil {
		c.logger.Error("Failed to read serial data", zap.Error(err))
		res.Err = err
		return
	}
	c.logger.Info("Data", zap.Int("size", size), zap.Int("read", n))

	// Whatever is left arrives with a later event.
	if n < size {
		c.logger.Debug("Short read", zap.Int("want", size), zap.Int("got", n))
	}
	if n == 0 {
		return
	}

	if err := c.consume(c.buf[:n]); err != nil {
		c.logger.Error("Failed to consume serial data", zap.Int("bytes", n), zap.Error(err))
		res.Err = err
		return
	}
	res.Consumed = n
}

// resync drops everything buffered after an overflow; bytes already lost
// cannot be recovered, so reading restarts at the next byte boundary.
func (c *Coordinator) resync(res *Result) {
	if err := c.port.FlushInput(); err != nil {
		c.logger.Error("Failed to flush input", zap.Error(err))
		res.Err = err
	}
	res.Discarded = c.queue.Reset()
	if res.Discarded > 0 {
		c.logger.Info("Discarded queued events", zap.Int("count", res.Discarded))
	}
}

func (c *Coordinator) echo(p []byte) error {
	_, err := c.port.Write(p)
	return err
}

func (c *Coordinator) record(res Result) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.stats.Events[res.Event.Kind]++
	c.stats.Bytes += uint64(res.Consumed)
	if res.Event.Kind == uart.EventFifoOverflow || res.Event.Kind == uart.EventBufferFull {
		c.stats.Resets++
	}
	if res.Err != nil {
		c.stats.Failures++
	}
}

// Stats returns a copy of the running totals
func (c *Coordinator) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	events := make(map[uart.EventKind]uint64, len(c.stats.Events))
	for k, v := range c.stats.Events {
		events[k] = v
	}
	s := c.stats
	s.Events = events
	return s
}
