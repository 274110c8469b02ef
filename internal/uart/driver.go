package uart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// MinWakeupThreshold is the lowest number of received edges that may wake the system
	MinWakeupThreshold = 3
	// MaxWakeupThreshold is the widest threshold the wakeup logic accepts
	MaxWakeupThreshold = 0x3ff

	// chunkSize mirrors the hardware rx FIFO full threshold; one Data event never exceeds it
	chunkSize = 120
)

var (
	ErrThresholdRange = errors.New("wakeup threshold out of range")
	ErrClosed         = errors.New("serial driver closed")
)

// Config describes one installed serial line
type Config struct {
	Port       string        // device path, e.g. /dev/ttyS1
	Line       int           // line index as listed by the kernel
	BaudRate   int           // line speed, 8N1
	RxBufSize  int           // software receive buffer in bytes
	TxBufSize  int           // largest single write handed to the port
	QueueDepth int           // event queue capacity
	WakeupIdle time.Duration // silence after which a burst counts as a wakeup
	StatsPath  string        // per-line error counters, empty for DefaultStatsPath
}

// Port is the subset of serial.Port the driver needs
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	Close() error
}

// Driver owns a serial line, its receive buffer and its event queue
type Driver struct {
	cfg    Config
	port   Port
	logger *zap.Logger
	rx     *ring
	queue  *Queue

	threshold atomic.Int32
	closed    atomic.Bool
	writeMu   sync.Mutex

	counters     lineCounters
	countersOK   bool
	lastRx       time.Time
	burst        int  // bytes received since the line was last idle
	burstWoke    bool // Wakeup already posted for the current burst
	dropSometime rate.Sometimes

	wg sync.WaitGroup
}

// Install opens the serial port and prepares buffers and the event queue.
// The reader is not running until Start is called.
func Install(cfg Config, logger *zap.Logger) (*Driver, error) {
	if cfg.RxBufSize <= chunkSize {
		return nil, fmt.Errorf("rx buffer size must exceed %d bytes, got %d", chunkSize, cfg.RxBufSize)
	}
	if cfg.TxBufSize < 0 {
		return nil, fmt.Errorf("invalid tx buffer size %d", cfg.TxBufSize)
	}

	p, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}

	d := NewDriver(cfg, p, logger)
	logger.Info("Installed serial driver",
		zap.String("port", cfg.Port),
		zap.Int("line", cfg.Line),
		zap.Int("baud", cfg.BaudRate),
		zap.Int("rx_buf", cfg.RxBufSize),
		zap.Int("tx_buf", cfg.TxBufSize),
		zap.Int("queue_depth", cfg.QueueDepth))
	return d, nil
}

// NewDriver wraps an already opened port. Install is the usual entry point.
func NewDriver(cfg Config, p Port, logger *zap.Logger) *Driver {
	if cfg.StatsPath == "" {
		cfg.StatsPath = DefaultStatsPath
	}
	return &Driver{
		cfg:          cfg,
		port:         p,
		logger:       logger,
		rx:           newRing(cfg.RxBufSize),
		queue:        NewQueue(cfg.QueueDepth),
		dropSometime: rate.Sometimes{Interval: time.Second},
	}
}

// Events returns the queue the driver posts to
func (d *Driver) Events() *Queue {
	return d.queue
}

// Line returns the configured line index
func (d *Driver) Line() int {
	return d.cfg.Line
}

// PortName returns the device path the driver was installed on
func (d *Driver) PortName() string {
	return d.cfg.Port
}

// Start launches the reader goroutine. It stops when ctx is done or the driver is closed.
func (d *Driver) Start(ctx context.Context) {
	if c, err := readLineCounters(d.cfg.StatsPath, d.cfg.Line); err == nil {
		d.counters = c
		d.countersOK = true
	} else {
		d.logger.Debug("Line error counters unavailable, break/parity/frame events disabled",
			zap.String("path", d.cfg.StatsPath), zap.Error(err))
	}

	d.wg.Add(1)
	go d.readLoop(ctx)

	go func() {
		<-ctx.Done()
		d.Close()
	}()
}

func (d *Driver) readLoop(ctx context.Context) {
	defer d.wg.Done()

	buf := make([]byte, chunkSize)
	for {
		n, err := d.port.Read(buf)
		if err != nil {
			if d.closed.Load() || ctx.Err() != nil {
				return
			}
			var portErr *serial.PortError
			if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
				return
			}
			d.logger.Error("Failed to read from serial port", zap.String("port", d.cfg.Port), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if n == 0 {
			continue
		}
		d.receive(buf[:n], time.Now())
	}
}

// receive turns one chunk of received bytes into queued events
func (d *Driver) receive(chunk []byte, now time.Time) {
	if d.lastRx.IsZero() || now.Sub(d.lastRx) >= d.cfg.WakeupIdle {
		d.burst = 0
		d.burstWoke = false
	}
	d.lastRx = now
	d.burst += len(chunk)

	// a tty read may return a burst one byte at a time, so the threshold
	// applies to everything received since the line went idle
	if t := int(d.threshold.Load()); t > 0 && !d.burstWoke && d.burst >= t {
		d.burstWoke = true
		d.post(Event{Kind: EventWakeup})
	}

	for _, kind := range d.sampleCounters() {
		d.post(Event{Kind: kind})
	}

	if !d.rx.write(chunk) {
		d.post(Event{Kind: EventBufferFull})
		return
	}
	d.post(Data(len(chunk)))
}

func (d *Driver) sampleCounters() []EventKind {
	if !d.countersOK {
		return nil
	}
	c, err := readLineCounters(d.cfg.StatsPath, d.cfg.Line)
	if err != nil {
		return nil
	}
	kinds := c.diff(d.counters)
	d.counters = c
	return kinds
}

func (d *Driver) post(ev Event) {
	if d.queue.Post(ev) {
		return
	}
	d.dropSometime.Do(func() {
		d.logger.Warn("Event queue full, dropping events",
			zap.Stringer("event", ev),
			zap.Uint64("dropped", d.queue.Dropped()))
	})
}

// Read copies at most len(p) buffered bytes, waiting up to timeout for the first byte
func (d *Driver) Read(p []byte, timeout time.Duration) (int, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	return d.rx.read(p, timeout), nil
}

// Write sends p to the port in pieces no larger than the tx buffer
func (d *Driver) Write(p []byte) (int, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	step := d.cfg.TxBufSize
	if step <= 0 {
		step = len(p)
	}
	written := 0
	for written < len(p) {
		end := written + step
		if end > len(p) {
			end = len(p)
		}
		n, err := d.port.Write(p[written:end])
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to write to %s: %w", d.cfg.Port, err)
		}
	}
	return written, nil
}

// FlushInput discards everything received but not yet read
func (d *Driver) FlushInput() error {
	d.rx.reset()
	if err := d.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush input of %s: %w", d.cfg.Port, err)
	}
	return nil
}

// Buffered returns the number of received bytes waiting to be read
func (d *Driver) Buffered() int {
	return d.rx.len()
}

// SetWakeupThreshold sets how many received symbols a burst needs to count as a wakeup
func (d *Driver) SetWakeupThreshold(symbols int) error {
	if symbols < MinWakeupThreshold || symbols > MaxWakeupThreshold {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrThresholdRange, symbols, MinWakeupThreshold, MaxWakeupThreshold)
	}
	d.threshold.Store(int32(symbols))
	return nil
}

// WakeupThreshold returns the armed threshold, 0 if none was set
func (d *Driver) WakeupThreshold() int {
	return int(d.threshold.Load())
}

// Close closes the port and waits for the reader to exit
func (d *Driver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	err := d.port.Close()
	d.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", d.cfg.Port, err)
	}
	return nil
}
