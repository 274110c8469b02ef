package power

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// LockKind names the power state a lock holds the system out of.
// Every kind also keeps the kernel from autosleeping.
type LockKind string

const (
	LockCPUFreqMax   LockKind = "cpu-freq-max"
	LockAPBFreqMax   LockKind = "apb-freq-max"
	LockNoLightSleep LockKind = "no-light-sleep"
)

// Backend is the mechanism that actually keeps the system awake
type Backend interface {
	Inhibit(name string) error
	Release(name string) error
	Close() error
}

// Manager reference-counts locks per kind and engages the backend
// on the first acquire of a kind and the last release of it.
type Manager struct {
	logger  *zap.Logger
	backend Backend
	dryRun  bool

	cpuPath       string
	autosleepPath string

	mutex  sync.Mutex
	counts map[LockKind]int
	locks  []*Lock

	// engaged holds the backend name each engaged kind was inhibited under
	engaged map[LockKind]string

	// fatal is called when the backend fails, which leaves the power state unknown
	fatal func(msg string, fields ...zap.Field)
}

// NewManager creates a power manager. sysfsRoot is normally /sys.
func NewManager(logger *zap.Logger, backend Backend, sysfsRoot string, dryRun bool) *Manager {
	if backend == nil {
		backend = NopBackend{}
	}
	return &Manager{
		logger:        logger,
		backend:       backend,
		dryRun:        dryRun,
		cpuPath:       sysfsRoot + "/devices/system/cpu",
		autosleepPath: sysfsRoot + "/power/autosleep",
		counts:        make(map[LockKind]int),
		engaged:       make(map[LockKind]string),
		fatal:         logger.Fatal,
	}
}

// NewLock creates a named lock of the given kind. The lock starts released.
func (m *Manager) NewLock(kind LockKind, name string) *Lock {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	l := &Lock{manager: m, kind: kind, name: name}
	m.locks = append(m.locks, l)
	m.logger.Info("Created power lock", zap.String("name", name), zap.String("kind", string(kind)))
	return l
}

// Count returns how many locks of kind are currently held
func (m *Manager) Count(kind LockKind) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.counts[kind]
}

func (m *Manager) acquire(l *Lock) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if l.held {
		panic(fmt.Sprintf("power lock %q acquired twice", l.name))
	}
	l.held = true
	l.acquisitions++

	m.counts[l.kind]++
	if m.counts[l.kind] == 1 {
		m.engage(l)
	}
}

func (m *Manager) release(l *Lock) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !l.held {
		panic(fmt.Sprintf("power lock %q released while not held", l.name))
	}
	l.held = false

	m.counts[l.kind]--
	if m.counts[l.kind] == 0 {
		m.disengage(l.kind)
	}
}

// engage inhibits sleep under the name of the lock that took the kind
// from zero holders; the same name is released when the kind drops back.
func (m *Manager) engage(l *Lock) {
	m.engaged[l.kind] = l.name
	if m.dryRun {
		m.logger.Debug("DRY RUN: Would inhibit sleep", zap.String("name", l.name), zap.String("kind", string(l.kind)))
		return
	}
	if err := m.backend.Inhibit(l.name); err != nil {
		m.fatal("Failed to inhibit sleep", zap.String("name", l.name), zap.String("kind", string(l.kind)), zap.Error(err))
	}
}

func (m *Manager) disengage(kind LockKind) {
	name := m.engaged[kind]
	delete(m.engaged, kind)
	if m.dryRun {
		m.logger.Debug("DRY RUN: Would allow sleep", zap.String("name", name), zap.String("kind", string(kind)))
		return
	}
	if err := m.backend.Release(name); err != nil {
		m.fatal("Failed to release sleep inhibit", zap.String("name", name), zap.String("kind", string(kind)), zap.Error(err))
	}
}

// Close drops every lock still held and closes the backend
func (m *Manager) Close() error {
	m.mutex.Lock()
	for _, l := range m.locks {
		if l.held {
			m.logger.Warn("Dropping power lock still held at shutdown", zap.String("name", l.name))
			l.held = false
			m.counts[l.kind]--
			if m.counts[l.kind] == 0 {
				m.disengage(l.kind)
			}
		}
	}
	m.mutex.Unlock()

	return m.backend.Close()
}

// Lock is a named reservation against sleeping. It is not reentrant.
type Lock struct {
	manager      *Manager
	kind         LockKind
	name         string
	held         bool
	acquisitions uint64
}

func (l *Lock) Name() string { return l.name }

func (l *Lock) Kind() LockKind { return l.kind }

// Acquire holds the system awake until Release. Acquiring a held lock panics.
func (l *Lock) Acquire() {
	l.manager.acquire(l)
}

// Release lets the system sleep again. Releasing an unheld lock panics.
func (l *Lock) Release() {
	l.manager.release(l)
}

// Hold acquires the lock and returns the function that releases it.
// The returned function is safe to call more than once.
func (l *Lock) Hold() func() {
	l.Acquire()
	var once sync.Once
	return func() {
		once.Do(l.Release)
	}
}

// Held reports whether the lock is currently acquired
func (l *Lock) Held() bool {
	l.manager.mutex.Lock()
	defer l.manager.mutex.Unlock()
	return l.held
}

// Acquisitions returns how many times the lock has been acquired
func (l *Lock) Acquisitions() uint64 {
	l.manager.mutex.Lock()
	defer l.manager.mutex.Unlock()
	return l.acquisitions
}
