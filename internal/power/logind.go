package power

import (
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	logindDest   = "org.freedesktop.login1"
	logindPath   = dbus.ObjectPath("/org/freedesktop/login1")
	logindMethod = "org.freedesktop.login1.Manager.Inhibit"
)

// busCaller is the part of dbus.BusObject the logind backend uses
type busCaller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// LogindBackend takes systemd-logind "sleep" block inhibitors.
// The inhibitor lasts as long as the returned file descriptor stays open.
type LogindBackend struct {
	conn *dbus.Conn
	obj  busCaller
	who  string

	mutex sync.Mutex
	fds   map[string]*os.File
}

// NewLogindBackend connects to the system bus. who is shown by systemd-inhibit --list.
func NewLogindBackend(who string) (*LogindBackend, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	b := newLogindBackend(conn.Object(logindDest, logindPath), who)
	b.conn = conn
	return b, nil
}

func newLogindBackend(obj busCaller, who string) *LogindBackend {
	return &LogindBackend{
		obj: obj,
		who: who,
		fds: make(map[string]*os.File),
	}
}

func (b *LogindBackend) Inhibit(name string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, exists := b.fds[name]; exists {
		return fmt.Errorf("inhibitor %s already taken", name)
	}

	var fd dbus.UnixFD
	if err := b.obj.Call(logindMethod, 0, "sleep", b.who, name, "block").Store(&fd); err != nil {
		return fmt.Errorf("failed to take logind inhibitor %s: %w", name, err)
	}
	b.fds[name] = os.NewFile(uintptr(fd), "inhibit-"+name)
	return nil
}

func (b *LogindBackend) Release(name string) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	f, exists := b.fds[name]
	if !exists {
		return fmt.Errorf("inhibitor %s not taken", name)
	}
	delete(b.fds, name)
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to release logind inhibitor %s: %w", name, err)
	}
	return nil
}

// Held returns the number of inhibitors currently open
func (b *LogindBackend) Held() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.fds)
}

func (b *LogindBackend) Close() error {
	b.mutex.Lock()
	for name, f := range b.fds {
		f.Close()
		delete(b.fds, name)
	}
	b.mutex.Unlock()

	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
