package power

import (
	"errors"
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogind struct {
	args [][]interface{}
	fd   int
	err  error
}

func (f *fakeLogind) Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	f.args = append(f.args, append([]interface{}{method}, args...))
	if f.err != nil {
		return &dbus.Call{Err: f.err}
	}
	return &dbus.Call{Body: []interface{}{dbus.UnixFD(f.fd)}}
}

func TestLogindBackendHoldsInhibitorFD(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	fd, err := syscall.Dup(int(w.Fd()))
	require.NoError(t, err)
	w.Close()

	bus := &fakeLogind{fd: fd}
	b := newLogindBackend(bus, "uart-wakeup-service")

	require.NoError(t, b.Inhibit("uart_evt"))
	assert.Equal(t, 1, b.Held())
	assert.Equal(t, []interface{}{logindMethod, "sleep", "uart-wakeup-service", "uart_evt", "block"}, bus.args[0])
	assert.Error(t, b.Inhibit("uart_evt"))

	require.NoError(t, b.Release("uart_evt"))
	assert.Equal(t, 0, b.Held())

	// the last write end is closed, so the inhibitor is gone
	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	assert.Error(t, b.Release("uart_evt"))
	assert.NoError(t, b.Close())
}

func TestLogindBackendCallError(t *testing.T) {
	b := newLogindBackend(&fakeLogind{err: errors.New("access denied")}, "uart-wakeup-service")
	err := b.Inhibit("uart_evt")
	assert.ErrorContains(t, err, "access denied")
	assert.Equal(t, 0, b.Held())
}
