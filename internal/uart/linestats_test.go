package uart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serialInfo = `serinfo:1.0 driver revision:
0: uart:16550A port:000003F8 irq:4 tx:1203 rx:12 RTS|DTR
1: uart:16550A port:000002F8 irq:3 tx:12 rx:40 fe:1 pe:0 brk:2 oe:5 RTS|DTR
2: uart:unknown port:000003E8 irq:4
`

func TestParseLineCounters(t *testing.T) {
	c, err := parseLineCounters([]byte(serialInfo), 1)
	require.NoError(t, err)
	assert.Equal(t, lineCounters{Frame: 1, Parity: 0, Break: 2, Overrun: 5}, c)

	c, err = parseLineCounters([]byte(serialInfo), 0)
	require.NoError(t, err)
	assert.Equal(t, lineCounters{}, c)

	_, err = parseLineCounters([]byte(serialInfo), 7)
	assert.Error(t, err)
}

func TestLineCountersDiff(t *testing.T) {
	prev := lineCounters{Frame: 1, Parity: 1, Break: 1, Overrun: 1}
	assert.Empty(t, prev.diff(prev))

	next := lineCounters{Frame: 2, Parity: 1, Break: 3, Overrun: 4}
	assert.Equal(t, []EventKind{EventFifoOverflow, EventBreak, EventFrameError}, next.diff(prev))
}

func TestReadLineCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serial")
	require.NoError(t, os.WriteFile(path, []byte(serialInfo), 0644))

	c, err := readLineCounters(path, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), c.Overrun)

	_, err = readLineCounters(filepath.Join(t.TempDir(), "missing"), 1)
	assert.Error(t, err)
}
