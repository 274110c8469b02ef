package uart

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultStatsPath lists per-line counters of the 8250 serial driver
const DefaultStatsPath = "/proc/tty/driver/serial"

// lineCounters are the error counters the kernel keeps per serial line
type lineCounters struct {
	Frame   uint64
	Parity  uint64
	Break   uint64
	Overrun uint64
}

// readLineCounters finds the entry for line in a /proc/tty/driver/serial
// style file. Lines look like:
//
//	1: uart:16550A port:000002F8 irq:3 tx:12 rx:40 fe:1 pe:0 brk:2 oe:0 RTS|DTR
func readLineCounters(path string, line int) (lineCounters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lineCounters{}, err
	}
	return parseLineCounters(data, line)
}

func parseLineCounters(data []byte, line int) (lineCounters, error) {
	prefix := strconv.Itoa(line) + ":"
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != prefix {
			continue
		}

		var c lineCounters
		for _, f := range fields[1:] {
			key, value, ok := strings.Cut(f, ":")
			if !ok {
				continue
			}
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				continue
			}
			switch key {
			case "fe":
				c.Frame = n
			case "pe":
				c.Parity = n
			case "brk":
				c.Break = n
			case "oe":
				c.Overrun = n
			}
		}
		return c, nil
	}
	return lineCounters{}, fmt.Errorf("line %d not listed", line)
}

// diff returns the event kinds whose counters grew from prev to c
func (c lineCounters) diff(prev lineCounters) []EventKind {
	var kinds []EventKind
	if c.Overrun > prev.Overrun {
		kinds = append(kinds, EventFifoOverflow)
	}
	if c.Break > prev.Break {
		kinds = append(kinds, EventBreak)
	}
	if c.Parity > prev.Parity {
		kinds = append(kinds, EventParityError)
	}
	if c.Frame > prev.Frame {
		kinds = append(kinds, EventFrameError)
	}
	return kinds
}
