package status

import (
	"errors"
	"testing"
	"time"

	"github.com/librescoot/uart-wakeup-service/internal/coordinator"
	"github.com/librescoot/uart-wakeup-service/internal/uart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpdateForData(t *testing.T) {
	now := time.Unix(1700000000, 0)
	u := buildUpdate(coordinator.Result{Event: uart.Data(5), Read: 5, Consumed: 5}, 1, now)

	require.Len(t, u.commands, 3)
	assert.Equal(t, command{name: "HSET", args: []string{StateKey, "last-event", "data"}}, u.commands[0])
	assert.Equal(t, []string{StateKey, "last-event-time", "1700000000"}, u.commands[1].args)
	assert.Equal(t, "PUBLISH", u.commands[2].name)
	assert.Equal(t, map[string]int64{"data": 1, "bytes": 5}, u.counters)
}

func TestBuildUpdateForWakeup(t *testing.T) {
	u := buildUpdate(coordinator.Result{Event: uart.Event{Kind: uart.EventWakeup}}, 1, time.Now())

	require.Len(t, u.commands, 5)
	assert.Equal(t, []string{PowerKey, "wakeup-source", "uart1"}, u.commands[3].args)
	assert.Equal(t, command{name: "PUBLISH", args: []string{PowerKey, "wakeup-source"}}, u.commands[4])
}

func TestBuildUpdateForOverflow(t *testing.T) {
	u := buildUpdate(coordinator.Result{
		Event:     uart.Event{Kind: uart.EventFifoOverflow},
		Discarded: 3,
		Err:       errors.New("flush failed"),
	}, 1, time.Now())

	assert.Equal(t, map[string]int64{"fifo-overflow": 1, "discarded": 3, "failures": 1}, u.counters)
}
