package uart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRingWrapsAround(t *testing.T) {
	r := newRing(8)
	assert.True(t, r.write([]byte("abcdef")))

	p := make([]byte, 4)
	assert.Equal(t, 4, r.read(p, 0))
	assert.Equal(t, "abcd", string(p))

	assert.True(t, r.write([]byte("ghijkl")))
	assert.Equal(t, 8, r.len())

	out := make([]byte, 16)
	n := r.read(out, 0)
	assert.Equal(t, "efghijkl", string(out[:n]))
}

func TestRingRejectsOversizedWrite(t *testing.T) {
	r := newRing(4)
	assert.True(t, r.write([]byte("abc")))
	assert.False(t, r.write([]byte("de")))
	assert.Equal(t, 3, r.len())
}

func TestRingReadNeverExceedsBuffer(t *testing.T) {
	r := newRing(16)
	r.write([]byte("0123456789"))

	p := make([]byte, 3)
	assert.Equal(t, 3, r.read(p, 0))
	assert.Equal(t, 7, r.len())
}

func TestRingReadWaitsForData(t *testing.T) {
	r := newRing(16)
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.write([]byte("hi"))
	}()

	p := make([]byte, 8)
	n := r.read(p, time.Second)
	assert.Equal(t, "hi", string(p[:n]))
}

func TestRingReadTimesOut(t *testing.T) {
	r := newRing(16)
	start := time.Now()
	assert.Equal(t, 0, r.read(make([]byte, 4), 15*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestRingReset(t *testing.T) {
	r := newRing(16)
	r.write([]byte("stale"))
	r.reset()
	assert.Equal(t, 0, r.len())
	assert.Equal(t, 0, r.read(make([]byte, 4), 0))
}
