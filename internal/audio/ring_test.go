package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleRingPushRead(t *testing.T) {
	r := NewSampleRing(8)
	r.Push([]byte{1, 2, 3})

	buf := make([]byte, 8)
	n := r.ReadSamples(buf)

	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
	assert.Equal(t, 3, r.Len())
}

func TestSampleRingOverwritesOldest(t *testing.T) {
	r := NewSampleRing(4)
	r.Push([]byte{1, 2, 3, 4})
	r.Push([]byte{5, 6})

	buf := make([]byte, 4)
	n := r.ReadSamples(buf)

	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{3, 4, 5, 6}, buf)
}

func TestSampleRingReadNewestWindow(t *testing.T) {
	r := NewSampleRing(8)
	r.Push([]byte{1, 2, 3, 4, 5, 6})

	// A small buffer gets the newest samples, oldest first.
	buf := make([]byte, 3)
	n := r.ReadSamples(buf)

	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{4, 5, 6}, buf)
}

func TestSampleRingReadDoesNotConsume(t *testing.T) {
	r := NewSampleRing(8)
	r.Push([]byte{9, 9, 9})

	buf := make([]byte, 8)
	assert.Equal(t, 3, r.ReadSamples(buf))
	assert.Equal(t, 3, r.ReadSamples(buf))
}

func TestSampleRingEmpty(t *testing.T) {
	r := NewSampleRing(4)
	buf := make([]byte, 4)
	assert.Equal(t, 0, r.ReadSamples(buf))
	assert.Equal(t, 0, r.Len())
}

func TestSampleRingPushLargerThanCapacity(t *testing.T) {
	r := NewSampleRing(4)
	r.Push([]byte{1, 2, 3, 4, 5, 6, 7})

	buf := make([]byte, 4)
	n := r.ReadSamples(buf)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{4, 5, 6, 7}, buf)
}
