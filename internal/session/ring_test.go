package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_AppendWithinCapacity(t *testing.T) {
	r := newRing()
	r.Append([]byte("hello "))
	r.Append([]byte("world"))
	assert.Equal(t, []byte("hello world"), r.Snapshot())
}

func TestRing_DropsOldestOnOverflow(t *testing.T) {
	r := newRing()
	chunk := bytes.Repeat([]byte("a"), ringCapacity)
	r.Append(chunk)
	r.Append([]byte("b"))

	snap := r.Snapshot()
	assert.Len(t, snap, ringCapacity)
	assert.Equal(t, byte('b'), snap[len(snap)-1])
}

func TestRing_Reset(t *testing.T) {
	r := newRing()
	r.Append([]byte("data"))
	r.Reset()
	assert.Empty(t, r.Snapshot())
}

func TestExtractTitle(t *testing.T) {
	chunk := []byte("\x1b]0;my title\x07rest of output")
	title, ok := extractTitle(chunk)
	assert.True(t, ok)
	assert.Equal(t, "my title", title)

	_, ok = extractTitle([]byte("no title here"))
	assert.False(t, ok)
}

func TestExtractTitle_SanitizesAndTruncates(t *testing.T) {
	long := make([]byte, 150)
	for i := range long {
		long[i] = 'x'
	}
	chunk := append([]byte("\x1b]0;"), append(long, []byte("\x07")...)...)
	title, ok := extractTitle(chunk)
	assert.True(t, ok)
	assert.Len(t, title, 100)
}
