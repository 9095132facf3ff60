package xipc

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_BackToBack(t *testing.T) {
	var buf bytes.Buffer
	sw, err := NewStreamWriter(&buf, fixedLayout)
	require.NoError(t, err)

	want := make([]*EventMessage, 0, 5)
	for i := range 5 {
		m := NewEventMessage("tick")
		m.Sender = "clock"
		m.PushInt(int32(i))
		m.PushWString([]rune("ü"))
		want = append(want, m)
		require.NoError(t, sw.Write(m))
	}
	require.NoError(t, sw.Flush())

	sr, err := NewStreamReader(&buf, fixedLayout)
	require.NoError(t, err)
	for i, w := range want {
		got, err := sr.Next()
		require.NoError(t, err, "message %d", i)
		assert.True(t, w.Equal(got), "message %d: %s", i, got)
	}
	_, err = sr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_TruncatedTail(t *testing.T) {
	data := encode(t, fixedLayout, pingMessage())
	stream := append(bytes.Clone(data), data[:len(data)/2]...)

	sr, err := NewStreamReader(bytes.NewReader(stream), fixedLayout)
	require.NoError(t, err)
	_, err = sr.Next()
	require.NoError(t, err)

	_, err = sr.Next()
	require.ErrorIs(t, err, ErrTruncated)
	assert.False(t, errors.Is(err, io.EOF), "a cut inside a message is not a clean end")
}

func TestStream_NextRaw(t *testing.T) {
	a := encode(t, fixedLayout, pingMessage())
	b := encode(t, fixedLayout, NewEventMessage("second"))

	sr, err := NewStreamReader(io.MultiReader(bytes.NewReader(a), bytes.NewReader(b)), fixedLayout)
	require.NoError(t, err)

	m, raw, err := sr.NextRaw()
	require.NoError(t, err)
	assert.Equal(t, "ping", m.Event)
	assert.Equal(t, a, raw)

	m, raw, err = sr.NextRaw()
	require.NoError(t, err)
	assert.Equal(t, "second", m.Event)
	assert.Equal(t, b, raw)

	_, _, err = sr.NextRaw()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamWriter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	sw, err := NewStreamWriter(&buf, fixedLayout)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				m := NewEventMessage("w")
				m.PushInt(int32(i*100 + j))
				m.PushString("interleaving would corrupt this")
				assert.NoError(t, sw.Write(m))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, sw.Flush())

	sr, err := NewStreamReader(&buf, fixedLayout)
	require.NoError(t, err)
	n := 0
	for {
		_, err := sr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 400, n)
}

func TestStream_InvalidLayout(t *testing.T) {
	_, err := NewStreamWriter(io.Discard, Layout{SizeWidth: 2})
	assert.ErrorIs(t, err, ErrInvalidLayout)
	_, err = NewStreamReader(bytes.NewReader(nil), Layout{})
	assert.ErrorIs(t, err, ErrInvalidLayout)
}
