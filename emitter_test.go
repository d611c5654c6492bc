package frontchat

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestEmitterDropsOlderSnapshots(t *testing.T) {
	var e emitter[string]
	var got []string
	e.on(func(s string) { got = append(got, s) })

	e.emit(1, "first")
	e.emit(3, "third")
	e.emit(2, "second")
	e.emit(3, "third again")
	assert.Equal(t, []string{"first", "third"}, got)
}

func TestEmitterNestedEmitIsDeliveredAfter(t *testing.T) {
	var e emitter[int]
	var got []int
	e.on(func(v int) {
		got = append(got, v)
		if v == 1 {
			e.emit(2, 2)
		}
	})

	e.emit(1, 1)
	assert.Equal(t, []int{1, 2}, got)
}

func TestEmitterLogsListenerPanic(t *testing.T) {
	var buf bytes.Buffer
	e := emitter[int]{log: zerolog.New(&buf)}
	called := 0
	e.on(func(int) { panic("boom") })
	e.on(func(int) { called++ })

	e.emit(1, 1)
	assert.Equal(t, 1, called)
	assert.Contains(t, buf.String(), "change listener panicked")
	assert.Contains(t, buf.String(), "boom")

	cancel := e.on(func(int) { called++ })
	cancel()
	e.emit(2, 2)
	assert.Equal(t, 2, called)
}
