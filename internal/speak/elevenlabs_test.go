package speak

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	data   [][]byte
	resets int
}

func (c *captureSink) WritePCM(b []byte) {
	c.mu.Lock()
	c.data = append(c.data, b)
	c.mu.Unlock()
}

func (c *captureSink) Reset() {
	c.mu.Lock()
	c.resets++
	c.mu.Unlock()
}

func (c *captureSink) chunks() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.data))
	copy(out, c.data)
	return out
}

func TestElevenLabsHoldsCompletionWhilePaused(t *testing.T) {
	sink := &captureSink{}
	e := NewElevenLabsSynthesizer("key", "voice", sink, nil)

	e.mu.Lock()
	e.speaking = true
	e.mu.Unlock()
	e.Pause()
	e.deliver([]byte{1, 2})
	e.deliver([]byte{3, 4})

	drained := make(chan struct{})
	go func() {
		e.waitDrained(context.Background())
		close(drained)
	}()

	// Stream EOF arrived while paused; the queued tail is not done yet.
	select {
	case <-drained:
		t.Fatal("drain finished while paused")
	case <-time.After(150 * time.Millisecond):
	}

	e.Resume()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("drain never finished after resume")
	}
	require.Equal(t, [][]byte{{1, 2}, {3, 4}}, sink.chunks())
}

func TestElevenLabsDrainStopsOnCancel(t *testing.T) {
	sink := &captureSink{}
	e := NewElevenLabsSynthesizer("key", "voice", sink, nil)

	e.mu.Lock()
	e.speaking = true
	e.mu.Unlock()
	e.Pause()
	e.deliver([]byte{9})

	ctx, cancel := context.WithCancel(context.Background())
	drained := make(chan struct{})
	go func() {
		e.waitDrained(ctx)
		close(drained)
	}()

	cancel()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("drain did not stop on cancel")
	}
	assert.Empty(t, sink.chunks())
}
