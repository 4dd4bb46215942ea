package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/weave/internal/core/wire"
)

func TestMailbox_DrainsBeforeClose(t *testing.T) {
	mb := newMailbox()

	require.True(t, mb.post(wire.NewMessage(wire.OpResult, nil)))
	require.True(t, mb.post(wire.NewMessage(wire.OpInform, nil)))
	mb.close()

	assert.False(t, mb.post(wire.NewMessage(wire.OpInform, nil)), "posts after close are dropped")

	batch, ok := mb.take()
	require.True(t, ok)
	assert.Len(t, batch, 2)

	_, ok = mb.take()
	assert.False(t, ok)
}

func TestMailbox_TakeBlocksUntilPost(t *testing.T) {
	mb := newMailbox()
	got := make(chan int, 1)

	go func() {
		batch, _ := mb.take()
		got <- len(batch)
	}()

	select {
	case <-got:
		t.Fatal("take returned on an empty mailbox")
	case <-time.After(20 * time.Millisecond):
	}

	mb.post(wire.NewMessage(wire.OpResult, nil))

	select {
	case n := <-got:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("take did not wake up")
	}
}

func TestMailbox_NeverBlocksPoster(t *testing.T) {
	mb := newMailbox()
	for i := 0; i < 10000; i++ {
		require.True(t, mb.post(wire.NewMessage(wire.OpInform, nil)))
	}

	batch, ok := mb.take()
	require.True(t, ok)
	assert.Len(t, batch, 10000)
}
