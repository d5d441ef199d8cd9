package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcastReachesOnlyTargets(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe(1)
	b, cancelB := hub.Subscribe(2)
	defer cancelB()

	hub.Broadcast([]int64{1, 1, 0}, []byte("hello"))
	assert.Equal(t, []byte("hello"), <-a)
	assert.Empty(t, b)

	cancelA()
	cancelA()
	assert.Zero(t, hub.Subscribers(1))
	_, open := <-a
	assert.False(t, open)
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(7)
	defer cancel()

	for i := 0; i < cap(ch)+3; i++ {
		hub.Broadcast([]int64{7}, []byte{byte(i)})
	}
	assert.Len(t, ch, cap(ch))
}
