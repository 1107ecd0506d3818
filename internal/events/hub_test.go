package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	h := NewHub()
	sub := h.NewSubscriber("c1")
	h.Join(sub, WorldRoom("w1"))

	for i := 0; i < 5; i++ {
		h.Publish(WorldRoom("w1"), EvResourceUpdate, map[string]any{"seq": i})
	}

	for i := 0; i < 5; i++ {
		msg := <-sub.Out
		assert.Equal(t, EvResourceUpdate, msg.Type)
		assert.Equal(t, i, msg.Payload["seq"])
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestPublishScopedToRoom(t *testing.T) {
	h := NewHub()
	a := h.NewSubscriber("a")
	b := h.NewSubscriber("b")
	h.Join(a, WorldRoom("w1"))
	h.Join(b, WorldRoom("w2"))

	h.Publish(WorldRoom("w1"), EvDisasterWarning, nil)

	require.Len(t, a.Out, 1)
	assert.Empty(t, b.Out)
}

func TestJoinLeaveRoomSize(t *testing.T) {
	h := NewHub()
	a := h.NewSubscriber("a")
	b := h.NewSubscriber("b")

	room := SettlementRoom("s1")
	h.Join(a, room)
	h.Join(b, room)
	assert.Equal(t, 2, h.RoomSize(room))

	h.Leave(a, room)
	assert.Equal(t, 1, h.RoomSize(room))

	h.Publish(room, EvResourceUpdate, nil)
	assert.Empty(t, a.Out)
	assert.Len(t, b.Out, 1)
}

func TestPublishShedsProgressOnFullQueue(t *testing.T) {
	h := NewHub()
	sub := h.NewSubscriber("slow")
	room := WorldRoom("w1")
	h.Join(sub, room)

	for i := 0; i < subscriberQueue; i++ {
		h.Publish(room, EvStateUpdate, map[string]any{"seq": i})
	}
	require.Len(t, sub.Out, subscriberQueue)

	// Progress traffic over a full queue is shed; the subscriber stays.
	h.Publish(room, EvStateUpdate, nil)
	assert.Len(t, sub.Out, subscriberQueue)
	assert.Equal(t, 1, h.RoomSize(room))
}

func TestPublishRemovesSubscriberOnLifecycleOverflow(t *testing.T) {
	h := NewHub()
	sub := h.NewSubscriber("slow")
	room := WorldRoom("w1")
	h.Join(sub, room)

	for i := 0; i < subscriberQueue; i++ {
		h.Publish(room, EvResourceUpdate, nil)
	}

	// A lifecycle message over a full queue closes the subscriber.
	h.Publish(room, EvConstructionComplete, nil)
	assert.Equal(t, 0, h.RoomSize(room))

	// Drain: the channel ends closed.
	n := 0
	for range sub.Out {
		n++
	}
	assert.Equal(t, subscriberQueue, n)
}

func TestSend(t *testing.T) {
	h := NewHub()
	sub := h.NewSubscriber("c1")

	h.Send(sub, EvAuthenticated, map[string]any{"profileId": "p1"})
	msg := <-sub.Out
	assert.Equal(t, EvAuthenticated, msg.Type)
	assert.Equal(t, "p1", msg.Payload["profileId"])
}

func TestSendClosesOnLifecycleOverflow(t *testing.T) {
	h := NewHub()
	sub := h.NewSubscriber("slow")
	for i := 0; i < subscriberQueue; i++ {
		h.Send(sub, EvError, nil)
	}

	h.Send(sub, EvError, nil)

	n := 0
	for range sub.Out {
		n++
	}
	assert.Equal(t, subscriberQueue, n)
}

func TestRemoveIdempotent(t *testing.T) {
	h := NewHub()
	sub := h.NewSubscriber("c1")
	h.Join(sub, WorldRoom("w1"))
	h.Join(sub, SettlementRoom("s1"))

	h.Remove(sub)
	assert.Equal(t, 0, h.RoomSize(WorldRoom("w1")))
	assert.Equal(t, 0, h.RoomSize(SettlementRoom("s1")))

	// A second remove must not double-close the channel.
	assert.NotPanics(t, func() { h.Remove(sub) })

	// Publishing to a removed subscriber's old rooms is a no-op.
	h.Publish(WorldRoom("w1"), EvResourceUpdate, nil)
}

func TestDroppableClassification(t *testing.T) {
	for _, typ := range []string{EvConstructionProgressBatch, EvResourceTick, EvDisasterDamage, EvStateUpdate} {
		assert.True(t, Message{Type: typ}.Droppable(), typ)
	}
	for _, typ := range []string{EvConstructionComplete, EvDisasterWarning, EvGameState, EvError} {
		assert.False(t, Message{Type: typ}.Droppable(), typ)
	}
}

func TestConcurrentPublish(t *testing.T) {
	h := NewHub()
	room := WorldRoom("w1")
	subs := make([]*Subscriber, 4)
	for i := range subs {
		subs[i] = h.NewSubscriber(fmt.Sprintf("c%d", i))
		h.Join(subs[i], room)
	}

	done := make(chan struct{})
	for g := 0; g < 4; g++ {
		go func() {
			for i := 0; i < 20; i++ {
				h.Publish(room, EvResourceUpdate, nil)
			}
			done <- struct{}{}
		}()
	}
	for g := 0; g < 4; g++ {
		<-done
	}

	for _, s := range subs {
		assert.Len(t, s.Out, 80)
	}
}
