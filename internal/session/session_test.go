package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_SubscribeReceivesEmittedEvent(t *testing.T) {
	r := NewRegistry(nil)

	id, events := r.Subscribe()
	require.NotEmpty(t, id)
	require.Equal(t, 1, r.Count())

	r.Emit("workflow:state", "running")

	evt := <-events
	require.Equal(t, "workflow:state", evt.Name)
	require.JSONEq(t, `"running"`, string(evt.Data))
}

func TestRegistry_NilPayloadProducesNoData(t *testing.T) {
	r := NewRegistry(nil)

	_, events := r.Subscribe()
	r.Emit("sender:unload", nil)

	evt := <-events
	require.Equal(t, "sender:unload", evt.Name)
	require.Nil(t, evt.Data)
}

func TestRegistry_MultipleSubscribersAllReceive(t *testing.T) {
	r := NewRegistry(nil)

	_, a := r.Subscribe()
	_, b := r.Subscribe()

	r.Emit("connection:change", map[string]any{"ident": "dev0", "open": true})

	evtA := <-a
	evtB := <-b
	require.Equal(t, "connection:change", evtA.Name)
	require.Equal(t, "connection:change", evtB.Name)
}

func TestRegistry_UnsubscribeClosesChannelAndStopsDelivery(t *testing.T) {
	r := NewRegistry(nil)

	id, events := r.Subscribe()
	r.Unsubscribe(id)
	require.Equal(t, 0, r.Count())

	_, stillOpen := <-events
	require.False(t, stillOpen)

	// Emitting after unsubscribe must not panic on the closed channel.
	require.NotPanics(t, func() {
		r.Emit("controller:type", "grbl")
	})
}

func TestRegistry_EmitDeliversInSubscriptionInsertionOrder(t *testing.T) {
	r := NewRegistry(nil)

	idA, a := r.Subscribe()
	idB, b := r.Subscribe()
	idC, c := r.Subscribe()

	// The map underlying r.subs gives no iteration-order guarantee; the
	// insertion-ordered slice is what Emit actually walks, so assert it
	// reflects subscription order directly rather than hoping map
	// randomization happens to agree across test runs.
	require.Equal(t, []string{idA, idB, idC}, r.order)

	r.Unsubscribe(idB)
	require.Equal(t, []string{idA, idC}, r.order, "unsubscribe must remove from the order slice, not just the map")

	r.Emit("workflow:state", "running")

	require.Equal(t, "workflow:state", (<-a).Name)
	require.Equal(t, "workflow:state", (<-c).Name)

	_, stillOpen := <-b
	require.False(t, stillOpen, "the unsubscribed session must not still be in the delivery path")
}

func TestRegistry_EmitDropsOnFullSubscriberChannel(t *testing.T) {
	r := NewRegistry(nil)

	_, events := r.Subscribe()

	for i := 0; i < eventBuffer+10; i++ {
		r.Emit("sender:status", map[string]any{"n": i})
	}

	require.Len(t, events, eventBuffer)
}
