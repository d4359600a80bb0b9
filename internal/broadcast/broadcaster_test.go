// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wormholed/wormhole/internal/eventlog"
)

func TestBroadcastDeliversToAllSinks(t *testing.T) {
	b := New("my-session")
	chA := make(chan Delivery, 1)
	chB := make(chan Delivery, 1)
	b.Add(chA)
	b.Add(chB)

	ev := eventlog.Event{Sequence: 1, Timestamp: time.Now(), Message: map[string]any{"hi": true}}
	b.Broadcast(ev)

	var a, c Delivery
	select {
	case a = <-chA:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on sink A")
	}
	select {
	case c = <-chB:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on sink B")
	}
	assert.Equal(t, "my-session", a.Session)
	assert.Equal(t, uint64(1), a.Event.Sequence)
	assert.Equal(t, "my-session", c.Session)
}

func TestBroadcastDropsOnFullSinkWithoutBlocking(t *testing.T) {
	b := New("s")
	full := make(chan Delivery) // unbuffered, never drained
	b.Add(full)

	done := make(chan struct{})
	go func() {
		b.Broadcast(eventlog.Event{Sequence: 1})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full sink")
	}
}

func TestRemoveStopsDelivery(t *testing.T) {
	b := New("s")
	ch := make(chan Delivery, 1)
	id := b.Add(ch)
	b.Remove(id)

	b.Broadcast(eventlog.Event{Sequence: 1})

	select {
	case <-ch:
		t.Fatal("received delivery after removal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLen(t *testing.T) {
	b := New("s")
	require.Equal(t, 0, b.Len())
	b.Add(make(chan Delivery, 1))
	b.Add(make(chan Delivery, 1))
	assert.Equal(t, 2, b.Len())
}
