// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package broadcast implements the fan-out broadcaster (component C4): one
// Broadcaster per session, delivering every appended event to every
// registered peer without letting a slow or dead peer block the others.
package broadcast

import (
	"log"
	"sync"

	"github.com/wormholed/wormhole/internal/eventlog"
)

// Delivery is one outbound event, labelled with the session it came from
// so a peer subscribed to several sessions can tell them apart.
type Delivery struct {
	Session string
	Event   eventlog.Event
}

// SinkID identifies a registered peer sink.
type SinkID uint64

// Broadcaster fans out deliveries to registered sinks. It is safe for
// concurrent use.
type Broadcaster struct {
	mu      sync.RWMutex
	session string
	sinks   map[SinkID]chan<- Delivery
	nextID  SinkID
}

// New returns a Broadcaster for the named session.
func New(session string) *Broadcaster {
	return &Broadcaster{session: session, sinks: make(map[SinkID]chan<- Delivery)}
}

// Add registers ch to receive every future delivery. The returned SinkID
// is passed to Remove to unregister. ch must be buffered; Broadcast never
// blocks on a full channel, it drops and logs instead.
func (b *Broadcaster) Add(ch chan<- Delivery) SinkID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.sinks[id] = ch
	return id
}

// Remove unregisters a previously added sink.
func (b *Broadcaster) Remove(id SinkID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, id)
}

// Broadcast delivers ev to every registered sink in parallel. A full or
// stalled sink is skipped rather than blocking the others; its peer will
// fall behind and catch up via the reconnect/sync protocol instead.
func (b *Broadcaster) Broadcast(ev eventlog.Event) {
	b.mu.RLock()
	sinks := make([]chan<- Delivery, 0, len(b.sinks))
	for _, ch := range b.sinks {
		sinks = append(sinks, ch)
	}
	b.mu.RUnlock()

	delivery := Delivery{Session: b.session, Event: ev}

	var wg sync.WaitGroup
	for _, ch := range sinks {
		wg.Add(1)
		go func(ch chan<- Delivery) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("broadcast: panic delivering to sink for session %q: %v", b.session, r)
				}
			}()
			select {
			case ch <- delivery:
			default:
				log.Printf("broadcast: dropped event %d for session %q - sink buffer full", ev.Sequence, b.session)
			}
		}(ch)
	}
	wg.Wait()
}

// Len reports the number of currently registered sinks, for diagnostics.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}
