// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"

	"github.com/wormholed/wormhole/internal/eventlog"
)

// DefaultBufferMaxBytes is the default cap on the in-memory replay buffer.
const DefaultBufferMaxBytes = 2 * 1024 * 1024

// replayBuffer is a size-bounded deque of recent events. It never affects
// the durable log; eviction only drops entries from memory.
type replayBuffer struct {
	maxBytes  int
	events    []eventlog.Event
	totalSize int
}

func newReplayBuffer(maxBytes int) *replayBuffer {
	if maxBytes <= 0 {
		maxBytes = DefaultBufferMaxBytes
	}
	return &replayBuffer{maxBytes: maxBytes}
}

func estimateSize(ev eventlog.Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0
	}
	return len(data)
}

// push appends ev, evicting from the oldest end until the buffer's total
// estimated size is within cap.
func (b *replayBuffer) push(ev eventlog.Event) {
	size := estimateSize(ev)
	b.events = append(b.events, ev)
	b.totalSize += size

	for b.totalSize > b.maxBytes && len(b.events) > 1 {
		b.totalSize -= estimateSize(b.events[0])
		b.events = b.events[1:]
	}
}

// oldestSequence returns the sequence of the first buffered event, or 0 if
// the buffer is empty.
func (b *replayBuffer) oldestSequence() uint64 {
	if len(b.events) == 0 {
		return 0
	}
	return b.events[0].Sequence
}

// since returns buffered events with sequence > after, and whether the
// buffer held a contiguous prefix starting at after+1 (the fast-path
// invariant); when false, the caller must fall back to the disk log.
func (b *replayBuffer) since(after uint64) ([]eventlog.Event, bool) {
	if len(b.events) == 0 {
		return nil, false
	}
	if b.oldestSequence() > after+1 {
		return nil, false
	}

	var out []eventlog.Event
	for _, ev := range b.events {
		if ev.Sequence > after {
			out = append(out, ev)
		}
	}
	return out, true
}
