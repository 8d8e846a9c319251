// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kernel holds the per-task signal state and the delivery
// scheduler: the heart of the signal-delivery core (spec §2 components
// 1, 4, 6, 7, 8; §3 "Data model"; §4).
package kernel

import (
	"sync/atomic"

	linux "github.com/tallowmark/shimsig/pkg/abi/linux"
)

// ringCapacity is C, the fixed capacity of a per-signal ring (spec §3
// "Per-signal ring"). The source uses a small constant; this does too.
const ringCapacity = 32

// signalRecord is the heap-allocated siginfo-shaped payload a signal
// carries from raise to delivery (spec §3 "Signal record").
type signalRecord struct {
	info linux.SignalInfo
}

// signalRing is a fixed-capacity, lock-free, single-fetcher ring of
// *signalRecord (spec §3 "Per-signal ring", §4.1). Producers CAS-advance
// tail and reserve their slot before writing into it; the single fetcher
// CAS-advances head and rolls back (re-publishing the slot) if it loses
// the race, matching §4.1's "Dequeue" procedure.
type signalRing struct {
	head  atomic.Uint32
	tail  atomic.Uint32
	slots [ringCapacity]atomic.Pointer[signalRecord]
}

// enqueue reserves a slot and publishes rec into it. Returns false if the
// ring is full; the producer is responsible for freeing rec in that case
// (spec §4.1 "Loss policy": dropped and logged).
func (r *signalRing) enqueue(rec *signalRecord) bool {
	for {
		tail := r.tail.Load()
		head := r.head.Load()
		next := (tail + 1) % ringCapacity
		if next == head {
			// Full: (tail+1) mod C == head (spec §3 invariant ii).
			return false
		}
		if r.tail.CompareAndSwap(tail, next) {
			// A single failed CAS here never loses a slot: we only
			// advance tail, then write, so a concurrent fetcher that
			// observes the advanced tail but a nil slot treats the
			// ring as transiently empty (spec §4.1 rationale).
			r.slots[tail].Store(rec)
			return true
		}
	}
}

// dequeue removes and returns the oldest record, or nil if the ring is
// empty or a producer is mid-publish (spec §4.1 "Dequeue").
//
// Precondition: called by at most one goroutine at a time per ring
// (spec §3 "Per-thread signal state", "single-reader per-thread
// dispatch loop").
func (r *signalRing) dequeue() *signalRecord {
	for {
		head := r.head.Load()
		tail := r.tail.Load()
		if head == tail {
			return nil
		}
		rec := r.slots[head].Load()
		if rec == nil {
			// Producer reserved this slot but hasn't published yet.
			return nil
		}
		r.slots[head].Store(nil)
		next := (head + 1) % ringCapacity
		if r.head.CompareAndSwap(head, next) {
			return rec
		}
		// Lost the CAS: restore the slot and retry (spec §4.1 "the
		// fetcher may roll back by restoring the slot").
		r.slots[head].Store(rec)
	}
}

// empty reports whether the ring currently holds no records (spec §3
// invariant i: head == tail).
func (r *signalRing) empty() bool {
	return r.head.Load() == r.tail.Load()
}
