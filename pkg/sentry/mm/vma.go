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

// Package mm holds the minimal virtual-memory-area map the fault
// classifier and the VMA-walk memory-probe strategy consult (spec §1
// names the "thread table and VMA lookup" as an external collaborator;
// this is the narrow slice of it those two components actually call).
//
// The teacher's own pkg/sentry/mm builds VMA lookup on a generated
// interval-segment-set template keyed by address range, which is not
// part of the retrieval pack. This instead indexes VMAs with
// github.com/google/btree (already in the teacher's go.mod, and the
// same ordered-by-key structure gVisor's own mm.vmaSet ultimately
// compiles down to), ordered by start address.
package mm

import (
	"sync"

	"github.com/google/btree"
	"github.com/tallowmark/shimsig/pkg/hostarch"
)

// VMA describes one mapped region of the address space, the subset of
// fields the fault classifier and memory probe need (spec §4.2 decision
// table, §4.3 VMA-walk strategy).
type VMA struct {
	Range hostarch.AddrRange

	// Internal marks library-OS-owned mappings; a fault here is always
	// a bug, never a guest-visible signal (spec §4.2).
	Internal bool

	// Anonymous is true for anonymous (non-file-backed) mappings.
	Anonymous bool

	// Writable reports whether the mapping permits writes.
	Writable bool

	// FileEnd is the address (not an offset within the VMA) at and past
	// which the underlying file's content ends (spec §4.2 "past
	// end-of-file projection"). Meaningless for anonymous mappings.
	FileEnd hostarch.Addr
}

type vmaItem struct {
	r   hostarch.AddrRange
	vma VMA
}

func (a vmaItem) Less(than btree.Item) bool {
	return a.r.Start < than.(vmaItem).r.Start
}

// Map is a thread-independent virtual-memory-area map, ordered by start
// address. The real collaborator is process-wide and reader-locked
// (spec §5 "the VMA map uses its own reader lock"); this reproduces that
// contract with a plain RWMutex.
type Map struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// NewMap returns an empty VMA map.
func NewMap() *Map {
	return &Map{tree: btree.New(8)}
}

// Insert adds or replaces the VMA covering r.
func (m *Map) Insert(r hostarch.AddrRange, vma VMA) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vma.Range = r
	m.tree.ReplaceOrInsert(vmaItem{r: r, vma: vma})
}

// Remove deletes the VMA starting at r.Start, if any.
func (m *Map) Remove(r hostarch.AddrRange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(vmaItem{r: r})
}

// Find returns the VMA containing addr, if any (spec §4.2 "no VMA
// contains address" / "VMA has internal flag" etc.).
func (m *Map) Find(addr hostarch.Addr) (VMA, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found VMA
	var ok bool
	// Walk items with Start <= addr in descending order of Start; the
	// first one that also contains addr is the answer, since ranges
	// here never overlap.
	m.tree.DescendLessOrEqual(vmaItem{r: hostarch.AddrRange{Start: addr}}, func(i btree.Item) bool {
		item := i.(vmaItem)
		if item.r.Contains(addr) {
			found = item.vma
			ok = true
		}
		return false
	})
	return found, ok
}

// Covers reports whether the map has a contiguous run of non-internal
// VMAs exactly covering r (spec §4.3 VMA-walk strategy: "verify every
// page in [addr, addr+size) belongs to a contiguous set of VMAs
// covering the range").
func (m *Map) Covers(r hostarch.AddrRange, needWrite bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cursor := r.Start
	for cursor < r.End {
		vma, ok := m.findLocked(cursor)
		if !ok || vma.Internal {
			return false
		}
		if needWrite && !vma.Writable {
			return false
		}
		cursor = vma.Range.End
	}
	return true
}

func (m *Map) findLocked(addr hostarch.Addr) (VMA, bool) {
	var found VMA
	var ok bool
	m.tree.DescendLessOrEqual(vmaItem{r: hostarch.AddrRange{Start: addr}}, func(i btree.Item) bool {
		item := i.(vmaItem)
		if item.r.Contains(addr) {
			found = item.vma
			ok = true
		}
		return false
	})
	return found, ok
}
