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

// Package hostarch holds the small address-arithmetic vocabulary the
// signal core needs: a page-aligned address type and range arithmetic.
// It is deliberately a tiny slice of gVisor's hostarch package, trimmed
// to what the frame builder, the classifier, and the memory probe use.
package hostarch

// PageSize is the system page size in bytes.
const PageSize = 1 << 12

// Addr is a generic virtual address.
type Addr uintptr

// RoundDown rounds a down to the nearest page boundary.
func (a Addr) RoundDown() Addr {
	return a &^ (PageSize - 1)
}

// RoundUp rounds a up to the nearest page boundary. ok is false if doing
// so would overflow.
func (a Addr) RoundUp() (Addr, bool) {
	rounded := a.RoundDown()
	if rounded != a {
		rounded += PageSize
		if rounded < a {
			return 0, false
		}
	}
	return rounded, true
}

// PageOffset returns the offset of a within its containing page.
func (a Addr) PageOffset() uintptr {
	return uintptr(a) & (PageSize - 1)
}

// AddLength adds length to a, returning false on overflow.
func (a Addr) AddLength(length uint64) (Addr, bool) {
	end := a + Addr(length)
	if end < a {
		return 0, false
	}
	return end, true
}

// AddrRange is a non-empty range of addresses [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// Length returns the length of the range.
func (r AddrRange) Length() int64 {
	return int64(r.End - r.Start)
}

// Contains returns true if addr falls within the range.
func (r AddrRange) Contains(addr Addr) bool {
	return r.Start <= addr && addr < r.End
}

// Overlaps returns true if r and other share at least one address.
func (r AddrRange) Overlaps(other AddrRange) bool {
	return r.Start < other.End && other.Start < r.End
}
