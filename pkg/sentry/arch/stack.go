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

package arch

// StackMemory is the guest memory the frame builder writes into. It is
// the interface the core consumes from the memory manager (spec §1 "Out
// of scope: ... the thread table and VMA lookup" — the byte-level copy
// primitive itself is the only surface needed here).
type StackMemory interface {
	// CopyOut writes b to addr in guest memory.
	CopyOut(addr uintptr, b []byte) error

	// CopyIn reads len(b) bytes from addr in guest memory into b. Used
	// by the syscall-boundary emulator to fake a trailing ret by
	// reading a return address back off the stack (spec §4.7).
	CopyIn(addr uintptr, b []byte) error
}

// Stack is a downward-growing cursor over guest stack memory, used by
// the frame builder to lay out the sigframe bottom-up (spec §4.5,
// §9 "Implementations must build the frame bottom-up so self-pointers
// are always known when written").
type Stack struct {
	Memory StackMemory
	// Bottom is the current stack pointer; pushes move it down.
	Bottom uintptr
}

// Align rounds Bottom down to a multiple of n, which must be a power of
// two, and returns the new value.
func (s *Stack) Align(n uintptr) uintptr {
	s.Bottom &^= n - 1
	return s.Bottom
}

// PushBytes reserves len(b) bytes below the current Bottom, writes b
// there, and returns the address written.
func (s *Stack) PushBytes(b []byte) (uintptr, error) {
	s.Bottom -= uintptr(len(b))
	if err := s.Memory.CopyOut(s.Bottom, b); err != nil {
		return 0, err
	}
	return s.Bottom, nil
}

// Reserve reserves n bytes below Bottom without writing to them yet,
// returning the address of the reservation. Used for ucontext/siginfo
// blocks whose internal self-pointers (e.g. a ucontext's FPU-state
// pointer into the same frame) are only known once every later block
// has been placed.
func (s *Stack) Reserve(n uintptr) uintptr {
	s.Bottom -= n
	return s.Bottom
}
