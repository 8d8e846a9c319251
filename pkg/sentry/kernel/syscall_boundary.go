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

package kernel

import (
	"encoding/binary"

	"github.com/tallowmark/shimsig/pkg/sentry/arch"
)

// SyscallStubLayout names the five addresses the syscall entry/exit
// assembly stub publishes (spec §6 "Syscall stub contract"): the stub's
// entry point and the bounds of the two windows an async upcall can
// interrupt the stub inside of.
type SyscallStubLayout struct {
	// EntryBegin is the first instruction of the stub.
	EntryBegin uintptr

	// EpilogueBegin/EpilogueEnd bound the register-restore epilogue
	// that pops the guest's saved GP register block before jumping back
	// to application code (spec §4.7 window 1).
	EpilogueBegin uintptr
	EpilogueEnd   uintptr

	// PendingCheckBegin/PendingCheckEnd bound the tight loop that
	// re-checks has_signal just before returning to the app (spec §4.7
	// window 2).
	PendingCheckBegin uintptr
	PendingCheckEnd   uintptr
}

func (l SyscallStubLayout) inEpilogue(ip uintptr) bool {
	return ip >= l.EpilogueBegin && ip < l.EpilogueEnd
}

func (l SyscallStubLayout) inPendingCheck(ip uintptr) bool {
	return ip >= l.PendingCheckBegin && ip < l.PendingCheckEnd
}

// savedRegisterBlock is the stub-published pointer to the guest's saved
// GP register block, stored on the Task while the stub is running inside
// library-OS code (spec §6 "Stubs publish a saved register block pointer
// on the thread control block before entering library-OS code and nil it
// before returning to app").
type savedRegisterBlock struct {
	addr uintptr
	regs arch.Regs
}

// InSyscallStub reports whether ip falls within either emulated window,
// the check Entry A's caller makes before invoking EmulateSyscallBoundary
// (spec §4.7 "An async upcall may interrupt the syscall stub during one
// of two windows").
func (l SyscallStubLayout) InSyscallStub(ip uintptr) bool {
	return l.inEpilogue(ip) || l.inPendingCheck(ip)
}

// EmulateSyscallBoundary implements spec §4.7: given an interrupted
// context whose IP lies inside one of the two syscall-stub windows,
// rewrite c into the equivalent "already returned to app" state so that
// normal delivery (Entry A) can proceed as if the syscall had completed.
//
// saved is the register block the stub published before the interrupted
// upcall; it is consumed (nil'd) by this call so later code never
// double-consumes it, mirroring the stub's own contract of nil'ing its
// published pointer before returning to the app.
func EmulateSyscallBoundary(l SyscallStubLayout, c *arch.Context64, st *arch.Stack, saved *savedRegisterBlock) error {
	ip := c.IP()

	switch {
	case l.inEpilogue(ip):
		// Window 1: the epilogue has not yet popped the guest's saved
		// registers into the live register file. Copy them in directly
		// and fake the jump to the application instruction the
		// epilogue was about to make.
		c.Regs = saved.regs
		saved.addr = 0

	case l.inPendingCheck(ip):
		// Window 2: the tight sigpending-check loop is about to execute
		// a trailing ret back to the application. Fake that ret by
		// popping the return address directly off the saved stack.
		var buf [8]byte
		if err := st.Memory.CopyIn(c.Stack(), buf[:]); err != nil {
			return err
		}
		c.SetIP(uintptr(binary.LittleEndian.Uint64(buf[:])))
		c.SetStack(c.Stack() + 8)
		saved.addr = 0
	}

	return nil
}
