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
	"testing"

	"github.com/tallowmark/shimsig/pkg/sentry/arch"
)

func testLayout() SyscallStubLayout {
	return SyscallStubLayout{
		EntryBegin:        0x500000,
		EpilogueBegin:     0x500100,
		EpilogueEnd:       0x500110,
		PendingCheckBegin: 0x500200,
		PendingCheckEnd:   0x500210,
	}
}

func TestEmulateSyscallBoundaryEpilogueWindow(t *testing.T) {
	l := testLayout()
	c := &arch.Context64{}
	c.SetIP(0x500104)

	saved := &savedRegisterBlock{addr: 0x900000}
	saved.regs.Rax = 42

	if err := EmulateSyscallBoundary(l, c, &arch.Stack{}, saved); err != nil {
		t.Fatalf("EmulateSyscallBoundary(epilogue) error: %v", err)
	}
	if c.Regs.Rax != 42 {
		t.Fatalf("Regs.Rax after epilogue emulation = %d, want 42", c.Regs.Rax)
	}
	if saved.addr != 0 {
		t.Fatalf("saved register block pointer not nil'd after consumption")
	}
}

func TestEmulateSyscallBoundaryPendingCheckWindow(t *testing.T) {
	l := testLayout()
	mem := newFakeStackMemory()
	c := &arch.Context64{}
	c.SetIP(0x500204)
	c.SetStack(0x7f0000080000)

	var retAddrBytes [8]byte
	binary.LittleEndian.PutUint64(retAddrBytes[:], 0x401234)
	if err := mem.CopyOut(uintptr(c.Stack()), retAddrBytes[:]); err != nil {
		t.Fatalf("priming return address: %v", err)
	}

	st := &arch.Stack{Memory: mem, Bottom: uintptr(c.Stack())}
	saved := &savedRegisterBlock{addr: 0x900000}

	if err := EmulateSyscallBoundary(l, c, st, saved); err != nil {
		t.Fatalf("EmulateSyscallBoundary(pending-check) error: %v", err)
	}
	if c.IP() != 0x401234 {
		t.Fatalf("IP after fake ret = %#x, want 0x401234", c.IP())
	}
	if c.Stack() != 0x7f0000080008 {
		t.Fatalf("SP after fake ret = %#x, want 0x7f0000080008 (8 bytes popped)", c.Stack())
	}
	if saved.addr != 0 {
		t.Fatalf("saved register block pointer not nil'd after consumption")
	}
}

func TestInSyscallStubOutsideBothWindows(t *testing.T) {
	l := testLayout()
	if l.InSyscallStub(0x600000) {
		t.Fatalf("InSyscallStub(unrelated IP) = true, want false")
	}
}
