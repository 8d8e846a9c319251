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

// Package arch provides abstractions around architecture-dependent
// details needed by signal delivery: register access, the signal-frame
// layout, and the guest-stack cursor used to build it.
//
// This is a trimmed descendant of the teacher's pkg/sentry/arch: the
// mmap-layout and ptrace-peek/poke surface (NewMmapLayout,
// PIELoadAddress, PtracePeekUser/PokeUser) served address-space
// allocation and debugging concerns that are out of scope for the
// signal-delivery core and have no caller here.
package arch

import "fmt"

// Arch describes a CPU architecture.
type Arch int

const (
	// AMD64 is the x86-64 architecture.
	AMD64 Arch = iota
	// ARM64 is the aarch64 architecture.
	ARM64
)

// Host is the architecture this build targets. The core only ships an
// amd64 frame builder; arm64 register layouts are a straightforward
// analog left for a follow-up.
const Host = AMD64

func (a Arch) String() string {
	switch a {
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	default:
		return fmt.Sprintf("Arch(%d)", a)
	}
}

// Context is the call surface the signal core needs from a thread's
// saved register state. Context64 is the only implementation; the
// interface documents the surface and lets tests substitute a fake.
type Context interface {
	// Arch returns the architecture of this context.
	Arch() Arch

	// IP returns the current instruction pointer.
	IP() uintptr
	// SetIP sets the current instruction pointer.
	SetIP(value uintptr)

	// Stack returns the current stack pointer.
	Stack() uintptr
	// SetStack sets the current stack pointer.
	SetStack(value uintptr)

	// Return returns the current syscall return value (Rax on amd64).
	Return() uintptr
	// SetReturn sets the syscall return value.
	SetReturn(value uintptr)

	// SetArg0/SetArg1/SetArg2 set the first three handler-entry
	// argument registers (signo, siginfo*, ucontext* in the System-V
	// signal handler convention, spec §4.5 "Context rewrite for entry").
	SetArg0(value uintptr)
	SetArg1(value uintptr)
	SetArg2(value uintptr)

	// SaveTo copies the general-purpose register file into dst,
	// byte-for-byte, for embedding in a ucontext (spec §4.5 "Field
	// population").
	SaveTo(dst *MachineContext)
	// RestoreFrom copies the general-purpose register file out of a
	// ucontext's machine-context back into the live context (used by
	// SignalRestore / sigreturn).
	RestoreFrom(src *MachineContext)

	// FPUStateBytes returns the raw extended FPU save area, or nil if
	// the context carries no extended state.
	FPUStateBytes() []byte
	// SetFPUStateBytes installs an extended FPU save area.
	SetFPUStateBytes(b []byte)
}

// MachineContext is the architecture-defined inner sub-block of a
// ucontext (spec §4.5 layout item 2): the saved general-purpose
// registers. Field names mirror Linux's mcontext_t gregs loosely enough
// to be recognizable without importing glibc headers.
type MachineContext struct {
	R8, R9, R10, R11, R12, R13, R14, R15 uint64
	RDI, RSI, RBP, RBX, RDX, RAX, RCX    uint64
	RSP, RIP                             uint64
	EFL                                  uint64
	CSGSFS                               uint64
	ERR, TRAPNO, OLDMASK, CR2            uint64
}
