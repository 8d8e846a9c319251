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

//go:build amd64
// +build amd64

package arch

// Regs is the general-purpose register file, laid out the way the PAL's
// saved context presents it (spec §3 "Per-thread signal state" consumes
// this shape as the interrupted context). Field naming follows Linux's
// struct user_regs_struct.
type Regs struct {
	R15, R14, R13, R12           uint64
	Rbp, Rbx, R11, R10           uint64
	R9, R8, Rax, Rcx, Rdx        uint64
	Rsi, Rdi                     uint64
	OrigRax                      uint64
	Rip, Cs, Eflags              uint64
	Rsp, Ss                      uint64
	FsBase, GsBase               uint64
	Ds, Es, Fs, Gs                uint64
}

// Context64 represents a saved AMD64 register context: the PAL's view
// of a thread's interrupted state (spec §6 "a pointer to a saved
// context").
//
// +stateify savable
type Context64 struct {
	Regs Regs

	// fpState is the extended FPU save area, nil until faulted in or
	// explicitly installed.
	fpState []byte
}

// Arch implements Context.Arch.
func (c *Context64) Arch() Arch {
	return AMD64
}

// Fork returns an exact copy of this context.
func (c *Context64) Fork() *Context64 {
	fp := make([]byte, len(c.fpState))
	copy(fp, c.fpState)
	return &Context64{Regs: c.Regs, fpState: fp}
}

// Return returns the current syscall return value.
func (c *Context64) Return() uintptr {
	return uintptr(c.Regs.Rax)
}

// SetReturn sets the syscall return value.
func (c *Context64) SetReturn(value uintptr) {
	c.Regs.Rax = uint64(value)
}

// IP returns the current instruction pointer.
func (c *Context64) IP() uintptr {
	return uintptr(c.Regs.Rip)
}

// SetIP sets the current instruction pointer.
func (c *Context64) SetIP(value uintptr) {
	c.Regs.Rip = uint64(value)
}

// Stack returns the current stack pointer.
func (c *Context64) Stack() uintptr {
	return uintptr(c.Regs.Rsp)
}

// SetStack sets the current stack pointer.
func (c *Context64) SetStack(value uintptr) {
	c.Regs.Rsp = uint64(value)
}

// SetArg0 sets the first handler-entry argument register (signo).
func (c *Context64) SetArg0(value uintptr) {
	c.Regs.Rdi = uint64(value)
}

// SetArg1 sets the second handler-entry argument register (siginfo*).
func (c *Context64) SetArg1(value uintptr) {
	c.Regs.Rsi = uint64(value)
}

// SetArg2 sets the third handler-entry argument register (ucontext*).
func (c *Context64) SetArg2(value uintptr) {
	c.Regs.Rdx = uint64(value)
}

// SaveTo copies the general-purpose register file into dst, matching
// the mcontext_t gregs layout (spec §4.5 "Field population").
func (c *Context64) SaveTo(dst *MachineContext) {
	r := &c.Regs
	*dst = MachineContext{
		R8: r.R8, R9: r.R9, R10: r.R10, R11: r.R11,
		R12: r.R12, R13: r.R13, R14: r.R14, R15: r.R15,
		RDI: r.Rdi, RSI: r.Rsi, RBP: r.Rbp, RBX: r.Rbx,
		RDX: r.Rdx, RAX: r.Rax, RCX: r.Rcx,
		RSP: r.Rsp, RIP: r.Rip, EFL: r.Eflags,
		CSGSFS: r.Cs | r.Gs<<16 | r.Fs<<32,
	}
}

// RestoreFrom copies a ucontext's saved machine-context back into the
// live register file (spec §4.6 Entry C, sigreturn).
func (c *Context64) RestoreFrom(src *MachineContext) {
	r := &c.Regs
	r.R8, r.R9, r.R10, r.R11 = src.R8, src.R9, src.R10, src.R11
	r.R12, r.R13, r.R14, r.R15 = src.R12, src.R13, src.R14, src.R15
	r.Rdi, r.Rsi, r.Rbp, r.Rbx = src.RDI, src.RSI, src.RBP, src.RBX
	r.Rdx, r.Rax, r.Rcx = src.RDX, src.RAX, src.RCX
	r.Rsp, r.Rip, r.Eflags = src.RSP, src.RIP, src.EFL
	r.Cs = src.CSGSFS & 0xffff
	r.Gs = (src.CSGSFS >> 16) & 0xffff
	r.Fs = (src.CSGSFS >> 32) & 0xffff
}

// FPUStateBytes returns the raw extended FPU save area.
func (c *Context64) FPUStateBytes() []byte {
	return c.fpState
}

// SetFPUStateBytes installs an extended FPU save area; nil clears it
// (spec §4.5 "FPU-state pointer ← nil" on handler entry).
func (c *Context64) SetFPUStateBytes(b []byte) {
	c.fpState = b
}

// Width returns the byte width of a native register value.
func (c *Context64) Width() uint {
	return 8
}
