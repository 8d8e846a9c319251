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

// Package linux holds the POSIX/Linux ABI constants and wire-compatible
// structures the signal core builds on the guest stack: signal numbers,
// siginfo, sigaction, and the alternate-stack descriptor. Real-time
// signal numbers above 31 are out of scope (spec Non-goals); only the
// classic 1..31 set is defined.
package linux

// Signal is a POSIX signal number.
type Signal int

// The classic (non-realtime) POSIX signal numbers, in Linux's numbering.
const (
	SIGHUP    Signal = 1
	SIGINT    Signal = 2
	SIGQUIT   Signal = 3
	SIGILL    Signal = 4
	SIGTRAP   Signal = 5
	SIGABRT   Signal = 6
	SIGBUS    Signal = 7
	SIGFPE    Signal = 8
	SIGKILL   Signal = 9
	SIGUSR1   Signal = 10
	SIGSEGV   Signal = 11
	SIGUSR2   Signal = 12
	SIGPIPE   Signal = 13
	SIGALRM   Signal = 14
	SIGTERM   Signal = 15
	SIGSTKFLT Signal = 16
	SIGCHLD   Signal = 17
	SIGCONT   Signal = 18
	SIGSTOP   Signal = 19
	SIGTSTP   Signal = 20
	SIGTTIN   Signal = 21
	SIGTTOU   Signal = 22
	SIGURG    Signal = 23
	SIGXCPU   Signal = 24
	SIGXFSZ   Signal = 25
	SIGVTALRM Signal = 26
	SIGPROF   Signal = 27
	SIGWINCH  Signal = 28
	SIGIO     Signal = 29
	SIGPWR    Signal = 30
	SIGSYS    Signal = 31

	// FirstSignal and LastSignal bound the classic signal numbering this
	// core implements queues and dispositions for.
	FirstSignal Signal = 1
	LastSignal  Signal = 31
)

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return "SIG(unknown)"
}

var signalNames = map[Signal]string{
	SIGHUP: "SIGHUP", SIGINT: "SIGINT", SIGQUIT: "SIGQUIT", SIGILL: "SIGILL",
	SIGTRAP: "SIGTRAP", SIGABRT: "SIGABRT", SIGBUS: "SIGBUS", SIGFPE: "SIGFPE",
	SIGKILL: "SIGKILL", SIGUSR1: "SIGUSR1", SIGSEGV: "SIGSEGV", SIGUSR2: "SIGUSR2",
	SIGPIPE: "SIGPIPE", SIGALRM: "SIGALRM", SIGTERM: "SIGTERM", SIGSTKFLT: "SIGSTKFLT",
	SIGCHLD: "SIGCHLD", SIGCONT: "SIGCONT", SIGSTOP: "SIGSTOP", SIGTSTP: "SIGTSTP",
	SIGTTIN: "SIGTTIN", SIGTTOU: "SIGTTOU", SIGURG: "SIGURG", SIGXCPU: "SIGXCPU",
	SIGXFSZ: "SIGXFSZ", SIGVTALRM: "SIGVTALRM", SIGPROF: "SIGPROF", SIGWINCH: "SIGWINCH",
	SIGIO: "SIGIO", SIGPWR: "SIGPWR", SIGSYS: "SIGSYS",
}

// SignalSet is a bitmask of pending/blocked signals, one bit per signal
// number: signal n is bit n-1 (SIGHUP is bit 0), matching Linux's
// sigset_t layout.
type SignalSet uint64

// SignalSetOf returns a SignalSet containing exactly sig.
func SignalSetOf(sig Signal) SignalSet {
	return SignalSet(1) << uint(sig-1)
}

// Contains returns true if sig is a member of s.
func (s SignalSet) Contains(sig Signal) bool {
	return s&SignalSetOf(sig) != 0
}

// Add returns s with sig added.
func (s SignalSet) Add(sig Signal) SignalSet {
	return s | SignalSetOf(sig)
}

// Remove returns s with sig removed.
func (s SignalSet) Remove(sig Signal) SignalSet {
	return s &^ SignalSetOf(sig)
}

// SigInfo codes used by the fault classifier (spec §4.2).
const (
	SI_USER    int32 = 0
	ILL_ILLOPC int32 = 1
	FPE_INTDIV int32 = 1
	SEGV_MAPERR int32 = 1
	SEGV_ACCERR int32 = 2
	BUS_ADRERR  int32 = 2
)

// SignalInfoSize is the size in bytes of the siginfo area reserved in the
// sigframe (spec §4.5 layout item 3). Linux's siginfo_t is 128 bytes;
// the core only ever populates a handful of fields of it.
const SignalInfoSize = 128

// SignalInfo is the payload of a signal record (spec §3 "Signal record").
// It is heap-allocated when a signal is raised and copied byte-for-byte
// into the siginfo area of the sigframe by the frame builder.
type SignalInfo struct {
	Signo Signal
	Code  int32
	Errno int32

	// PID is the sender's pid for SI_USER-shaped signals (kill, tgkill).
	PID int32
	UID int32

	// Addr is the faulting address for MEMFAULT-derived signals.
	Addr uint64

	// Sysno is the interrupted syscall number, for SIGSYS.
	Sysno uint64

	// TrapNo is the trap/vector number for ARITH-derived signals.
	TrapNo int32
}

// SigActionFlags are the subset of sa_flags the core consults.
type SigActionFlags uint32

const (
	SA_ONSTACK   SigActionFlags = 0x08000000
	SA_RESTART   SigActionFlags = 0x10000000
	SA_SIGINFO   SigActionFlags = 0x00000004
	SA_RESETHAND SigActionFlags = 0x80000000
	SA_NODEFER   SigActionFlags = 0x40000000
)

// Sentinel handler values distinguished from real user addresses. Real
// user handler addresses are always page-aligned-or-higher user virtual
// addresses; 0 and 1 are never valid as entry points and are reserved by
// Linux for SIG_DFL/SIG_IGN respectively.
const (
	SIG_DFL uint64 = 0
	SIG_IGN uint64 = 1
)

// SigAction is a thread's disposition for one signal number (spec §3
// "Disposition table").
type SigAction struct {
	Handler  uint64
	Flags    SigActionFlags
	Restorer uint64
	Mask     SignalSet
}

// IsIgnore reports whether act resolves to SIG_IGN.
func (act SigAction) IsIgnore() bool {
	return act.Handler == SIG_IGN
}

// IsDefault reports whether act resolves to SIG_DFL.
func (act SigAction) IsDefault() bool {
	return act.Handler == SIG_DFL
}

// SignalStack describes a thread's alternate signal stack (sigaltstack).
type SignalStack struct {
	Addr  uint64
	Flags uint32
	Size  uint64
}

// Alternate-stack flag bits.
const (
	SS_ONSTACK_FLAG = 1
	SS_DISABLE_FLAG = 2
)

// Disabled reports whether the alternate stack is disabled.
func (s *SignalStack) Disabled() bool {
	return s.Flags&SS_DISABLE_FLAG != 0
}

// Contains reports whether sp lies within the alternate stack.
func (s *SignalStack) Contains(sp uint64) bool {
	return !s.Disabled() && sp >= s.Addr && sp < s.Addr+s.Size
}

// Top returns the top (highest address) of the alternate stack.
func (s *SignalStack) Top() uint64 {
	return s.Addr + s.Size
}

// ucontext flags placed in the sigframe (spec §4.5 field population).
const (
	UC_STRICT_RESTORE_SS uint64 = 0x4
	UC_FP_XSTATE         uint64 = 0x1
)
