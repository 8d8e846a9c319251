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
	linux "github.com/tallowmark/shimsig/pkg/abi/linux"
	"github.com/tallowmark/shimsig/pkg/hostarch"
	"github.com/tallowmark/shimsig/pkg/sentry/platform"
)

// hostSyscallOpcode is the two-byte x86-64 SYSCALL instruction sequence.
// An ILLEGAL upcall whose faulting bytes match this is a direct-host
// syscall the guest tried to issue, which §4.7 handles by emulating the
// syscall boundary rather than delivering SIGILL.
var hostSyscallOpcode = [2]byte{0x0f, 0x05}

// classification is the classifier's output: either a signal to enqueue,
// a fatal internal condition, a probe-range redirect, or "no signal"
// (RESUME).
type classification struct {
	// Fatal is true for an internal-fault report (spec §4.2 "fatal
	// internal fault"); the caller logs and pauses (spec §7).
	Fatal bool

	// ProbeRedirect is true when the fault landed inside the current
	// thread's byte-touch probe range; the caller redirects IP to the
	// probe's landing point instead of raising a signal (spec §4.2 row
	// 1, §4.3 "Byte-touch strategy").
	ProbeRedirect bool

	// HostSyscall is true for an ILLEGAL upcall recognized as a direct
	// host syscall opcode (spec §4.2 "emit the emulation sequence
	// described in §4.7").
	HostSyscall bool

	// NoSignal is true for RESUME, which only wakes the dispatch loop.
	NoSignal bool

	Info linux.SignalInfo
}

// ClassifyFault implements spec §4.2: translate one PAL upcall event
// into either a siginfo to enqueue or a fatal/internal/probe/no-signal
// outcome. t is the thread the event was delivered on; isInternalThread
// reports whether t itself is a library-OS-owned thread.
func ClassifyFault(t *Task, ev *platform.Event, isInternalThread bool) classification {
	switch ev.Class {
	case platform.EventResume:
		return classification{NoSignal: true}

	case platform.EventQuit:
		return classification{Info: linux.SignalInfo{Signo: linux.SIGTERM, Code: linux.SI_USER, PID: 0}}

	case platform.EventSuspend:
		return classification{Info: linux.SignalInfo{Signo: linux.SIGINT, Code: linux.SI_USER, PID: 0}}

	case platform.EventArith:
		return classification{Info: linux.SignalInfo{Signo: linux.SIGFPE, Code: linux.FPE_INTDIV, TrapNo: int32(ev.Arg)}}

	case platform.EventIllegal:
		return classifyIllegal(t, ev, isInternalThread)

	case platform.EventMemFault:
		return classifyMemFault(t, ev, isInternalThread)

	default:
		return classification{Fatal: true}
	}
}

func classifyIllegal(t *Task, ev *platform.Event, isInternalThread bool) classification {
	if isInternalThread || t.PAL.InLibOSText(t.Ctx.IP()) || t.PAL.InPALText(t.Ctx.IP()) {
		return classification{Fatal: true}
	}
	opcode := [2]byte{byte(ev.Arg), byte(ev.Arg >> 8)}
	if opcode == hostSyscallOpcode {
		return classification{HostSyscall: true}
	}
	return classification{Info: linux.SignalInfo{Signo: linux.SIGILL, Code: linux.ILL_ILLOPC, Addr: uint64(t.Ctx.IP())}}
}

// classifyMemFault implements the §4.2 MEMFAULT decision table in
// order.
func classifyMemFault(t *Task, ev *platform.Event, isInternalThread bool) classification {
	addr := hostarch.Addr(ev.Arg)

	if t.probe.active && addr >= hostarch.Addr(t.probe.start) && addr < hostarch.Addr(t.probe.end) {
		return classification{ProbeRedirect: true}
	}

	if isInternalThread || t.PAL.InLibOSText(t.Ctx.IP()) || t.PAL.InPALText(t.Ctx.IP()) {
		return classification{Fatal: true}
	}

	if addr == 0 {
		return classification{Info: linux.SignalInfo{Signo: linux.SIGSEGV, Code: linux.SEGV_MAPERR, Addr: uint64(addr)}}
	}

	vma, ok := t.Kernel.VMAs.Find(addr)
	if !ok {
		return classification{Info: linux.SignalInfo{Signo: linux.SIGSEGV, Code: linux.SEGV_MAPERR, Addr: uint64(addr)}}
	}
	if vma.Internal {
		return classification{Fatal: true}
	}

	if !vma.Anonymous {
		if addr >= vma.FileEnd {
			return classification{Info: linux.SignalInfo{Signo: linux.SIGBUS, Code: linux.BUS_ADRERR, Addr: uint64(addr)}}
		}
		if ev.Write && !vma.Writable {
			return classification{Info: linux.SignalInfo{Signo: linux.SIGSEGV, Code: linux.SEGV_ACCERR, Addr: uint64(addr)}}
		}
		return classification{Info: linux.SignalInfo{Signo: linux.SIGBUS, Code: linux.BUS_ADRERR, Addr: uint64(addr)}}
	}

	return classification{Info: linux.SignalInfo{Signo: linux.SIGSEGV, Code: linux.SEGV_ACCERR, Addr: uint64(addr)}}
}
