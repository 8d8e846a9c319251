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

// Package platform describes the PAL upcall boundary the signal core
// consumes (spec §1 "Out of scope: the PAL upcall registration
// interface"; spec §6 "PAL upcall protocol (consumed)"). Only the
// interface is specified here; pkg/sentry/platform/hostsignal provides
// one concrete adapter used by the CLI and integration tests.
package platform

import "github.com/tallowmark/shimsig/pkg/sentry/arch"

// EventClass is one of the six upcall event classes the core registers
// handlers for (spec §6).
type EventClass int

const (
	EventArith EventClass = iota
	EventMemFault
	EventIllegal
	EventQuit
	EventSuspend
	EventResume
)

func (e EventClass) String() string {
	switch e {
	case EventArith:
		return "arith"
	case EventMemFault:
		return "memfault"
	case EventIllegal:
		return "illegal"
	case EventQuit:
		return "quit"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Event is one upcall delivered to the core (spec §6: "an opaque event
// handle, a numeric argument ..., and a pointer to a saved context").
type Event struct {
	Class EventClass

	// Arg is the fault address for EventMemFault, or an auxiliary
	// datum (e.g. syscall number, or the two-byte opcode under
	// inspection for EventIllegal) for other classes.
	Arg uint64

	// Write indicates a write access for EventMemFault; meaningless
	// for other classes.
	Write bool

	// Context is the PAL's view of the interrupted register file and
	// FPU area. In/out: handlers mutate it in place to steer where
	// execution resumes.
	Context *arch.Context64

	// TID is the thread the upcall was delivered on.
	TID int32
}

// HostType names the host kernel/platform flavor, consulted to select
// between the memory-probe strategies (spec §4.3) and to gate the
// disabled SIGSYS emulation path (spec §9).
type HostType string

const (
	HostPtrace  HostType = "ptrace"
	HostKVM     HostType = "kvm"
	HostSystrap HostType = "systrap"
)

// PAL is the platform abstraction layer surface the core calls (spec
// §6 "PAL operations called").
type PAL interface {
	// HostType reports which concrete platform backs this PAL, used to
	// select the memory-probe strategy and gate SIGSYS emulation.
	HostType() HostType

	// InLibOSText / InPALText report whether ip falls within the
	// library-OS's or the PAL's own code, respectively (spec §4.2
	// classifier inputs; §4.6 Entry A guest-code check).
	InLibOSText(ip uintptr) bool
	InPALText(ip uintptr) bool

	// ThreadResume resumes the named thread after ExceptionReturn.
	ThreadResume(tid int32) error

	// ThreadYield yields the calling thread.
	ThreadYield()

	// ExceptionReturn resumes execution from an upcall using the
	// (possibly mutated) context carried by ev.
	ExceptionReturn(ev *Event) error

	// SupportsSIGSYS reports whether the seccomp-path SIGSYS emulation
	// (spec §9, disabled in the source) should be attempted on this
	// host. Defaults to false everywhere until a host type has been
	// tested against it.
	SupportsSIGSYS() bool
}

// Handler is the callback the core registers for one event class (spec
// §6: "The handler must eventually call exception-return(event) to
// resume").
type Handler func(pal PAL, ev *Event)
