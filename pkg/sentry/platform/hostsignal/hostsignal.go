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

// Package hostsignal is a concrete platform.PAL adapter. Real hardware
// exception upcalls (arithmetic error, memory fault, illegal
// instruction) arrive through ptrace or KVM exit handling in the
// teacher's actual platforms, neither of which is in scope here (spec
// §1 names PAL exception registration as an external collaborator) —
// so those three classes are exposed through Inject, the same seam a
// ptrace- or KVM-backed PAL would call into after translating a host
// trap. The three process-control classes (quit/suspend/resume) are
// wired to real host signals via os/signal, the pattern the corpus uses
// for process control (supervizio's signals.Manager, basvanbeek's
// signal handler).
package hostsignal

import (
	"os"
	"os/signal"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tallowmark/shimsig/pkg/sentry/arch"
	"github.com/tallowmark/shimsig/pkg/sentry/platform"
	"github.com/tallowmark/shimsig/pkg/slog"
)

// Adapter implements platform.PAL over real host process-control
// signals, plus a software-injection seam for the hardware-upcall
// classes.
type Adapter struct {
	hostType platform.HostType

	mu       sync.Mutex
	handlers map[platform.EventClass]platform.Handler

	libOSRange [2]uintptr
	palRange   [2]uintptr

	supportsSIGSYS bool

	sigCh chan os.Signal
	done  chan struct{}
}

// New returns an Adapter reporting hostType to callers that select
// behavior by platform flavor (spec §4.3 memory-probe strategy
// selection, §9 SIGSYS gating).
func New(hostType platform.HostType) *Adapter {
	return &Adapter{
		hostType: hostType,
		handlers: make(map[platform.EventClass]platform.Handler),
		sigCh:    make(chan os.Signal, 8),
		done:     make(chan struct{}),
	}
}

// HostType implements platform.PAL.
func (a *Adapter) HostType() platform.HostType { return a.hostType }

// SetTextRanges configures the library-OS and PAL text ranges used by
// InLibOSText/InPALText (spec §4.2 classifier input). In a real PAL
// these come from the loaded binary's symbol table; here they are
// supplied directly since this adapter doesn't execute guest code.
func (a *Adapter) SetTextRanges(libOS, pal [2]uintptr) {
	a.libOSRange = libOS
	a.palRange = pal
}

// SetSupportsSIGSYS toggles the disabled-by-default seccomp SIGSYS
// emulation path (spec §9).
func (a *Adapter) SetSupportsSIGSYS(v bool) { a.supportsSIGSYS = v }

// SupportsSIGSYS implements platform.PAL.
func (a *Adapter) SupportsSIGSYS() bool { return a.supportsSIGSYS }

// InLibOSText implements platform.PAL.
func (a *Adapter) InLibOSText(ip uintptr) bool {
	return ip >= a.libOSRange[0] && ip < a.libOSRange[1]
}

// InPALText implements platform.PAL.
func (a *Adapter) InPALText(ip uintptr) bool {
	return ip >= a.palRange[0] && ip < a.palRange[1]
}

// ThreadResume implements platform.PAL: the append-signal path's
// cross-thread wake (spec §4.8 "wake the target thread ... plus PAL
// thread-resume") needs a blocked syscall to actually return, which for
// a real OS thread means delivering a real, otherwise-harmless signal to
// interrupt it. SIGURG is the same choice Go's own runtime preemption
// uses for exactly this property: it is ignored by default and safe to
// deliver to a thread not expecting it.
func (a *Adapter) ThreadResume(tid int32) error {
	if err := unix.Tgkill(unix.Getpid(), int(tid), unix.SIGURG); err != nil {
		return err
	}
	return nil
}

// ThreadYield implements platform.PAL.
func (a *Adapter) ThreadYield() { runtime.Gosched() }

// ExceptionReturn implements platform.PAL: resuming means the upcall
// handler has finished mutating ev.Context and execution should
// continue from it. There is nothing further to do here; the caller
// already installed the new IP/SP/argument registers.
func (a *Adapter) ExceptionReturn(ev *platform.Event) error { return nil }

// Register installs the handler for one event class (spec §6 "The core
// registers handlers for six event classes").
func (a *Adapter) Register(class platform.EventClass, h platform.Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[class] = h
}

// Inject synthesizes an upcall for one of the hardware-exception event
// classes (ARITH, MEMFAULT, ILLEGAL), the seam a ptrace/KVM PAL would
// call after decoding a trap. tid identifies the faulting thread; write
// is meaningful only for MEMFAULT.
func (a *Adapter) Inject(class platform.EventClass, tid int32, arg uint64, write bool, ctx *arch.Context64) {
	a.mu.Lock()
	h := a.handlers[class]
	a.mu.Unlock()
	if h == nil {
		slog.Warn(slog.Fields{"class": class.String()}, "no handler registered for injected upcall")
		return
	}
	h(a, &platform.Event{Class: class, Arg: arg, Write: write, Context: ctx, TID: tid})
}

// Start begins translating host process-control signals into
// QUIT/SUSPEND/RESUME upcalls: SIGTERM becomes EventQuit, SIGUSR1
// becomes EventSuspend (real SIGSTOP cannot be caught by a process), and
// SIGCONT becomes EventResume. Call Stop to unwind.
func (a *Adapter) Start(tid int32, ctx *arch.Context64) {
	signal.Notify(a.sigCh, unix.SIGTERM, unix.SIGUSR1, unix.SIGCONT)
	go func() {
		for {
			select {
			case sig := <-a.sigCh:
				class, ok := classify(sig)
				if !ok {
					continue
				}
				a.Inject(class, tid, 0, false, ctx)
			case <-a.done:
				return
			}
		}
	}()
}

// Stop unregisters the host signal forwarding started by Start.
func (a *Adapter) Stop() {
	signal.Stop(a.sigCh)
	close(a.done)
}

func classify(sig os.Signal) (platform.EventClass, bool) {
	switch sig {
	case unix.SIGTERM:
		return platform.EventQuit, true
	case unix.SIGUSR1:
		return platform.EventSuspend, true
	case unix.SIGCONT:
		return platform.EventResume, true
	default:
		return 0, false
	}
}
