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
	"testing"

	linux "github.com/tallowmark/shimsig/pkg/abi/linux"
	"github.com/tallowmark/shimsig/pkg/hostarch"
	"github.com/tallowmark/shimsig/pkg/sentry/arch"
	"github.com/tallowmark/shimsig/pkg/sentry/mm"
	"github.com/tallowmark/shimsig/pkg/sentry/platform"
)

// fakePAL reports every address as guest code, matching a thread that
// never runs library-OS or PAL text.
type fakePAL struct{}

func (fakePAL) HostType() platform.HostType                { return platform.HostPtrace }
func (fakePAL) InLibOSText(ip uintptr) bool                 { return false }
func (fakePAL) InPALText(ip uintptr) bool                   { return false }
func (fakePAL) ThreadResume(tid int32) error                { return nil }
func (fakePAL) ThreadYield()                                {}
func (fakePAL) ExceptionReturn(ev *platform.Event) error    { return nil }
func (fakePAL) SupportsSIGSYS() bool                        { return false }

func newClassifierTestTask() *Task {
	k := NewKernel()
	ctx := &arch.Context64{}
	return NewTask(1, 1, k, fakePAL{}, ctx)
}

// TestS1NullDereference: spec §8 scenario S1.
func TestS1NullDereference(t *testing.T) {
	task := newClassifierTestTask()
	ev := &platform.Event{Class: platform.EventMemFault, Arg: 0, Write: true, Context: task.Ctx}

	c := ClassifyFault(task, ev, false)
	if c.Fatal || c.ProbeRedirect || c.HostSyscall || c.NoSignal {
		t.Fatalf("classify(null deref) = %+v, want plain signal", c)
	}
	if c.Info.Signo != linux.SIGSEGV || c.Info.Code != linux.SEGV_MAPERR {
		t.Fatalf("classify(null deref) = %+v, want SIGSEGV/MAPERR", c.Info)
	}
}

// TestS2WriteToReadOnlyFileMapping: spec §8 scenario S2.
func TestS2WriteToReadOnlyFileMapping(t *testing.T) {
	task := newClassifierTestTask()
	const addr = hostarch.Addr(0x7f0000001000)
	task.Kernel.VMAs.Insert(hostarch.AddrRange{Start: addr, End: addr + 0x1000}, mm.VMA{
		Anonymous: false,
		Writable:  false,
		FileEnd:   addr + 0x1000,
	})

	ev := &platform.Event{Class: platform.EventMemFault, Arg: uint64(addr), Write: true, Context: task.Ctx}
	c := ClassifyFault(task, ev, false)
	if c.Info.Signo != linux.SIGSEGV || c.Info.Code != linux.SEGV_ACCERR {
		t.Fatalf("classify(write to RO file VMA) = %+v, want SIGSEGV/ACCERR", c.Info)
	}
}

// TestS3PastEOFOfFileMapping: spec §8 scenario S3.
func TestS3PastEOFOfFileMapping(t *testing.T) {
	task := newClassifierTestTask()
	const start = hostarch.Addr(0x7f0000001000)
	const fileEnd = hostarch.Addr(0x7f0000001800)
	const faultAddr = hostarch.Addr(0x7f0000001900)
	task.Kernel.VMAs.Insert(hostarch.AddrRange{Start: start, End: start + 0x1000}, mm.VMA{
		Anonymous: false,
		Writable:  true,
		FileEnd:   fileEnd,
	})

	ev := &platform.Event{Class: platform.EventMemFault, Arg: uint64(faultAddr), Write: false, Context: task.Ctx}
	c := ClassifyFault(task, ev, false)
	if c.Info.Signo != linux.SIGBUS || c.Info.Code != linux.BUS_ADRERR {
		t.Fatalf("classify(past-EOF fault) = %+v, want SIGBUS/ADRERR", c.Info)
	}
}

func TestInternalVMAIsFatal(t *testing.T) {
	task := newClassifierTestTask()
	const addr = hostarch.Addr(0x600000)
	task.Kernel.VMAs.Insert(hostarch.AddrRange{Start: addr, End: addr + 0x1000}, mm.VMA{Internal: true})

	ev := &platform.Event{Class: platform.EventMemFault, Arg: uint64(addr), Context: task.Ctx}
	c := ClassifyFault(task, ev, false)
	if !c.Fatal {
		t.Fatalf("classify(internal VMA fault) = %+v, want Fatal", c)
	}
}

func TestProbeRangeRedirectsInsteadOfSignaling(t *testing.T) {
	task := newClassifierTestTask()
	task.probe = probeRecord{active: true, start: 0x1000, end: 0x2000}

	ev := &platform.Event{Class: platform.EventMemFault, Arg: 0x1500, Context: task.Ctx}
	c := ClassifyFault(task, ev, false)
	if !c.ProbeRedirect {
		t.Fatalf("classify(fault inside probe range) = %+v, want ProbeRedirect", c)
	}
}

func TestIllegalHostSyscallOpcodeIsRecognized(t *testing.T) {
	task := newClassifierTestTask()
	ev := &platform.Event{Class: platform.EventIllegal, Arg: 0x050f, Context: task.Ctx}
	c := ClassifyFault(task, ev, false)
	if !c.HostSyscall {
		t.Fatalf("classify(illegal, syscall opcode) = %+v, want HostSyscall", c)
	}
}

func TestIllegalOtherOpcodeIsSIGILL(t *testing.T) {
	task := newClassifierTestTask()
	ev := &platform.Event{Class: platform.EventIllegal, Arg: 0xffff, Context: task.Ctx}
	c := ClassifyFault(task, ev, false)
	if c.Info.Signo != linux.SIGILL || c.Info.Code != linux.ILL_ILLOPC {
		t.Fatalf("classify(illegal, other opcode) = %+v, want SIGILL/ILLOPC", c.Info)
	}
}
