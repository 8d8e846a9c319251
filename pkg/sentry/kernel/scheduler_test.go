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
	"github.com/tallowmark/shimsig/pkg/sentry/arch"
)

// fakeStackMemory backs arch.Stack in tests with a plain byte slice
// window, large enough that downward pushes never underflow.
type fakeStackMemory struct {
	buf  []byte
	base uintptr
}

func newFakeStackMemory() *fakeStackMemory {
	return &fakeStackMemory{buf: make([]byte, 1<<20), base: 0x7f0000000000}
}

func (m *fakeStackMemory) offset(addr uintptr) int {
	return int(addr - m.base)
}

func (m *fakeStackMemory) CopyOut(addr uintptr, b []byte) error {
	copy(m.buf[m.offset(addr):], b)
	return nil
}

func (m *fakeStackMemory) CopyIn(addr uintptr, b []byte) error {
	copy(b, m.buf[m.offset(addr):])
	return nil
}

func newSchedulerTestTask() (*Task, *arch.Stack) {
	task := newClassifierTestTask()
	task.Ctx.Regs.Rsp = uint64(0x7f0000080000)
	mem := newFakeStackMemory()
	st := &arch.Stack{Memory: mem, Bottom: uintptr(task.Ctx.Stack())}
	return task, st
}

func appendForTest(t *Task, sig linux.Signal) {
	AppendSignal(t, linux.SignalInfo{Signo: sig}, false)
}

// TestS4IgnoredThenDelivered: spec §8 scenario S4.
func TestS4IgnoredThenDelivered(t *testing.T) {
	task, st := newSchedulerTestTask()

	task.SetDisposition(linux.SIGUSR1, linux.SIG_IGN, 0, 0, 0)
	appendForTest(task, linux.SIGUSR1)
	if task.pendingRingCount() != 0 {
		t.Fatalf("SIGUSR1 ring has entries after ignored append, want drained")
	}

	outcome := DeliverAtSysret(task, st, task.Ctx, 0)
	if outcome != outcomeNone {
		t.Fatalf("DeliverAtSysret with nothing pending = %v, want outcomeNone", outcome)
	}

	task.SetDisposition(linux.SIGUSR1, 0x401000, 0x402000, 0, 0)
	appendForTest(task, linux.SIGUSR1)

	outcome = DeliverAtSysret(task, st, task.Ctx, 0)
	if outcome != outcomeDelivered {
		t.Fatalf("DeliverAtSysret after installing handler = %v, want outcomeDelivered", outcome)
	}
	if task.Ctx.IP() != 0x401000 {
		t.Fatalf("context IP after delivery = %#x, want handler address 0x401000", task.Ctx.IP())
	}
}

// TestS5MaskThenUnmask: spec §8 scenario S5.
func TestS5MaskThenUnmask(t *testing.T) {
	task, st := newSchedulerTestTask()
	task.SetDisposition(linux.SIGUSR2, 0x401000, 0x402000, 0, 0)

	task.SetMask(linux.SignalSetOf(linux.SIGUSR2))
	for i := 0; i < 3; i++ {
		appendForTest(task, linux.SIGUSR2)
	}
	if got := task.hasSignal.Load(); got != 3 {
		t.Fatalf("hasSignal after 3 blocked appends = %d, want 3", got)
	}

	task.SetMask(0)

	delivered := 0
	for i := 0; i < 3; i++ {
		outcome := DeliverAtSysret(task, st, task.Ctx, 0)
		if outcome != outcomeDelivered {
			break
		}
		delivered++
		// SignalSetup re-blocks SIGUSR2 for the handler's duration;
		// unblock it again before attempting the next delivery, as the
		// real sigreturn path would via the restored ucontext mask.
		task.SetMask(0)
	}
	if delivered != 3 {
		t.Fatalf("delivered %d of 3 queued SIGUSR2 signals", delivered)
	}
}

func TestDeliverAtUpcallTailDefersWhenInPALText(t *testing.T) {
	task := newClassifierTestTask()
	task.PAL = inPALTextPAL{}
	st := &arch.Stack{Memory: newFakeStackMemory(), Bottom: uintptr(task.Ctx.Stack())}

	appendForTest(task, linux.SIGUSR1)
	outcome := DeliverAtUpcallTail(task, st, task.Ctx)
	if outcome != outcomeNone {
		t.Fatalf("DeliverAtUpcallTail while interrupted in PAL text = %v, want deferred (outcomeNone)", outcome)
	}
	if !task.mayDeliver.Load() {
		t.Fatalf("mayDeliver not set after deferring to Entry B")
	}
}

type inPALTextPAL struct{ fakePAL }

func (inPALTextPAL) InPALText(ip uintptr) bool { return true }
