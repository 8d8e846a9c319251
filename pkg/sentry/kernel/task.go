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
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	linux "github.com/tallowmark/shimsig/pkg/abi/linux"
	"github.com/tallowmark/shimsig/pkg/sentry/arch"
	"github.com/tallowmark/shimsig/pkg/sentry/mm"
	"github.com/tallowmark/shimsig/pkg/sentry/platform"
	"github.com/tallowmark/shimsig/pkg/slog"
)

// probeRecord is the thread-local single-slot record the byte-touch
// memory probe installs before touching guest memory (spec §3
// "test_range", §9 "Thread-local landing pad"). It is written only by
// its owning thread and read only by the memory-fault upcall running on
// that same thread, so it needs no lock (spec §9).
type probeRecord struct {
	active   bool
	start    uintptr
	end      uintptr
	hasFault bool
}

// dispositionEntry is one signal's installed handler (spec §3
// "Disposition table").
type dispositionEntry struct {
	installed bool
	handler   uint64
	restorer  uint64
	flags     linux.SigActionFlags
	mask      linux.SignalSet
}

// Task is one library-OS thread's signal state (spec §3 "Per-thread
// signal state"). Every field except those explicitly guarded by dispMu
// is mutated only by the owning thread; the append-signal path is the
// one cross-thread writer and takes dispMu for any disposition read.
type Task struct {
	TID  int32
	TGID int32

	Kernel *Kernel
	PAL    platform.PAL
	Ctx    *arch.Context64

	rings     [linux.LastSignal + 1]signalRing
	hasSignal atomic.Int32

	// mask is the thread's signal mask (blocked set). Touched only by
	// the owning thread except where noted.
	mask atomic.Uint64

	dispMu  sync.Mutex
	disp    [linux.LastSignal + 1]dispositionEntry
	altStack linux.SignalStack

	// mayDeliver is consulted by the syscall epilogue (spec §4.6 Entry
	// B, §5 ordering guarantee iii): cleared before the queue is
	// inspected at sysret, re-set after if signals remain pending, so a
	// race-window enqueue is never silently missed.
	mayDeliver atomic.Bool

	// preemptDepth is the per-thread preemption-disable nesting count
	// consulted by Entry A (spec §4.6 "preemption count is ≤ 1").
	preemptDepth atomic.Int32

	probe probeRecord

	// cond wakes a thread blocked in a syscall when append_signal
	// requests an interrupt (spec §4.8).
	cond *sync.Cond
}

// NewTask returns a Task with the default (compile-time) disposition for
// every signal and an empty mask.
func NewTask(tid, tgid int32, k *Kernel, pal platform.PAL, ctx *arch.Context64) *Task {
	t := &Task{TID: tid, TGID: tgid, Kernel: k, PAL: pal, Ctx: ctx}
	t.cond = sync.NewCond(&t.dispMu)
	return t
}

// Mask returns the thread's current signal mask.
func (t *Task) Mask() linux.SignalSet {
	return linux.SignalSet(t.mask.Load())
}

// SetMask installs a new signal mask. SIGKILL and SIGSTOP can never be
// masked (spec §3 invariants, §8 property 6); bits for them are forced
// clear regardless of the caller's request.
func (t *Task) SetMask(set linux.SignalSet) {
	set = set.Remove(linux.SIGKILL).Remove(linux.SIGSTOP)
	t.mask.Store(uint64(set))
}

// SetAltStack installs the thread's alternate signal stack descriptor.
func (t *Task) SetAltStack(ss linux.SignalStack) {
	t.dispMu.Lock()
	defer t.dispMu.Unlock()
	t.altStack = ss
}

// AltStack returns the thread's current alternate signal stack
// descriptor.
func (t *Task) AltStack() linux.SignalStack {
	t.dispMu.Lock()
	defer t.dispMu.Unlock()
	return t.altStack
}

// SetDisposition installs a handler for sig (spec §3 "Disposition
// table"). Rejected outright for SIGKILL/SIGSTOP (spec §8 property 6).
func (t *Task) SetDisposition(sig linux.Signal, handler, restorer uint64, flags linux.SigActionFlags, mask linux.SignalSet) {
	if linux.UnmaskableSignal(sig) {
		return
	}
	t.dispMu.Lock()
	defer t.dispMu.Unlock()
	t.disp[sig] = dispositionEntry{installed: true, handler: handler, restorer: restorer, flags: flags, mask: mask}
}

// RawDisposition returns the raw installed entry for sig, for callers
// (the resolver, tests) that need the pre-resolution view. ok is false
// if no handler was ever installed.
func (t *Task) RawDisposition(sig linux.Signal) (dispositionEntry, bool) {
	t.dispMu.Lock()
	defer t.dispMu.Unlock()
	e := t.disp[sig]
	return e, e.installed
}

// pendingRingCount reports the number of distinct signal numbers with at least
// one queued record; used by tests asserting spec §8 property 3.
func (t *Task) pendingRingCount() int {
	n := 0
	for sig := linux.FirstSignal; sig <= linux.LastSignal; sig++ {
		if !t.rings[sig].empty() {
			n++
		}
	}
	return n
}

// enqueueSignal pushes rec onto sig's ring, dropping and logging on
// overflow (spec §4.1 "Loss policy", §7 "Queue overflow").
func (t *Task) enqueueSignal(sig linux.Signal, rec *signalRecord) {
	if !t.rings[sig].enqueue(rec) {
		if t.Kernel.overflowLimiter.Allow() {
			slog.Warn(slog.Fields{"tid": t.TID, "sig": sig.String()}, "signal ring overflow, dropping record")
		}
		return
	}
	t.hasSignal.Add(1)
	t.mayDeliver.Store(true)
}

// Kernel is the process-wide state the core needs beyond a single
// thread: the VMA map consulted by the classifier and memory probe, and
// the one-winner SIGKILL termination gate (spec §5 "Cancellation &
// timeouts").
type Kernel struct {
	VMAs *mm.Map

	// overflowLimiter rate-limits the queue-overflow log line so a
	// fault storm cannot turn into a logging denial-of-service (spec §7
	// "Queue overflow").
	overflowLimiter *slogLimiter

	termGroup   singleflight.Group
	terminating atomic.Bool
	termStatus  atomic.Uint32
}

// slogLimiter is a tiny indirection so Kernel doesn't need to import
// pkg/slog's rate limiter type directly in its zero-value form; the
// real limiter is constructed in NewKernel.
type slogLimiter struct {
	allow func() bool
}

func (l *slogLimiter) Allow() bool { return l.allow() }

// NewKernel returns a Kernel with an empty VMA map and default
// rate-limiting for overflow logging.
func NewKernel() *Kernel {
	lim := slog.NewLimiter(5, 10)
	return &Kernel{
		VMAs:            mm.NewMap(),
		overflowLimiter: &slogLimiter{allow: lim.Allow},
	}
}

// BeginTermination enters the one-winner SIGKILL termination gate (spec
// §5 "SIGKILL on the process enters a one-winner termination: a single
// atomic gate selects the thread that drives process teardown"). Only
// the first caller across all threads wins; later callers observe
// won=false and are expected to yield (spec §5 "losing threads yield
// until the process exits").
func (k *Kernel) BeginTermination(status uint32) (won bool) {
	if k.terminating.CompareAndSwap(false, true) {
		k.termStatus.Store(status)
		return true
	}
	return false
}

// TerminationStatus returns the wait status recorded by the winning
// BeginTermination call. Valid only once Terminating() is true.
func (k *Kernel) TerminationStatus() uint32 {
	return k.termStatus.Load()
}

// RunTeardown runs fn, coalescing concurrent calls (a watchdog timeout
// racing the normal exit path, for instance, can both try to drive
// teardown): callers that arrive while a run is in flight share that run
// and observe its error. A call made after a run has returned runs fn
// again.
func (k *Kernel) RunTeardown(fn func() error) error {
	_, err, _ := k.termGroup.Do("teardown", func() (any, error) {
		return nil, fn()
	})
	return err
}

// Terminating reports whether some thread has already won the
// termination gate.
func (k *Kernel) Terminating() bool {
	return k.terminating.Load()
}
