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
	"github.com/tallowmark/shimsig/pkg/sentry/arch"
	"github.com/tallowmark/shimsig/pkg/slog"
)

// deliveryOutcome reports what the scheduler core did, so the three
// entry points can each apply their own surrounding protocol (spec §4.6).
type deliveryOutcome int

const (
	// outcomeNone means no unmasked signal was pending.
	outcomeNone deliveryOutcome = iota
	// outcomeDelivered means a frame was built on c and the caller
	// should resume into the handler.
	outcomeDelivered
	// outcomeTerminated means the signal resolved to terminate or
	// terminate-with-core: no frame was built, the termination gate was
	// entered with the signal's wait status, and the caller does not
	// resume the thread into a handler.
	outcomeTerminated
)

// deliverCore is the scheduling core shared by entries A, B, and C (spec
// §4.6 "Core"): while has_signal > 0 and some pending signal is
// unmasked, pick the lowest-numbered unmasked signal with a pending
// entry, dequeue one, resolve disposition, and act.
func deliverCore(t *Task, st *arch.Stack, c *arch.Context64) deliveryOutcome {
	for {
		if t.hasSignal.Load() <= 0 {
			return outcomeNone
		}

		sig, rec := nextDeliverable(t)
		if rec == nil {
			return outcomeNone
		}
		t.hasSignal.Add(-1)

		r := resolveDisposition(t, sig)

		if r.Ignore {
			// Spec §4.6: "If the entry was only queued because it was
			// masked, drain the rest of that signal's queue and
			// continue." A signal that resolves to ignore is always
			// safe to drop outright, masked or not, since nothing
			// further would ever observe it; draining the rest of that
			// ring folds the remaining duplicates into this one pass
			// instead of looping back through mask checks for each.
			for {
				more := t.rings[sig].dequeue()
				if more == nil {
					break
				}
				t.hasSignal.Add(-1)
			}
			continue
		}

		if r.Terminate || r.TerminateCore {
			status := linux.WaitStatus(sig, r.TerminateCore)
			if t.Kernel.BeginTermination(status) {
				slog.Infof("thread %d terminating process: signal %s, status %#x", t.TID, sig.String(), status)
			}
			return outcomeTerminated
		}

		if err := c.SignalSetup(st, &linux.SigAction{Handler: r.Handler, Restorer: r.Restorer, Mask: r.Mask}, &rec.info, altStackPtr(t), t.Mask()); err != nil {
			slog.Errorf(slog.Fields{"tid": t.TID, "sig": sig.String()}, "signal frame setup failed: %v", err)
			return outcomeNone
		}
		t.SetMask(t.Mask() | r.Mask | linux.SignalSetOf(sig))
		return outcomeDelivered
	}
}

func altStackPtr(t *Task) *linux.SignalStack {
	ss := t.AltStack()
	return &ss
}

// nextDeliverable picks the lowest-numbered unmasked signal with at
// least one pending record and dequeues the oldest one (spec §4.6
// "Ordering and tie-breaks": lowest-numbered unmasked wins; within a
// signal number, FIFO).
func nextDeliverable(t *Task) (linux.Signal, *signalRecord) {
	mask := t.Mask()
	for sig := linux.FirstSignal; sig <= linux.LastSignal; sig++ {
		if mask.Contains(sig) {
			continue
		}
		if rec := t.rings[sig].dequeue(); rec != nil {
			return sig, rec
		}
	}
	return 0, nil
}

// DeliverAtUpcallTail is Entry A (spec §4.6): called after a fault
// classifier enqueue, from the ARITH/MEMFAULT/ILLEGAL/RESUME/SUSPEND/
// QUIT upcalls. Only proceeds if preemption is uncontended and the
// interrupted context is in guest code; otherwise it defers to Entry B
// by leaving mayDeliver set.
func DeliverAtUpcallTail(t *Task, st *arch.Stack, c *arch.Context64) deliveryOutcome {
	if t.preemptDepth.Load() > 1 {
		return outcomeNone
	}
	if t.PAL.InLibOSText(c.IP()) || t.PAL.InPALText(c.IP()) {
		t.mayDeliver.Store(true)
		return outcomeNone
	}
	return deliverCore(t, st, c)
}

// DeliverAtSysret is Entry B (spec §4.6): called at syscall return. The
// syscall's saved register block stands in for the interrupted context.
// retValue is the syscall's return value, installed into the saved
// return register before any frame is built, so a handler that runs
// sees the completed syscall result on its ucontext.
func DeliverAtSysret(t *Task, st *arch.Stack, c *arch.Context64, retValue uintptr) deliveryOutcome {
	t.mayDeliver.Store(false)
	c.SetReturn(retValue)

	outcome := deliverCore(t, st, c)
	if t.hasSignal.Load() > 0 {
		t.mayDeliver.Store(true)
	}
	return outcome
}

// DeliverAtSigreturn is Entry C (spec §4.6): given the user's unwound
// ucontext (already restored into c by the caller via SignalRestore),
// attempt to deliver one more pending signal without returning to the
// app, reusing the existing sigframe storage on st.
func DeliverAtSigreturn(t *Task, st *arch.Stack, c *arch.Context64) deliveryOutcome {
	return deliverCore(t, st, c)
}
