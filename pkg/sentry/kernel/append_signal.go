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
)

// AppendSignal implements spec §4.8: the cross-thread signal send path
// used by kill/tgkill. The caller is expected to already hold target's
// disposition lock conceptually; in this port that serialization is
// internal to AppendSignal itself (dispMu), so callers simply invoke it.
//
// interrupt requests that, if the signal is actually queued, target be
// woken from a blocked syscall (condition-variable wake plus PAL
// thread-resume) so the blocked syscall returns and observes the new
// signal.
func AppendSignal(target *Task, info linux.SignalInfo, interrupt bool) {
	target.dispMu.Lock()
	mask := target.Mask()
	masked := mask.Contains(info.Signo)

	// resolveDisposition takes dispMu itself; release first to avoid
	// double-locking, matching the per-call (not held-across-call)
	// locking discipline the rest of this package uses. Resolved
	// unconditionally (not just when unmasked) since the wake decision
	// below needs to know the outcome even for a masked signal.
	target.dispMu.Unlock()

	r := resolveDisposition(target, info.Signo)

	if !masked && r.Ignore && info.Signo != linux.SIGCHLD {
		// Spec §4.8: discard silently when ignored, unmasked, and not
		// SIGCHLD. SIGCHLD is carved out of this shortcut and queued
		// regardless, since an ignored SIGCHLD still needs to reap the
		// zombie it reports; dropping it here would leak the child's
		// wait status.
		return
	}

	rec := &signalRecord{info: info}
	target.enqueueSignal(info.Signo, rec)

	// Spec §4.8: wake the target only when the signal isn't the
	// ignored-while-masked case — a masked signal resolving to ignore
	// will be dropped once unblocked (see resolveDisposition at delivery
	// time), so waking the target out of a blocked syscall for it now
	// would be spurious.
	if interrupt && !(masked && r.Ignore) {
		target.cond.Broadcast()
		if target.PAL != nil {
			target.PAL.ThreadResume(target.TID)
		}
	}
}
