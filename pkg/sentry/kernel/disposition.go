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

// resolvedDisposition is the outcome of resolveDisposition: either a
// concrete handler to invoke, or one of the two internal sentinels the
// scheduler short-circuits on (spec §4.4 "Terminate/terminate-with-core
// dispositions are internal function pointers, not user addresses").
type resolvedDisposition struct {
	// Ignore is true when the signal resolves to SIG_IGN.
	Ignore bool

	// Terminate and TerminateCore are mutually exclusive with a real
	// Handler: exactly one of {Ignore, Terminate, TerminateCore,
	// Handler != 0} holds.
	Terminate     bool
	TerminateCore bool

	Handler  uint64
	Restorer uint64
	Mask     linux.SignalSet
}

// resolveDisposition implements spec §4.4: look up the effective
// handler for sig on t, applying SA_RESETHAND, and resolving the
// ignore/default sentinels against the compile-time default table.
func resolveDisposition(t *Task, sig linux.Signal) resolvedDisposition {
	t.dispMu.Lock()

	entry := t.disp[sig]
	if entry.installed && entry.flags&linux.SA_RESETHAND != 0 {
		// Atomically clear the entry on use (spec §8 property 5): two
		// concurrent signals with SA_RESETHAND observe the handler at
		// most once.
		t.disp[sig] = dispositionEntry{}
	}
	t.dispMu.Unlock()

	handler := entry.handler
	restorer := entry.restorer
	mask := entry.mask

	if !entry.installed || handler == linux.SIG_DFL {
		switch linux.DefaultDisposition(sig) {
		case linux.DefaultIgnore:
			return resolvedDisposition{Ignore: true}
		case linux.DefaultTerminateCore:
			return resolvedDisposition{TerminateCore: true}
		default:
			return resolvedDisposition{Terminate: true}
		}
	}

	if handler == linux.SIG_IGN {
		return resolvedDisposition{Ignore: true}
	}

	return resolvedDisposition{Handler: handler, Restorer: restorer, Mask: mask}
}
