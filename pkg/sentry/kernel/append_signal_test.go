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
	"sync/atomic"
	"testing"

	linux "github.com/tallowmark/shimsig/pkg/abi/linux"
	"github.com/tallowmark/shimsig/pkg/sentry/arch"
)

// resumeCountingPAL records ThreadResume calls, for asserting when
// AppendSignal does and doesn't wake the target thread.
type resumeCountingPAL struct {
	fakePAL
	resumes atomic.Int32
}

func (p *resumeCountingPAL) ThreadResume(tid int32) error {
	p.resumes.Add(1)
	return nil
}

func TestAppendSignalDiscardsIgnoredUnmasked(t *testing.T) {
	task := newClassifierTestTask()
	task.SetDisposition(linux.SIGUSR1, linux.SIG_IGN, 0, 0, 0)

	AppendSignal(task, linux.SignalInfo{Signo: linux.SIGUSR1}, false)
	if task.pendingRingCount() != 0 {
		t.Fatalf("ignored unmasked signal was enqueued, want discarded")
	}
}

func TestAppendSignalQueuesWhenMaskedEvenIfIgnored(t *testing.T) {
	task := newClassifierTestTask()
	task.SetDisposition(linux.SIGUSR1, linux.SIG_IGN, 0, 0, 0)
	task.SetMask(linux.SignalSetOf(linux.SIGUSR1))

	AppendSignal(task, linux.SignalInfo{Signo: linux.SIGUSR1}, false)
	if task.hasSignal.Load() != 1 {
		t.Fatalf("masked signal not queued despite ignored disposition")
	}
}

func TestAppendSignalQueuesSIGCHLDEvenWhenIgnored(t *testing.T) {
	task := newClassifierTestTask()
	// SIGCHLD's default is ignore (no explicit disposition installed).
	AppendSignal(task, linux.SignalInfo{Signo: linux.SIGCHLD}, false)
	if task.hasSignal.Load() != 1 {
		t.Fatalf("SIGCHLD was discarded, want queued to avoid a wait-status leak")
	}
}

func TestAppendSignalQueuesForRealHandler(t *testing.T) {
	task := newClassifierTestTask()
	task.SetDisposition(linux.SIGUSR1, 0x401000, 0, 0, 0)

	AppendSignal(task, linux.SignalInfo{Signo: linux.SIGUSR1}, false)
	if task.hasSignal.Load() != 1 {
		t.Fatalf("signal with a real handler was not queued")
	}
}

func TestAppendSignalDoesNotWakeWhenMaskedAndIgnored(t *testing.T) {
	pal := &resumeCountingPAL{}
	k := NewKernel()
	task := NewTask(1, 1, k, pal, &arch.Context64{})
	task.SetDisposition(linux.SIGUSR1, linux.SIG_IGN, 0, 0, 0)
	task.SetMask(linux.SignalSetOf(linux.SIGUSR1))

	AppendSignal(task, linux.SignalInfo{Signo: linux.SIGUSR1}, true)

	if task.hasSignal.Load() != 1 {
		t.Fatalf("masked signal not queued despite ignored disposition")
	}
	if pal.resumes.Load() != 0 {
		t.Fatalf("ThreadResume called for a masked-and-ignored signal, want no wake")
	}
}

func TestAppendSignalWakesWhenMaskedButNotIgnored(t *testing.T) {
	pal := &resumeCountingPAL{}
	k := NewKernel()
	task := NewTask(1, 1, k, pal, &arch.Context64{})
	task.SetDisposition(linux.SIGUSR1, 0x401000, 0, 0, 0)
	task.SetMask(linux.SignalSetOf(linux.SIGUSR1))

	AppendSignal(task, linux.SignalInfo{Signo: linux.SIGUSR1}, true)

	if pal.resumes.Load() != 1 {
		t.Fatalf("ThreadResume not called for a masked signal with a real handler")
	}
}
