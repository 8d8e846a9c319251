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
	"testing"

	linux "github.com/tallowmark/shimsig/pkg/abi/linux"
	"github.com/tallowmark/shimsig/pkg/sentry/platform"
)

// TestS1EndToEndWaitStatus carries spec §8 scenario S1 through to its
// wait-status encoding: a null-dereference classifies as SIGSEGV/MAPERR,
// whose default disposition is terminate-with-core, so the process wait
// status should read 0x80 | 11.
func TestS1EndToEndWaitStatus(t *testing.T) {
	task, st := newSchedulerTestTask()

	ev := &platform.Event{Class: platform.EventMemFault, Arg: 0, Write: true, Context: task.Ctx}
	c := ClassifyFault(task, ev, false)
	if c.Fatal || c.Info.Signo != linux.SIGSEGV {
		t.Fatalf("classify(S1) = %+v, want plain SIGSEGV", c)
	}
	AppendSignal(task, c.Info, false)

	outcome := DeliverAtSysret(task, st, task.Ctx, 0)
	if outcome != outcomeTerminated {
		t.Fatalf("delivery outcome = %v, want outcomeTerminated", outcome)
	}

	status, ok := task.Kernel.WaitStatus()
	if !ok {
		t.Fatalf("WaitStatus not available after termination")
	}
	if want := uint32(0x80 | 11); status != want {
		t.Fatalf("wait status = %#x, want %#x", status, want)
	}
}

// TestBeginTerminationIsOneWinner exercises spec §5's one-winner gate
// directly: of many concurrent callers, exactly one sees won=true.
func TestBeginTerminationIsOneWinner(t *testing.T) {
	k := NewKernel()
	var wg sync.WaitGroup
	var wins int
	var mu sync.Mutex
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if k.BeginTermination(uint32(i)) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d goroutines won the termination gate, want exactly 1", wins)
	}
}
