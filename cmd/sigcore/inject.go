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

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/tallowmark/shimsig/pkg/sentry/arch"
	"github.com/tallowmark/shimsig/pkg/sentry/kernel"
	"github.com/tallowmark/shimsig/pkg/sentry/platform"
	"github.com/tallowmark/shimsig/pkg/sentry/platform/hostsignal"
)

// injectCommand drives one upcall through the fault classifier, for
// exercising it without a real guest process: the same Inject seam
// hostsignal.Adapter exposes for integration tests (spec §6 consumed PAL
// upcall protocol). It prints the classification only; no signal is
// queued or delivered, and the scheduler is not run.
type injectCommand struct {
	class string
	arg   uint64
	write bool
}

func (*injectCommand) Name() string     { return "inject" }
func (*injectCommand) Synopsis() string { return "inject a synthetic PAL upcall and report the outcome" }
func (*injectCommand) Usage() string {
	return "inject -class=memfault|arith|illegal -arg=<addr-or-opcode> [-write]\n"
}

func (c *injectCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.class, "class", "memfault", "event class to inject")
	f.Uint64Var(&c.arg, "arg", 0, "fault address (memfault) or opcode (illegal) or trap number (arith)")
	f.BoolVar(&c.write, "write", false, "treat the fault as a write access (memfault only)")
}

func (c *injectCommand) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	cfg, _ := args[0].(config)

	class, ok := parseEventClass(c.class)
	if !ok {
		fmt.Println("unknown -class:", c.class)
		return subcommands.ExitUsageError
	}

	pal := hostsignal.New(platform.HostType(cfg.HostType))
	pal.SetTextRanges([2]uintptr{uintptr(cfg.LibOSStart), uintptr(cfg.LibOSEnd)}, [2]uintptr{uintptr(cfg.PALStart), uintptr(cfg.PALEnd)})

	k := kernel.NewKernel()
	ctx := &arch.Context64{}
	task := kernel.NewTask(1, 1, k, pal, ctx)

	pal.Register(platform.EventMemFault, func(p platform.PAL, ev *platform.Event) {
		reportClassification(task, ev, false)
	})
	pal.Register(platform.EventArith, func(p platform.PAL, ev *platform.Event) {
		reportClassification(task, ev, false)
	})
	pal.Register(platform.EventIllegal, func(p platform.PAL, ev *platform.Event) {
		reportClassification(task, ev, false)
	})

	pal.Inject(class, task.TID, c.arg, c.write, ctx)
	return subcommands.ExitSuccess
}

func reportClassification(task *kernel.Task, ev *platform.Event, internal bool) {
	cls := kernel.ClassifyFault(task, ev, internal)
	switch {
	case cls.Fatal:
		fmt.Println("outcome: fatal internal fault")
	case cls.ProbeRedirect:
		fmt.Println("outcome: redirected to probe landing pad")
	case cls.HostSyscall:
		fmt.Println("outcome: recognized host syscall opcode, would emulate syscall boundary")
	case cls.NoSignal:
		fmt.Println("outcome: no signal (dispatch loop woken)")
	default:
		fmt.Printf("outcome: %s code=%d addr=%#x\n", cls.Info.Signo, cls.Info.Code, cls.Info.Addr)
	}
}

func parseEventClass(s string) (platform.EventClass, bool) {
	switch s {
	case "memfault":
		return platform.EventMemFault, true
	case "arith":
		return platform.EventArith, true
	case "illegal":
		return platform.EventIllegal, true
	case "quit":
		return platform.EventQuit, true
	case "suspend":
		return platform.EventSuspend, true
	case "resume":
		return platform.EventResume, true
	default:
		return 0, false
	}
}
