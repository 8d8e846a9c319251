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
	"strconv"
	"strings"

	"github.com/google/subcommands"

	linux "github.com/tallowmark/shimsig/pkg/abi/linux"
)

// dumpMaskCommand renders a raw SignalSet bitmask as signal names, for
// inspecting a thread's blocked set captured elsewhere (core dumps,
// trace logs).
type dumpMaskCommand struct{}

func (*dumpMaskCommand) Name() string     { return "dump-mask" }
func (*dumpMaskCommand) Synopsis() string { return "print the signal names set in a raw signal mask" }
func (*dumpMaskCommand) Usage() string    { return "dump-mask <mask>\n" }

func (*dumpMaskCommand) SetFlags(*flag.FlagSet) {}

func (*dumpMaskCommand) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Println("usage: dump-mask <mask>")
		return subcommands.ExitUsageError
	}
	raw, err := strconv.ParseUint(f.Arg(0), 0, 64)
	if err != nil {
		fmt.Println("invalid mask:", err)
		return subcommands.ExitUsageError
	}
	mask := linux.SignalSet(raw)

	var names []string
	for sig := linux.FirstSignal; sig <= linux.LastSignal; sig++ {
		if mask.Contains(sig) {
			names = append(names, sig.String())
		}
	}
	if len(names) == 0 {
		fmt.Println("(empty)")
	} else {
		fmt.Println(strings.Join(names, " "))
	}
	return subcommands.ExitSuccess
}
