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

package hostsignal

import (
	"testing"

	"github.com/tallowmark/shimsig/pkg/sentry/arch"
	"github.com/tallowmark/shimsig/pkg/sentry/platform"
)

func TestInjectDispatchesToRegisteredHandler(t *testing.T) {
	a := New(platform.HostPtrace)
	var got *platform.Event
	a.Register(platform.EventMemFault, func(p platform.PAL, ev *platform.Event) {
		got = ev
	})

	ctx := &arch.Context64{}
	a.Inject(platform.EventMemFault, 7, 0x1000, true, ctx)

	if got == nil {
		t.Fatalf("handler was not invoked")
	}
	if got.Arg != 0x1000 || !got.Write || got.TID != 7 {
		t.Fatalf("event = %+v, want Arg=0x1000 Write=true TID=7", got)
	}
}

func TestInjectWithoutHandlerDoesNotPanic(t *testing.T) {
	a := New(platform.HostPtrace)
	a.Inject(platform.EventArith, 1, 0, false, &arch.Context64{})
}

func TestTextRangeQueries(t *testing.T) {
	a := New(platform.HostPtrace)
	a.SetTextRanges([2]uintptr{0x1000, 0x2000}, [2]uintptr{0x3000, 0x4000})

	if !a.InLibOSText(0x1500) || a.InLibOSText(0x3500) {
		t.Fatalf("InLibOSText boundaries wrong")
	}
	if !a.InPALText(0x3500) || a.InPALText(0x1500) {
		t.Fatalf("InPALText boundaries wrong")
	}
}
