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
	"github.com/tallowmark/shimsig/pkg/hostarch"
	"github.com/tallowmark/shimsig/pkg/sentry/platform"
)

// GuestMemory is the probe's view of application memory. TouchByte
// performs a single byte read (or read-write) at addr purely to provoke a
// fault, reporting whether one occurred, without exposing content.
// ReadByte additionally returns the byte's value, which ProbeCString
// needs to find the string's NUL terminator rather than only its
// accessible extent. A ptrace- or systrap-backed PAL would implement both
// by touching the guest's mapped memory directly; this interface is the
// narrow surface the probes need (spec §1 external collaborators).
type GuestMemory interface {
	TouchByte(addr uintptr, write bool) error
	ReadByte(addr uintptr) (byte, error)
}

// ProbeBuffer implements test_user_memory (spec §4.3): returns true (a
// fault) if any byte in [addr, addr+size) is not accessible for the
// requested direction, false if every byte is. The strategy is selected
// once per PAL host type.
func ProbeBuffer(t *Task, mem GuestMemory, addr uintptr, size uintptr, write bool) bool {
	if t.PAL.HostType() == platform.HostKVM {
		return probeByVMAWalk(t, hostarch.AddrRange{Start: hostarch.Addr(addr), End: hostarch.Addr(addr + size)}, write)
	}
	return probeByByteTouch(t, mem, addr, size, write)
}

// ProbeCString implements test_user_string (spec §4.3): walks byte by
// byte from addr until a NUL byte or an inaccessible page is found.
// Returns (length, fault) where fault is true if an inaccessible byte was
// reached before a NUL; length counts only the bytes before the
// terminator (on success) or before the fault. Reaching maxLen bytes
// without a NUL returns (maxLen, false).
//
// Both strategies read the byte's actual value via mem.ReadByte rather
// than only probing for a fault (TouchByte can't report a NUL, so the
// loop could never stop at a terminator and would always walk to
// maxLen or the first fault). Under the VMA-walk strategy, the VMA map
// is still consulted first so a page outside any mapping is reported as
// a fault without calling into mem at all, matching probeByVMAWalk's
// no-real-access approach for the accessibility check itself.
func ProbeCString(t *Task, mem GuestMemory, addr uintptr, maxLen int) (length int, fault bool) {
	pageStart := hostarch.Addr(addr).RoundDown()
	cursor := hostarch.Addr(addr)
	for length < maxLen {
		pageEnd := pageStart + hostarch.PageSize
		if t.PAL.HostType() == platform.HostKVM {
			if _, ok := t.Kernel.VMAs.Find(cursor); !ok {
				return length, true
			}
		}
		b, err := mem.ReadByte(uintptr(cursor))
		if err != nil {
			return length, true
		}
		if b == 0 {
			return length, false
		}
		length++
		cursor++
		if cursor >= pageEnd {
			pageStart = pageEnd
		}
	}
	return length, false
}

// probeByVMAWalk is the VMA-walk strategy (spec §4.3), used on hosts
// where the exception handler does not expose the faulting address to
// this code, so a fault can't be caught and must instead be predicted by
// consulting the VMA map directly.
func probeByVMAWalk(t *Task, r hostarch.AddrRange, write bool) bool {
	return !t.Kernel.VMAs.Covers(r, write)
}

// probeByByteTouch is the byte-touch strategy (spec §4.3, §9
// "Thread-local landing pad"): install the probe record, touch one byte
// per page, and let the memory-fault upcall redirect back here by
// flipping hasFault — in this Go rendition, by returning an error from
// mem.TouchByte, since there is no computed-goto equivalent to jump to a
// landing label from inside a signal handler. The probe record is still
// installed and consulted by ClassifyFault so a real ptrace/KVM-backed
// PAL can redirect the interrupted context instead of unwinding through
// a Go error, matching the source's fault-recovery shape exactly at the
// classifier boundary even though this process's own probe calls return
// by ordinary control flow.
func probeByByteTouch(t *Task, mem GuestMemory, addr uintptr, size uintptr, write bool) bool {
	t.probe = probeRecord{active: true, start: addr, end: addr + size}
	defer func() { t.probe = probeRecord{} }()

	start := hostarch.Addr(addr)
	end := hostarch.Addr(addr + size)
	for page := start.RoundDown(); page < end; page += hostarch.PageSize {
		if err := mem.TouchByte(uintptr(page), write); err != nil {
			t.probe.hasFault = true
			return true
		}
	}
	return false
}
