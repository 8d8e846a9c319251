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

//go:build amd64
// +build amd64

package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/tallowmark/shimsig/pkg/abi/linux"
)

// redZoneSize is the ABI-reserved area below the stack pointer that
// leaf functions may use without a prologue; the sigframe must be
// placed below it (spec §4.5 "Stack selection", GLOSSARY "Red zone").
const redZoneSize = 128

// legacyFPUStateSize is the size of the FXSAVE-only legacy FPU area, used
// when the context carries no extended (xsave) state.
const legacyFPUStateSize = 512

// xstateMagic2 mimics the magic-number-and-length probe Linux uses
// (FP_XSTATE_MAGIC2) to detect that an extended state area, rather than
// the legacy FXSAVE area, is present: fpuStateSize looks for it in the
// last four bytes of the FPU save buffer (spec §4.5 layout item 1).
const (
	xstateMagic2 uint32 = 0x46505845 // "FPXE"
)

// fpuStateSize returns the size of the extended FPU save area to place
// in the sigframe, per the magic-number-and-length probe, falling back
// to the legacy FXSAVE-only size if the magic is absent (spec §4.5).
func fpuStateSize(fp []byte) int {
	if len(fp) >= legacyFPUStateSize+4 {
		tail := fp[len(fp)-4:]
		if binary.LittleEndian.Uint32(tail) == xstateMagic2 {
			return len(fp)
		}
	}
	return legacyFPUStateSize
}

// UContext is the sigframe's ucontext_t-equivalent region (spec §4.5
// layout item 2).
type UContext struct {
	Flags      uint64
	Link       uint64
	Stack      linux.SignalStack
	MContext   MachineContext
	Sigmask    linux.SignalSet
	FPStatePtr uint64
}

// SignalFrame is the fully-populated sigframe the builder constructs on
// the guest stack (spec §3 "Sigframe" glossary entry, §4.5).
type SignalFrame struct {
	Restorer uint64
	Info     linux.SignalInfo
	UC       UContext
	FPState  []byte
}

// selectStack chooses the target stack pointer for the new frame: the
// alternate stack if SA_ONSTACK is requested and usable, else the
// current stack below the red zone (spec §4.5 "Stack selection").
func selectStack(c *Context64, act linux.SigAction, alt linux.SignalStack) uintptr {
	sp := c.Stack()
	wantsAltStack := act.Flags&linux.SA_ONSTACK != 0
	if wantsAltStack && !alt.Disabled() && !alt.Contains(uint64(sp)) {
		return uintptr(alt.Top())
	}
	return sp - redZoneSize
}

// SignalSetup builds a signal frame on st's target stack and rewrites c
// to enter act.Handler with the System-V signal-handler argument
// convention (spec §4.5 "Context rewrite for entry").
//
// featureSet selection (whether extended FPU state is saved) is driven
// purely by whether c carries FPU state; a full CPU-feature probe is
// one of the out-of-scope external collaborators (spec §1).
func (c *Context64) SignalSetup(st *Stack, act *linux.SigAction, info *linux.SignalInfo, alt *linux.SignalStack, sigset linux.SignalSet) error {
	sp := selectStack(c, *act, *alt)
	st.Bottom = sp

	// 1. Extended FPU save area, 64-byte aligned, built bottom-up so
	// that later blocks' offsets are known before the self-referencing
	// FPStatePtr is written.
	var fpPtr uintptr
	fpBytes := c.FPUStateBytes()
	fpSize := fpuStateSize(fpBytes)
	hasFP := len(fpBytes) > 0
	if hasFP {
		st.Align(64)
		buf := make([]byte, fpSize)
		copy(buf, fpBytes)
		addr, err := st.PushBytes(buf)
		if err != nil {
			return fmt.Errorf("pushing fpu state: %w", err)
		}
		fpPtr = addr
	}

	// 2. ucontext region. The ucontext block starts on a 16-byte
	// boundary; its inner MachineContext, 40 bytes in, is not itself
	// 16-byte aligned. With the 128-byte siginfo and the 8-byte restorer
	// slot below it, the frame address ends 8 bytes below a 16-byte
	// boundary, as if produced by a call instruction.
	st.Align(16)
	uc := UContext{
		Flags:   linux.UC_STRICT_RESTORE_SS,
		Stack:   *alt,
		Sigmask: 0, // see spec §9 Open Question: user mask is not folded in here.
	}
	if hasFP {
		uc.Flags |= linux.UC_FP_XSTATE
		uc.FPStatePtr = uint64(fpPtr)
	}
	c.SaveTo(&uc.MContext)
	ucBytes := marshalUContext(&uc)
	ucAddr, err := st.PushBytes(ucBytes)
	if err != nil {
		return fmt.Errorf("pushing ucontext: %w", err)
	}

	// 3. siginfo copy.
	infoBytes := marshalSignalInfo(info)
	infoAddr, err := st.PushBytes(infoBytes)
	if err != nil {
		return fmt.Errorf("pushing siginfo: %w", err)
	}

	// 4. Restorer pointer at offset 0 of the frame, so the handler sees
	// the stack exactly as if entered by a call to the restorer.
	var restorerBuf [8]byte
	binary.LittleEndian.PutUint64(restorerBuf[:], act.Restorer)
	frameAddr, err := st.PushBytes(restorerBuf[:])
	if err != nil {
		return fmt.Errorf("pushing restorer: %w", err)
	}

	// Context rewrite for entry (spec §4.5).
	c.SetIP(uintptr(act.Handler))
	c.SetStack(frameAddr)
	c.SetArg0(uintptr(info.Signo))
	c.SetArg1(infoAddr)
	c.SetArg2(ucAddr)
	c.SetReturn(0)
	c.SetFPUStateBytes(nil)

	return nil
}

// SignalRestore restores c from frame's ucontext (spec §4.6 Entry C,
// GLOSSARY "Restorer"); st is not read. It returns the signal mask that
// was saved in the ucontext, which the caller installs as the thread's
// new mask.
func (c *Context64) SignalRestore(st *Stack, frame *SignalFrame) (linux.SignalSet, linux.SignalStack, error) {
	c.RestoreFrom(&frame.UC.MContext)
	if frame.UC.Flags&linux.UC_FP_XSTATE != 0 {
		c.SetFPUStateBytes(frame.FPState)
	} else {
		c.SetFPUStateBytes(nil)
	}
	return frame.UC.Sigmask, frame.UC.Stack, nil
}

func marshalUContext(uc *UContext) []byte {
	// Sized by appending rather than a hand-counted constant: the field
	// list below has grown out of sync with a fixed byte count before.
	b := make([]byte, 0, 32*8)
	putU64 := func(v uint64) {
		b = binary.LittleEndian.AppendUint64(b, v)
	}
	putU64(uc.Flags)
	putU64(uc.Link)
	putU64(uc.Stack.Addr)
	putU64(uint64(uc.Stack.Flags))
	putU64(uc.Stack.Size)
	m := &uc.MContext
	for _, v := range []uint64{
		m.R8, m.R9, m.R10, m.R11, m.R12, m.R13, m.R14, m.R15,
		m.RDI, m.RSI, m.RBP, m.RBX, m.RDX, m.RAX, m.RCX,
		m.RSP, m.RIP, m.EFL, m.CSGSFS, m.ERR, m.TRAPNO, m.OLDMASK, m.CR2,
	} {
		putU64(v)
	}
	putU64(uint64(uc.Sigmask))
	putU64(uc.FPStatePtr)
	return b
}

func marshalSignalInfo(info *linux.SignalInfo) []byte {
	b := make([]byte, linux.SignalInfoSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(info.Signo))
	binary.LittleEndian.PutUint32(b[4:], uint32(info.Code))
	binary.LittleEndian.PutUint32(b[8:], uint32(info.Errno))
	binary.LittleEndian.PutUint32(b[12:], uint32(info.PID))
	binary.LittleEndian.PutUint32(b[16:], uint32(info.UID))
	binary.LittleEndian.PutUint64(b[20:], info.Addr)
	binary.LittleEndian.PutUint64(b[28:], info.Sysno)
	binary.LittleEndian.PutUint32(b[36:], uint32(info.TrapNo))
	return b
}
