/*
rv-emu - RISC-V RV64IMAC per-hart state and cycle driver.

Copyright 2026, rv-emu contributors

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

// Package mmiodev implements the ACLINT (MSWI+MTIMER), PLIC, NS16550A UART,
// and virtio-mmio-blk stub peripherals (SPEC_FULL.md §6), grounded on
// original_source/aclint.{h,cpp}, plic.{h,cpp}, uart.{h,cpp},
// virtio_mmio_blk.{h,cpp}.
package mmiodev

import (
	"sync"
	"time"

	"github.com/he77789/rv-emu/emu/hart"
)

// MTimer implements the ACLINT MTIMER window: per-hart mtimecmp at 8·h and a
// shared mtime register at 0x7FF8 (original_source/aclint.cpp's
// aclint_mtimer_r/w, SPEC_FULL.md's ambient clarification of the 8·h/0x7FF8
// layout).
type MTimer struct {
	mu        sync.Mutex
	mtimecmp  []uint64
	timeStart time.Time
	sinks     []hart.InterruptSink
}

// NewMTimer allocates an MTIMER window for hartCount harts, all mtimecmp
// initialized to all-ones so no timer interrupt fires until the guest
// programs one (mirrors aclint_mtimer_init's memset(0xff, ...)).
func NewMTimer(hartCount int, sinks []hart.InterruptSink) *MTimer {
	mt := &MTimer{
		mtimecmp:  make([]uint64, hartCount),
		timeStart: time.Now(),
		sinks:     sinks,
	}
	for i := range mt.mtimecmp {
		mt.mtimecmp[i] = ^uint64(0)
	}
	return mt
}

// mtime returns nanoseconds-since-start divided by 100, approximating a
// 10 MHz guest clock (original_source/aclint.cpp's aclint_mtime_get).
func (mt *MTimer) mtime() uint64 {
	return uint64(time.Since(mt.timeStart).Nanoseconds()) / 100
}

// Mtime exposes the current mtime value for HartState.ReadMTime, so the
// `rdtime`/`time` CSR reads stay consistent with the MMIO mtime register.
func (mt *MTimer) Mtime() uint64 {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.mtime()
}

func (mt *MTimer) Load(offset uint64, size int) (uint64, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if offset == 0x7ff8 {
		return mt.mtime(), true
	}
	idx := offset / 8
	if int(idx) >= len(mt.mtimecmp) {
		return 0, false
	}
	return mt.mtimecmp[idx], true
}

func (mt *MTimer) Store(offset uint64, size int, val uint64) bool {
	mt.mu.Lock()
	if offset == 0x7ff8 {
		mt.timeStart = time.Now().Add(-time.Duration(val*100) * time.Nanosecond)
		mt.mu.Unlock()
		return true
	}
	idx := offset / 8
	if int(idx) >= len(mt.mtimecmp) {
		mt.mu.Unlock()
		return false
	}
	mt.mtimecmp[idx] = val
	mt.mu.Unlock()
	mt.Check(int(idx))
	return true
}

// Check re-evaluates MTIP for one hart (original_source/aclint.cpp's
// aclint_mtimer_chk): raised when mtime has reached mtimecmp, lowered
// otherwise. Called after any mtimecmp write and from the coordinator's
// periodic sweep (SPEC_FULL.md §5).
func (mt *MTimer) Check(hartIdx int) {
	mt.mu.Lock()
	due := mt.mtimecmp[hartIdx] <= mt.mtime()
	mt.mu.Unlock()
	if hartIdx >= len(mt.sinks) {
		return
	}
	if due {
		mt.sinks[hartIdx].Raise(uint64(1) << hart.IntMTimer)
	} else {
		mt.sinks[hartIdx].Lower(uint64(1) << hart.IntMTimer)
	}
}

// CheckAll sweeps every hart; called by the machine coordinator tick.
func (mt *MTimer) CheckAll() {
	for i := range mt.mtimecmp {
		mt.Check(i)
	}
}

// MSWI implements the ACLINT MSWI window: per-hart msip at 4·h, bit 0 only
// (original_source/aclint.cpp's aclint_mswi_r/w/chk).
type MSWI struct {
	mu    sync.Mutex
	msip  []uint32
	sinks []hart.InterruptSink
}

func NewMSWI(hartCount int, sinks []hart.InterruptSink) *MSWI {
	return &MSWI{msip: make([]uint32, hartCount), sinks: sinks}
}

func (ms *MSWI) Load(offset uint64, size int) (uint64, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	idx := offset / 4
	if int(idx) >= len(ms.msip) {
		return 0, false
	}
	return uint64(ms.msip[idx]), true
}

func (ms *MSWI) Store(offset uint64, size int, val uint64) bool {
	ms.mu.Lock()
	idx := offset / 4
	if int(idx) >= len(ms.msip) {
		ms.mu.Unlock()
		return false
	}
	ms.msip[idx] = uint32(val) & 1
	ms.mu.Unlock()
	ms.Check(int(idx))
	return true
}

// Check mirrors msip into MSIP (original_source/aclint.cpp's aclint_mswi_chk
// only ever raises; this implementation also lowers on clear, since the spec
// requires mip to track msip exactly rather than latching forever).
func (ms *MSWI) Check(hartIdx int) {
	ms.mu.Lock()
	set := ms.msip[hartIdx] != 0
	ms.mu.Unlock()
	if hartIdx >= len(ms.sinks) {
		return
	}
	if set {
		ms.sinks[hartIdx].Raise(uint64(1) << hart.IntMSoft)
	} else {
		ms.sinks[hartIdx].Lower(uint64(1) << hart.IntMSoft)
	}
}
