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

// Package hart implements the per-hart RV64IMAC fetch/decode/execute cycle,
// its CSR file, PMP engine, TLB, page-table walker, and trap machine.
package hart

import (
	"log/slog"
	"sync"
)

// Privilege modes.
const (
	PrivU = 0
	PrivS = 1
	PrivM = 3
)

// Machine constants.
const (
	PMPCount    = 16
	TLBSize     = 64
	RAMBase     = 0x8000_0000
	BootROMBase = 0x1000
	DTBBase     = 0x1100
	MaxDTBSize  = 32768

	// MISA fixed at RV64IMAC: bits I,M,A,C set, MXL=2 (64-bit).
	MISAValue = (uint64(0b10) << 62) | 0b00000101000001000100000101

	// mstatus reset value: SXL=UXL=2 (64-bit), MPP=M(3), rest clear.
	// Mirrors original_source/constants.h's documented MSTATUS reset pattern.
	mstatusReset = 0x0000000A_00001800
)

// Bus is the physical-memory side a hart needs: bounded-width loads/stores
// that may fail (address unmapped). Satisfied structurally by *bus.Bus.
type Bus interface {
	Load(addr uint64, size int) (uint64, bool)
	Store(addr uint64, size int, val uint64) bool
}

// InterruptSink lets a device raise a bit in a hart's mip without holding a
// direct pointer into hart internals.
type InterruptSink interface {
	Raise(bit uint64)
	Lower(bit uint64)
}

// TLBEntry is one slot of the per-hart TLB.
type TLBEntry struct {
	VirtPage    uint64
	PhyPage     uint64
	PTEAddr     uint64
	Size        uint8 // 0 = 4KiB leaf, 1 = megapage, etc.
	Permissions uint8 // bit0=R bit1=W bit2=X
	User        bool
}

// TLBStruct is the fixed-size open-addressed hash table described in
// SPEC_FULL.md §4.3 (grounded on original_source/mem.cpp's tlb_hash table).
type TLBStruct struct {
	entries      [TLBSize]TLBEntry
	sizeCount    [6]int
	maxEntrySize int
}

// ExpPMP is the fast-path expanded representation of one PMP entry.
type ExpPMP struct {
	Enable bool
	Lock   bool
	Lbound uint64
	Ubound uint64
	Lxwr   uint8 // bit2=X bit1=W bit0=R (the lock bit is kept in Lock) -- see pmp.go for exact packing
}

// HartState is the single per-hart aggregate (SPEC_FULL.md §3).
type HartState struct {
	HartID uint16

	Regs [32]uint64
	PC   uint64

	Inst       uint32
	InstBuf    uint16
	InstLen    int
	InstBufPC  uint64
	haveInstBuf bool

	PrivMode int

	MemStatus bool // true = access fault pending on return
	PageFault bool

	// CSR state.
	Mstatus  uint64
	Medeleg  uint64
	Mideleg  uint64
	Mie      uint64
	Mtvec    uint64
	Stvec    uint64
	Mscratch uint64
	Sscratch uint64
	Mepc     uint64
	Sepc     uint64
	Mcause   uint64
	Scause   uint64
	Mtval    uint64
	Stval    uint64
	Mip      uint64
	Satp     uint64
	Mcycle   uint64
	Minstret uint64

	TLB TLBStruct

	PmpCfg        [PMPCount]uint8
	PmpAddr       [PMPCount]uint64 // stored right-shifted by 2, as in the spec
	PmpLockedAddr [PMPCount]bool
	PmpExpanded   [PMPCount]ExpPMP
	PmpAllEnabled bool
	MinLbound     uint64
	MaxUbound     uint64

	ChkInt    bool
	pcUpdated bool // set by any EXECUTE/trap path that explicitly assigns PC, so decodeExecute can tell a self-targeting jump/branch/trap apart from "PC untouched"

	Bus       Bus
	Log       *slog.Logger
	Halted    bool // set on signature-mode halt sentinel or EBREAK-in-signature-mode
	ReadMTime func() uint64 // wired by the machine package to the ACLINT mtime register

	SigMode bool
	mu      sync.Mutex // guards MIP for cross-goroutine Raise/Lower from devices

	reservedLen int

	Reservations *ReservationTable // shared across harts; wired by the machine package
	AMOLock      *sync.Mutex       // shared across harts; wired by the machine package
}

// NewHartState allocates and resets a hart.
func NewHartState(id uint16, bus Bus, log *slog.Logger) *HartState {
	hs := &HartState{HartID: id, Bus: bus, Log: log}
	hs.Reset()
	return hs
}

// Reset implements original_source/main.cpp's hart_init + reset_state: M-mode,
// PMP entry 0 spanning all of physical memory RWX, satp=0 (Bare), mirrors
// synchronized. Boot-contract register values (pc, sp, ra, a0, a1) are set by
// the caller (machine package) once RAM size/DTB address are known.
func (hs *HartState) Reset() {
	hs.Regs = [32]uint64{}
	hs.PC = BootROMBase
	hs.PrivMode = PrivM
	hs.Mstatus = mstatusReset
	hs.Satp = 0
	hs.Mhartid()
	hs.Mcycle = 0
	hs.Minstret = 0
	hs.InstBuf = 0
	hs.haveInstBuf = false
	hs.Halted = false

	hs.PmpCfg = [PMPCount]uint8{}
	hs.PmpAddr = [PMPCount]uint64{}
	hs.PmpLockedAddr = [PMPCount]bool{}
	// Entry 0: NAPOT with an all-ones address, covering the whole physical
	// space, R|W|X so the hart is unrestricted out of reset (SPEC_FULL.md §3/§8 scenario 1).
	hs.PmpCfg[0] = 0x1F // see pmp.go packing; 0x1F = R|W|X|A=NAPOT(0b11<<3)
	hs.PmpAddr[0] = 0x003F_FFFF_FFFF_FFFF
	hs.syncExpPmp()

	hs.TLB = TLBStruct{}

	hs.ChkInt = false
	hs.pcUpdated = false
	hs.reservedLen = 0
	if hs.Reservations != nil {
		hs.Reservations.Clear(hs.HartID)
	}
}

// Mhartid returns the immutable hart id as the mhartid CSR would read it.
func (hs *HartState) Mhartid() uint64 { return uint64(hs.HartID) }

// Raise sets a bit in mip (InterruptSink). Safe for device goroutines.
func (hs *HartState) Raise(bit uint64) {
	hs.mu.Lock()
	hs.Mip |= bit
	hs.mu.Unlock()
	hs.mu.Lock()
	hs.ChkInt = true
	hs.mu.Unlock()
}

// Lower clears a bit in mip.
func (hs *HartState) Lower(bit uint64) {
	hs.mu.Lock()
	hs.Mip &^= bit
	hs.mu.Unlock()
}

// signatureHaltWord is the sentinel instruction (sltiu x0,t1,0xBAD) that
// halts a hart in signature mode (SPEC_FULL.md §6).
const signatureHaltWord = 0xBAD33013

// Cycle performs exactly one instruction (or one trap entry), per
// SPEC_FULL.md §4.1. Returns false when the caller should stop driving this
// hart (signature-mode halt).
func (hs *HartState) Cycle() bool {
	hs.Regs[0] = 0

	hs.MemStatus = false
	hs.PageFault = false

	raw, fetchErr := hs.fetch()

	if !fetchErr && hs.SigMode && raw == signatureHaltWord {
		hs.Halted = true
		return false
	}

	if !fetchErr {
		hs.decodeExecute(raw)
	}

	hs.Mcycle++

	if hs.ChkInt {
		hs.ChkInt = false
		hs.EvaluateInterrupts()
	}

	return !hs.Halted
}
