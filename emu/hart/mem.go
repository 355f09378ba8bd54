package hart

// Three-layer memory access (SPEC_FULL.md §4.5 / spec.md §4.5):
//
//  1. phys*   - bus dispatch only.
//  2. checked - range-PMP check over [addr, addr+w-1].
//  3. virt*   - TLB -> walker -> physical, with MPRV handling.

// physRead/physWrite are the raw bus layer.
func (hs *HartState) physRead(addr uint64, size int) (uint64, bool) {
	v, ok := hs.Bus.Load(addr, size)
	return v, !ok
}

func (hs *HartState) physWrite(addr uint64, size int, val uint64) bool {
	ok := hs.Bus.Store(addr, size, val)
	return !ok
}

// checkedRead/checkedWrite add a PMP range check ahead of the physical bus,
// per SPEC_FULL.md §4.6.
func (hs *HartState) checkedRead(addr uint64, size int, intentX bool) (uint64, bool) {
	if hs.pmpFault(addr, uint64(size), false, intentX) {
		return 0, true
	}
	return hs.physRead(addr, size)
}

func (hs *HartState) checkedWrite(addr uint64, size int, val uint64) bool {
	if hs.pmpFault(addr, uint64(size), true, false) {
		return true
	}
	return hs.physWrite(addr, size, val)
}

// effectivePriv returns the privilege level that should be used for a memory
// access of the given kind, honoring mstatus.MPRV for loads/stores issued
// from M-mode on behalf of mstatus.MPP.
func (hs *HartState) effectivePriv(isFetch bool) int {
	if hs.PrivMode == PrivM && !isFetch && hs.mprv() {
		return int(hs.mpp())
	}
	return hs.PrivMode
}

// virtRead performs a virtual-memory read of size bytes at addr with the
// given intent (fetch vs load). Returns (value, accessFault, pageFault).
func (hs *HartState) virtRead(addr uint64, size int, isFetch bool) (uint64, bool, bool) {
	priv := hs.effectivePriv(isFetch)
	if priv == PrivM {
		v, fault := hs.checkedRead(addr, size, isFetch)
		return v, fault, false
	}
	pa, pf, af := hs.translate(addr, priv, permRead(isFetch), isFetch)
	if af {
		return 0, true, false
	}
	if pf {
		return 0, false, true
	}
	v, fault := hs.checkedRead(pa, size, isFetch)
	return v, fault, false
}

// virtWrite performs a virtual-memory write. Returns (accessFault, pageFault).
func (hs *HartState) virtWrite(addr uint64, size int, val uint64) (bool, bool) {
	priv := hs.effectivePriv(false)
	if priv == PrivM {
		return hs.checkedWrite(addr, size, val), false
	}
	pa, pf, af := hs.translate(addr, priv, permWrite, false)
	if af {
		return true, false
	}
	if pf {
		return false, true
	}
	return hs.checkedWrite(pa, size, val), false
}

// Permission bits used by the TLB and page-table walker.
const (
	permRead_  = 1 << 0
	permWrite  = 1 << 1
	permExec   = 1 << 2
)

func permRead(isFetch bool) uint8 {
	if isFetch {
		return permExec
	}
	return permRead_
}

// fetch implements SPEC_FULL.md §4.1's FETCH stage: consult instbuf, else
// read one or two halfwords via virtual memory (instruction-fetch intent).
// Returns true if a fault occurred (already delivered to the trap machine).
func (hs *HartState) fetch() (uint32, bool) {
	pc := hs.PC

	var lo16 uint16
	if hs.haveInstBuf && hs.InstBufPC == pc {
		lo16 = hs.InstBuf
		hs.haveInstBuf = false
	} else {
		v, af, pf := hs.virtRead(pc, 2, true)
		if af || pf {
			hs.deliverMemFault(af, pf, memFaultFetch, pc)
			return 0, true
		}
		lo16 = uint16(v)
	}

	if lo16&0b11 == 0b11 {
		v, af, pf := hs.virtRead(pc+2, 2, true)
		if af || pf {
			hs.deliverMemFault(af, pf, memFaultFetch, pc+2)
			return 0, true
		}
		hs.Inst = uint32(lo16) | uint32(v)<<16
		hs.InstLen = 32
	} else {
		hs.Inst = uint32(lo16)
		hs.InstLen = 16
		if pc%4 == 0 {
			v, af, pf := hs.virtRead(pc+2, 2, true)
			if !af && !pf {
				hs.InstBuf = uint16(v)
				hs.InstBufPC = pc + 2
				hs.haveInstBuf = true
			}
		}
	}
	return hs.Inst, false
}

// invalidateInstBuf clears the buffered halfword; called on any taken
// branch, jump, trap return, FENCE.I, or SFENCE.VMA (SPEC_FULL.md §3).
func (hs *HartState) invalidateInstBuf() {
	hs.haveInstBuf = false
}

// deliverMemFault converts a memory-layer fault into the appropriate guest
// trap, per SPEC_FULL.md §7's single-macro-site conversion. kind selects
// among instruction/load/store fault flavors.
func (hs *HartState) deliverMemFault(accessFault, pageFault bool, kind memFaultKind, addr uint64) {
	var cause uint64
	switch {
	case kind == memFaultFetch && accessFault:
		cause = ExcIAccessFault
	case kind == memFaultFetch && pageFault:
		cause = ExcIPageFault
	case kind == memFaultStore && accessFault:
		cause = ExcSAccessFault
	case kind == memFaultStore && pageFault:
		cause = ExcSPageFault
	case accessFault:
		cause = ExcLAccessFault
	case pageFault:
		cause = ExcLPageFault
	}
	hs.RaiseException(cause, addr)
}

type memFaultKind int

const (
	memFaultFetch memFaultKind = iota
	memFaultLoad
	memFaultStore
)

// LoadMem performs a guest load of size bytes at addr, delivering a trap and
// returning ok=false on any fault. Used by the executor's LOAD opcodes.
func (hs *HartState) LoadMem(addr uint64, size int) (uint64, bool) {
	v, af, pf := hs.virtRead(addr, size, false)
	if af || pf {
		hs.deliverMemFault(af, pf, memFaultLoad, addr)
		return 0, false
	}
	return v, true
}

// StoreMem performs a guest store of size bytes at addr, delivering a trap
// and returning ok=false on any fault. Used by the executor's STORE opcodes.
func (hs *HartState) StoreMem(addr uint64, size int, val uint64) bool {
	af, pf := hs.virtWrite(addr, size, val)
	if af || pf {
		hs.deliverMemFault(af, pf, memFaultStore, addr)
		return false
	}
	return true
}
