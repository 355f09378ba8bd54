package hart

import "math/bits"

// PMP cfg byte layout (standard RISC-V, SPEC_FULL.md §4.6):
// bit7=L, bits6:5=reserved(0), bits4:3=A, bit2=X, bit1=W, bit0=R.
const (
	pmpL       = 1 << 7
	pmpAShift  = 3
	pmpAMask   = 0b11 << pmpAShift
	pmpX       = 1 << 2
	pmpW       = 1 << 1
	pmpR       = 1 << 0

	pmpAOff   = 0
	pmpATOR   = 1
	pmpANA4   = 2
	pmpANAPOT = 3
)

// syncExpPmp rebuilds the expanded PMP cache after any pmpcfg/pmpaddr write,
// per SPEC_FULL.md §4.6. This is the ONLY PMP bound-computation path used —
// the raw buggy chk_pmp/chk_pmp_range from original_source/mem.cpp (which
// indexes pmpcfg where pmpaddr was intended) is deliberately not
// implemented, per the REDESIGN FLAG in spec.md §9.
func (hs *HartState) syncExpPmp() {
	hs.PmpAllEnabled = false
	hs.MinLbound = ^uint64(0)
	hs.MaxUbound = 0

	for i := 0; i < PMPCount; i++ {
		cfg := hs.PmpCfg[i]
		a := (cfg & pmpAMask) >> pmpAShift
		e := &hs.PmpExpanded[i]
		e.Lock = cfg&pmpL != 0
		e.Lxwr = cfg & (pmpX | pmpW | pmpR)

		switch a {
		case pmpAOff:
			e.Enable = false
			e.Lbound, e.Ubound = 0, 0
		case pmpATOR:
			e.Enable = true
			if i == 0 {
				e.Lbound = 0
			} else {
				e.Lbound = hs.PmpAddr[i-1] << 2
			}
			e.Ubound = hs.PmpAddr[i] << 2
		case pmpANA4:
			e.Enable = true
			e.Lbound = hs.PmpAddr[i] << 2
			e.Ubound = e.Lbound + 4
		case pmpANAPOT:
			e.Enable = true
			addr := hs.PmpAddr[i]
			k := bits.TrailingZeros64(^addr)
			if k >= 54 {
				e.Lbound, e.Ubound = 0, ^uint64(0)
			} else {
				e.Lbound = (addr >> uint(k)) << uint(k+2)
				e.Ubound = e.Lbound + (uint64(1) << uint(k+2))
			}
		}

		isRWX := e.Enable && e.Lxwr == (pmpX|pmpW|pmpR)
		if e.Enable && !isRWX {
			if e.Lbound < hs.MinLbound {
				hs.MinLbound = e.Lbound
			}
			if e.Ubound > hs.MaxUbound {
				hs.MaxUbound = e.Ubound
			}
		}
		if isRWX && e.Lbound == 0 && e.Ubound == ^uint64(0) {
			hs.PmpAllEnabled = true
		}
	}
}

// chkPmpExp is the point-query entrypoint: returns the L|X|W|R bits for the
// first matching enabled entry (lowest index), or "no match" semantics
// expressed by the ok=false return (caller decides allow-in-M/deny-in-S/U).
func (hs *HartState) chkPmpExp(addr uint64) (lxwr uint8, ok bool) {
	if hs.PmpAllEnabled && (addr < hs.MinLbound || addr >= hs.MaxUbound) {
		return pmpX | pmpW | pmpR, true
	}
	for i := 0; i < PMPCount; i++ {
		e := &hs.PmpExpanded[i]
		if !e.Enable {
			continue
		}
		if hs.PrivMode == PrivM && !e.Lock {
			continue
		}
		if addr >= e.Lbound && addr < e.Ubound {
			return e.Lxwr, true
		}
	}
	return 0, false
}

// chkPmpRangeExp is the range-query entrypoint spanning [addr, addr+size).
// A range crossing a PMP boundary is treated as a fault.
func (hs *HartState) chkPmpRangeExp(addr, size uint64) (lxwr uint8, ok bool) {
	first, firstOK := hs.chkPmpExp(addr)
	if size <= 1 {
		return first, firstOK
	}
	last, lastOK := hs.chkPmpExp(addr + size - 1)
	if firstOK != lastOK || first != last {
		return 0, false
	}
	return first, firstOK
}

// pmpFault implements SPEC_FULL.md §4.5 layer 2 (physically-checked access):
// returns true if the access should fault.
func (hs *HartState) pmpFault(addr, size uint64, isWrite, isExec bool) bool {
	lxwr, ok := hs.chkPmpRangeExp(addr, size)
	if !ok {
		// No match: allowed in M-mode, denied otherwise.
		return hs.PrivMode != PrivM
	}
	switch {
	case isExec:
		return lxwr&pmpX == 0
	case isWrite:
		return lxwr&pmpW == 0
	default:
		return lxwr&pmpR == 0
	}
}
