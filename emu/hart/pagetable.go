package hart

// satp.MODE values (SPEC_FULL.md §4.4).
const (
	satpBare  = 0
	satpSv39  = 8
	satpSv48  = 9
	satpSv57  = 10
)

// PTE bit positions.
const (
	pteV = 1 << 0
	pteR = 1 << 1
	pteW = 1 << 2
	pteX = 1 << 3
	pteU = 1 << 4
	pteA = 1 << 6
	pteD = 1 << 7
)

// translate implements the three-layer virtual access's TLB->walker step:
// returns (physAddr, pageFault, accessFault).
func (hs *HartState) translate(vaddr uint64, priv int, permBit uint8, isFetch bool) (uint64, bool, bool) {
	mode := hs.Satp >> 60
	if mode == satpBare {
		return vaddr, false, false
	}

	isWrite := permBit == permWrite
	if pa, hit := hs.tlbLookup(vaddr, priv, permBit, isFetch, isWrite); hit {
		return pa, false, false
	}
	return hs.pageTableWalk(vaddr, priv, permBit, isFetch)
}

func satpLevels(mode uint64) int {
	switch mode {
	case satpSv39:
		return 3
	case satpSv48:
		return 4
	case satpSv57:
		return 5
	default:
		return 0
	}
}

// pageTableWalk implements SPEC_FULL.md §4.4 (spec.md's page_table_walk),
// honoring superpages and setting A/D bits, and installs a TLB entry on
// success.
func (hs *HartState) pageTableWalk(vaddr uint64, priv int, permBit uint8, isFetch bool) (uint64, bool, bool) {
	levels := satpLevels(hs.Satp >> 60)
	if levels == 0 {
		return 0, true, false
	}
	a := (hs.Satp & ((uint64(1) << 44) - 1)) << 12

	for i := levels - 1; i >= 0; i-- {
		shift := uint(12 + 9*i)
		idx := (vaddr >> shift) & 0x1FF
		pteAddr := a + 8*idx

		raw, ok := hs.physReadUnchecked(pteAddr)
		if !ok {
			return 0, false, true
		}

		if raw&pteV == 0 || (raw&pteR == 0 && raw&pteW != 0) {
			return 0, true, false
		}

		if raw&(pteR|pteW|pteX) == 0 {
			// Pointer to next level.
			a = ((raw >> 10) & ((uint64(1) << 44) - 1)) << 12
			continue
		}

		// Leaf.
		if !hs.leafPermOK(raw, priv, permBit, isFetch) {
			return 0, true, false
		}

		// Superpage alignment: low 9*i PPN bits must be zero.
		ppn := (raw >> 10) & ((uint64(1) << 44) - 1)
		if i > 0 && ppn&((uint64(1)<<uint(9*i))-1) != 0 {
			return 0, true, false
		}

		newRaw := raw | pteA
		if permBit == permWrite {
			newRaw |= pteD
		}
		if newRaw != raw {
			if !hs.physWriteUnchecked(pteAddr, newRaw) {
				return 0, false, true
			}
			raw = newRaw
		}

		pageOffsetMask := (uint64(1) << shift) - 1
		phys := (ppn << 12) | (vaddr & pageOffsetMask)

		hs.tlbInsert(TLBEntry{
			VirtPage:    vaddr &^ pageOffsetMask,
			PhyPage:     ppn << 12,
			PTEAddr:     pteAddr,
			Size:        uint8(i),
			Permissions: permFromPTE(raw),
			User:        raw&pteU != 0,
		})

		return phys, false, false
	}
	return 0, true, false
}

// permFromPTE packs the PTE's R/W/X bits into the TLB's compact
// {1=R,2=W,4=X} permission mask.
func permFromPTE(pte uint64) uint8 {
	var p uint8
	if pte&pteR != 0 {
		p |= permRead_
	}
	if pte&pteW != 0 {
		p |= permWrite
	}
	if pte&pteX != 0 {
		p |= permExec
	}
	return p
}

// leafPermOK checks a leaf PTE against the requested access, including MXR
// and the U/SUM cross-mode rules (SPEC_FULL.md §4.4).
func (hs *HartState) leafPermOK(pte uint64, priv int, permBit uint8, isFetch bool) bool {
	switch permBit {
	case permExec:
		if pte&pteX == 0 {
			return false
		}
	case permWrite:
		if pte&pteW == 0 {
			return false
		}
	default:
		if pte&pteR == 0 {
			if !(hs.mxr() && pte&pteX != 0) {
				return false
			}
		}
	}
	if pte&pteU != 0 {
		if priv == PrivU {
			return true
		}
		if priv == PrivS {
			return hs.sum() && !isFetch
		}
		return false
	}
	return priv != PrivU
}

// physReadUnchecked/physWriteUnchecked access physical memory for
// page-table-entry traffic, through the PMP-checked layer (spec.md
// §4.3/§4.4: PTE fetches and A/D write-backs are themselves subject to
// PMP). The naming is a holdover from when this bypassed PMP; both now
// return ok=true on success, ok=false on any PMP or bus fault —
// pageTableWalk maps a failed read/write here onto the walk's own
// access-fault return, and the TLB's A/D write-back (tlb.go) treats it as
// a miss instead.
func (hs *HartState) physReadUnchecked(addr uint64) (uint64, bool) {
	v, fault := hs.checkedRead(addr, 8, false)
	return v, !fault
}

func (hs *HartState) physWriteUnchecked(addr uint64, val uint64) bool {
	return !hs.checkedWrite(addr, 8, val)
}
