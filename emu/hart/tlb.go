package hart

// TLB hash function: ((106039 * maskedVirtAddr) >> 16) mod TLBSize. Grounded
// on original_source/mem.cpp's tlb_hash (0x19E77 == 106039 in decimal — the
// same constant spec.md's prose abbreviates as 0x19E77).
func tlbHash(maskedAddr uint64) int {
	return int((106039 * maskedAddr) >> 16 % TLBSize)
}

// tlbLookup implements SPEC_FULL.md §4.3: probe decreasing superpage sizes
// down to 4 KiB, checking permission and U/SUM rules. On hit it also updates
// A/D bits on the underlying PTE (treating a PMP fault on that write-back as
// a miss, not a fault).
func (hs *HartState) tlbLookup(vaddr uint64, priv int, permBit uint8, isFetch, isWrite bool) (uint64, bool) {
	for i := hs.TLB.maxEntrySize; i >= 0; i-- {
		offset := uint(12 + 9*i)
		masked := vaddr &^ ((uint64(1) << offset) - 1)
		slot := tlbHash(masked)
		e := &hs.TLB.entries[slot]
		if e.Permissions == 0 || int(e.Size) != i {
			continue
		}
		if (vaddr^e.VirtPage)>>offset != 0 {
			continue
		}
		if !hs.tlbPermOK(e, priv, permBit, isFetch) {
			continue
		}
		if isWrite {
			if !hs.tlbSetDirty(e) {
				continue // PMP fault on A/D write-back: treat as miss
			}
		} else if !hs.tlbSetAccessed(e) {
			continue
		}
		pageMask := (uint64(1) << offset) - 1
		return e.PhyPage | (vaddr & pageMask), true
	}
	return 0, false
}

// tlbPermOK applies the requested permission bit plus U/S/SUM cross-mode
// rules (mirrors the leaf-permission check in the page-table walker).
func (hs *HartState) tlbPermOK(e *TLBEntry, priv int, permBit uint8, isFetch bool) bool {
	effPerm := e.Permissions
	if permBit == permRead_ {
		if effPerm&permRead_ == 0 && (!hs.mxr() || effPerm&permExec == 0) {
			return false
		}
	} else if effPerm&permBit == 0 {
		return false
	}
	if e.User {
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

// tlbSetAccessed writes the A bit back through the cached PTE address if it
// isn't already set. A failed write-back (stale/unmapped PTEAddr) is
// reported as false so the caller treats the hit as a miss and falls
// through to the page-table walker.
func (hs *HartState) tlbSetAccessed(e *TLBEntry) bool {
	raw, ok := hs.physReadUnchecked(e.PTEAddr)
	if !ok {
		return false
	}
	if raw&pteA != 0 {
		return true
	}
	return hs.physWriteUnchecked(e.PTEAddr, raw|pteA)
}

// tlbSetDirty writes A and D back through the cached PTE address if either
// isn't already set.
func (hs *HartState) tlbSetDirty(e *TLBEntry) bool {
	raw, ok := hs.physReadUnchecked(e.PTEAddr)
	if !ok {
		return false
	}
	newRaw := raw | pteA | pteD
	if newRaw == raw {
		return true
	}
	return hs.physWriteUnchecked(e.PTEAddr, newRaw)
}

// tlbInsert installs a freshly walked translation, per SPEC_FULL.md §4.3.
func (hs *HartState) tlbInsert(e TLBEntry) {
	offset := uint(12 + 9*int(e.Size))
	slot := tlbHash(e.VirtPage &^ ((uint64(1) << offset) - 1))
	old := &hs.TLB.entries[slot]
	if old.Permissions != 0 {
		hs.TLB.sizeCount[old.Size]--
	}
	hs.TLB.entries[slot] = e
	hs.TLB.sizeCount[e.Size]++
	hs.recomputeMaxEntrySize()
}

func (hs *HartState) recomputeMaxEntrySize() {
	max := 0
	for i := 5; i >= 0; i-- {
		if hs.TLB.sizeCount[i] > 0 {
			max = i
			break
		}
	}
	hs.TLB.maxEntrySize = max
}

// TLBFlush implements SFENCE.VMA: clears the whole table (a valid
// over-approximation of ASID/address-specific variants, per spec.md §4.3).
func (hs *HartState) TLBFlush() {
	hs.TLB = TLBStruct{}
}

func (hs *HartState) mxr() bool { return hs.Mstatus&(1<<19) != 0 }
func (hs *HartState) sum() bool { return hs.Mstatus&(1<<18) != 0 }
