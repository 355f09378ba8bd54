package hart

// Trap cause codes (SPEC_FULL.md §4's HartException clarification, grounded
// on original_source/cpu.h).
const (
	ExcIMisalign    = 0
	ExcIAccessFault = 1
	ExcIllegalInst  = 2
	ExcBreakpoint   = 3
	ExcLMisalign    = 4
	ExcLAccessFault = 5
	ExcSMisalign    = 6
	ExcSAccessFault = 7
	ExcUEcall       = 8
	ExcSEcall       = 9
	ExcMEcall       = 11
	ExcIPageFault   = 12
	ExcLPageFault   = 13
	ExcSPageFault   = 15
)

// Interrupt cause codes (low bits of the sign-extended cause word).
const (
	IntSSoft  = 1
	IntMSoft  = 3
	IntSTimer = 5
	IntMTimer = 7
	IntSExt   = 9
	IntMExt   = 11
)

const signBit64 = uint64(1) << 63

// noExc is the "nothing pending" sentinel: distinguishable from every real
// trap (< 16, no sign bit) and every real interrupt (sign bit set; no defined
// interrupt cause equals 16).
const noExc = signBit64 + 16

func interruptCause(bit int) uint64 { return signBit64 | uint64(bit) }

// RaiseException raises a synchronous trap with the given cause and
// associated trap value (faulting address, bad instruction word, etc) and
// runs it through createException immediately — traps are never deferred.
func (hs *HartState) RaiseException(cause, tval uint64) {
	hs.createException(cause, tval)
}

// createException implements SPEC_FULL.md §4.10 (spec.md's create_exception):
// mode-gated masking, delegation, privilege transition, CSR updates, and pc
// redirect. Returns noExc if the interrupt was masked (never for traps).
func (hs *HartState) createException(he, tval uint64) uint64 {
	isInterrupt := he&signBit64 != 0
	cause := he &^ signBit64

	if isInterrupt {
		switch hs.PrivMode {
		case PrivM:
			if hs.Mstatus&mstatusMIE == 0 {
				return noExc
			}
		case PrivS:
			if hs.Mstatus&mstatusSIE == 0 {
				return noExc
			}
		}
		// U-mode: interrupts are never masked by a global enable bit.
	}

	var delegated bool
	if isInterrupt {
		delegated = hs.Mideleg&(1<<cause) != 0
	} else {
		delegated = hs.Medeleg&(1<<cause) != 0
	}
	targetS := delegated && hs.PrivMode <= PrivS

	if isInterrupt {
		if targetS {
			if hs.sie()&(1<<cause) == 0 {
				return noExc
			}
		} else if hs.Mie&(1<<cause) == 0 {
			return noExc
		}
	}

	if targetS {
		hs.setSPP(hs.PrivMode)
		if hs.Mstatus&mstatusSIE != 0 {
			hs.Mstatus |= mstatusSPIE
		} else {
			hs.Mstatus &^= mstatusSPIE
		}
		hs.Mstatus &^= mstatusSIE
		hs.PrivMode = PrivS
		hs.Scause = he
		hs.Sepc = hs.PC
		hs.Stval = tval
		base := hs.Stvec &^ 0b11
		if hs.Stvec&0b11 == 1 && isInterrupt {
			base += 4 * cause
		}
		hs.PC = base
	} else {
		hs.setMPP(hs.PrivMode)
		if hs.Mstatus&mstatusMIE != 0 {
			hs.Mstatus |= mstatusMPIE
		} else {
			hs.Mstatus &^= mstatusMPIE
		}
		hs.Mstatus &^= mstatusMIE
		hs.PrivMode = PrivM
		hs.Mcause = he
		hs.Mepc = hs.PC
		hs.Mtval = tval
		base := hs.Mtvec &^ 0b11
		if hs.Mtvec&0b11 == 1 && isInterrupt {
			base += 4 * cause
		}
		hs.PC = base
	}

	hs.pcUpdated = true
	hs.invalidateInstBuf()
	if hs.Reservations != nil {
		hs.Reservations.Clear(hs.HartID)
	}
	hs.ChkInt = true
	return he
}

// EvaluateInterrupts implements the interrupt-pending evaluator of
// SPEC_FULL.md §4.10: iterate mip bits in priority order (machine
// external/software/timer, then supervisor external/software/timer) and
// fire the first one whose createException is not masked.
func (hs *HartState) EvaluateInterrupts() {
	order := []int{IntMExt, IntMSoft, IntMTimer, IntSExt, IntSSoft, IntSTimer}
	for _, bit := range order {
		if hs.Mip&(1<<bit) == 0 {
			continue
		}
		if hs.createException(interruptCause(bit), 0) != noExc {
			return
		}
	}
}

// mstatus bit positions used by the trap machine.
const (
	mstatusSIE      = 1 << 1
	mstatusMIE      = 1 << 3
	mstatusSPIE     = 1 << 5
	mstatusMPIE     = 1 << 7
	mstatusSPP      = 1 << 8
	mstatusMPPShift = 11
	mstatusMPPMask  = uint64(0b11) << mstatusMPPShift
)

func (hs *HartState) setSPP(priv int) {
	if priv == PrivU {
		hs.Mstatus &^= mstatusSPP
	} else {
		hs.Mstatus |= mstatusSPP
	}
}

func (hs *HartState) setMPP(priv int) {
	hs.Mstatus = (hs.Mstatus &^ mstatusMPPMask) | (uint64(priv) << mstatusMPPShift)
}

func (hs *HartState) mpp() uint64 {
	return (hs.Mstatus & mstatusMPPMask) >> mstatusMPPShift
}

func (hs *HartState) mprv() bool {
	return hs.Mstatus&(1<<17) != 0
}

func (hs *HartState) sie() uint64 {
	return hs.Mie &^ sMask
}

// sMask is the set of mie/mip bits that are M-mode only and must be masked
// out of the S-visible mirror (sie/sip).
const sMask = (uint64(1) << IntMSoft) | (uint64(1) << IntMTimer) | (uint64(1) << IntMExt)
