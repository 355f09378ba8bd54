package hart

import (
	"math/bits"
	"time"
)

// mstatus bits consulted only by EXECUTE (trap entry/exit live in trap.go).
const (
	mstatusMPRV = 1 << 17
	mstatusTVM  = 1 << 20
	mstatusTW   = 1 << 21
	mstatusTSR  = 1 << 22
)

// execute dispatches one Decoded operand tuple (SPEC_FULL.md §4.9). Returns
// true if the instruction retired (counts toward minstret) — false for the
// trap-raising paths, which leave retirement to the instruction that
// eventually completes. WFI retires after its bounded poll sleep.
func (hs *HartState) execute(d Decoded) bool {
	switch d.Opcode {
	case opLUI:
		hs.setReg(d.Rd, uint64(d.Imm))
		return true
	case opAUIPC:
		hs.setReg(d.Rd, hs.PC+uint64(d.Imm))
		return true
	case opJAL:
		return hs.execJAL(d)
	case opJALR:
		return hs.execJALR(d)
	case opBranch:
		return hs.execBranch(d)
	case opLoad:
		return hs.execLoad(d)
	case opStore:
		return hs.execStore(d)
	case opImm:
		return hs.execOpImm(d, false)
	case opImm32:
		return hs.execOpImm(d, true)
	case opOp:
		return hs.execOp(d, false)
	case opOp32:
		return hs.execOp(d, true)
	case opMiscMem:
		return hs.execMiscMem(d)
	case opSystem:
		return hs.execSystem(d)
	case opAMO:
		return hs.execAMO(d)
	}
	hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
	return false
}

func (hs *HartState) reg(i uint32) uint64 {
	if i == 0 {
		return 0
	}
	return hs.Regs[i]
}

func (hs *HartState) setReg(i uint32, v uint64) {
	if i != 0 {
		hs.Regs[i] = v
	}
}

func (hs *HartState) execJAL(d Decoded) bool {
	target := hs.PC + uint64(d.Imm)
	if target&1 != 0 {
		hs.RaiseException(ExcIMisalign, target)
		return false
	}
	link := hs.PC + uint64(hs.InstLen/8)
	hs.setReg(d.Rd, link)
	hs.PC = target
	hs.pcUpdated = true
	return true
}

func (hs *HartState) execJALR(d Decoded) bool {
	base := hs.reg(d.Rs1)
	target := (base + uint64(d.Imm)) &^ 1
	if target&1 != 0 {
		hs.RaiseException(ExcIMisalign, target)
		return false
	}
	link := hs.PC + uint64(hs.InstLen/8)
	hs.setReg(d.Rd, link)
	hs.PC = target
	hs.pcUpdated = true
	return true
}

func (hs *HartState) execBranch(d Decoded) bool {
	a, b := hs.reg(d.Rs1), hs.reg(d.Rs2)
	var taken bool
	switch d.Funct3 {
	case 0b000: // BEQ
		taken = a == b
	case 0b001: // BNE
		taken = a != b
	case 0b100: // BLT
		taken = int64(a) < int64(b)
	case 0b101: // BGE
		taken = int64(a) >= int64(b)
	case 0b110: // BLTU
		taken = a < b
	case 0b111: // BGEU
		taken = a >= b
	default:
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	if !taken {
		return true
	}
	target := hs.PC + uint64(d.Imm)
	if target&1 != 0 {
		hs.RaiseException(ExcIMisalign, target)
		return false
	}
	hs.PC = target
	hs.pcUpdated = true
	return true
}

func (hs *HartState) execLoad(d Decoded) bool {
	addr := hs.reg(d.Rs1) + uint64(d.Imm)
	var size int
	var signed bool
	switch d.Funct3 {
	case 0b000:
		size, signed = 1, true // LB
	case 0b001:
		size, signed = 2, true // LH
	case 0b010:
		size, signed = 4, true // LW
	case 0b011:
		size, signed = 8, false // LD
	case 0b100:
		size, signed = 1, false // LBU
	case 0b101:
		size, signed = 2, false // LHU
	case 0b110:
		size, signed = 4, false // LWU
	default:
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	v, ok := hs.LoadMem(addr, size)
	if !ok {
		return false
	}
	if signed {
		hs.setReg(d.Rd, uint64(signExtend(v, size*8)))
	} else {
		hs.setReg(d.Rd, v)
	}
	return true
}

func (hs *HartState) execStore(d Decoded) bool {
	addr := hs.reg(d.Rs1) + uint64(d.Imm)
	var size int
	switch d.Funct3 {
	case 0b000:
		size = 1
	case 0b001:
		size = 2
	case 0b010:
		size = 4
	case 0b011:
		size = 8
	default:
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	if !hs.StoreMem(addr, size, hs.reg(d.Rs2)) {
		return false
	}
	return true
}

func (hs *HartState) execOpImm(d Decoded, word32 bool) bool {
	a := hs.reg(d.Rs1)
	var res uint64
	switch d.Funct3 {
	case 0b000: // ADDI/ADDIW
		res = a + uint64(d.Imm)
	case 0b010: // SLTI
		res = b2u(int64(a) < d.Imm)
	case 0b011: // SLTIU
		res = b2u(a < uint64(d.Imm))
	case 0b100: // XORI
		res = a ^ uint64(d.Imm)
	case 0b110: // ORI
		res = a | uint64(d.Imm)
	case 0b111: // ANDI
		res = a & uint64(d.Imm)
	case 0b001: // SLLI(W)
		shamt := uint(d.Imm) & shiftMask(word32)
		res = a << shamt
	case 0b101: // SRLI(W)/SRAI(W)
		shamt := uint(d.Imm) & shiftMask(word32)
		if d.Funct7&0b0100000 != 0 {
			if word32 {
				res = uint64(int32(uint32(a)) >> shamt)
			} else {
				res = uint64(int64(a) >> shamt)
			}
		} else {
			if word32 {
				res = uint64(uint32(a) >> shamt)
			} else {
				res = a >> shamt
			}
		}
	default:
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	if word32 {
		res = uint64(int32(uint32(res)))
	}
	hs.setReg(d.Rd, res)
	return true
}

func shiftMask(word32 bool) uint {
	if word32 {
		return 0x1F
	}
	return 0x3F
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (hs *HartState) execOp(d Decoded, word32 bool) bool {
	if d.Funct7 == 0b0000001 {
		return hs.execMulDiv(d, word32)
	}
	a, b := hs.reg(d.Rs1), hs.reg(d.Rs2)
	var res uint64
	sub := d.Funct7&0b0100000 != 0
	switch d.Funct3 {
	case 0b000:
		if sub {
			res = a - b
		} else {
			res = a + b
		}
	case 0b001:
		shamt := uint(b) & shiftMask(word32)
		if word32 {
			res = uint64(uint32(a) << shamt)
		} else {
			res = a << shamt
		}
	case 0b010:
		res = b2u(int64(a) < int64(b))
	case 0b011:
		res = b2u(a < b)
	case 0b100:
		res = a ^ b
	case 0b101:
		shamt := uint(b) & shiftMask(word32)
		if sub {
			if word32 {
				res = uint64(int32(uint32(a)) >> shamt)
			} else {
				res = uint64(int64(a) >> shamt)
			}
		} else {
			if word32 {
				res = uint64(uint32(a) >> shamt)
			} else {
				res = a >> shamt
			}
		}
	case 0b110:
		res = a | b
	case 0b111:
		res = a & b
	default:
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	if word32 {
		res = uint64(int32(uint32(res)))
	}
	hs.setReg(d.Rd, res)
	return true
}

// execMulDiv implements the M extension (spec.md §4.9): MUL/MULH/MULHSU/
// MULHU/DIV/DIVU/REM/REMU, including the signed-overflow and division-by-zero
// special cases mandated by the ISA (no trap either way).
func (hs *HartState) execMulDiv(d Decoded, word32 bool) bool {
	a, b := hs.reg(d.Rs1), hs.reg(d.Rs2)
	var res uint64
	if word32 {
		a32, b32 := int32(uint32(a)), int32(uint32(b))
		switch d.Funct3 {
		case 0b000: // MULW
			res = uint64(int32(a32 * b32))
		case 0b100: // DIVW
			res = uint64(divW(a32, b32))
		case 0b101: // DIVUW
			res = uint64(int32(divUW(uint32(a32), uint32(b32))))
		case 0b110: // REMW
			res = uint64(remW(a32, b32))
		case 0b111: // REMUW
			res = uint64(int32(remUW(uint32(a32), uint32(b32))))
		default:
			hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
			return false
		}
		hs.setReg(d.Rd, uint64(int32(uint32(res))))
		return true
	}
	switch d.Funct3 {
	case 0b000: // MUL
		res = a * b
	case 0b001: // MULH
		res = uint64(mulhSS(int64(a), int64(b)))
	case 0b010: // MULHSU
		res = uint64(mulhSU(int64(a), b))
	case 0b011: // MULHU
		res = mulhUU(a, b)
	case 0b100: // DIV
		res = uint64(divW64(int64(a), int64(b)))
	case 0b101: // DIVU
		res = divUW64(a, b)
	case 0b110: // REM
		res = uint64(remW64(int64(a), int64(b)))
	case 0b111: // REMU
		res = remUW64(a, b)
	default:
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	hs.setReg(d.Rd, res)
	return true
}

func divW64(a, b int64) int64 {
	if b == 0 {
		return -1
	}
	if a == minInt64 && b == -1 {
		return a
	}
	return a / b
}

func divUW64(a, b uint64) uint64 {
	if b == 0 {
		return ^uint64(0)
	}
	return a / b
}

func remW64(a, b int64) int64 {
	if b == 0 {
		return a
	}
	if a == minInt64 && b == -1 {
		return 0
	}
	return a % b
}

func remUW64(a, b uint64) uint64 {
	if b == 0 {
		return a
	}
	return a % b
}

const minInt64 = -1 << 63
const minInt32 = -1 << 31

func divW(a, b int32) int32 {
	if b == 0 {
		return -1
	}
	if a == minInt32 && b == -1 {
		return a
	}
	return a / b
}

func divUW(a, b uint32) uint32 {
	if b == 0 {
		return ^uint32(0)
	}
	return a / b
}

func remW(a, b int32) int32 {
	if b == 0 {
		return a
	}
	if a == minInt32 && b == -1 {
		return 0
	}
	return a % b
}

func remUW(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

// mulhSS/mulhSU/mulhUU compute the high 64 bits of a 128-bit product via
// math/bits.Mul64, applying the standard two's-complement sign corrections
// (Hacker's Delight 8-3) for the signed variants.
func mulhSS(a, b int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	hi -= uint64(a>>63) & uint64(b)
	hi -= uint64(b>>63) & uint64(a)
	_ = lo
	return int64(hi)
}

func mulhSU(a int64, b uint64) int64 {
	hi, _ := bits.Mul64(uint64(a), b)
	hi -= uint64(a>>63) & b
	return int64(hi)
}

func mulhUU(a, b uint64) uint64 {
	hi, _ := bits.Mul64(a, b)
	return hi
}

func (hs *HartState) execMiscMem(d Decoded) bool {
	if d.Funct3 == 0b001 { // FENCE.I
		hs.invalidateInstBuf()
	}
	// FENCE (funct3==0) is a no-op in this single-address-space model.
	return true
}

func (hs *HartState) execSystem(d Decoded) bool {
	if d.Funct3 != 0 {
		return hs.execCSR(d)
	}
	switch d.Imm {
	case 0: // ECALL
		var cause uint64
		switch hs.PrivMode {
		case PrivU:
			cause = ExcUEcall
		case PrivS:
			cause = ExcSEcall
		default:
			cause = ExcMEcall
		}
		hs.RaiseException(cause, 0)
		return false
	case 1: // EBREAK
		if hs.SigMode {
			hs.Halted = true
			return false
		}
		hs.RaiseException(ExcBreakpoint, hs.PC)
		return false
	}
	funct12 := uint32(d.Funct7)<<5 | d.Rs2
	switch funct12 {
	case 0b0001000_00010: // SRET
		return hs.execSRET()
	case 0b0011000_00010: // MRET
		return hs.execMRET()
	case 0b0001000_00101: // WFI
		return hs.execWFI()
	default:
		if d.Funct7 == 0b0001001 { // SFENCE.VMA
			if hs.PrivMode == PrivS && hs.Mstatus&mstatusTVM != 0 {
				hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
				return false
			}
			hs.TLBFlush()
			hs.invalidateInstBuf()
			return true
		}
	}
	hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
	return false
}

func (hs *HartState) execSRET() bool {
	if hs.PrivMode < PrivS || (hs.PrivMode == PrivS && hs.Mstatus&mstatusTSR != 0) {
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	spp := PrivU
	if hs.Mstatus&mstatusSPP != 0 {
		spp = PrivS
	}
	if hs.Mstatus&mstatusSPIE != 0 {
		hs.Mstatus |= mstatusSIE
	} else {
		hs.Mstatus &^= mstatusSIE
	}
	hs.Mstatus |= mstatusSPIE
	hs.Mstatus &^= mstatusSPP
	hs.PrivMode = spp
	hs.PC = hs.Sepc
	hs.pcUpdated = true
	hs.invalidateInstBuf()
	hs.ChkInt = true
	return true
}

func (hs *HartState) execMRET() bool {
	if hs.PrivMode != PrivM {
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	mpp := int(hs.mpp())
	if hs.Mstatus&mstatusMPIE != 0 {
		hs.Mstatus |= mstatusMIE
	} else {
		hs.Mstatus &^= mstatusMIE
	}
	hs.Mstatus |= mstatusMPIE
	hs.setMPP(PrivU)
	if mpp != PrivM {
		hs.Mstatus &^= mstatusMPRV
	}
	hs.PrivMode = mpp
	hs.PC = hs.Mepc
	hs.pcUpdated = true
	hs.invalidateInstBuf()
	hs.ChkInt = true
	return true
}

// wfiPollInterval bounds how long WFI sleeps between mip polls, per
// SPEC_FULL.md §5 (a real implementation would park the goroutine on a
// condition variable signaled by Raise; this keeps the hart loop simple and
// bounded instead).
const wfiPollInterval = 100 * time.Microsecond

func (hs *HartState) execWFI() bool {
	if hs.PrivMode == PrivS && hs.Mstatus&mstatusTW != 0 {
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	if hs.Mip&hs.Mie != 0 {
		return true
	}
	time.Sleep(wfiPollInterval)
	hs.ChkInt = true
	return true
}

func (hs *HartState) execCSR(d Decoded) bool {
	addr := uint16(d.Imm) // decode32/decodeCompressed stash the 12-bit csr field in Imm for SYSTEM/funct3!=0
	var rs1val uint64
	uimm := d.Funct3&0b100 != 0
	if uimm {
		rs1val = uint64(d.Rs1)
	} else {
		rs1val = hs.reg(d.Rs1)
	}

	op := d.Funct3 & 0b011
	readsOld := d.Rd != 0 || op != 0b01
	writes := op == 0b01 || d.Rs1 != 0

	var old uint64
	var trap bool
	if readsOld {
		old, trap = hs.ReadCSR(addr)
		if trap {
			hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
			return false
		}
	}

	if writes {
		var newVal uint64
		switch op {
		case 0b01: // CSRRW(I)
			newVal = rs1val
		case 0b10: // CSRRS(I)
			newVal = old | rs1val
		case 0b11: // CSRRC(I)
			newVal = old &^ rs1val
		}
		if addr == csrSatp && hs.PrivMode == PrivS && hs.Mstatus&mstatusTVM != 0 {
			hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
			return false
		}
		if trap2 := hs.WriteCSR(addr, newVal); trap2 {
			hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
			return false
		}
	}
	hs.setReg(d.Rd, old)
	return true
}
