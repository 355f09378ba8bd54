package hart

// Decoded is the normalized operand tuple produced by DECODE (SPEC_FULL.md
// §4.8): downstream EXECUTE treats every instruction — whether it arrived as
// a 16-bit RVC encoding or a native 32-bit encoding — as if it came from the
// 32-bit form. Funct7 carries the bits EXECUTE inspects to distinguish
// sibling opcodes (e.g. bit 30, SUB vs ADD).
type Decoded struct {
	Opcode uint32 // bits [6:0] of the equivalent 32-bit encoding
	Rd     uint32
	Rs1    uint32
	Rs2    uint32
	Funct3 uint32
	Funct7 uint32
	Imm    int64
}

// RV32/64 major opcodes (bits 6:0, always ...11 for non-RVC).
const (
	opLoad     = 0b0000011
	opMiscMem  = 0b0001111
	opImm      = 0b0010011
	opAUIPC    = 0b0010111
	opImm32    = 0b0011011
	opStore    = 0b0100011
	opAMO      = 0b0101111
	opOp       = 0b0110011
	opLUI      = 0b0110111
	opOp32     = 0b0111011
	opBranch   = 0b1100011
	opJALR     = 0b1100111
	opJAL      = 0b1101111
	opSystem   = 0b1110011
)

// decodeExecute performs DECODE then EXECUTE for whatever hs.fetch() placed
// in hs.Inst/hs.InstLen, and performs the post-execute pc/instret bookkeeping
// described in spec.md §4.9's closing paragraph.
func (hs *HartState) decodeExecute(raw uint32) {
	var d Decoded
	var ok bool
	if hs.InstLen == 16 {
		d, ok = decodeCompressed(uint16(raw))
	} else {
		if raw == 0 || raw == 0xFFFFFFFF {
			hs.RaiseException(ExcIllegalInst, uint64(raw))
			return
		}
		d, ok = decode32(raw)
	}
	if !ok {
		hs.RaiseException(ExcIllegalInst, uint64(raw))
		return
	}

	hs.pcUpdated = false
	retired := hs.execute(d)
	if !hs.pcUpdated {
		hs.PC += uint64(hs.InstLen / 8)
	} else {
		hs.invalidateInstBuf()
	}
	if retired {
		hs.Minstret++
	}
}

// decode32 splits a native 32-bit instruction into R/I/S/B/U/J fields keyed
// on the 5-bit major opcode (spec.md §4.8).
func decode32(raw uint32) (Decoded, bool) {
	d := Decoded{
		Opcode: raw & 0x7F,
		Rd:     (raw >> 7) & 0x1F,
		Funct3: (raw >> 12) & 0x7,
		Rs1:    (raw >> 15) & 0x1F,
		Rs2:    (raw >> 20) & 0x1F,
		Funct7: (raw >> 25) & 0x7F,
	}
	switch d.Opcode {
	case opLUI, opAUIPC:
		d.Imm = int64(int32(raw & 0xFFFFF000))
	case opJAL:
		imm := (raw >> 31 & 1) << 20
		imm |= (raw >> 21 & 0x3FF) << 1
		imm |= (raw >> 20 & 1) << 11
		imm |= (raw >> 12 & 0xFF) << 12
		d.Imm = signExtend(uint64(imm), 21)
	case opBranch:
		imm := (raw >> 31 & 1) << 12
		imm |= (raw >> 7 & 1) << 11
		imm |= (raw >> 25 & 0x3F) << 5
		imm |= (raw >> 8 & 0xF) << 1
		d.Imm = signExtend(uint64(imm), 13)
	case opStore:
		imm := (raw >> 25 & 0x7F) << 5
		imm |= (raw >> 7) & 0x1F
		d.Imm = signExtend(uint64(imm), 12)
	case opJALR, opLoad, opImm, opImm32:
		d.Imm = signExtend(uint64(raw>>20), 12)
	case opSystem:
		d.Imm = int64(raw >> 20)
	case opOp, opOp32, opAMO, opMiscMem:
		d.Imm = 0
	default:
		return d, false
	}
	return d, true
}

func signExtend(v uint64, bits int) int64 {
	shift := 64 - bits
	return int64(v<<uint(shift)) >> uint(shift)
}
