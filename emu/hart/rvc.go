package hart

// decodeCompressed expands a 16-bit RVC instruction into the Decoded
// operand tuple of its canonical 32-bit equivalent (spec.md §4.8). Reserved
// encodings (C.RES1 and friends) and the all-zero word return ok=false.
func decodeCompressed(inst uint16) (Decoded, bool) {
	quadrant := inst & 0b11
	funct3 := (inst >> 13) & 0b111

	rdRs1p := uint32((inst>>7)&0b111) + 8
	rs2p := uint32((inst>>2)&0b111) + 8
	rd := uint32((inst >> 7) & 0x1F)
	rs2 := uint32((inst >> 2) & 0x1F)

	switch quadrant {
	case 0b00:
		switch funct3 {
		case 0b000: // C.ADDI4SPN
			imm := ((inst >> 11) & 0b11) << 4
			imm |= ((inst >> 7) & 0b1111) << 6
			imm |= ((inst >> 6) & 1) << 2
			imm |= ((inst >> 5) & 1) << 3
			if imm == 0 {
				return Decoded{}, false
			}
			return Decoded{Opcode: opImm, Rd: rs2p, Rs1: 2, Funct3: 0, Imm: int64(imm)}, true
		case 0b010: // C.LW
			imm := cLoadWordImm(inst)
			return Decoded{Opcode: opLoad, Rd: rs2p, Rs1: rdRs1p, Funct3: 0b010, Imm: int64(imm)}, true
		case 0b011: // C.LD
			imm := cLoadDwordImm(inst)
			return Decoded{Opcode: opLoad, Rd: rs2p, Rs1: rdRs1p, Funct3: 0b011, Imm: int64(imm)}, true
		case 0b110: // C.SW
			imm := cLoadWordImm(inst)
			return Decoded{Opcode: opStore, Rs1: rdRs1p, Rs2: rs2p, Funct3: 0b010, Imm: int64(imm)}, true
		case 0b111: // C.SD
			imm := cLoadDwordImm(inst)
			return Decoded{Opcode: opStore, Rs1: rdRs1p, Rs2: rs2p, Funct3: 0b011, Imm: int64(imm)}, true
		}
		return Decoded{}, false

	case 0b01:
		switch funct3 {
		case 0b000: // C.ADDI / C.NOP
			imm := cImm6(inst)
			return Decoded{Opcode: opImm, Rd: rd, Rs1: rd, Funct3: 0, Imm: imm}, true
		case 0b001: // C.ADDIW
			if rd == 0 {
				return Decoded{}, false
			}
			imm := cImm6(inst)
			return Decoded{Opcode: opImm32, Rd: rd, Rs1: rd, Funct3: 0, Imm: imm}, true
		case 0b010: // C.LI
			imm := cImm6(inst)
			return Decoded{Opcode: opImm, Rd: rd, Rs1: 0, Funct3: 0, Imm: imm}, true
		case 0b011:
			if rd == 2 { // C.ADDI16SP
				u := uint64((inst >> 12) & 1 << 9)
				u |= uint64((inst >> 6) & 1 << 4)
				u |= uint64((inst >> 5) & 1 << 6)
				u |= uint64((inst >> 3) & 0b11 << 7)
				u |= uint64((inst >> 2) & 1 << 5)
				imm := signExtend(u, 10)
				if imm == 0 {
					return Decoded{}, false
				}
				return Decoded{Opcode: opImm, Rd: 2, Rs1: 2, Funct3: 0, Imm: imm}, true
			}
			// C.LUI
			if rd == 0 {
				return Decoded{}, false
			}
			u := uint64((inst >> 12) & 1 << 17)
			u |= uint64((inst >> 2) & 0x1F << 12)
			imm := signExtend(u, 18)
			if imm == 0 {
				return Decoded{}, false
			}
			return Decoded{Opcode: opLUI, Rd: rd, Imm: imm}, true
		case 0b100:
			funct2 := (inst >> 10) & 0b11
			switch funct2 {
			case 0b00: // C.SRLI
				sh := cShamt(inst)
				return Decoded{Opcode: opImm, Rd: rdRs1p, Rs1: rdRs1p, Funct3: 0b101, Funct7: 0, Imm: int64(sh)}, true
			case 0b01: // C.SRAI
				sh := cShamt(inst)
				return Decoded{Opcode: opImm, Rd: rdRs1p, Rs1: rdRs1p, Funct3: 0b101, Funct7: 0b0100000, Imm: int64(sh)}, true
			case 0b10: // C.ANDI
				imm := cImm6(inst)
				return Decoded{Opcode: opImm, Rd: rdRs1p, Rs1: rdRs1p, Funct3: 0b111, Imm: imm}, true
			case 0b11:
				funct1 := (inst >> 12) & 1
				f2b := (inst >> 5) & 0b11
				if funct1 == 0 {
					switch f2b {
					case 0b00:
						return Decoded{Opcode: opOp, Rd: rdRs1p, Rs1: rdRs1p, Rs2: rs2p, Funct3: 0, Funct7: 0b0100000}, true // SUB
					case 0b01:
						return Decoded{Opcode: opOp, Rd: rdRs1p, Rs1: rdRs1p, Rs2: rs2p, Funct3: 0b100}, true // XOR
					case 0b10:
						return Decoded{Opcode: opOp, Rd: rdRs1p, Rs1: rdRs1p, Rs2: rs2p, Funct3: 0b110}, true // OR
					case 0b11:
						return Decoded{Opcode: opOp, Rd: rdRs1p, Rs1: rdRs1p, Rs2: rs2p, Funct3: 0b111}, true // AND
					}
				} else {
					switch f2b {
					case 0b00:
						return Decoded{Opcode: opOp32, Rd: rdRs1p, Rs1: rdRs1p, Rs2: rs2p, Funct3: 0, Funct7: 0b0100000}, true // SUBW
					case 0b01:
						return Decoded{Opcode: opOp32, Rd: rdRs1p, Rs1: rdRs1p, Rs2: rs2p, Funct3: 0}, true // ADDW
					}
					return Decoded{}, false
				}
			}
		case 0b101: // C.J
			imm := cJumpImm(inst)
			return Decoded{Opcode: opJAL, Rd: 0, Imm: imm}, true
		case 0b110: // C.BEQZ
			imm := cBranchImm(inst)
			return Decoded{Opcode: opBranch, Rs1: rdRs1p, Rs2: 0, Funct3: 0b000, Imm: imm}, true
		case 0b111: // C.BNEZ
			imm := cBranchImm(inst)
			return Decoded{Opcode: opBranch, Rs1: rdRs1p, Rs2: 0, Funct3: 0b001, Imm: imm}, true
		}
		return Decoded{}, false

	case 0b10:
		switch funct3 {
		case 0b000: // C.SLLI
			if rd == 0 {
				return Decoded{}, false
			}
			sh := cShamt(inst)
			return Decoded{Opcode: opImm, Rd: rd, Rs1: rd, Funct3: 0b001, Imm: int64(sh)}, true
		case 0b010: // C.LWSP
			if rd == 0 {
				return Decoded{}, false
			}
			u := uint64((inst>>12)&1) << 5
			u |= uint64((inst>>4)&0b111) << 2
			u |= uint64((inst>>2)&0b11) << 6
			return Decoded{Opcode: opLoad, Rd: rd, Rs1: 2, Funct3: 0b010, Imm: int64(u)}, true
		case 0b011: // C.LDSP
			if rd == 0 {
				return Decoded{}, false
			}
			u := uint64((inst>>12)&1) << 5
			u |= uint64((inst>>5)&0b11) << 3
			u |= uint64((inst>>2)&0b111) << 6
			return Decoded{Opcode: opLoad, Rd: rd, Rs1: 2, Funct3: 0b011, Imm: int64(u)}, true
		case 0b100:
			funct1 := (inst >> 12) & 1
			if funct1 == 0 {
				if rs2 == 0 { // C.JR
					if rd == 0 {
						return Decoded{}, false
					}
					return Decoded{Opcode: opJALR, Rd: 0, Rs1: rd, Imm: 0}, true
				}
				// C.MV
				return Decoded{Opcode: opOp, Rd: rd, Rs1: 0, Rs2: rs2, Funct3: 0}, true
			}
			if rd == 0 && rs2 == 0 { // C.EBREAK
				return Decoded{Opcode: opSystem, Funct3: 0, Imm: 1}, true
			}
			if rs2 == 0 { // C.JALR
				return Decoded{Opcode: opJALR, Rd: 1, Rs1: rd, Imm: 0}, true
			}
			// C.ADD
			return Decoded{Opcode: opOp, Rd: rd, Rs1: rd, Rs2: rs2, Funct3: 0}, true
		case 0b110: // C.SWSP
			u := uint64((inst>>9)&0xF) << 2
			u |= uint64((inst>>7)&0b11) << 6
			return Decoded{Opcode: opStore, Rs1: 2, Rs2: rs2, Funct3: 0b010, Imm: int64(u)}, true
		case 0b111: // C.SDSP
			u := uint64((inst>>10)&0b111) << 3
			u |= uint64((inst>>7)&0b111) << 6
			return Decoded{Opcode: opStore, Rs1: 2, Rs2: rs2, Funct3: 0b011, Imm: int64(u)}, true
		}
	}
	return Decoded{}, false
}

func cImm6(inst uint16) int64 {
	u := uint64((inst>>12)&1) << 5
	u |= uint64((inst >> 2) & 0x1F)
	return signExtend(u, 6)
}

func cShamt(inst uint16) uint64 {
	return uint64((inst>>12)&1)<<5 | uint64((inst>>2)&0x1F)
}

func cLoadWordImm(inst uint16) uint64 {
	u := uint64((inst>>10)&0b111) << 3
	u |= uint64((inst>>6)&1) << 2
	u |= uint64((inst>>5)&1) << 6
	return u
}

func cLoadDwordImm(inst uint16) uint64 {
	u := uint64((inst>>10)&0b111) << 3
	u |= uint64((inst>>5)&0b11) << 6
	return u
}

func cJumpImm(inst uint16) int64 {
	u := uint64((inst>>12)&1) << 11
	u |= uint64((inst>>11)&1) << 4
	u |= uint64((inst>>9)&0b11) << 8
	u |= uint64((inst>>8)&1) << 10
	u |= uint64((inst>>7)&1) << 6
	u |= uint64((inst>>6)&1) << 7
	u |= uint64((inst>>3)&0b111) << 1
	u |= uint64((inst>>2)&1) << 5
	return signExtend(u, 12)
}

func cBranchImm(inst uint16) int64 {
	u := uint64((inst>>12)&1) << 8
	u |= uint64((inst>>10)&0b11) << 3
	u |= uint64((inst>>5)&0b11) << 6
	u |= uint64((inst>>3)&0b11) << 1
	u |= uint64((inst>>2)&1) << 5
	return signExtend(u, 9)
}
