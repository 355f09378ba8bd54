package hart

import "sync"

// ReservationTable is the machine-global LR/SC reservation table (spec.md
// §3): reservations[hartid] holds the physical address that hart currently
// reserves, 0 meaning none. Exactly one hart may hold a reservation on a
// given address at a time, so a new LR on that address invalidates any
// other hart's matching reservation (spec.md §4.9). Shared by pointer
// across every hart in the machine; wired by the machine package.
type ReservationTable struct {
	mu   sync.Mutex
	addr []uint64
}

// NewReservationTable allocates a reservation table for hartCount harts.
func NewReservationTable(hartCount int) *ReservationTable {
	return &ReservationTable{addr: make([]uint64, hartCount)}
}

// Reserve records addr as hartID's reservation and clears any other hart's
// reservation currently pointed at the same address.
func (rt *ReservationTable) Reserve(hartID uint16, addr uint64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.addr[hartID] = addr
	for i := range rt.addr {
		if i != int(hartID) && rt.addr[i] == addr {
			rt.addr[i] = 0
		}
	}
}

// Check reports whether hartID still holds a reservation on addr.
func (rt *ReservationTable) Check(hartID uint16, addr uint64) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return addr != 0 && rt.addr[hartID] == addr
}

// Clear drops hartID's own reservation unconditionally (SC, regardless of
// outcome, and any trap entry per spec.md §4.9/§8).
func (rt *ReservationTable) Clear(hartID uint16) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.addr[hartID] = 0
}

// AMO/LR/SC (spec.md §4.9's A extension). funct5 sits at bits [31:27] of the
// 32-bit encoding; Decoded.Funct7 carries bits [31:25], so funct5 = Funct7>>2
// (the aq/rl bits, Funct7&0b11, are not modeled — every hart runs its own
// goroutine with the bus serialized through AMOLock, which already gives
// every AMO sequentially-consistent ordering with respect to the others).
const (
	amoLR      = 0b00010
	amoSC      = 0b00011
	amoSwap    = 0b00001
	amoAdd     = 0b00000
	amoXor     = 0b00100
	amoAnd     = 0b01100
	amoOr      = 0b01000
	amoMin     = 0b10000
	amoMax     = 0b10100
	amoMinu    = 0b11000
	amoMaxu    = 0b11100
)

func (hs *HartState) execAMO(d Decoded) bool {
	var size int
	switch d.Funct3 {
	case 0b010:
		size = 4
	case 0b011:
		size = 8
	default:
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}
	addr := hs.reg(d.Rs1)
	funct5 := d.Funct7 >> 2

	if hs.AMOLock != nil {
		hs.AMOLock.Lock()
		defer hs.AMOLock.Unlock()
	}

	if funct5 == amoLR {
		v, ok := hs.LoadMem(addr, size)
		if !ok {
			return false
		}
		if hs.Reservations != nil {
			hs.Reservations.Reserve(hs.HartID, addr)
		}
		hs.reservedLen = size
		hs.setReg(d.Rd, uint64(signExtend(v, size*8)))
		return true
	}

	if funct5 == amoSC {
		holds := hs.Reservations != nil && hs.Reservations.Check(hs.HartID, addr) && hs.reservedLen == size
		if hs.Reservations != nil {
			hs.Reservations.Clear(hs.HartID)
		}
		if holds {
			if !hs.StoreMem(addr, size, hs.reg(d.Rs2)) {
				return false
			}
			hs.setReg(d.Rd, 0)
			return true
		}
		hs.setReg(d.Rd, 1)
		return true
	}

	old, ok := hs.LoadMem(addr, size)
	if !ok {
		return false
	}
	oldSigned := signExtend(old, size*8)
	operand := hs.reg(d.Rs2)
	operandSigned := signExtend(operand, size*8)

	var result int64
	switch funct5 {
	case amoSwap:
		result = int64(operand)
	case amoAdd:
		result = oldSigned + operandSigned
	case amoXor:
		result = oldSigned ^ operandSigned
	case amoAnd:
		result = oldSigned & operandSigned
	case amoOr:
		result = oldSigned | operandSigned
	case amoMin:
		if oldSigned < operandSigned {
			result = oldSigned
		} else {
			result = operandSigned
		}
	case amoMax:
		if oldSigned > operandSigned {
			result = oldSigned
		} else {
			result = operandSigned
		}
	case amoMinu:
		if uint64(oldSigned) < uint64(operandSigned) {
			result = oldSigned
		} else {
			result = operandSigned
		}
	case amoMaxu:
		if uint64(oldSigned) > uint64(operandSigned) {
			result = oldSigned
		} else {
			result = operandSigned
		}
	default:
		hs.RaiseException(ExcIllegalInst, uint64(hs.Inst))
		return false
	}

	if !hs.StoreMem(addr, size, uint64(result)) {
		return false
	}
	hs.setReg(d.Rd, uint64(oldSigned))
	return true
}
