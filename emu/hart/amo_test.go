package hart

import (
	"log/slog"
	"testing"
)

func newAmoHart() (*HartState, *testBus) {
	b := newTestBus(0x1000, RAMBase)
	hs := NewHartState(0, b, slog.Default())
	hs.Reservations = NewReservationTable(1)
	hs.PC = RAMBase
	return hs, b
}

func lrD(rs1, rd uint32) Decoded {
	return Decoded{Opcode: opAMO, Funct3: 0b011, Funct7: uint32(amoLR) << 2, Rs1: rs1, Rd: rd}
}

func scD(rs1, rs2, rd uint32) Decoded {
	return Decoded{Opcode: opAMO, Funct3: 0b011, Funct7: uint32(amoSC) << 2, Rs1: rs1, Rs2: rs2, Rd: rd}
}

func TestLrScSameHartSucceeds(t *testing.T) {
	hs, _ := newAmoHart()
	const addr = RAMBase + 0x40
	hs.Regs[10] = addr

	if ok := hs.execAMO(lrD(10, 2)); !ok {
		t.Fatalf("LR.D execution failed")
	}
	if !hs.Reservations.Check(hs.HartID, addr) {
		t.Fatalf("LR.D did not install a reservation on addr")
	}

	if ok := hs.execAMO(scD(10, 0, 1)); !ok {
		t.Fatalf("SC.D execution failed")
	}
	if hs.Regs[1] != 0 {
		t.Errorf("SC.D rd got: %d expected: 0 (success)", hs.Regs[1])
	}
	if hs.Reservations.Check(hs.HartID, addr) {
		t.Errorf("reservation not cleared after SC.D")
	}
}

func TestScWithoutLrFails(t *testing.T) {
	hs, _ := newAmoHart()
	const addr = RAMBase + 0x40
	hs.Regs[10] = addr

	if ok := hs.execAMO(scD(10, 0, 1)); !ok {
		t.Fatalf("SC.D execution failed")
	}
	if hs.Regs[1] != 1 {
		t.Errorf("SC.D with no prior LR.D got rd: %d expected: 1 (failure)", hs.Regs[1])
	}
}

// TestCrossHartReservationIsHartLocal exercises spec.md §8's scenario 5:
// hart 1's SC never sees hart 0's LR. If hart 1 performs its own LR first,
// its later SC succeeds.
func TestCrossHartReservationIsHartLocal(t *testing.T) {
	b := newTestBus(0x1000, RAMBase)
	rt := NewReservationTable(2)
	hart0 := NewHartState(0, b, slog.Default())
	hart0.Reservations = rt
	hart1 := NewHartState(1, b, slog.Default())
	hart1.Reservations = rt
	const addr = RAMBase + 0x80

	hart0.Regs[10] = addr
	hart0.execAMO(lrD(10, 2))

	hart1.Regs[10] = addr
	hart1.execAMO(scD(10, 0, 1))
	if hart1.Regs[1] != 1 {
		t.Errorf("hart 1 SC.D without its own LR.D got rd=%d, expected 1 (failure)", hart1.Regs[1])
	}

	hart1.execAMO(lrD(10, 2))
	hart1.execAMO(scD(10, 0, 1))
	if hart1.Regs[1] != 0 {
		t.Errorf("hart 1 SC.D after its own LR.D got rd=%d, expected 0 (success)", hart1.Regs[1])
	}
}

// TestLrInvalidatesOtherHartReservation exercises spec.md §4.9's "invalidate
// matching reservations on other harts": hart 1's later LR on the same
// address hart 0 already reserved must clear hart 0's reservation too.
func TestLrInvalidatesOtherHartReservation(t *testing.T) {
	b := newTestBus(0x1000, RAMBase)
	rt := NewReservationTable(2)
	hart0 := NewHartState(0, b, slog.Default())
	hart0.Reservations = rt
	hart1 := NewHartState(1, b, slog.Default())
	hart1.Reservations = rt
	const addr = RAMBase + 0xC0

	hart0.Regs[10] = addr
	hart0.execAMO(lrD(10, 2))

	hart1.Regs[10] = addr
	hart1.execAMO(lrD(10, 2))

	if rt.Check(0, addr) {
		t.Errorf("hart 0's reservation survived hart 1's LR on the same address")
	}

	hart0.execAMO(scD(10, 0, 1))
	if hart0.Regs[1] != 1 {
		t.Errorf("hart 0 SC.D got rd=%d, expected 1 (failure, reservation was invalidated)", hart0.Regs[1])
	}
}

func TestTrapClearsReservation(t *testing.T) {
	hs, _ := newAmoHart()
	hs.Reservations.Reserve(hs.HartID, RAMBase)
	hs.reservedLen = 8

	hs.RaiseException(ExcIllegalInst, 0)

	if hs.Reservations.Check(hs.HartID, RAMBase) {
		t.Errorf("reservation still held after a trap")
	}
}

func TestAmoAddComputesOldValueAndSum(t *testing.T) {
	hs, b := newAmoHart()
	const addr = RAMBase + 0x20
	b.Store(addr, 8, 10)
	hs.Regs[10] = addr
	hs.Regs[11] = 5

	d := Decoded{Opcode: opAMO, Funct3: 0b011, Funct7: uint32(amoAdd) << 2, Rs1: 10, Rs2: 11, Rd: 1}
	if ok := hs.execAMO(d); !ok {
		t.Fatalf("AMOADD.D execution failed")
	}
	if hs.Regs[1] != 10 {
		t.Errorf("AMOADD.D rd (old value) got: %d expected: 10", hs.Regs[1])
	}
	v, _ := b.Load(addr, 8)
	if v != 15 {
		t.Errorf("AMOADD.D memory result got: %d expected: 15", v)
	}
}
