package hart

import (
	"log/slog"
	"testing"
)

// TestMTimerInterruptDelivery exercises spec.md §8 scenario 6: with mie.MTIE
// and mstatus.MIE both set, raising mip.MTIP must redirect pc to mtvec and
// record mcause/mepc correctly.
func TestMTimerInterruptDelivery(t *testing.T) {
	b := newTestBus(0x1000, RAMBase)
	hs := NewHartState(0, b, slog.Default())
	hs.PC = RAMBase + 0x100
	const trapVec = RAMBase + 0x800
	hs.Mtvec = trapVec

	hs.WriteCSR(csrMie, uint64(1)<<IntMTimer)
	hs.WriteCSR(csrMstatus, mstatusMIE)

	hs.Raise(uint64(1) << IntMTimer)
	hs.EvaluateInterrupts()

	if hs.Mcause != interruptCause(IntMTimer) {
		t.Errorf("mcause got: %#x expected: %#x", hs.Mcause, interruptCause(IntMTimer))
	}
	if hs.Mepc != RAMBase+0x100 {
		t.Errorf("mepc got: %#x expected: %#x", hs.Mepc, RAMBase+0x100)
	}
	if hs.PC != trapVec {
		t.Errorf("pc got: %#x expected: %#x", hs.PC, trapVec)
	}
	if hs.PrivMode != PrivM {
		t.Errorf("privmode got: %d expected: %d", hs.PrivMode, PrivM)
	}
	if hs.Mstatus&mstatusMIE != 0 {
		t.Errorf("mstatus.MIE not cleared on trap entry")
	}
}

func TestInterruptMaskedByMIEDoesNothing(t *testing.T) {
	hs, _ := newTestHart()
	hs.Mtvec = RAMBase + 0x800
	hs.WriteCSR(csrMie, uint64(1)<<IntMTimer)
	// mstatus.MIE left clear.

	hs.Raise(uint64(1) << IntMTimer)
	pcBefore := hs.PC
	hs.EvaluateInterrupts()

	if hs.PC != pcBefore {
		t.Errorf("pc moved to %#x despite mstatus.MIE==0", hs.PC)
	}
	if hs.Mcause != 0 {
		t.Errorf("mcause got: %#x expected: 0 (no trap taken)", hs.Mcause)
	}
}

func TestDelegatedInterruptTargetsSupervisor(t *testing.T) {
	hs, _ := newTestHart()
	hs.Stvec = RAMBase + 0x900
	hs.WriteCSR(csrMideleg, uint64(1)<<IntSTimer)
	hs.WriteCSR(csrMie, uint64(1)<<IntSTimer)
	hs.WriteCSR(csrMstatus, mstatusSIE)
	hs.PrivMode = PrivS

	hs.Raise(uint64(1) << IntSTimer)
	hs.EvaluateInterrupts()

	if hs.PrivMode != PrivS {
		t.Errorf("privmode got: %d expected: %d (delegated trap must stay in S)", hs.PrivMode, PrivS)
	}
	if hs.PC != RAMBase+0x900 {
		t.Errorf("pc got: %#x expected: %#x", hs.PC, RAMBase+0x900)
	}
	if hs.Scause != interruptCause(IntSTimer) {
		t.Errorf("scause got: %#x expected: %#x", hs.Scause, interruptCause(IntSTimer))
	}
}

func TestEcallCauseByPrivilege(t *testing.T) {
	cases := []struct {
		priv  int
		cause uint64
	}{
		{PrivU, ExcUEcall},
		{PrivS, ExcSEcall},
		{PrivM, ExcMEcall},
	}
	for _, c := range cases {
		hs, b := newTestHart()
		hs.PrivMode = c.priv
		storeInst32(b, RAMBase, encodeIType(opSystem, 0, 0, 0, 0)) // ecall
		hs.Cycle()
		if hs.Mcause != c.cause {
			t.Errorf("priv %d: mcause got: %d expected: %d", c.priv, hs.Mcause, c.cause)
		}
	}
}
