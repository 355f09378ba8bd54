package mmiodev

import (
	"testing"

	"github.com/he77789/rv-emu/emu/hart"
)

type fakeSink struct {
	raised map[uint64]bool
}

func newFakeSink() *fakeSink { return &fakeSink{raised: make(map[uint64]bool)} }

func (s *fakeSink) Raise(bit uint64) { s.raised[bit] = true }
func (s *fakeSink) Lower(bit uint64) { s.raised[bit] = false }

func TestMtimerFiresWhenMtimecmpReached(t *testing.T) {
	sink := newFakeSink()
	mt := NewMTimer(1, []hart.InterruptSink{sink})

	mt.Store(0, 8, 0) // mtimecmp[0] = 0: already due
	mt.Check(0)

	if !sink.raised[uint64(1)<<hart.IntMTimer] {
		t.Errorf("MTIP not raised when mtimecmp already elapsed")
	}
}

func TestMtimerDoesNotFireBeforeDeadline(t *testing.T) {
	sink := newFakeSink()
	mt := NewMTimer(1, []hart.InterruptSink{sink})

	mt.Store(0, 8, ^uint64(0)) // far future
	mt.Check(0)

	if sink.raised[uint64(1)<<hart.IntMTimer] {
		t.Errorf("MTIP raised despite mtimecmp far in the future")
	}
}

func TestMtimeRegisterReadable(t *testing.T) {
	mt := NewMTimer(1, nil)
	v, ok := mt.Load(0x7ff8, 8)
	if !ok {
		t.Fatalf("mtime register load failed")
	}
	if v == 0 && mt.Mtime() == 0 {
		t.Skip("clock granularity too coarse on this host to assert monotonic progress")
	}
}

func TestMswiRaisesAndLowersOnMirror(t *testing.T) {
	sink := newFakeSink()
	ms := NewMSWI(1, []hart.InterruptSink{sink})

	ms.Store(0, 4, 1)
	if !sink.raised[uint64(1)<<hart.IntMSoft] {
		t.Errorf("MSIP bit not raised after msip write")
	}

	ms.Store(0, 4, 0)
	if sink.raised[uint64(1)<<hart.IntMSoft] {
		t.Errorf("MSIP bit not lowered after msip clear")
	}
}

func TestMswiOnlyBit0Sticks(t *testing.T) {
	ms := NewMSWI(1, nil)
	ms.Store(0, 4, 0xFE)
	v, _ := ms.Load(0, 4)
	if v != 0 {
		t.Errorf("msip got: %#x expected: 0 (only bit 0 is architectural)", v)
	}
}

func TestMtimerOutOfRangeHartIndexFails(t *testing.T) {
	mt := NewMTimer(1, nil)
	if _, ok := mt.Load(8*5, 8); ok {
		t.Errorf("load for hart index beyond hartCount unexpectedly succeeded")
	}
	if mt.Store(8*5, 8, 1) {
		t.Errorf("store for hart index beyond hartCount unexpectedly succeeded")
	}
}
