package bus

import (
	"testing"
)

type fakeDevice struct {
	loads  []uint64
	stores []uint64
	val    uint64
}

func (d *fakeDevice) Load(offset uint64, size int) (uint64, bool) {
	d.loads = append(d.loads, offset)
	return d.val, true
}

func (d *fakeDevice) Store(offset uint64, size int, val uint64) bool {
	d.stores = append(d.stores, offset)
	d.val = val
	return true
}

func TestRAMLoadStoreRoundTrip(t *testing.T) {
	b := New(0x1000, 0x8000_0000, 0x1100, 32, nil)

	if !b.Store(0x8000_0010, 8, 0x0123456789ABCDEF) {
		t.Fatalf("store into RAM failed")
	}
	v, ok := b.Load(0x8000_0010, 8)
	if !ok {
		t.Fatalf("load from RAM failed")
	}
	if v != 0x0123456789ABCDEF {
		t.Errorf("RAM round trip got: %#x expected: %#x", v, 0x0123456789ABCDEF)
	}
}

func TestDTBWindowIsSeparateFromRAM(t *testing.T) {
	b := New(0x1000, 0x8000_0000, 0x1100, 32, nil)

	b.Store(0x1100, 4, 0xCAFEBABE)
	v, ok := b.Load(0x1100, 4)
	if !ok || v != 0xCAFEBABE {
		t.Errorf("DTB window load got: %#x ok=%v, expected: 0xCAFEBABE true", v, ok)
	}
	if ramVal, _ := b.Load(0x8000_0000, 4); ramVal == 0xCAFEBABE {
		t.Errorf("DTB write leaked into RAM window")
	}
}

func TestUnmappedAddressFails(t *testing.T) {
	b := New(0x1000, 0x8000_0000, 0x1100, 32, nil)
	if _, ok := b.Load(0xFFFF_0000, 4); ok {
		t.Errorf("load from unmapped address unexpectedly succeeded")
	}
	if b.Store(0xFFFF_0000, 4, 1) {
		t.Errorf("store to unmapped address unexpectedly succeeded")
	}
}

func TestRegisteredDeviceDispatch(t *testing.T) {
	b := New(0x1000, 0x8000_0000, 0x1100, 32, nil)
	dev := &fakeDevice{val: 42}
	b.Register("fake", 0x1000_0000, 0x100, dev)

	v, ok := b.Load(0x1000_0010, 4)
	if !ok || v != 42 {
		t.Errorf("device load got: %d ok=%v, expected: 42 true", v, ok)
	}
	if len(dev.loads) != 1 || dev.loads[0] != 0x10 {
		t.Errorf("device saw offset %v, expected [0x10]", dev.loads)
	}

	if !b.Store(0x1000_0020, 4, 7) {
		t.Errorf("device store failed")
	}
	if len(dev.stores) != 1 || dev.stores[0] != 0x20 {
		t.Errorf("device saw store offset %v, expected [0x20]", dev.stores)
	}
}

func TestAccessStraddlingRegionBoundaryFails(t *testing.T) {
	b := New(0x100, 0x8000_0000, 0x1100, 32, nil)
	// 8-byte access starting 4 bytes before the end of a 0x100-byte RAM.
	if _, ok := b.Load(0x8000_0000+0x100-4, 8); ok {
		t.Errorf("straddling load unexpectedly succeeded")
	}
}
