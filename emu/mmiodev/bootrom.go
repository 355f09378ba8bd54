package mmiodev

// BootROMContent is the fixed 12-byte reset vector original_source/mem.h embeds at
// 0x1000: it loads 1<<31 (0x8000_0000, RAM base) into x8 and jumps there,
// so M-mode firmware never has to special-case "boot from a discrete ROM".
var BootROMContent = [...]byte{
	0x13, 0x04, 0x10, 0x00, // addi x8, x0, 1
	0x13, 0x14, 0xf4, 0x01, // slli x8, x8, 31
	0x67, 0x00, 0x04, 0x00, // jalr x0, x8, 0x0
}

// BootROM is a read-only MMIO window serving BootROMContent, zero beyond it.
type BootROM struct{}

func NewBootROM() *BootROM { return &BootROM{} }

func (b *BootROM) Load(offset uint64, size int) (uint64, bool) {
	var v uint64
	for i := 0; i < size; i++ {
		var byt byte
		if offset+uint64(i) < uint64(len(BootROMContent)) {
			byt = BootROMContent[offset+uint64(i)]
		}
		v |= uint64(byt) << (8 * i)
	}
	return v, true
}

func (b *BootROM) Store(offset uint64, size int, val uint64) bool {
	return true // ROM: writes are silently discarded
}
