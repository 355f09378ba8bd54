package loader

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/he77789/rv-emu/emu/hart"
)

// buildMinimalELF64 hand-assembles the smallest valid little-endian ELF64
// file with one PT_LOAD segment carrying payload at physical address paddr,
// grounded on original_source/elf.cpp's Elf64_Ehdr/Elf64_Phdr layout (the
// same fields debug/elf parses).
func buildMinimalELF64(t *testing.T, paddr uint64, payload []byte) string {
	t.Helper()
	const ehdrSize = 64
	const phdrSize = 56

	buf := make([]byte, ehdrSize+phdrSize+len(payload))

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(buf[16:], 2)       // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:], 0xF3)    // e_machine = EM_RISCV
	binary.LittleEndian.PutUint32(buf[20:], 1)       // e_version
	binary.LittleEndian.PutUint64(buf[24:], paddr)   // e_entry
	binary.LittleEndian.PutUint64(buf[32:], ehdrSize) // e_phoff
	binary.LittleEndian.PutUint16(buf[52:], ehdrSize) // e_ehsize
	binary.LittleEndian.PutUint16(buf[54:], phdrSize) // e_phentsize
	binary.LittleEndian.PutUint16(buf[56:], 1)        // e_phnum

	ph := buf[ehdrSize:]
	binary.LittleEndian.PutUint32(ph[0:], 1)                       // p_type = PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:], 5)                       // p_flags = R+X
	binary.LittleEndian.PutUint64(ph[8:], ehdrSize+phdrSize)        // p_offset
	binary.LittleEndian.PutUint64(ph[16:], paddr)                  // p_vaddr
	binary.LittleEndian.PutUint64(ph[24:], paddr)                  // p_paddr
	binary.LittleEndian.PutUint64(ph[32:], uint64(len(payload)))   // p_filesz
	binary.LittleEndian.PutUint64(ph[40:], uint64(len(payload)))   // p_memsz
	binary.LittleEndian.PutUint64(ph[48:], 0x1000)                 // p_align

	copy(buf[ehdrSize+phdrSize:], payload)

	path := filepath.Join(t.TempDir(), "image.elf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("writing test ELF: %v", err)
	}
	return path
}

func TestLoadImageELFPlacesPTLoadAtRAMBase(t *testing.T) {
	payload := []byte{0x13, 0x00, 0x00, 0x00} // addi x0, x0, 0 (nop)
	path := buildMinimalELF64(t, hart.RAMBase, payload)

	ram := make([]byte, 0x10000)
	img, err := LoadImage(ram, 0, path, len(ram))
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if !img.WasELF {
		t.Errorf("expected ELF parse path, fell back to raw")
	}
	if ram[0] != 0x13 {
		t.Errorf("ram[0] got: %#x expected: 0x13", ram[0])
	}
}

func TestLoadImageELFSkipsSegmentsBelowRAMBase(t *testing.T) {
	path := buildMinimalELF64(t, hart.RAMBase-0x1000, []byte{0xAA, 0xBB})

	ram := make([]byte, 0x10000)
	img, err := LoadImage(ram, 0, path, len(ram))
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if img.Bytes != 0 {
		t.Errorf("loaded %d bytes from a segment below RAMBase, expected 0", img.Bytes)
	}
}

func TestLoadImageFallsBackToRawOnNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmware.bin")
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing raw firmware: %v", err)
	}

	ram := make([]byte, 0x100)
	img, err := LoadImage(ram, 0, path, len(ram))
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if img.WasELF {
		t.Errorf("raw binary was misidentified as ELF")
	}
	for i, b := range raw {
		if ram[i] != b {
			t.Errorf("ram[%d] got: %#x expected: %#x", i, ram[i], b)
		}
	}
}

func TestLoadImageRawTruncatesAtMaxBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.bin")
	raw := make([]byte, 256)
	for i := range raw {
		raw[i] = byte(i)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("writing raw firmware: %v", err)
	}

	ram := make([]byte, 256)
	img, err := LoadImage(ram, 0, path, 16)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if img.Bytes != 16 {
		t.Errorf("loaded %d bytes, expected 16 (capped by maxBytes)", img.Bytes)
	}
	if ram[16] != 0 {
		t.Errorf("ram[16] got: %#x expected: 0 (must not read past maxBytes)", ram[16])
	}
}

func TestLoadDTBAndInitrdRawPlacement(t *testing.T) {
	dtbPath := filepath.Join(t.TempDir(), "fdt.dtb")
	dtbData := []byte{0xd0, 0x0d, 0xfe, 0xed}
	os.WriteFile(dtbPath, dtbData, 0o644)

	dtb := make([]byte, 32768)
	n, err := LoadDTB(dtb, dtbPath)
	if err != nil {
		t.Fatalf("LoadDTB failed: %v", err)
	}
	if n != len(dtbData) || dtb[0] != 0xd0 {
		t.Errorf("dtb load got n=%d dtb[0]=%#x, expected n=%d dtb[0]=0xd0", n, dtb[0], len(dtbData))
	}

	initrdPath := filepath.Join(t.TempDir(), "initrd.img")
	initrdData := []byte{1, 2, 3, 4}
	os.WriteFile(initrdPath, initrdData, 0o644)

	ram := make([]byte, 0x820_0000+16)
	n, err = LoadInitrd(ram, initrdPath)
	if err != nil {
		t.Fatalf("LoadInitrd failed: %v", err)
	}
	if n != len(initrdData) {
		t.Errorf("initrd bytes loaded got: %d expected: %d", n, len(initrdData))
	}
	for i, b := range initrdData {
		if ram[0x820_0000+i] != b {
			t.Errorf("ram[0x820_0000+%d] got: %#x expected: %#x", i, ram[0x820_0000+i], b)
		}
	}
}
