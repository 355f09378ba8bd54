/*
rv-emu - RISC-V RV64IMAC per-hart state and cycle driver.

Copyright 2026, rv-emu contributors

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

// Package loader loads firmware/kernel boot images (ELF or raw binary), the
// device tree blob, and the initrd into a machine's RAM/DTB windows,
// grounded on original_source/elf.cpp's PT_LOAD filtering and
// original_source/main.cpp's raw-fread fallback paths.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/he77789/rv-emu/emu/hart"
)

// Image reports what LoadImage actually loaded, including the signature
// symbols an ELF may carry (SPEC_FULL.md's signature-mode boundary is a
// fixed memory window, but the symbols are still captured here since
// original_source/elf.cpp reads them and a future signature-range mode may
// want them).
type Image struct {
	Bytes          int
	WasELF         bool
	BeginSignature uint64
	EndSignature   bool
}

// LoadImage loads path into ram starting at byte offset off. It first tries
// ELF parsing (PT_LOAD segments with p_paddr >= hart.RAMBase, placed at
// off+p_paddr-hart.RAMBase); on any failure to recognize the file as ELF it
// falls back to a flat copy of the whole file at off, capped at maxBytes
// (original_source/elf.cpp's "fallback to treating file as flat binary").
func LoadImage(ram []byte, off uint64, path string, maxBytes int) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return Image{}, err
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		n, rerr := loadRaw(ram, off, f, maxBytes)
		return Image{Bytes: n}, rerr
	}
	defer ef.Close()

	img, err := loadELF(ram, off, ef)
	if err != nil {
		return Image{}, err
	}
	img.WasELF = true
	return img, nil
}

func loadRaw(ram []byte, off uint64, f *os.File, maxBytes int) (int, error) {
	if off >= uint64(len(ram)) {
		return 0, fmt.Errorf("loader: offset %#x beyond RAM size %#x", off, len(ram))
	}
	end := int(off) + maxBytes
	if end > len(ram) {
		end = len(ram)
	}
	n, err := io.ReadFull(f, ram[off:end])
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return n, err
}

// loadELF copies every PT_LOAD segment whose physical address is at or
// above hart.RAMBase (original_source/elf.cpp's `if (phdr.p_paddr <
// 0x8000'0000) continue;`), relocated by off, and captures the
// begin_signature/end_signature symbol values if present.
func loadELF(ram []byte, off uint64, ef *elf.File) (Image, error) {
	var img Image
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Paddr < hart.RAMBase {
			continue
		}
		loadAddr := off + prog.Paddr - hart.RAMBase
		if loadAddr >= uint64(len(ram)) {
			continue
		}
		end := loadAddr + prog.Memsz
		if end > uint64(len(ram)) {
			end = uint64(len(ram))
		}
		n, err := io.ReadFull(prog.Open(), ram[loadAddr:end])
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return Image{}, fmt.Errorf("loader: reading PT_LOAD segment: %w", err)
		}
		img.Bytes += n
	}

	if syms, err := ef.Symbols(); err == nil {
		for _, s := range syms {
			switch s.Name {
			case "begin_signature":
				img.BeginSignature = s.Value
			case "end_signature":
				img.EndSignature = true
			}
		}
	}
	return img, nil
}

// LoadDTB loads a raw device-tree blob into the bus's DTB scratch buffer.
func LoadDTB(dtb []byte, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := io.ReadFull(f, dtb)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return n, err
}

// LoadInitrd loads a raw initrd image into ram at the fixed SPEC_FULL.md
// offset 0x820_0000 past RAM base, capped at 0x800_0000 bytes
// (original_source/main.cpp's fread(main_mem+0x820'0000, 1, 0x800'0000, f)).
func LoadInitrd(ram []byte, path string) (int, error) {
	const initrdOffset = 0x820_0000
	const initrdMax = 0x800_0000
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return loadRaw(ram, initrdOffset, f, initrdMax)
}
