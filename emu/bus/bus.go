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

// Package bus implements the physical memory map: a flat RAM backing array
// plus a small dispatch table of MMIO device ranges (SPEC_FULL.md §4.2),
// generalized from the teacher's emu/memory fixed-array-plus-bound-check
// design and original_source/mem.h's Memmap_Entry table.
package bus

import (
	"encoding/binary"
	"log/slog"
)

// Device is satisfied by every MMIO peripheral (ACLINT, PLIC, UART,
// virtio-mmio-blk). Load/Store operate in the device's own offset space; the
// bus translates absolute physical addresses before calling in.
type Device interface {
	Load(offset uint64, size int) (uint64, bool)
	Store(offset uint64, size int, val uint64) bool
}

type region struct {
	name string
	base uint64
	size uint64
	dev  Device
}

// Bus is the physical address space: RAM starting at hart.RAMBase, a DTB
// scratch buffer at hart.DTBBase, and a handful of MMIO device windows
// registered by the machine package at boot (original_source/mem.h's
// mem_map table).
type Bus struct {
	ram     []byte
	ramBase uint64

	dtb     []byte
	dtbBase uint64

	regions []region

	log *slog.Logger
}

// New allocates a bus with ramSize bytes of RAM at hart.RAMBase and a
// MaxDTBSize scratch buffer at hart.DTBBase.
func New(ramSize int, ramBase, dtbBase uint64, maxDTB int, log *slog.Logger) *Bus {
	return &Bus{
		ram:     make([]byte, ramSize),
		ramBase: ramBase,
		dtb:     make([]byte, maxDTB),
		dtbBase: dtbBase,
		log:     log,
	}
}

// RAM exposes the backing array directly for the loader (ELF/raw image
// placement) and for signature-mode memory dumps.
func (b *Bus) RAM() []byte { return b.ram }

// DTB exposes the device-tree scratch buffer for the loader.
func (b *Bus) DTB() []byte { return b.dtb }

// RAMBase/RAMSize report the RAM window for callers that need absolute
// addresses (the loader, signature dumps).
func (b *Bus) RAMBase() uint64 { return b.ramBase }
func (b *Bus) RAMSize() uint64 { return uint64(len(b.ram)) }

// Register installs an MMIO device at [base, base+size) (original_source/
// mem.h's static mem_map table, built dynamically here since device
// instances — and for virtio, backing file size — are runtime-configured).
func (b *Bus) Register(name string, base, size uint64, dev Device) {
	b.regions = append(b.regions, region{name: name, base: base, size: size, dev: dev})
}

// Load implements hart.Bus. ok=false means the address is unmapped — the
// caller (hart's checked-access layer) turns that into an access fault.
func (b *Bus) Load(addr uint64, size int) (uint64, bool) {
	if addr >= b.ramBase && addr+uint64(size) <= b.ramBase+uint64(len(b.ram)) {
		return loadLE(b.ram[addr-b.ramBase:], size), true
	}
	if addr >= b.dtbBase && addr+uint64(size) <= b.dtbBase+uint64(len(b.dtb)) {
		return loadLE(b.dtb[addr-b.dtbBase:], size), true
	}
	for _, r := range b.regions {
		if addr >= r.base && addr+uint64(size) <= r.base+r.size {
			v, ok := r.dev.Load(addr-r.base, size)
			return v, ok
		}
	}
	if b.log != nil {
		b.log.Debug("bus load: unmapped address", "addr", addr, "size", size)
	}
	return 0, false
}

// Store implements hart.Bus.
func (b *Bus) Store(addr uint64, size int, val uint64) bool {
	if addr >= b.ramBase && addr+uint64(size) <= b.ramBase+uint64(len(b.ram)) {
		storeLE(b.ram[addr-b.ramBase:], size, val)
		return true
	}
	if addr >= b.dtbBase && addr+uint64(size) <= b.dtbBase+uint64(len(b.dtb)) {
		storeLE(b.dtb[addr-b.dtbBase:], size, val)
		return true
	}
	for _, r := range b.regions {
		if addr >= r.base && addr+uint64(size) <= r.base+r.size {
			return r.dev.Store(addr-r.base, size, val)
		}
	}
	if b.log != nil {
		b.log.Debug("bus store: unmapped address", "addr", addr, "size", size)
	}
	return false
}

func loadLE(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func storeLE(b []byte, size int, val uint64) {
	switch size {
	case 1:
		b[0] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(val))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(val))
	case 8:
		binary.LittleEndian.PutUint64(b, val)
	}
}
