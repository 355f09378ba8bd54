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

// Package machine wires the bus, harts, and MMIO peripherals into one
// runnable system: a goroutine per hart driving HartState.Cycle, and a
// coordinator goroutine ticking the devices that have no cycle of their
// own (SPEC_FULL.md §5), grounded on emu/core/core.go's
// goroutine+select-over-done+WaitGroup shutdown idiom and
// original_source/main.cpp's hart_loop/hw_perhart_update/hw_update split.
package machine

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/he77789/rv-emu/emu/bus"
	"github.com/he77789/rv-emu/emu/hart"
	"github.com/he77789/rv-emu/emu/mmiodev"
)

// Physical memory map (original_source/mem.h's mem_map table and its
// comment block enumerating the ranges).
const (
	virtioBase = 0x1000_1000
	virtioSize = 0x1000

	uartBase = 0x1000_0000
	uartSize = 16

	plicBase = 0x0C00_0000
	plicSize = 0x0400_0000

	mtimerBase = 0x0020_4000
	mtimerSize = 0x8000

	mswiBase = 0x0020_0000
	mswiSize = 0x4000

	bootROMSize = 4096

	// coordinatorTick matches original_source/main.cpp's
	// sleep_for(microseconds(5000)) hw_update cadence.
	coordinatorTick = 5 * time.Millisecond
)

// Config is the boot-time configuration the machine package needs; built
// from CLI flags by the config package.
type Config struct {
	HartCount       uint16
	RAMSize         int
	VirtIOCapacity  uint64 // 512-byte sectors exposed by the virtio-mmio-blk stub
	SignatureMode   bool
	UARTOut         io.Writer
	Log             *slog.Logger
}

// Machine is the fully wired system: bus, harts, devices, and the
// goroutines driving them.
type Machine struct {
	Bus    *bus.Bus
	Harts  []*hart.HartState
	MTimer *mmiodev.MTimer
	MSWI   *mmiodev.MSWI
	PLIC   *mmiodev.PLIC
	UART   *mmiodev.UART
	VirtIO *mmiodev.VirtIOBlock

	log *slog.Logger

	wg   sync.WaitGroup
	done chan struct{}
}

// New allocates a Machine per cfg but does not start it; callers load an
// image into m.Bus.RAM()/m.Bus.DTB() and set each hart's boot registers
// before calling Start.
func New(cfg Config) *Machine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	b := bus.New(cfg.RAMSize, hart.RAMBase, hart.DTBBase, hart.MaxDTBSize, log)

	harts := make([]*hart.HartState, cfg.HartCount)
	sinks := make([]hart.InterruptSink, cfg.HartCount)
	amoLock := &sync.Mutex{}
	reservations := hart.NewReservationTable(int(cfg.HartCount))
	for i := range harts {
		hs := hart.NewHartState(uint16(i), b, log.With("hart", i))
		hs.AMOLock = amoLock
		hs.Reservations = reservations
		hs.SigMode = cfg.SignatureMode
		// Boot contract (SPEC_FULL.md §6 / original_source/main.cpp's
		// hart_init): sp at top of RAM, ra pointed at an empty word so a
		// returning kernel faults cleanly, a0=hartid, a1=dtb address.
		hs.Regs[2] = hart.RAMBase + uint64(cfg.RAMSize) - 1
		hs.Regs[1] = 0x8100_0000
		hs.Regs[10] = uint64(i)
		hs.Regs[11] = hart.DTBBase
		harts[i] = hs
		sinks[i] = hs
	}

	mtimer := mmiodev.NewMTimer(int(cfg.HartCount), sinks)
	for _, hs := range harts {
		hs.ReadMTime = mtimer.Mtime
	}
	mswi := mmiodev.NewMSWI(int(cfg.HartCount), sinks)
	plic := mmiodev.NewPLIC(int(cfg.HartCount), sinks)

	uartOut := cfg.UARTOut
	if uartOut == nil {
		uartOut = io.Discard
	}
	u := mmiodev.NewUART(uartOut, plic)
	vblk := mmiodev.NewVirtIOBlock(cfg.VirtIOCapacity)

	b.Register("bootrom", hart.BootROMBase, bootROMSize, mmiodev.NewBootROM())
	b.Register("virtio-mmio-blk", virtioBase, virtioSize, vblk)
	b.Register("uart", uartBase, uartSize, u)
	b.Register("plic", plicBase, plicSize, plic)
	b.Register("aclint-mtimer", mtimerBase, mtimerSize, mtimer)
	b.Register("aclint-mswi", mswiBase, mswiSize, mswi)

	return &Machine{
		Bus:    b,
		Harts:  harts,
		MTimer: mtimer,
		MSWI:   mswi,
		PLIC:   plic,
		UART:   u,
		VirtIO: vblk,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Start launches one goroutine per hart plus the device coordinator tick.
func (m *Machine) Start() {
	for _, hs := range m.Harts {
		m.wg.Add(1)
		go m.hartLoop(hs)
	}
	m.wg.Add(1)
	go m.coordinatorLoop()
}

// hartLoop drives one hart until Cycle returns false (signature-mode halt)
// or the machine is stopped (original_source/main.cpp's hart_loop).
func (m *Machine) hartLoop(hs *hart.HartState) {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		default:
		}
		if !hs.Cycle() {
			m.log.Info("hart halted", "hart", hs.HartID)
			return
		}
	}
}

// coordinatorLoop ticks devices without their own cycle: the ACLINT timer
// comparator, MSWI mirror, and PLIC retry sweep (original_source/main.cpp's
// hw_perhart_update + hw_update, merged into one tick here since Go gives
// every device its own goroutine-safe Check already).
func (m *Machine) coordinatorLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(coordinatorTick)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.MTimer.CheckAll()
			for i := range m.Harts {
				m.MSWI.Check(i)
			}
			m.PLIC.CheckAll()
		}
	}
}

// PushUARTInput feeds one host-side input byte to the guest UART; the
// machine's stdin/pty pump (wired by main.go) calls this per byte read.
func (m *Machine) PushUARTInput(b byte) {
	m.UART.PushInput(b)
}

// Stop signals every hart and the coordinator to exit and waits up to one
// second for them to finish (emu/core/core.go's Stop idiom).
func (m *Machine) Stop() {
	close(m.done)
	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		m.log.Warn("timed out waiting for harts to stop")
	}
}

// AnyHalted reports whether at least one hart has halted in signature mode
// (used by main.go to decide when to stop driving a single-hart system).
func (m *Machine) AnyHalted() bool {
	for _, hs := range m.Harts {
		if hs.Halted {
			return true
		}
	}
	return false
}
