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

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	getopt "github.com/pborman/getopt/v2"

	"github.com/he77789/rv-emu/config"
	"github.com/he77789/rv-emu/emu/machine"
	"github.com/he77789/rv-emu/loader"
	logger "github.com/he77789/rv-emu/util/logger"
)

var Logger *slog.Logger

func main() {
	optFirmware := getopt.StringLong("firmware", 'f', "", "Firmware image (raw or ELF); \"none\" to skip")
	optKernel := getopt.StringLong("kernel", 'k', "", "Kernel image")
	optInitrd := getopt.StringLong("initrd", 'i', "", "Initrd image")
	optMemSize := getopt.Int64Long("memsize", 'm', config.DefaultMemSize, "Memory size in bytes")
	optHartCount := getopt.Uint64Long("harts", 'c', config.DefaultHartCount, "Hart count")
	optDTB := getopt.StringLong("dtb", 'd', "", "Device tree blob")
	optSignature := getopt.StringLong("signature", 's', "", "Enable signature mode, write to this file at exit")
	optDumpMem := getopt.BoolLong("dump", 'e', "Dump full RAM to mem_dump at exit")
	optSkipPTY := getopt.BoolLong("no-pty", 'p', "Disable PTY creation; route UART I/O to stdio")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optHelp := getopt.BoolLong("help", 'h', "Print this help message and exit")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var logFile *os.File
	if *optLogFile != "" {
		var err error
		logFile, err = os.Create(*optLogFile)
		if err != nil {
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	Logger = slog.New(logger.NewHandler(logFile, &slog.HandlerOptions{Level: programLevel, AddSource: false}, new(bool)))
	slog.SetDefault(Logger)

	Logger.Info("rv-emu started")

	cfg := config.Config{
		FirmwareFile:  *optFirmware,
		KernelFile:    *optKernel,
		InitrdFile:    *optInitrd,
		DTBFile:       *optDTB,
		SignatureFile: *optSignature,
		LogFile:       *optLogFile,
		MemSize:       *optMemSize,
		HartCount:     uint(*optHartCount),
		SignatureMode: *optSignature != "",
		DumpMemAtExit: *optDumpMem,
		SkipPTY:       *optSkipPTY,
	}
	if err := cfg.Validate(); err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	m := machine.New(machine.Config{
		HartCount:      uint16(cfg.HartCount),
		RAMSize:        int(cfg.MemSize),
		VirtIOCapacity: 0,
		SignatureMode:  cfg.SignatureMode,
		UARTOut:        os.Stdout,
		Log:            Logger,
	})

	if err := loadImages(m, cfg); err != nil {
		Logger.Error(err.Error())
		os.Exit(err.(exitError).code)
	}

	if cfg.SkipPTY {
		go pumpStdin(m)
	}

	m.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	haltPoll := time.NewTicker(10 * time.Millisecond)
wait:
	for {
		select {
		case <-sigChan:
			break wait
		case <-haltPoll.C:
			if m.AnyHalted() {
				break wait
			}
		}
	}
	haltPoll.Stop()

	Logger.Info("shutting down")
	m.Stop()

	if cfg.SignatureMode {
		dumpSignature(m, cfg.SignatureFile)
	}
	if cfg.DumpMemAtExit {
		dumpMem(m)
	}
}

type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }

// loadImages implements spec.md §6's boot-image placement rules: firmware
// (if any) at RAM base, kernel 0x20_0000 beyond it, or kernel alone at RAM
// base if no firmware; DTB and initrd always raw.
func loadImages(m *machine.Machine, cfg config.Config) error {
	ram := m.Bus.RAM()

	if cfg.HasFirmware() {
		if _, err := loader.LoadImage(ram, 0, cfg.FirmwareFile, 0x0200_0000); err != nil {
			return exitError{1, "firmware load failed: " + err.Error()}
		}
		if cfg.KernelFile != "" {
			if _, err := loader.LoadImage(ram, 0x0020_0000, cfg.KernelFile, len(ram)-0x0020_0000); err != nil {
				return exitError{2, "kernel load failed: " + err.Error()}
			}
		}
	} else {
		if _, err := loader.LoadImage(ram, 0, cfg.KernelFile, len(ram)); err != nil {
			return exitError{2, "kernel load failed: " + err.Error()}
		}
	}

	if cfg.DTBFile != "" {
		if _, err := loader.LoadDTB(m.Bus.DTB(), cfg.DTBFile); err != nil {
			return exitError{3, "dtb load failed: " + err.Error()}
		}
	}

	if cfg.InitrdFile != "" {
		if _, err := loader.LoadInitrd(ram, cfg.InitrdFile); err != nil {
			return exitError{4, "initrd load failed: " + err.Error()}
		}
	}
	return nil
}

// pumpStdin feeds host stdin bytes to the UART when PTY creation is
// disabled (spec.md §6's "-p" flag; a real pty master would be wired here
// instead, but pty allocation is an external-collaborator concern this
// module does not own).
func pumpStdin(m *machine.Machine) {
	buf := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buf)
		for i := 0; i < n; i++ {
			m.PushUARTInput(buf[i])
		}
		if err != nil {
			return
		}
	}
}

// dumpSignature writes the fixed 512-byte signature window
// (original_source/main.cpp's fwrite(main_mem + 0xF0'0000, 1, 512, sf)).
func dumpSignature(m *machine.Machine, path string) {
	const sigOffset = 0x00F0_0000
	const sigLen = 512
	ram := m.Bus.RAM()
	if sigOffset+sigLen > len(ram) {
		Logger.Warn("signature window beyond RAM size, skipping dump")
		return
	}
	f, err := os.Create(path)
	if err != nil {
		Logger.Warn("unable to open signature file for writing", "path", path, "err", err)
		return
	}
	defer f.Close()
	Logger.Info("dumping signature")
	f.Write(ram[sigOffset : sigOffset+sigLen])
}

// dumpMem writes the whole RAM image to mem_dump at exit
// (original_source/main.cpp's dump_mem, spec.md §6's "-e" flag).
func dumpMem(m *machine.Machine) {
	f, err := os.Create("mem_dump")
	if err != nil {
		Logger.Warn("unable to open mem_dump for writing", "err", err)
		return
	}
	defer f.Close()
	f.Write(m.Bus.RAM())
}
