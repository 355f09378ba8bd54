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

// Package config holds the boot-time configuration parsed from CLI flags in
// main.go (SPEC_FULL.md §10.1). It replaces the teacher's ini-file
// config/configparser package, which has no counterpart in this spec's
// flag-driven boot contract.
package config

import "fmt"

// Default machine constants (spec.md §6's CLI table defaults).
const (
	DefaultMemSize   = 0x2000_0000
	DefaultHartCount = 1
)

// Config is the fully parsed set of boot options.
type Config struct {
	FirmwareFile  string // "" or "none" skips firmware
	KernelFile    string
	InitrdFile    string
	DTBFile       string
	SignatureFile string
	LogFile       string

	MemSize   int64
	HartCount uint

	SignatureMode bool
	DumpMemAtExit bool
	SkipPTY       bool
}

// HasFirmware reports whether a firmware image should be loaded ahead of
// the kernel (spec.md §6: "-f none" or an empty -f skips firmware).
func (c Config) HasFirmware() bool {
	return c.FirmwareFile != "" && c.FirmwareFile != "none"
}

// Validate checks the one precondition spec.md §6 documents explicitly:
// at least a firmware or a kernel image must be given.
func (c Config) Validate() error {
	if !c.HasFirmware() && c.KernelFile == "" {
		return fmt.Errorf("neither firmware nor kernel image specified")
	}
	return nil
}
