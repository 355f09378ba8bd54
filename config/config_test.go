package config

import "testing"

func TestHasFirmware(t *testing.T) {
	cases := []struct {
		firmware string
		want     bool
	}{
		{"", false},
		{"none", false},
		{"fw.bin", true},
	}
	for _, c := range cases {
		cfg := Config{FirmwareFile: c.firmware}
		if got := cfg.HasFirmware(); got != c.want {
			t.Errorf("HasFirmware(%q) got: %v expected: %v", c.firmware, got, c.want)
		}
	}
}

func TestValidateRequiresFirmwareOrKernel(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Errorf("expected an error with neither firmware nor kernel set")
	}
	if err := (Config{FirmwareFile: "fw.bin"}).Validate(); err != nil {
		t.Errorf("unexpected error with firmware set: %v", err)
	}
	if err := (Config{KernelFile: "vmlinux"}).Validate(); err != nil {
		t.Errorf("unexpected error with kernel set: %v", err)
	}
	if err := (Config{FirmwareFile: "none"}).Validate(); err == nil {
		t.Errorf("expected an error when firmware is explicitly \"none\" and no kernel given")
	}
}
