package vmm

import (
	"bytes"
	"strings"
	"testing"

	"eduos/kernel/cpu"
	"eduos/kernel/irq"
	"eduos/kernel/kfmt"
)

func TestPageFaultHandler(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
		haltFn = cpu.Halt
		currentTaskIDFn = func() uint32 { return 0 }
		kfmt.SetOutputSink(nil)
	}()

	specs := []struct {
		errorCode uint32
		expWords  []string
	}{
		{0, []string{"supervisor", "data", "read", "not present"}},
		{2, []string{"supervisor", "data", "write", "not present"}},
		{5, []string{"user", "data", "read", "protection"}},
		{7, []string{"user", "data", "write", "protection"}},
		{0x10, []string{"supervisor", "instruction", "fetch", "not present"}},
		{0x8, []string{"reserved bit"}},
	}

	readCR2Fn = func() uintptr { return 0x40001000 }
	currentTaskIDFn = func() uint32 { return 3 }

	for specIndex, spec := range specs {
		var (
			buf       bytes.Buffer
			haltCount int
		)

		kfmt.SetOutputSink(&buf)
		haltFn = func() { haltCount++ }

		pageFaultHandler(&irq.Registers{
			IntNo: uint32(irq.PageFaultException),
			Error: spec.errorCode,
			EIP:   0x100400,
			CS:    0x08,
		})

		if haltCount != 1 {
			t.Fatalf("[spec %d] expected the CPU to be halted; got %d halt calls", specIndex, haltCount)
		}

		out := buf.String()
		for _, word := range []string{"task = 3", "addr = 40001000"} {
			if !strings.Contains(out, word) {
				t.Errorf("[spec %d] expected output to contain %q; got %q", specIndex, word, out)
			}
		}

		for _, word := range spec.expWords {
			if !strings.Contains(out, word) {
				t.Errorf("[spec %d] expected decoded error to contain %q; got %q", specIndex, word, out)
			}
		}
	}
}

func TestInstallFaultHandler(t *testing.T) {
	defer func() {
		installHandlerFn = irq.InstallHandler
		uninstallHandlerFn = irq.UninstallHandler
	}()

	var uninstalled, installed irq.InterruptNumber
	uninstallHandlerFn = func(num irq.InterruptNumber) { uninstalled = num }
	installHandlerFn = func(num irq.InterruptNumber, _ irq.Handler) { installed = num }

	installFaultHandler()

	if uninstalled != irq.PageFaultException || installed != irq.PageFaultException {
		t.Fatalf("expected the previous vector 14 handler to be replaced; got uninstall=%d install=%d", uninstalled, installed)
	}
}
