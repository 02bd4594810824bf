package kernel

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"unsafe"

	"eduos/kernel/kfmt"
)

func TestPanic(t *testing.T) {
	defer func(origHalt func()) {
		cpuHaltFn = origHalt
		kfmt.SetOutputSink(nil)
	}(cpuHaltFn)

	specs := []struct {
		input     interface{}
		expMsg    string
		expModule string
	}{
		{&Error{Module: "pmm", Message: "out of frames"}, "out of frames", "pmm"},
		{"stack overflow", "stack overflow", "rt"},
		{errors.New("wrapped"), "wrapped", "rt"},
	}

	for specIndex, spec := range specs {
		var (
			buf       bytes.Buffer
			haltCount int
		)

		cpuHaltFn = func() { haltCount++ }
		kfmt.SetOutputSink(&buf)

		Panic(spec.input)

		if haltCount != 1 {
			t.Fatalf("[spec %d] expected the CPU to be halted once; got %d", specIndex, haltCount)
		}

		out := buf.String()
		if !strings.Contains(out, spec.expMsg) || !strings.Contains(out, "["+spec.expModule+"]") {
			t.Errorf("[spec %d] expected output to mention [%s] %q; got %q", specIndex, spec.expModule, spec.expMsg, out)
		}
	}
}

func bufAddr(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

func TestMemset(t *testing.T) {
	// A zero size must not touch anything
	Memset(0, 0x00, 0)

	for _, size := range []uintptr{1, 7, 64, 1000} {
		buf := make([]byte, size)
		Memset(bufAddr(buf), 0xfe, size)

		for i, b := range buf {
			if b != 0xfe {
				t.Fatalf("[size %d] expected byte %d to be 0xfe; got %x", size, i, b)
			}
		}
	}
}

func TestMemcopy(t *testing.T) {
	Memcopy(0, 0, 0)

	src := make([]byte, 129)
	dst := make([]byte, 129)
	for i := range src {
		src[i] = byte(i)
	}

	Memcopy(bufAddr(src), bufAddr(dst), uintptr(len(src)))

	for i := range dst {
		if dst[i] != byte(i) {
			t.Fatalf("expected byte %d to be copied; got %x", i, dst[i])
		}
	}
}
