package mm

import (
	"testing"

	"eduos/kernel"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint32(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input uintptr
		exp   Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.exp {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.exp, got)
		}
	}
}

func TestPageMethods(t *testing.T) {
	for pageIndex := uint32(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)

		if exp, got := uintptr(pageIndex<<PageShift), page.Address(); got != exp {
			t.Errorf("expected page (%d, index: %d) call to Address() to return %x; got %x", page, pageIndex, exp, got)
		}
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input uintptr
		exp   Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{4123, Page(1)},
	}

	for specIndex, spec := range specs {
		if got := PageFromAddress(spec.input); got != spec.exp {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.exp, got)
		}
	}
}

func TestAllocatorHooks(t *testing.T) {
	defer func() {
		SetFrameAllocator(nil)
		SetFrameReleaser(nil)
	}()

	expErr := &kernel.Error{Module: "test", Message: "out of memory"}
	SetFrameAllocator(func() (Frame, *kernel.Error) {
		return InvalidFrame, expErr
	})

	if _, err := AllocFrame(); err != expErr {
		t.Fatalf("expected AllocFrame to return %v; got %v", expErr, err)
	}

	var released Frame
	SetFrameReleaser(func(f Frame) { released = f })

	ReleaseFrame(Frame(42))
	if exp := Frame(42); released != exp {
		t.Fatalf("expected ReleaseFrame to release frame %d; got %d", exp, released)
	}
}
