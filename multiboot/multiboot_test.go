package multiboot

import (
	"testing"
	"unsafe"
)

// fakeInfo assembles a multiboot info record together with a memory map, a
// module list and a command line inside a single buffer.
type fakeInfo struct {
	hdr     info
	mmap    [3]mmapEntry
	mods    [2]moduleEntry
	cmdLine [64]byte
	modCmd  [16]byte
}

func makeFakeInfo() *fakeInfo {
	fake := &fakeInfo{}

	fake.mmap = [3]mmapEntry{
		{size: 20, baseAddr: 0, length: 0x9fc00, entryTyp: uint32(MemAvailable)},
		{size: 20, baseAddr: 0x9fc00, length: 0x400, entryTyp: uint32(MemReserved)},
		{size: 20, baseAddr: 0x100000, length: 0x7ee0000, entryTyp: uint32(MemAvailable)},
	}

	copy(fake.modCmd[:], "initrd\x00")
	fake.mods = [2]moduleEntry{
		{modStart: 0x200000, modEnd: 0x203000, cmdLine: uint32(uintptr(unsafe.Pointer(&fake.modCmd[0])))},
		{modStart: 0x204000, modEnd: 0x205000},
	}

	copy(fake.cmdLine[:], "console=vga loglevel=2 debug\x00")

	fake.hdr.flags = flagCmdLine | flagModules | flagMemoryMap
	fake.hdr.cmdLine = uint32(uintptr(unsafe.Pointer(&fake.cmdLine[0])))
	fake.hdr.modsCount = uint32(len(fake.mods))
	fake.hdr.modsAddr = uint32(uintptr(unsafe.Pointer(&fake.mods[0])))
	fake.hdr.mmapLength = uint32(uintptr(len(fake.mmap)) * unsafe.Sizeof(mmapEntry{}))
	fake.hdr.mmapAddr = uint32(uintptr(unsafe.Pointer(&fake.mmap[0])))

	return fake
}

func TestVisitMemRegions(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 4 {
		t.Skip("test requires a 32-bit target; run with GOARCH=386")
	}

	defer SetInfoPtr(0)
	fake := makeFakeInfo()
	SetInfoPtr(uintptr(unsafe.Pointer(&fake.hdr)))

	var got []MemoryMapEntry
	VisitMemRegions(func(entry *MemoryMapEntry) bool {
		got = append(got, *entry)
		return true
	})

	if exp := len(fake.mmap); len(got) != exp {
		t.Fatalf("expected visitor to be called %d times; got %d", exp, len(got))
	}

	if got[1].Type != MemReserved || got[1].PhysAddress != 0x9fc00 {
		t.Fatalf("unexpected second region: %+v", got[1])
	}

	// An aborted scan stops at the first region
	count := 0
	VisitMemRegions(func(*MemoryMapEntry) bool {
		count++
		return false
	})

	if count != 1 {
		t.Fatalf("expected aborted scan to visit 1 region; got %d", count)
	}
}

func TestVisitModules(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 4 {
		t.Skip("test requires a 32-bit target; run with GOARCH=386")
	}

	defer SetInfoPtr(0)
	fake := makeFakeInfo()
	SetInfoPtr(uintptr(unsafe.Pointer(&fake.hdr)))

	var got []ModuleEntry
	VisitModules(func(entry *ModuleEntry) bool {
		got = append(got, *entry)
		return true
	})

	if exp := 2; len(got) != exp {
		t.Fatalf("expected visitor to be called %d times; got %d", exp, len(got))
	}

	if got[0].CmdLine != "initrd" {
		t.Fatalf("expected first module cmdline to be %q; got %q", "initrd", got[0].CmdLine)
	}

	if got[1].Start != 0x204000 || got[1].End != 0x205000 || got[1].CmdLine != "" {
		t.Fatalf("unexpected second module: %+v", got[1])
	}
}

func TestGetBootCmdLine(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 4 {
		t.Skip("test requires a 32-bit target; run with GOARCH=386")
	}

	defer SetInfoPtr(0)
	fake := makeFakeInfo()
	SetInfoPtr(uintptr(unsafe.Pointer(&fake.hdr)))

	kv := GetBootCmdLine()

	specs := []struct{ key, val string }{
		{"console", "vga"},
		{"loglevel", "2"},
		{"debug", ""},
	}

	for _, spec := range specs {
		if got, ok := kv[spec.key]; !ok || got != spec.val {
			t.Errorf("expected cmdline key %q to map to %q; got %q (present: %t)", spec.key, spec.val, got, ok)
		}
	}

	// Memoized map is returned on subsequent calls
	kv["marker"] = "1"
	if again := GetBootCmdLine(); again["marker"] != "1" {
		t.Error("expected GetBootCmdLine to memoize the parsed map")
	}
}

func TestVisitorsWithoutInfo(t *testing.T) {
	SetInfoPtr(0)

	VisitMemRegions(func(*MemoryMapEntry) bool {
		t.Fatal("unexpected visitor call without multiboot info")
		return true
	})

	VisitModules(func(*ModuleEntry) bool {
		t.Fatal("unexpected visitor call without multiboot info")
		return true
	})

	if kv := GetBootCmdLine(); len(kv) != 0 {
		t.Fatalf("expected empty cmdline map; got %v", kv)
	}
}
