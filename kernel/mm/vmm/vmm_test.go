package vmm

import (
	"testing"

	"eduos/kernel"
	"eduos/kernel/irq"
	"eduos/kernel/mm"
	"eduos/multiboot"
)

func TestInit(t *testing.T) {
	defer func(origMap func(uintptr, uintptr, int, PageTableEntryFlag) *kernel.Error, origVisit func(multiboot.ModuleVisitor), origActivePD func() uintptr) {
		mapFn = origMap
		visitModulesFn = origVisit
		activePageDirectoryFn = origActivePD
		uninstallHandlerFn = irq.UninstallHandler
		installHandlerFn = irq.InstallHandler
	}(mapFn, visitModulesFn, activePageDirectoryFn)
	defer func(origBoot AddressSpace, origActive *AddressSpace) {
		bootSpace = origBoot
		activeSpace = origActive
	}(bootSpace, activeSpace)

	activePageDirectoryFn = func() uintptr { return 0x2000 }

	type mapCall struct {
		virtAddr, physAddr uintptr
		pageCount          int
		flags              PageTableEntryFlag
	}

	var mapCalls []mapCall
	mapFn = func(virtAddr, physAddr uintptr, pageCount int, flags PageTableEntryFlag) *kernel.Error {
		mapCalls = append(mapCalls, mapCall{virtAddr, physAddr, pageCount, flags})
		return nil
	}

	visitModulesFn = func(visitor multiboot.ModuleVisitor) {
		module := multiboot.ModuleEntry{Start: 0x200000, End: 0x202800}
		visitor(&module)
	}

	installedVector := irq.InterruptNumber(0)
	installHandlerFn = func(num irq.InterruptNumber, _ irq.Handler) { installedVector = num }
	uninstallHandlerFn = func(irq.InterruptNumber) {}

	if err := Init(0x100123, 0x134567); err != nil {
		t.Fatal(err)
	}

	if installedVector != irq.PageFaultException {
		t.Fatalf("expected the page fault handler to be installed on vector 14; got %d", installedVector)
	}

	// The scratch page sits right below the kernel image
	if exp := uintptr(0x100000 - 0x1000); pageTmpAddr != exp {
		t.Fatalf("expected scratch page at %x; got %x", exp, pageTmpAddr)
	}

	if bootSpace.PageDirectory() != mm.Frame(2) {
		t.Fatalf("expected boot space to adopt frame 2; got %d", bootSpace.PageDirectory())
	}

	if exp := 2; len(mapCalls) != exp {
		t.Fatalf("expected %d Map calls; got %d", exp, len(mapCalls))
	}

	// Kernel identity mapping: floor(start) .. ceil(end), global RW
	kernelMap := mapCalls[0]
	if kernelMap.virtAddr != 0x100000 || kernelMap.physAddr != 0x100000 {
		t.Fatalf("expected identity mapping of the kernel; got virt %x phys %x", kernelMap.virtAddr, kernelMap.physAddr)
	}
	if exp := 0x35; kernelMap.pageCount != exp {
		t.Fatalf("expected kernel mapping to span %d pages; got %d", exp, kernelMap.pageCount)
	}
	if kernelMap.flags != FlagPresent|FlagRW|FlagGlobal {
		t.Fatalf("unexpected kernel mapping flags %x", kernelMap.flags)
	}

	// Module identity mapping: global, user accessible
	moduleMap := mapCalls[1]
	if moduleMap.virtAddr != 0x200000 || moduleMap.pageCount != 3 {
		t.Fatalf("unexpected module mapping: %+v", moduleMap)
	}
	if moduleMap.flags != FlagPresent|FlagUserAccessible|FlagGlobal {
		t.Fatalf("unexpected module mapping flags %x", moduleMap.flags)
	}
}
