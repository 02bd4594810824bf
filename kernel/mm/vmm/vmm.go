// Package vmm manages per-task virtual address spaces built from
// self-referencing two-level page tables. The last directory entry of every
// address space points back at the directory itself, which turns the top of
// the virtual address space into a window over the paging structures: any
// page table entry can be read or written at a fixed virtual address without
// walking the tables in software.
package vmm

import (
	"eduos/kernel"
	"eduos/kernel/mm"
	"eduos/multiboot"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	mapFn          = Map
	visitModulesFn = multiboot.VisitModules
)

// Init prepares the paging subsystem: it adopts the boot page directory as
// the initial address space, installs the page fault handler, establishes
// the kernel's identity mapping and identity-maps the boot module extents so
// that loaders can reach them from any address space.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	pageTmpAddr = (kernelStart &^ (mm.PageSize - 1)) - mm.PageSize

	adoptBootSpace()
	installFaultHandler()

	kernelFirstPage := kernelStart &^ (mm.PageSize - 1)
	kernelPages := int((((kernelEnd - kernelFirstPage) + mm.PageSize - 1) & ^(mm.PageSize - 1)) >> mm.PageShift)
	if err := mapFn(kernelFirstPage, kernelFirstPage, kernelPages, FlagPresent|FlagRW|FlagGlobal); err != nil {
		return err
	}

	var err *kernel.Error
	visitModulesFn(func(module *multiboot.ModuleEntry) bool {
		moduleFirstPage := uintptr(module.Start) &^ (mm.PageSize - 1)
		modulePages := int((((uintptr(module.End) - moduleFirstPage) + mm.PageSize - 1) & ^(mm.PageSize - 1)) >> mm.PageShift)

		err = mapFn(moduleFirstPage, moduleFirstPage, modulePages, FlagPresent|FlagUserAccessible|FlagGlobal)
		return err == nil
	})

	return err
}
