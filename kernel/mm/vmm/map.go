package vmm

import (
	"eduos/kernel"
	"eduos/kernel/cpu"
	"eduos/kernel/mm"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	flushTLBEntryFn = cpu.FlushTLBEntry
	flushTLBFn      = cpu.FlushTLB

	// nextTableAddrFn translates the self-window address of a freshly
	// installed leaf table to the address that should be cleared. Tests
	// override it to point into their synthetic tables.
	nextTableAddrFn = func(tableAddr uintptr) uintptr {
		return tableAddr
	}

	// ErrInvalidMapping is returned when a virtual address lookup does
	// not reach a mapped physical page.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// MemFlag describes the architecture-independent protection flags accepted
// by MapRegion. They are translated to page table entry bits before the
// mapping is installed.
type MemFlag uintptr

const (
	// MemNoAccess installs the mapping without the present bit so any
	// access faults.
	MemNoAccess MemFlag = 1 << iota

	// MemReadOnly removes write access from the mapping.
	MemReadOnly

	// MemUserSpace makes the mapping accessible to user-mode code and
	// removes it from the set of global (per-CR3 persistent) entries.
	MemUserSpace

	// MemCode marks the region as executable. Plain 32-bit paging cannot
	// express a no-execute bit, so the flag only documents intent.
	MemCode

	// MemWriteThrough enables write-through caching for the region.
	MemWriteThrough

	// MemNoCache disables caching for the region.
	MemNoCache

	// MemRemap allows overwriting an existing mapping for the region.
	MemRemap
)

// pteFlagsForMem translates MapRegion protection flags into page table entry
// bits. The default mapping is a present, writable, global kernel mapping.
func pteFlagsForMem(memFlags MemFlag) PageTableEntryFlag {
	flags := FlagPresent | FlagRW | FlagGlobal

	if memFlags&MemNoAccess != 0 {
		flags &^= FlagPresent
	}
	if memFlags&MemReadOnly != 0 {
		flags &^= FlagRW
	}
	if memFlags&MemUserSpace != 0 {
		flags &^= FlagGlobal
		flags |= FlagUserAccessible
	}
	if memFlags&MemWriteThrough != 0 {
		flags |= FlagWriteThroughCaching
	}
	if memFlags&MemNoCache != 0 {
		flags |= FlagDoNotCache
	}

	return flags
}

// Map establishes mappings for pageCount consecutive virtual pages starting
// at virtAddr to the physical region starting at physAddr in the active
// address space. Missing leaf tables are allocated on the fly and installed
// carrying the supplied entry flags; remapped leaf entries get their TLB
// entry flushed.
//
// When a leaf table allocation fails Map returns ErrNoMemory: mappings not
// yet written are left unchanged but leaf tables installed before the
// failure remain allocated.
//
// Mappings carrying FlagUserAccessible are guarded by the active address
// space's page lock; kernel mappings by the kernel space lock.
func Map(virtAddr, physAddr uintptr, pageCount int, flags PageTableEntryFlag) *kernel.Error {
	if flags&FlagUserAccessible != 0 {
		activeSpace.lock.Acquire()
		defer activeSpace.lock.Release()
	} else {
		kernelSpaceLock.Acquire()
		defer kernelSpaceLock.Release()
	}

	return mapLocked(virtAddr, physAddr, pageCount, flags)
}

// mapLocked installs the mappings with the appropriate lock already held.
func mapLocked(virtAddr, physAddr uintptr, pageCount int, flags PageTableEntryFlag) *kernel.Error {
	var (
		firstVpn = virtAddr >> mm.PageShift
		lastVpn  = firstVpn + uintptr(pageCount) - 1
	)

	// Walk the directory slots covering the region and create any leaf
	// table that is still missing.
	for pdIndex := firstVpn >> pageMapBits; pdIndex <= lastVpn>>pageMapBits; pdIndex++ {
		pde := selfPDEntry(pdIndex)
		if pde.HasFlags(FlagPresent) {
			continue
		}

		tableFrame, err := mm.AllocFrame()
		if err != nil {
			return kernel.ErrNoMemory
		}

		*pde = 0
		pde.SetFrame(tableFrame)
		pde.SetFlags(flags | FlagPresent)

		// The new table becomes visible through the self window; it
		// must be cleared before the MMU can walk it.
		kernel.Memset(nextTableAddrFn(selfPTBase+(pdIndex<<mm.PageShift)), 0, mm.PageSize)
	}

	for vpn := firstVpn; vpn <= lastVpn; vpn, physAddr = vpn+1, physAddr+mm.PageSize {
		pte := selfPTEntry(vpn)
		if pte.HasFlags(FlagPresent) {
			// There is already a page mapped at this address; a
			// single TLB entry has to be flushed.
			flushTLBEntryFn(vpn << mm.PageShift)
		}

		*pte = 0
		pte.SetFrame(mm.FrameFromAddress(physAddr))
		pte.SetFlags(flags | FlagPresent)
	}

	return nil
}

// MapRegion establishes mappings for pageCount consecutive pages starting at
// virtAddr using the architecture-independent protection flags defined by
// this package.
func MapRegion(virtAddr, physAddr uintptr, pageCount int, memFlags MemFlag) *kernel.Error {
	return Map(virtAddr, physAddr, pageCount, pteFlagsForMem(memFlags))
}

// Unmap removes the leaf mappings for pageCount consecutive virtual pages
// starting at virtAddr. Leaf tables stay allocated. Since the region may
// straddle the kernel space boundary both ordering locks are taken, kernel
// space lock first. Stale TLB entries for the removed pages are flushed by
// the next address space switch; callers that keep running on the same
// tables must flush them explicitly.
func Unmap(virtAddr uintptr, pageCount int) *kernel.Error {
	kernelSpaceLock.Acquire()
	defer kernelSpaceLock.Release()
	activeSpace.lock.Acquire()
	defer activeSpace.lock.Release()

	firstVpn := virtAddr >> mm.PageShift
	for vpn := firstVpn; vpn < firstVpn+uintptr(pageCount); vpn++ {
		if !selfPDEntry(vpn >> pageMapBits).HasFlags(FlagPresent) {
			continue
		}

		*selfPTEntry(vpn) = 0
	}

	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	vpn := virtAddr >> mm.PageShift

	if !selfPDEntry(vpn >> pageMapBits).HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	pte := selfPTEntry(vpn)
	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return pte.Frame().Address() + (virtAddr & (mm.PageSize - 1)), nil
}
