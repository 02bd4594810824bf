package vmm

import "eduos/kernel/mm"

const (
	// pageLevels indicates the number of page table levels used by
	// 32-bit x86 paging without PAE: a root directory and one level of
	// leaf tables.
	pageLevels = 2

	// pageMapBits is the number of virtual address bits that select an
	// entry within a single table; each table holds 1 << pageMapBits
	// entries.
	pageMapBits = 10

	// pageMapEntries is the number of entries in a directory or table.
	pageMapEntries = 1 << pageMapBits

	// ptePhysPageMask extracts the physical frame address from a page
	// table entry; the low 12 bits hold the entry flags.
	ptePhysPageMask = uintptr(0xfffff000)

	// selfPDIndex is the directory slot holding the permanent
	// self-reference; shadowPDIndex is the slot borrowed by address
	// space copies to reach the destination tables.
	selfPDIndex   = pageMapEntries - 1
	shadowPDIndex = pageMapEntries - 2

	// The permanent self-reference in the last directory slot turns the
	// top 4 MiB of the address space into a window over the paging
	// structures themselves: selfPTBase is a linear image of all 1024
	// leaf tables indexed by virtual page number and selfPDVirtAddr is
	// the directory.
	selfPTBase     = uintptr(selfPDIndex << (pageMapBits + mm.PageShift))
	selfPDVirtAddr = selfPTBase + uintptr(selfPDIndex<<mm.PageShift)

	// The shadow self-reference installed at shadowPDIndex during an
	// address space copy yields the analogous window over the
	// destination tables.
	otherPTBase     = uintptr(shadowPDIndex << (pageMapBits + mm.PageShift))
	otherPDVirtAddr = selfPTBase + uintptr(shadowPDIndex<<mm.PageShift)
)

var (
	// pageTmpAddr is the scratch virtual page used to reach freshly
	// allocated frames while copying user page contents between address
	// spaces. It sits on the page right below the kernel image and is
	// recomputed from the load address during Init.
	pageTmpAddr = uintptr(0xff000)
)
