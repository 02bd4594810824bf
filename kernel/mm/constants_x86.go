package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(2)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right
	// by PageShift) and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// KernelSpace marks the boundary between the user portion of a
	// virtual address space (below) and the kernel portion that is shared
	// by all address spaces (above).
	KernelSpace = uintptr(0xC0000000)
)
