// Package multiboot reads the information record that a Multiboot v1
// compliant bootloader hands to the kernel: the physical memory map that
// seeds the frame allocator, the list of loaded boot modules and the boot
// command line.
package multiboot

import (
	"reflect"
	"strings"
	"unsafe"
)

var (
	infoData  uintptr
	cmdLineKV map[string]string
)

// infoFlag describes a capability bit in the info record's flags field. A
// set bit indicates that the corresponding record section is valid.
type infoFlag uint32

const (
	flagMemInfo infoFlag = 1 << iota
	flagBootDevice
	flagCmdLine
	flagModules
	flagAoutSyms
	flagElfSyms
	flagMemoryMap
)

// info describes the multiboot v1 information record header. The layout is
// dictated by the specification; all fields are physical addresses or
// lengths in bytes.
type info struct {
	flags infoFlag

	// Amount of lower (< 1 MiB) and upper memory in KiB.
	memLower uint32
	memUpper uint32

	bootDevice uint32

	// Physical address of the C-string holding the boot command line.
	cmdLine uint32

	modsCount uint32
	modsAddr  uint32

	syms [4]uint32

	mmapLength uint32
	mmapAddr   uint32
}

// MemoryEntryType defines the type of a memory map entry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates memory that is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates memory that must not be used.
	MemReserved

	// MemAcpiReclaimable indicates memory holding ACPI info that can be
	// reused by the kernel once the tables have been parsed.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown indicates a defective RAM module.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "acpi (reclaimable)"
	case MemNvs:
		return "nvs"
	default:
		return "defective"
	}
}

// MemoryMapEntry describes a physical memory region reported by the
// bootloader.
type MemoryMapEntry struct {
	// The physical address of the start of the region.
	PhysAddress uint64

	// The length of the region in bytes.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// mmapEntry describes the wire format of a memory map entry. The size field
// counts the bytes that follow it; entries may carry vendor extensions so
// size must be used for iteration instead of the struct size.
type mmapEntry struct {
	size     uint32
	baseAddr uint64
	length   uint64
	entryTyp uint32
}

// MemRegionVisitor defines a visitor function for memory map entries.
// Returning false terminates the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// VisitMemRegions will invoke the supplied visitor for each memory region
// that is defined by the multiboot info data that we received.
func VisitMemRegions(visitor MemRegionVisitor) {
	if infoData == 0 {
		return
	}

	mbInfo := (*info)(unsafe.Pointer(infoData))
	if mbInfo.flags&flagMemoryMap == 0 {
		return
	}

	var entry MemoryMapEntry
	curPtr := uintptr(mbInfo.mmapAddr)
	endPtr := curPtr + uintptr(mbInfo.mmapLength)

	for curPtr < endPtr {
		raw := (*mmapEntry)(unsafe.Pointer(curPtr))

		entry.PhysAddress = raw.baseAddr
		entry.Length = raw.length
		entry.Type = MemoryEntryType(raw.entryTyp)
		if entry.Type >= memUnknown || entry.Type == 0 {
			entry.Type = memUnknown
		}

		if !visitor(&entry) {
			return
		}

		// The size field does not count itself.
		curPtr += uintptr(raw.size) + 4
	}
}

// ModuleEntry describes a boot module loaded by the bootloader.
type ModuleEntry struct {
	// Physical extent [Start, End) of the module image.
	Start uint32
	End   uint32

	// The module command line.
	CmdLine string
}

// moduleEntry describes the wire format of a module list entry.
type moduleEntry struct {
	modStart uint32
	modEnd   uint32
	cmdLine  uint32
	pad      uint32
}

// ModuleVisitor defines a visitor function for boot modules. Returning false
// terminates the scan.
type ModuleVisitor func(entry *ModuleEntry) bool

// VisitModules invokes the supplied visitor for each module loaded by the
// bootloader. The module extents must be identity-mapped by the paging code
// before their contents can be accessed.
func VisitModules(visitor ModuleVisitor) {
	if infoData == 0 {
		return
	}

	mbInfo := (*info)(unsafe.Pointer(infoData))
	if mbInfo.flags&flagModules == 0 {
		return
	}

	var entry ModuleEntry
	for i := uint32(0); i < mbInfo.modsCount; i++ {
		raw := (*moduleEntry)(unsafe.Pointer(uintptr(mbInfo.modsAddr) + uintptr(i)*unsafe.Sizeof(moduleEntry{})))

		entry.Start = raw.modStart
		entry.End = raw.modEnd
		entry.CmdLine = cString(uintptr(raw.cmdLine))

		if !visitor(&entry) {
			return
		}
	}
}

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before any other function exported by
// this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
	cmdLineKV = nil
}

// GetBootCmdLine parses the boot command line into a key/value map. Flag
// arguments without a value are mapped to an empty string. The parsed map is
// memoized; only the first call pays for the parse.
func GetBootCmdLine() map[string]string {
	if cmdLineKV != nil {
		return cmdLineKV
	}

	cmdLineKV = make(map[string]string)
	if infoData == 0 {
		return cmdLineKV
	}

	mbInfo := (*info)(unsafe.Pointer(infoData))
	if mbInfo.flags&flagCmdLine == 0 {
		return cmdLineKV
	}

	for _, field := range strings.Fields(cString(uintptr(mbInfo.cmdLine))) {
		if eqIndex := strings.Index(field, "="); eqIndex != -1 {
			cmdLineKV[field[:eqIndex]] = field[eqIndex+1:]
		} else {
			cmdLineKV[field] = ""
		}
	}

	return cmdLineKV
}

// cString overlays a string header on top of a NUL-terminated C string.
func cString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}

	var length int
	for ; *(*byte)(unsafe.Pointer(ptr + uintptr(length))) != 0; length++ {
	}

	return *(*string)(unsafe.Pointer(&reflect.StringHeader{
		Data: ptr,
		Len:  length,
	}))
}
