package vmm

import (
	"eduos/kernel"
	"eduos/kernel/cpu"
	"eduos/kernel/mm"
	"eduos/kernel/sync"
)

var (
	// kernelSpaceLock serializes updates to the kernel portion of the
	// page tables, which is shared by every address space. The per-space
	// page lock guards the user portion. Code that needs both takes the
	// kernel space lock first.
	kernelSpaceLock sync.Spinlock

	// bootSpace describes the address space established by the boot
	// stub. It becomes the active space during Init and is inherited by
	// the idle task.
	bootSpace AddressSpace

	// activeSpace tracks the address space the MMU currently walks. It
	// is updated by Activate with interrupts disabled.
	activeSpace = &bootSpace

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	activePageDirectoryFn = cpu.ActivePageDirectory
	switchPageDirectoryFn = cpu.SwitchPageDirectory

	// pageCopyFn copies the 4 KiB of a user page between two mapped
	// virtual addresses during an address space copy.
	pageCopyFn = kernel.Memcopy
)

// AddressSpace describes a per-task set of page tables: the physical frame
// of the root directory whose last entry references itself, a page lock
// guarding the user portion of the tables, and a count of the user-owned
// frames reachable from the directory.
type AddressSpace struct {
	pdFrame mm.Frame

	lock sync.IRQSpinlock

	userPages uint32
}

// PageDirectory returns the physical frame holding the root directory of
// this address space.
func (as *AddressSpace) PageDirectory() mm.Frame {
	return as.pdFrame
}

// UserPages returns the number of user-owned frames charged to this address
// space.
func (as *AddressSpace) UserPages() uint32 {
	return as.userPages
}

// AllocateRoot reserves the physical frame that will hold the root directory
// of this address space. The directory contents are populated by CopyInto.
func (as *AddressSpace) AllocateRoot() *kernel.Error {
	frame, err := mm.AllocFrame()
	if err != nil {
		return kernel.ErrNoMemory
	}

	as.pdFrame = frame
	as.userPages = 0
	return nil
}

// ReleaseRoot returns the root directory frame to the frame allocator. The
// caller must have torn down the user mappings via DropUser first and must
// never release the active address space.
func (as *AddressSpace) ReleaseRoot() {
	if as.pdFrame == 0 {
		return
	}

	mm.ReleaseFrame(as.pdFrame)
	as.pdFrame = 0
}

// Activate loads this address space's root directory into CR3 (flushing all
// non-global TLB entries) and marks it as the space the self-mapping windows
// operate on. It is called from the scheduler with interrupts disabled.
func (as *AddressSpace) Activate() {
	activeSpace = as
	switchPageDirectoryFn(as.pdFrame.Address())
}

// MarkActive records as as the space the self-mapping windows operate on
// without touching CR3. It is used by the scheduler right before a context
// switch; the switch routine itself performs the CR3 reload.
func (as *AddressSpace) MarkActive() {
	activeSpace = as
}

// AdoptActive captures the currently loaded root directory into as and makes
// as the active space. The task subsystem uses it once at boot to hand the
// boot page tables to the idle task.
func (as *AddressSpace) AdoptActive() {
	as.pdFrame = mm.FrameFromAddress(activePageDirectoryFn())
	activeSpace = as
}

// ActiveSpace returns the address space the MMU is currently walking.
func ActiveSpace() *AddressSpace {
	return activeSpace
}

// adoptBootSpace captures the root directory installed by the boot stub so
// that the kernel's initial mappings are owned by bootSpace.
func adoptBootSpace() {
	bootSpace.AdoptActive()
}

// CopyInto clones the active address space into dest. Kernel mappings are
// shared by copying the entries verbatim; user tables and user pages are
// duplicated into freshly allocated frames and charged to dest. Entries
// marked with FlagSelf are never copied: dest receives its own self
// reference in the last directory slot instead.
//
// The destination tables are reached by temporarily installing dest's root
// directory in the shadow directory slot of the active space.
func CopyInto(dest *AddressSpace) *kernel.Error {
	if dest == nil || !dest.pdFrame.Valid() || dest.pdFrame == 0 {
		return kernel.ErrInvalidArgument
	}

	src := activeSpace
	src.lock.Acquire()
	defer src.lock.Release()

	// Install the temporary shadow self-reference addressing dest.
	shadow := selfPDEntry(shadowPDIndex)
	*shadow = 0
	shadow.SetFrame(dest.pdFrame)
	shadow.SetFlags(FlagPresent | FlagRW | FlagSelf)
	flushTLBEntryFn(otherPDVirtAddr)

	err := copyRoot(dest)

	// Give dest its own self-reference and drop the shadow mapping.
	selfRef := otherPDEntry(selfPDIndex)
	*selfRef = 0
	selfRef.SetFrame(dest.pdFrame)
	selfRef.SetFlags(FlagPresent | FlagRW | FlagSelf)

	*selfPDEntry(shadowPDIndex) = 0
	flushTLBFn()

	return err
}

// copyRoot performs the pre-order traversal of the root directory for
// CopyInto: absent and self-referencing entries are zeroed in dest, user
// tables are duplicated, anything else is shared verbatim.
func copyRoot(dest *AddressSpace) *kernel.Error {
	for pdIndex := uintptr(0); pdIndex < pageMapEntries; pdIndex++ {
		pde := *selfPDEntry(pdIndex)
		dst := otherPDEntry(pdIndex)

		switch {
		case !pde.HasFlags(FlagPresent), pde.HasFlags(FlagSelf):
			*dst = 0
		case pde.HasFlags(FlagUserAccessible):
			tableFrame, err := mm.AllocFrame()
			if err != nil {
				return kernel.ErrNoMemory
			}

			*dst = 0
			dst.SetFrame(tableFrame)
			dst.SetFlags(pde.Flags())
			dest.userPages++
			flushTLBEntryFn(otherPTBase + (pdIndex << mm.PageShift))

			if err := copyTable(dest, pdIndex); err != nil {
				return err
			}
		default:
			// Kernel tables are shared between all address spaces.
			*dst = pde
		}
	}

	return nil
}

// copyTable duplicates the leaf table with the given directory index into
// the destination address space, copying the contents of every user page
// through the scratch mapping.
func copyTable(dest *AddressSpace, pdIndex uintptr) *kernel.Error {
	firstVpn := pdIndex << pageMapBits

	for vpn := firstVpn; vpn < firstVpn+pageMapEntries; vpn++ {
		pte := *selfPTEntry(vpn)
		dst := otherPTEntry(vpn)

		switch {
		case !pte.HasFlags(FlagPresent), pte.HasFlags(FlagSelf):
			*dst = 0
		case pte.HasFlags(FlagUserAccessible):
			pageFrame, err := mm.AllocFrame()
			if err != nil {
				return kernel.ErrNoMemory
			}

			*dst = 0
			dst.SetFrame(pageFrame)
			dst.SetFlags(pte.Flags())
			dest.userPages++

			copyPageContents(vpn<<mm.PageShift, pageFrame)
		default:
			*dst = pte
		}
	}

	return nil
}

// copyPageContents copies the page at srcAddr in the active address space
// into the supplied frame by mapping the frame at the scratch page.
func copyPageContents(srcAddr uintptr, frame mm.Frame) {
	tmp := selfPTEntry(pageTmpAddr >> mm.PageShift)

	*tmp = 0
	tmp.SetFrame(frame)
	tmp.SetFlags(FlagPresent | FlagRW)
	flushTLBEntryFn(pageTmpAddr)

	pageCopyFn(srcAddr, pageTmpAddr, mm.PageSize)

	*tmp = 0
	flushTLBEntryFn(pageTmpAddr)
}

// DropUser tears down the user portion of the active address space: a
// post-order traversal frees every user page and then the user table that
// mapped it, uncharging each freed frame. Kernel tables and the root
// directory itself are left in place.
func DropUser() {
	as := activeSpace
	as.lock.Acquire()
	defer as.lock.Release()

	for pdIndex := uintptr(0); pdIndex < pageMapEntries; pdIndex++ {
		pde := selfPDEntry(pdIndex)
		if !pde.HasFlags(FlagPresent) || pde.HasAnyFlag(FlagSelf) || !pde.HasFlags(FlagUserAccessible) {
			continue
		}

		firstVpn := pdIndex << pageMapBits
		for vpn := firstVpn; vpn < firstVpn+pageMapEntries; vpn++ {
			pte := selfPTEntry(vpn)
			if !pte.HasFlags(FlagPresent|FlagUserAccessible) || pte.HasAnyFlag(FlagSelf) {
				continue
			}

			mm.ReleaseFrame(pte.Frame())
			as.userPages--
			*pte = 0
		}

		mm.ReleaseFrame(pde.Frame())
		as.userPages--
		*pde = 0
		flushTLBEntryFn(selfPTBase + (pdIndex << mm.PageShift))
	}
}
