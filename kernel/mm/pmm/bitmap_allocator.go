// Package pmm implements the physical frame allocator. Frame ownership is
// tracked by a bitmap covering the full 32-bit physical address space; the
// allocator hands out page-aligned contiguous extents using a first-fit scan
// and is the only authority that flips bitmap bits.
package pmm

import (
	"eduos/kernel"
	"eduos/kernel/kfmt"
	"eduos/kernel/mm"
	"eduos/kernel/sync"
	"eduos/multiboot"
)

const (
	// maxFrames is the number of frames required to cover 4 GiB of
	// physical memory.
	maxFrames = uint32(1) << 20

	// bitmapSize is the size of the frame bitmap in bytes.
	bitmapSize = maxFrames >> 3
)

var (
	// FrameAllocator is the BitmapAllocator instance that serves as the
	// primary allocator for reserving pages.
	FrameAllocator BitmapAllocator

	// visitMemRegionsFn is mocked by tests and is automatically inlined
	// by the compiler.
	visitMemRegionsFn = multiboot.VisitMemRegions
	visitModulesFn    = multiboot.VisitModules
)

// BitmapAllocator tracks physical frame reservations using a bitmap. Bit i
// is set iff some owner holds frame i. Frame 0 is permanently reserved so
// that a zero physical address can double as an allocation failure marker.
type BitmapAllocator struct {
	lock sync.Spinlock

	bitmap [bitmapSize]uint8

	// totalPages tracks the number of usable frames reported by the
	// bootloader. allocatedPages and availablePages are adjusted by
	// exactly the number of bits flipped so that the sum of marked
	// usable frames always equals allocatedPages.
	totalPages     uint32
	allocatedPages uint32
	availablePages uint32
}

// frameMarked returns true if the bitmap bit for the supplied frame is set.
func (alloc *BitmapAllocator) frameMarked(frame mm.Frame) bool {
	return alloc.bitmap[frame>>3]&(1<<(frame&0x7)) != 0
}

// markFrame sets the bitmap bit for the supplied frame.
func (alloc *BitmapAllocator) markFrame(frame mm.Frame) {
	alloc.bitmap[frame>>3] |= 1 << (frame & 0x7)
}

// clearFrame clears the bitmap bit for the supplied frame.
func (alloc *BitmapAllocator) clearFrame(frame mm.Frame) {
	alloc.bitmap[frame>>3] &^= 1 << (frame & 0x7)
}

// reserveAll marks every frame in the bitmap as reserved. Init starts from
// this state and punches out the usable regions reported by the bootloader.
func (alloc *BitmapAllocator) reserveAll() {
	for i := range alloc.bitmap {
		alloc.bitmap[i] = 0xff
	}
	alloc.totalPages = 0
	alloc.allocatedPages = 0
	alloc.availablePages = 0
}

// markRegionAvailable clears the bitmap bits for frameCount frames starting
// at firstFrame and grows the usable page counters accordingly. Frame 0 is
// never made available.
func (alloc *BitmapAllocator) markRegionAvailable(firstFrame mm.Frame, frameCount uint32) {
	for frame := firstFrame; frame < firstFrame+mm.Frame(frameCount); frame++ {
		if frame == 0 || uint32(frame) >= maxFrames || !alloc.frameMarked(frame) {
			continue
		}

		alloc.clearFrame(frame)
		alloc.totalPages++
		alloc.availablePages++
	}
}

// markRegionReserved flags frameCount frames starting at firstFrame as
// allocated. It is used during Init to carve out the kernel image and the
// boot module extents from the usable regions.
func (alloc *BitmapAllocator) markRegionReserved(firstFrame mm.Frame, frameCount uint32) {
	for frame := firstFrame; frame < firstFrame+mm.Frame(frameCount); frame++ {
		if uint32(frame) >= maxFrames || alloc.frameMarked(frame) {
			continue
		}

		alloc.markFrame(frame)
		alloc.allocatedPages++
		alloc.availablePages--
	}
}

// AllocFrames reserves frameCount contiguous frames and returns the first
// frame of the reserved extent. The scan starts at frame 1 and uses a
// first-fit policy. If frameCount is zero or exceeds the number of available
// frames no allocation takes place.
func (alloc *BitmapAllocator) AllocFrames(frameCount uint32) (mm.Frame, *kernel.Error) {
	if frameCount == 0 {
		return mm.InvalidFrame, kernel.ErrInvalidArgument
	}

	alloc.lock.Acquire()

	if frameCount > alloc.availablePages {
		alloc.lock.Release()
		return mm.InvalidFrame, kernel.ErrNoMemory
	}

	var run uint32
	for frame := mm.Frame(1); uint32(frame) <= maxFrames-frameCount; {
		for run = 0; run < frameCount; run++ {
			if alloc.frameMarked(frame + mm.Frame(run)) {
				break
			}
		}

		if run == frameCount {
			for run = 0; run < frameCount; run++ {
				alloc.markFrame(frame + mm.Frame(run))
			}

			alloc.allocatedPages += frameCount
			alloc.availablePages -= frameCount
			alloc.lock.Release()
			return frame, nil
		}

		frame += mm.Frame(run + 1)
	}

	alloc.lock.Release()
	return mm.InvalidFrame, kernel.ErrNoMemory
}

// FreeFrames clears the bitmap bits for frameCount frames starting at the
// supplied frame and returns the number of bits that were actually set. The
// counters are adjusted by the returned count, not by frameCount, so double
// frees keep the accounting consistent. Frame 0 is never freed.
func (alloc *BitmapAllocator) FreeFrames(frame mm.Frame, frameCount uint32) uint32 {
	if frame == 0 || frameCount == 0 {
		return 0
	}

	alloc.lock.Acquire()

	var freed uint32
	for cur := frame; cur < frame+mm.Frame(frameCount); cur++ {
		if uint32(cur) >= maxFrames || !alloc.frameMarked(cur) {
			continue
		}

		alloc.clearFrame(cur)
		freed++
	}

	alloc.allocatedPages -= freed
	alloc.availablePages += freed

	alloc.lock.Release()
	return freed
}

// AllocFrame reserves a single frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	return alloc.AllocFrames(1)
}

// FreeFrame releases a single frame.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) {
	alloc.FreeFrames(frame, 1)
}

// Stats returns the total, allocated and available usable page counts.
func (alloc *BitmapAllocator) Stats() (total, allocated, available uint32) {
	alloc.lock.Acquire()
	total, allocated, available = alloc.totalPages, alloc.allocatedPages, alloc.availablePages
	alloc.lock.Release()
	return total, allocated, available
}

func (alloc *BitmapAllocator) printStats() {
	kfmt.Printf(
		"[pmm] page stats: free: %d/%d (%d reserved)\n",
		alloc.availablePages,
		alloc.totalPages,
		alloc.allocatedPages,
	)
}

// init seeds the bitmap from the bootloader memory map and flags the frames
// occupied by the kernel image and the boot modules as reserved.
func (alloc *BitmapAllocator) init(kernelStart, kernelEnd uintptr) *kernel.Error {
	alloc.reserveAll()

	pageSizeMinus1 := uint64(mm.PageSize - 1)
	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame.
		regionStartFrame := mm.Frame(((region.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
		regionEndFrame := mm.Frame(((region.PhysAddress+region.Length)&^pageSizeMinus1)>>mm.PageShift) - 1
		if regionEndFrame < regionStartFrame {
			return true
		}

		alloc.markRegionAvailable(regionStartFrame, uint32(regionEndFrame-regionStartFrame+1))
		return true
	})

	// The kernel image must occupy a contiguous physical block.
	kernelStartFrame := mm.FrameFromAddress(kernelStart)
	kernelEndFrame := mm.FrameFromAddress(kernelEnd + mm.PageSize - 1)
	alloc.markRegionReserved(kernelStartFrame, uint32(kernelEndFrame-kernelStartFrame))

	visitModulesFn(func(module *multiboot.ModuleEntry) bool {
		moduleStartFrame := mm.FrameFromAddress(uintptr(module.Start))
		moduleEndFrame := mm.FrameFromAddress(uintptr(module.End) + mm.PageSize - 1)
		alloc.markRegionReserved(moduleStartFrame, uint32(moduleEndFrame-moduleStartFrame))
		return true
	})

	alloc.printStats()
	return nil
}

// allocFrame is a helper that delegates a frame allocation request to the
// FrameAllocator instance. It is registered with mm.SetFrameAllocator
// instead of FrameAllocator.AllocFrame to keep the compiler's escape
// analysis from flagging the receiver as escaping.
func allocFrame() (mm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrame()
}

func releaseFrame(frame mm.Frame) {
	FrameAllocator.FreeFrame(frame)
}

// Init sets up the kernel physical memory allocation sub-system and
// registers the allocator with the mm hooks consumed by the vmm code.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	if err := FrameAllocator.init(kernelStart, kernelEnd); err != nil {
		return err
	}

	mm.SetFrameAllocator(allocFrame)
	mm.SetFrameReleaser(releaseFrame)
	return nil
}
