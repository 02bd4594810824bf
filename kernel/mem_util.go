package kernel

import (
	"reflect"
	"unsafe"
)

// Memset sets size bytes starting at addr to value. Instead of a plain for
// loop the implementation doubles the initialized prefix with log2(size)
// copy calls (the bytes.Repeat trick); page addresses are always aligned so
// the copies are cheap.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	// overlay a slice on top of this address region
	region := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))

	region[0] = value
	for done := uintptr(1); done < size; done *= 2 {
		copy(region[done:], region[:done])
	}
}

// Memcopy copies size bytes from src to dst. The regions must not overlap.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}

	srcRegion := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: src,
	}))
	dstRegion := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: dst,
	}))

	copy(dstRegion, srcRegion)
}
