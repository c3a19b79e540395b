package blockio

import (
	"unsafe"

	"github.com/ncw/directio"
)

// IsAligned reports whether the first byte of b sits on a
// directio.AlignSize boundary. Platforms without an alignment requirement
// report true, as does an empty slice.
func IsAligned(b []byte) bool {
	align := uintptr(directio.AlignSize)
	if align == 0 || len(b) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&b[0]))&(align-1) == 0
}
