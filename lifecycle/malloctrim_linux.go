//go:build linux

package lifecycle

/*
#include <malloc.h>
*/
import "C"

// trimOSMemory calls glibc's malloc_trim(0), mirroring the original's
// ctypes.CDLL("libc.so.6").malloc_trim(0) during idle deep cleanup.
func trimOSMemory() {
	C.malloc_trim(0)
}
