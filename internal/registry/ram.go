package registry

import "github.com/pbnjay/memory"

// totalMemory is swapped in tests.
var totalMemory = memory.TotalMemory

// DeviceRAMGiB is the installed physical memory in whole GiB. Returns 0 when
// the platform does not report it, which CheckRAM treats as unknown.
func DeviceRAMGiB() int {
	return int(totalMemory() >> 30)
}
