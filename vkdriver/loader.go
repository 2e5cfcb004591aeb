package vkdriver

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/gobuffalo/envy"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// LibraryEnv names the variable that overrides which Vulkan loader library is
// opened.
const LibraryEnv = "VULKAN_LIBRARY"

// ProcAddrFunc produces a pointer to vkGetInstanceProcAddr.
type ProcAddrFunc func() (unsafe.Pointer, error)

// LibraryProcAddr opens the system Vulkan loader, or the library named by
// VULKAN_LIBRARY, and looks up vkGetInstanceProcAddr in it.
func LibraryProcAddr() (unsafe.Pointer, error) {
	names := defaultLibraries
	if name := envy.Get(LibraryEnv, ""); name != "" {
		names = []string{name}
	}

	var errs error
	for _, name := range names {
		ptr, err := openProcAddr(name)
		if err == nil {
			return ptr, nil
		}
		errs = errors.CombineErrors(errs, err)
	}
	return nil, errors.Wrap(errs, "no vulkan loader found")
}

func createGlobalDriver(procAddr ProcAddrFunc) (core1_0.GlobalDriver, error) {
	ptr, err := procAddr()
	if err != nil {
		return nil, err
	}
	if ptr == nil {
		return nil, errors.New("vkGetInstanceProcAddr is nil")
	}
	return core.CreateDriverFromProcAddr(ptr)
}
