//go:build darwin || linux || freebsd

package vkdriver

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/ebitengine/purego"
)

var defaultLibraries = func() []string {
	if runtime.GOOS == "darwin" {
		return []string{"libvulkan.1.dylib", "libvulkan.dylib", "libMoltenVK.dylib"}
	}
	return []string{"libvulkan.so.1", "libvulkan.so"}
}()

func openProcAddr(name string) (unsafe.Pointer, error) {
	lib, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, errors.Wrapf(err, "dlopen %s", name)
	}
	sym, err := purego.Dlsym(lib, "vkGetInstanceProcAddr")
	if err != nil {
		return nil, errors.Wrapf(err, "dlsym vkGetInstanceProcAddr in %s", name)
	}
	return *(*unsafe.Pointer)(unsafe.Pointer(&sym)), nil
}
