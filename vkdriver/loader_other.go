//go:build !(darwin || linux || freebsd)

package vkdriver

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
)

var defaultLibraries = []string{"vulkan-1.dll"}

func openProcAddr(name string) (unsafe.Pointer, error) {
	return nil, errors.Newf("loading %s is not supported on %s; supply a ProcAddrFunc", name, runtime.GOOS)
}
