// Package sdlsurface presents into an SDL window.
package sdlsurface

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"

	"github.com/vkngwrapper/videosink/vkdriver"
)

// Source adapts an SDL window created with the sdl.WINDOW_VULKAN flag.
type Source struct {
	window *sdl.Window
}

var _ vkdriver.NativeSource = (*Source)(nil)

func New(window *sdl.Window) *Source {
	return &Source{window: window}
}

// DrawableSize reports the size of the window in pixels, which differs from
// its size in screen coordinates on high density displays.
func (s *Source) DrawableSize() (int, int) {
	w, h := s.window.VulkanGetDrawableSize()
	return int(w), int(h)
}

func (s *Source) CreateVulkanSurface(instance core1_0.Instance, surfaceExt khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
	return vkng_sdl2.CreateSurface(instance, surfaceExt, s.window)
}

// InstanceExtensions lists the platform surface extensions the window
// needs on top of VK_KHR_surface.
func (s *Source) InstanceExtensions() []string {
	return s.window.VulkanGetInstanceExtensions()
}

// ProcAddr resolves vkGetInstanceProcAddr through the loader SDL opened.
// sdl.VulkanLoadLibrary must have succeeded first.
func ProcAddr() (unsafe.Pointer, error) {
	ptr := sdl.VulkanGetVkGetInstanceProcAddr()
	if ptr == nil {
		return nil, errors.Newf("sdl vulkan loader unavailable: %v", sdl.GetError())
	}
	return ptr, nil
}
