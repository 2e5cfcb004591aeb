// Package kernel is the composition root of the renderer. It negotiates the
// instance and device, owns the swapchain, pipeline, frame queue and
// textures, and drives one frame per DrawFrame call.
//
// A Kernel belongs to a single render thread. The only call that may come
// from another goroutine is Publish.
package kernel

import (
	"io"
	"sync"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/assets"
	"github.com/vkngwrapper/videosink/feature"
	"github.com/vkngwrapper/videosink/framequeue"
	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/hwbuffer"
	"github.com/vkngwrapper/videosink/texture"
)

// Shader asset names.
const (
	VertexShader   = "video.vert.spv"
	FragmentShader = "video.frag.spv"
)

// planeSlots is the number of sampler bindings the video shaders declare.
const planeSlots = 3

type Options struct {
	Logger *slog.Logger
	Assets assets.Reader
	Config Config
	// SurfaceExtensions are the platform surface extensions the window
	// layer needs.
	SurfaceExtensions []string
	// Features are registered after the built-in ones.
	Features []feature.Contribution
}

type Kernel struct {
	runtime  gpu.Runtime
	logger   *slog.Logger
	assets   assets.Reader
	config   Config
	features *feature.Registry

	loaded  bool
	loadErr error

	instance      gpu.Instance
	physical      gpu.PhysicalDevice
	physicalIndex int
	physicalProps gpu.DeviceProperties
	queueFamily   int
	memoryTypes   []gpu.MemoryType
	device        gpu.Device
	enabled       []string

	surface       gpu.Surface
	surfaceSource gpu.SurfaceSource
	swapchain     gpu.Swapchain
	surfaceFormat khr_surface.SurfaceFormat
	extent        core1_0.Extent2D
	swapImages    []gpu.Image
	swapViews     []gpu.ImageView
	framebuffers  []gpu.Framebuffer
	renderPass    gpu.RenderPass
	vertex        gpu.ShaderModule
	fragment      gpu.ShaderModule
	pipeline      gpu.Pipeline
	pool          gpu.CommandPool
	buffers       []gpu.CommandBuffer
	queue         *framequeue.Queue

	pending  []texture.Spec
	textures []*texture.Texture
	// slotsMu guards the slots slice against Publish from other
	// goroutines. The render thread is its only writer.
	slotsMu sync.RWMutex
	slots   []*hwbuffer.Slot
	// sets holds one descriptor set per swapchain image and texture, with
	// the texture version it was last written for.
	sets        [][]gpu.DescriptorSet
	setVersions [][]uint64

	deferred gpu.DeferredRecorder
	releases hwbuffer.ReleaseQueue

	orientation texture.Orientation
	rebuild     bool
}

// New returns a kernel over runtime. Nothing is loaded until Initialize.
func New(runtime gpu.Runtime, opts Options) *Kernel {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg := opts.Config
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultConfig().AcquireTimeout
	}

	features := feature.NewRegistry(logger,
		feature.Surface(opts.SurfaceExtensions...),
		feature.Swapchain(),
		feature.PortabilityEnumeration(),
		feature.PortabilitySubset(),
		feature.HardwareBufferImport(nil),
	)
	if cfg.Validation {
		features.Register(feature.DebugUtils(logger))
	}
	for _, c := range opts.Features {
		features.Register(c)
	}

	return &Kernel{
		runtime:       runtime,
		logger:        logger,
		assets:        opts.Assets,
		config:        cfg,
		features:      features,
		physicalIndex: -1,
	}
}

// Features exposes the registry so callers can enable or disable
// contributions before Initialize.
func (k *Kernel) Features() *feature.Registry {
	return k.features
}

func (k *Kernel) Config() Config {
	return k.config
}

// Available reports whether the runtime loaded. It is true before the
// first load attempt.
func (k *Kernel) Available() bool {
	return k.loadErr == nil
}

// Publish hands buf to texture index from any goroutine. The next
// DrawFrame absorbs it; a buffer published over one not yet absorbed
// releases the older one. Buffers published to unknown textures are
// released immediately.
func (k *Kernel) Publish(index int, buf hwbuffer.Buffer) {
	k.slotsMu.RLock()
	var slot *hwbuffer.Slot
	if index >= 0 && index < len(k.slots) {
		slot = k.slots[index]
	}
	k.slotsMu.RUnlock()

	if slot == nil {
		buf.Release()
		return
	}
	slot.Publish(buf)
}

func (k *Kernel) Textures() []*texture.Texture {
	return k.textures
}

func (k *Kernel) SurfaceExtent() core1_0.Extent2D {
	return k.extent
}

// FrameStats reports presentation timing.
func (k *Kernel) FrameStats() framequeue.Stats {
	if k.queue == nil {
		return framequeue.Stats{}
	}
	return k.queue.Stats()
}
