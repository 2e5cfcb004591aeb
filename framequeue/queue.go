// Package framequeue cycles swapchain images through acquire, submit and
// present with per-image synchronization.
package framequeue

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpuerr"
)

type Device interface {
	gpu.Sync
	gpu.Presentation
	WaitIdle() error
}

// State is where a swapchain image is in the present cycle.
type State int

const (
	StateFree State = iota
	StateAcquired
	StateSubmitted
	StatePresented
	// StateAbandoned images were acquired but never presented. They recycle
	// like presented images once their fence signals.
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateAcquired:
		return "acquired"
	case StateSubmitted:
		return "submitted"
	case StatePresented:
		return "presented"
	case StateAbandoned:
		return "abandoned"
	}
	return "unknown"
}

type image struct {
	state      State
	fence      gpu.Fence
	renderDone gpu.Semaphore
	// acquired was signaled by the acquire of this image. It returns to the
	// pool once the submission waiting on it has completed.
	acquired gpu.Semaphore
	serial   uint64
}

type Stats struct {
	Frames    int
	LastFrame time.Duration
	Average   time.Duration
}

type Queue struct {
	device  Device
	logger  *slog.Logger
	timeout time.Duration

	swapchain  gpu.Swapchain
	images     []image
	semaphores []gpu.Semaphore
	free       []gpu.Semaphore

	// nextSerial is carried by the next submission. Serials start at 1 so
	// that 0 always reads as complete.
	nextSerial uint64
	completed  uint64

	// stale is set once an acquired image can no longer be presented. Only
	// a new swapchain gets it back.
	stale bool

	frames    int
	total     time.Duration
	last      time.Duration
	presented time.Duration
}

// New returns an empty queue. timeout bounds every acquire and fence wait.
func New(device Device, timeout time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		device:     device,
		logger:     logger,
		timeout:    timeout,
		nextSerial: 1,
	}
}

func (q *Queue) SetSwapchain(swapchain gpu.Swapchain) {
	q.swapchain = swapchain
}

// SetImagesCount replaces the synchronization objects with n fresh sets,
// all images Free. The device must be idle.
func (q *Queue) SetImagesCount(n int) error {
	q.destroySync()

	q.images = make([]image, n)
	for i := range q.images {
		fence, err := q.device.CreateFence(true)
		if err != nil {
			return errors.Wrap(err, "create frame fence")
		}
		q.images[i].fence = fence

		sem, err := q.device.CreateSemaphore()
		if err != nil {
			return errors.Wrap(err, "create render semaphore")
		}
		q.images[i].renderDone = sem
	}

	// One more acquire semaphore than images: an acquire can be issued
	// before the image it returns has given its semaphore back.
	for i := 0; i <= n; i++ {
		sem, err := q.device.CreateSemaphore()
		if err != nil {
			return errors.Wrap(err, "create acquire semaphore")
		}
		q.semaphores = append(q.semaphores, sem)
	}
	q.free = append([]gpu.Semaphore(nil), q.semaphores...)
	q.stale = false

	q.logger.Debug("frame queue sized", slog.Int("images", n))
	return nil
}

func (q *Queue) ImagesCount() int {
	return len(q.images)
}

func (q *Queue) State(index int) State {
	return q.images[index].state
}

// Stale reports whether the swapchain holds an image the queue gave up on.
// The owner must rebuild the swapchain and call SetImagesCount.
func (q *Queue) Stale() bool {
	return q.stale
}

func recycling(s State) bool {
	return s == StatePresented || s == StateAbandoned
}

// Acquire waits up to the queue timeout for a presentable image and moves
// it to Acquired. A Presented image is recycled first once its fence
// signals. Errors are marked gpuerr.ErrSurfaceInvalidated when the
// swapchain must be rebuilt and gpuerr.ErrTimeout when nothing became
// available in time.
func (q *Queue) Acquire() (int, error) {
	if len(q.free) == 0 {
		return -1, gpuerr.OutOfOrder("acquire", -1, "no free acquire semaphore")
	}
	sem := q.free[len(q.free)-1]
	q.free = q.free[:len(q.free)-1]

	index, err := q.device.AcquireNextImage(q.swapchain, q.timeout, sem)
	if err != nil {
		q.free = append(q.free, sem)
		return -1, err
	}

	// From here on sem has a pending signal. If the image cannot be used it
	// stays out of the pool until SetImagesCount replaces it.
	if index < 0 || index >= len(q.images) {
		q.stale = true
		return -1, errors.Newf("acquired image %d outside swapchain of %d", index, len(q.images))
	}
	img := &q.images[index]
	if recycling(img.state) {
		if err := q.device.WaitForFence(img.fence, q.timeout); err != nil {
			q.stale = true
			return -1, errors.Wrapf(err, "wait for image %d", index)
		}
		q.retire(img)
	}
	if img.state != StateFree {
		q.stale = true
		return -1, gpuerr.OutOfOrder("acquire", index, img.state.String())
	}

	img.state = StateAcquired
	img.acquired = sem
	return index, nil
}

// Abandon gives up on an acquired image whose frame will not be
// submitted. An empty batch consumes the acquire semaphore and signals the
// image fence, after which the image recycles like a presented one. The
// image never reaches the presentation engine, so the queue turns Stale.
func (q *Queue) Abandon(index int) error {
	if index < 0 || index >= len(q.images) {
		return gpuerr.OutOfOrder("abandon", index, "unknown")
	}
	img := &q.images[index]
	if img.state != StateAcquired {
		return gpuerr.OutOfOrder("abandon", index, img.state.String())
	}
	q.stale = true

	if err := q.device.ResetFence(img.fence); err != nil {
		img.acquired = 0
		img.state = StateFree
		return errors.Wrap(err, "reset frame fence")
	}
	err := q.device.Submit(gpu.SubmitInfo{
		Wait:      img.acquired,
		WaitStage: core1_0.PipelineStageColorAttachmentOutput,
		Fence:     img.fence,
	})
	if err != nil {
		img.acquired = 0
		img.state = StateFree
		return errors.Wrapf(err, "abandon image %d", index)
	}

	img.serial = q.nextSerial
	q.nextSerial++
	img.state = StateAbandoned
	q.logger.Warn("frame abandoned", slog.Int("image", index), slog.Uint64("serial", img.serial))
	return nil
}

// retire returns a completed image to Free.
func (q *Queue) retire(img *image) {
	q.completed = max(q.completed, img.serial)
	if img.acquired != 0 {
		q.free = append(q.free, img.acquired)
		img.acquired = 0
	}
	img.state = StateFree
}

// Submit queues cb for the acquired image and returns the serial of the
// submission. The submission waits on the image's acquire semaphore and
// signals its own fence and render semaphore.
func (q *Queue) Submit(index int, cb gpu.CommandBuffer) (uint64, error) {
	if index < 0 || index >= len(q.images) {
		return 0, gpuerr.OutOfOrder("submit", index, "unknown")
	}
	img := &q.images[index]
	if img.state != StateAcquired {
		return 0, gpuerr.OutOfOrder("submit", index, img.state.String())
	}

	if err := q.device.ResetFence(img.fence); err != nil {
		return 0, errors.Wrap(err, "reset frame fence")
	}
	err := q.device.Submit(gpu.SubmitInfo{
		CommandBuffer: cb,
		Wait:          img.acquired,
		WaitStage:     core1_0.PipelineStageColorAttachmentOutput,
		Signal:        img.renderDone,
		Fence:         img.fence,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "submit image %d", index)
	}

	img.serial = q.nextSerial
	q.nextSerial++
	img.state = StateSubmitted
	q.logger.Debug("frame submitted", slog.Int("image", index), slog.Uint64("serial", img.serial))
	return img.serial, nil
}

// Present hands the image to the presentation engine once its rendering
// completes. An image still in Acquired is submitted with cb first. The
// image is Presented even when the surface turns out to be invalidated;
// the submitted work still completes and the fence still signals.
func (q *Queue) Present(index int, cb gpu.CommandBuffer) error {
	if index < 0 || index >= len(q.images) {
		return gpuerr.OutOfOrder("present", index, "unknown")
	}
	img := &q.images[index]
	if img.state == StateAcquired {
		if _, err := q.Submit(index, cb); err != nil {
			return err
		}
	}
	if img.state != StateSubmitted {
		return gpuerr.OutOfOrder("present", index, img.state.String())
	}

	err := q.device.Present(gpu.PresentInfo{
		Swapchain: q.swapchain,
		Index:     index,
		Wait:      img.renderDone,
	})
	img.state = StatePresented
	q.record()
	if err != nil {
		return errors.Wrapf(err, "present image %d", index)
	}
	return nil
}

func (q *Queue) record() {
	now := hrtime.Now()
	if q.presented != 0 {
		q.last = now - q.presented
		q.total += q.last
	}
	q.presented = now
	q.frames++
}

// Collect recycles every image whose fence has signaled and returns the
// highest completed serial.
func (q *Queue) Collect() (uint64, error) {
	for i := range q.images {
		img := &q.images[i]
		if !recycling(img.state) && img.state != StateSubmitted {
			continue
		}
		if img.serial <= q.completed && img.state == StateSubmitted {
			continue
		}
		signaled, err := q.device.FenceSignaled(img.fence)
		if err != nil {
			return q.completed, errors.Wrapf(err, "query image %d", i)
		}
		if !signaled {
			continue
		}
		if recycling(img.state) {
			q.retire(img)
		} else {
			q.completed = max(q.completed, img.serial)
		}
	}
	return q.completed, nil
}

// NextSerial is the serial the next submission will carry.
func (q *Queue) NextSerial() uint64 {
	return q.nextSerial
}

func (q *Queue) Completed() uint64 {
	return q.completed
}

// WaitSerial blocks until the submission with serial has completed.
// Serials that were never submitted, or already completed, return at once.
func (q *Queue) WaitSerial(serial uint64) error {
	if serial <= q.completed || serial >= q.nextSerial {
		return nil
	}
	for i := range q.images {
		img := &q.images[i]
		if img.serial != serial || (img.state != StateSubmitted && !recycling(img.state)) {
			continue
		}
		if err := q.device.WaitForFence(img.fence, q.timeout); err != nil {
			return errors.Wrapf(err, "wait for serial %d", serial)
		}
		break
	}
	// The queue executes in submission order.
	q.completed = max(q.completed, serial)
	return nil
}

// WaitIdle waits for the device and recycles every presented or abandoned
// image.
func (q *Queue) WaitIdle() error {
	if err := q.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait idle")
	}
	q.completed = q.nextSerial - 1
	for i := range q.images {
		if recycling(q.images[i].state) {
			q.retire(&q.images[i])
		}
	}
	return nil
}

func (q *Queue) Stats() Stats {
	s := Stats{Frames: q.frames, LastFrame: q.last}
	if q.frames > 1 {
		s.Average = q.total / time.Duration(q.frames-1)
	}
	return s
}

func (q *Queue) destroySync() {
	for _, img := range q.images {
		q.device.DestroyFence(img.fence)
		q.device.DestroySemaphore(img.renderDone)
	}
	for _, sem := range q.semaphores {
		q.device.DestroySemaphore(sem)
	}
	q.images = nil
	q.semaphores = nil
	q.free = nil
}

// Destroy releases every synchronization object. The device must be idle.
func (q *Queue) Destroy() {
	q.destroySync()
	q.swapchain = 0
}
