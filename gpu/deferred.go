package gpu

import (
	"github.com/vkngwrapper/core/v3/core1_0"
)

type deferredOp func(rec Recorder) error

// DeferredRecorder collects transfer commands issued between frames so they
// can be replayed, in order, at the start of the next frame's command
// buffer.
type DeferredRecorder struct {
	ops []deferredOp
}

func (d *DeferredRecorder) PipelineBarrier(barrier ImageBarrier) error {
	d.ops = append(d.ops, func(rec Recorder) error {
		return rec.PipelineBarrier(barrier)
	})
	return nil
}

func (d *DeferredRecorder) CopyImage(src Image, srcLayout core1_0.ImageLayout, dst Image, dstLayout core1_0.ImageLayout, regions ...CopyRegion) error {
	regions = append([]CopyRegion(nil), regions...)
	d.ops = append(d.ops, func(rec Recorder) error {
		return rec.CopyImage(src, srcLayout, dst, dstLayout, regions...)
	})
	return nil
}

func (d *DeferredRecorder) Len() int {
	return len(d.ops)
}

// Replay records every pending command onto rec. The commands stay queued
// until Reset, so a frame that never reaches the queue can replay them
// again.
func (d *DeferredRecorder) Replay(rec Recorder) error {
	for _, op := range d.ops {
		if err := op(rec); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops every pending command once a frame carrying them has been
// submitted.
func (d *DeferredRecorder) Reset() {
	d.ops = nil
}
