package vkdriver

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/videosink/gpuerr"
)

// check turns a driver result into an error named after op.
func check(op string, res common.VkResult, err error) error {
	if err != nil {
		return errors.Wrapf(err, "%s (%s)", op, res)
	}
	return nil
}

// presentResult maps the results that call for a swapchain rebuild or a
// retry onto the taxonomy the kernel acts on.
func presentResult(op string, res common.VkResult, err error, suboptimal bool) error {
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return gpuerr.SurfaceInvalidated(op)
	case suboptimal && res == khr_swapchain.VKSuboptimal:
		return gpuerr.SurfaceInvalidated(op)
	case res == core1_0.VKTimeout || res == core1_0.VKNotReady:
		return gpuerr.Timeout(op)
	}
	return check(op, res, err)
}
