package vkdriver

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/videosink/gpu"
	"github.com/vkngwrapper/videosink/gpuerr"
)

func TestPresentResult(t *testing.T) {
	testCases := []struct {
		name       string
		res        common.VkResult
		err        error
		suboptimal bool
		kind       error
	}{
		{name: "success", res: core1_0.VKSuccess},
		{name: "out of date", res: khr_swapchain.VKErrorOutOfDate, err: errors.New("out of date"), kind: gpuerr.ErrSurfaceInvalidated},
		{name: "suboptimal on present", res: khr_swapchain.VKSuboptimal, suboptimal: true, kind: gpuerr.ErrSurfaceInvalidated},
		{name: "suboptimal on acquire", res: khr_swapchain.VKSuboptimal},
		{name: "timeout", res: core1_0.VKTimeout, kind: gpuerr.ErrTimeout},
		{name: "device lost", res: core1_0.VKErrorDeviceLost, err: errors.New("device lost")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := presentResult("present", tc.res, tc.err, tc.suboptimal)
			switch {
			case tc.kind != nil:
				require.ErrorIs(t, err, tc.kind)
			case tc.err != nil:
				require.Error(t, err)
				require.False(t, gpuerr.IsRecoverable(err))
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestDeviceType(t *testing.T) {
	require.Equal(t, gpu.DeviceTypeDiscreteGPU, deviceType(core1_0.PhysicalDeviceTypeDiscreteGPU))
	require.Equal(t, gpu.DeviceTypeCPU, deviceType(core1_0.PhysicalDeviceTypeCPU))
	require.Equal(t, gpu.DeviceTypeOther, deviceType(core1_0.PhysicalDeviceTypeOther))
}
