package feature

import (
	"context"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_dedicated_allocation"
	"github.com/vkngwrapper/extensions/v3/khr_external_memory"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"golang.org/x/exp/slog"
)

const (
	NameSurface                = "surface"
	NameSwapchain              = "swapchain"
	NameDebugUtils             = "debug_utils"
	NamePortabilityEnumeration = "portability_enumeration"
	NamePortabilitySubset      = "portability_subset"
	NameHardwareBufferImport   = "hardware_buffer_import"
)

const ValidationLayer = "VK_LAYER_KHRONOS_validation"

const (
	androidHardwareBufferExtension = "VK_ANDROID_external_memory_android_hardware_buffer"
	queueFamilyForeignExtension    = "VK_EXT_queue_family_foreign"
	samplerYcbcrExtension          = "VK_KHR_sampler_ycbcr_conversion"
	memoryRequirements2Extension   = "VK_KHR_get_memory_requirements2"
	bindMemory2Extension           = "VK_KHR_bind_memory2"
	maintenance1Extension          = "VK_KHR_maintenance1"
	externalMemoryCapsExtension    = "VK_KHR_external_memory_capabilities"
	physicalDeviceProps2Extension  = "VK_KHR_get_physical_device_properties2"
)

// Surface enables the base surface extension plus the platform surface
// extensions reported by the windowing layer.
func Surface(platform ...string) Contribution {
	return Contribution{
		Name:               NameSurface,
		Required:           true,
		InstanceExtensions: append([]string{khr_surface.ExtensionName}, platform...),
	}
}

func Swapchain() Contribution {
	return Contribution{
		Name:             NameSwapchain,
		Required:         true,
		DeviceExtensions: []string{khr_swapchain.ExtensionName},
	}
}

// DebugUtils turns on the validation layer and routes its messages into
// logger. It is optional: without the layer the renderer runs unvalidated.
func DebugUtils(logger *slog.Logger) Contribution {
	return Contribution{
		Name:               NameDebugUtils,
		InstanceExtensions: []string{ext_debug_utils.ExtensionName},
		Layers:             []string{ValidationLayer},
		InstancePayload: PayloadFunc(func(next common.Options) common.Options {
			info := MessengerInfo(logger)
			info.Next = next
			return info
		}),
	}
}

// MessengerInfo returns the messenger configuration used both while the
// instance is created and for the long-lived messenger.
func MessengerInfo(logger *slog.Logger) ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback: func(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
			level := slog.LevelWarn
			if severity&ext_debug_utils.SeverityError != 0 {
				level = slog.LevelError
			}
			logger.Log(context.Background(), level, data.Message, slog.String("type", msgType.String()))
			return false
		},
	}
}

func PortabilityEnumeration() Contribution {
	return Contribution{
		Name:               NamePortabilityEnumeration,
		InstanceExtensions: []string{khr_portability_enumeration.ExtensionName},
		InstanceFlags:      khr_portability_enumeration.InstanceCreateEnumeratePortability,
	}
}

func PortabilitySubset() Contribution {
	return Contribution{
		Name:             NamePortabilitySubset,
		DeviceExtensions: []string{khr_portability_subset.ExtensionName},
	}
}

// HardwareBufferImport enables zero-copy import of producer buffers. The
// device payload, when set, carries the platform capability struct (for
// example a sampler YCbCr conversion feature struct).
func HardwareBufferImport(devicePayload Payload) Contribution {
	return Contribution{
		Name: NameHardwareBufferImport,
		InstanceExtensions: []string{
			physicalDeviceProps2Extension,
			externalMemoryCapsExtension,
		},
		DeviceExtensions: []string{
			androidHardwareBufferExtension,
			khr_external_memory.ExtensionName,
			khr_dedicated_allocation.ExtensionName,
			memoryRequirements2Extension,
			queueFamilyForeignExtension,
			samplerYcbcrExtension,
			bindMemory2Extension,
			maintenance1Extension,
		},
		DevicePayload: devicePayload,
	}
}
