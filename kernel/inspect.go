package kernel

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/vkngwrapper/videosink/gpu"
)

type DeviceReport struct {
	Name              string
	Type              gpu.DeviceType
	APIVersion        uint32
	DriverVersion     uint32
	VendorID          uint32
	DeviceID          uint32
	PipelineCacheUUID uuid.UUID
	Extensions        []string
}

// Report describes every physical device the instance enumerates, in
// enumeration order.
type Report struct {
	Devices []DeviceReport
}

// InspectDevices reports every physical device. An unavailable runtime
// yields an empty report.
func (k *Kernel) InspectDevices() (Report, error) {
	if err := k.Initialize(); err != nil {
		return Report{}, err
	}
	if !k.Available() {
		return Report{}, nil
	}

	devices, err := k.instance.PhysicalDevices()
	if err != nil {
		return Report{}, errors.Wrap(err, "enumerate physical devices")
	}

	report := Report{Devices: make([]DeviceReport, 0, len(devices))}
	for i, pd := range devices {
		props, err := pd.Properties()
		if err != nil {
			return Report{}, errors.Wrapf(err, "read properties of device %d", i)
		}
		available, err := pd.Extensions()
		if err != nil {
			return Report{}, errors.Wrapf(err, "enumerate extensions of device %d", i)
		}
		extensions := make([]string, 0, len(available))
		for name := range available {
			extensions = append(extensions, name)
		}
		sort.Strings(extensions)

		report.Devices = append(report.Devices, DeviceReport{
			Name:              props.Name,
			Type:              props.Type,
			APIVersion:        props.APIVersion,
			DriverVersion:     props.DriverVersion,
			VendorID:          props.VendorID,
			DeviceID:          props.DeviceID,
			PipelineCacheUUID: props.PipelineCacheUUID,
			Extensions:        extensions,
		})
	}
	return report, nil
}

// JSON encodes the report as
// {"devices":[{"name":..., "device_type":..., ..., "extensions":[...]}]}.
func (r Report) JSON() ([]byte, error) {
	w := jwriter.NewWriter()
	obj := w.Object()
	devices := obj.Name("devices").Array()
	for _, d := range r.Devices {
		dev := devices.Object()
		dev.Name("name").String(d.Name)
		dev.Name("device_type").String(d.Type.String())
		dev.Name("api_version").Int(int(d.APIVersion))
		dev.Name("driver_version").Int(int(d.DriverVersion))
		dev.Name("vendor_id").Int(int(d.VendorID))
		dev.Name("device_id").Int(int(d.DeviceID))
		dev.Name("pipeline_cache_uuid").String(d.PipelineCacheUUID.String())
		exts := dev.Name("extensions").Array()
		for _, ext := range d.Extensions {
			exts.String(ext)
		}
		exts.End()
		dev.End()
	}
	devices.End()
	obj.End()

	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "encode device report")
	}
	return w.Bytes(), nil
}
