// Package gpuerr defines the error kinds surfaced by the renderer core.
//
// Every error returned by the core carries exactly one of the sentinel kinds
// below, attached with errors.Mark, so callers can branch with errors.Is
// while the message and details keep the diagnostic context.
package gpuerr

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrUnavailable means the graphics runtime could not be loaded. The
	// system stays inert and every entry point becomes a no-op.
	ErrUnavailable = errors.New("graphics runtime unavailable")
	// ErrConfigurationFatal means no physical device, queue family or memory
	// type satisfies the request.
	ErrConfigurationFatal = errors.New("unsupported device configuration")
	// ErrUnsupportedFormat means a buffer arrived with a pixel format outside
	// the recognized set.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	// ErrSurfaceInvalidated means the presentable surface went stale and
	// swapchain-dependent state must be rebuilt.
	ErrSurfaceInvalidated = errors.New("surface invalidated")
	// ErrAssetMissing means a named asset could not be read.
	ErrAssetMissing = errors.New("asset missing")
	// ErrOutOfOrder means a frame queue operation was called against an
	// image in the wrong state.
	ErrOutOfOrder = errors.New("frame operation out of order")
	// ErrUpdateInFlight means a texture update was attempted while another
	// update on the same texture had not returned.
	ErrUpdateInFlight = errors.New("texture update already in flight")
	// ErrTimeout is returned by bounded waits that expired.
	ErrTimeout = errors.New("wait timed out")
)

var kinds = []error{
	ErrUnavailable,
	ErrConfigurationFatal,
	ErrUnsupportedFormat,
	ErrSurfaceInvalidated,
	ErrAssetMissing,
	ErrOutOfOrder,
	ErrUpdateInFlight,
	ErrTimeout,
}

func Unavailable(cause error) error {
	if cause == nil {
		return errors.Mark(errors.New("graphics runtime could not be loaded"), ErrUnavailable)
	}
	return errors.Mark(errors.Wrap(cause, "graphics runtime could not be loaded"), ErrUnavailable)
}

// ConfigurationFatal reports a missing device capability. kind names the
// resource that could not be satisfied (physical device, queue family,
// memory type, extension).
func ConfigurationFatal(kind string, format string, args ...any) error {
	err := errors.Newf(format, args...)
	err = errors.WithDetailf(err, "resource kind: %s", kind)
	return errors.Mark(err, ErrConfigurationFatal)
}

func UnsupportedFormat(code int) error {
	err := errors.Newf("pixel format code %d is not recognized", code)
	err = errors.WithDetailf(err, "format code: %d", code)
	return errors.Mark(err, ErrUnsupportedFormat)
}

func SurfaceInvalidated(op string) error {
	return errors.Mark(errors.Newf("surface invalidated during %s", op), ErrSurfaceInvalidated)
}

func AssetMissing(name string, cause error) error {
	var err error
	if cause == nil {
		err = errors.Newf("asset %q not found", name)
	} else {
		err = errors.Wrapf(cause, "asset %q not found", name)
	}
	return errors.Mark(errors.WithDetailf(err, "asset: %s", name), ErrAssetMissing)
}

func OutOfOrder(op string, index int, state string) error {
	err := errors.Newf("%s on image %d in state %s", op, index, state)
	return errors.Mark(err, ErrOutOfOrder)
}

func UpdateInFlight(texture int) error {
	return errors.Mark(errors.Newf("texture %d already updating", texture), ErrUpdateInFlight)
}

func Timeout(op string) error {
	return errors.Mark(errors.Newf("%s timed out", op), ErrTimeout)
}

// IsRecoverable reports whether the caller can continue after err by
// skipping the frame or rebuilding surface state.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrSurfaceInvalidated) ||
		errors.Is(err, ErrTimeout)
}

// Kind returns the sentinel attached to err, or nil.
func Kind(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
