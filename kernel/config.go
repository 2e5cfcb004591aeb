package kernel

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gobuffalo/envy"
	"github.com/vkngwrapper/extensions/v3/khr_surface"

	"github.com/vkngwrapper/videosink/texture"
)

type Config struct {
	ApplicationName string
	// Validation enables the validation layer and debug messenger when the
	// runtime provides them.
	Validation     bool
	AcquireTimeout time.Duration
	PresentMode    khr_surface.PresentMode
	ClearColor     [4]float32
	Gravity        texture.Gravity
	Filter         texture.Filter
}

func DefaultConfig() Config {
	return Config{
		ApplicationName: "videosink",
		AcquireTimeout:  time.Second,
		PresentMode:     khr_surface.PresentModeFIFO,
		ClearColor:      [4]float32{0, 0, 0, 1},
		Gravity:         texture.GravityResizeAspectFill,
		Filter:          texture.FilterNearest,
	}
}

var presentModes = map[string]khr_surface.PresentMode{
	"fifo":    khr_surface.PresentModeFIFO,
	"mailbox": khr_surface.PresentModeMailbox,
}

// LoadConfig reads VIDEOSINK_* variables from the environment (and any
// .env file envy picked up) on top of DefaultConfig.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	cfg.ApplicationName = envy.Get("VIDEOSINK_APP_NAME", cfg.ApplicationName)

	var err error
	if v := envy.Get("VIDEOSINK_VALIDATION", ""); v != "" {
		cfg.Validation, err = strconv.ParseBool(v)
		if err != nil {
			return cfg, errors.Wrap(err, "VIDEOSINK_VALIDATION")
		}
	}
	if v := envy.Get("VIDEOSINK_ACQUIRE_TIMEOUT", ""); v != "" {
		cfg.AcquireTimeout, err = time.ParseDuration(v)
		if err != nil {
			return cfg, errors.Wrap(err, "VIDEOSINK_ACQUIRE_TIMEOUT")
		}
		if cfg.AcquireTimeout <= 0 {
			return cfg, errors.Newf("VIDEOSINK_ACQUIRE_TIMEOUT must be positive, got %s", v)
		}
	}
	if v := envy.Get("VIDEOSINK_PRESENT_MODE", ""); v != "" {
		mode, ok := presentModes[v]
		if !ok {
			return cfg, errors.Newf("VIDEOSINK_PRESENT_MODE: unknown present mode %q", v)
		}
		cfg.PresentMode = mode
	}
	if v := envy.Get("VIDEOSINK_GRAVITY", ""); v != "" {
		cfg.Gravity, err = texture.ParseGravity(v)
		if err != nil {
			return cfg, errors.Wrap(err, "VIDEOSINK_GRAVITY")
		}
	}
	if v := envy.Get("VIDEOSINK_FILTER", ""); v != "" {
		cfg.Filter, err = texture.ParseFilter(v)
		if err != nil {
			return cfg, errors.Wrap(err, "VIDEOSINK_FILTER")
		}
	}
	return cfg, nil
}
