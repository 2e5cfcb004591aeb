// Command vkinspect prints the physical devices the Vulkan runtime exposes
// as JSON.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/videosink/feature"
	"github.com/vkngwrapper/videosink/kernel"
	"github.com/vkngwrapper/videosink/vkdriver"
)

func run(logger *slog.Logger) error {
	cfg, err := kernel.LoadConfig()
	if err != nil {
		return err
	}
	k := kernel.New(vkdriver.NewRuntime(nil, logger), kernel.Options{
		Logger: logger,
		Config: cfg,
	})
	defer k.TearDown()
	// Enumeration needs no window, so headless loaders qualify too.
	k.Features().Disable(feature.NameSurface)
	k.Features().Disable(feature.NameSwapchain)

	report, err := k.InspectDevices()
	if err != nil {
		return err
	}
	if !k.Available() {
		return errors.Newf("vulkan runtime unavailable (set %s to the loader library)", vkdriver.LibraryEnv)
	}
	out, err := report.JSON()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}

func main() {
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(logger); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
