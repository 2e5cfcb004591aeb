// Command videosink plays a synthetic video stream through the renderer in
// an SDL window.
//
// Keys: r rotates by 90 degrees, g cycles the video gravity, f cycles the
// resample filter, escape quits.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gobuffalo/envy"
	"github.com/gobuffalo/packr"
	"github.com/joho/godotenv"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"github.com/vkngwrapper/videosink/assets"
	"github.com/vkngwrapper/videosink/colorspace"
	"github.com/vkngwrapper/videosink/gpuerr"
	"github.com/vkngwrapper/videosink/hwbuffer"
	"github.com/vkngwrapper/videosink/kernel"
	"github.com/vkngwrapper/videosink/texture"
	"github.com/vkngwrapper/videosink/vkdriver"
	"github.com/vkngwrapper/videosink/vkdriver/sdlsurface"
)

var (
	envFile = flag.String("env", "", "dotenv file loaded over the environment")
	frames  = flag.Int("frames", 0, "stop after this many presented frames (0 runs until closed)")
	fps     = flag.Int("fps", 30, "producer frame rate")
	verbose = flag.Bool("v", false, "debug logging")
)

type demoConfig struct {
	Width  int
	Height int
	Format colorspace.Code
}

func loadDemoConfig() (demoConfig, error) {
	cfg := demoConfig{Width: 640, Height: 360, Format: colorspace.RGBA8888}
	var err error
	if v := envy.Get("VIDEOSINK_WIDTH", ""); v != "" {
		if cfg.Width, err = strconv.Atoi(v); err != nil || cfg.Width <= 0 {
			return cfg, errors.Newf("VIDEOSINK_WIDTH: invalid width %q", v)
		}
	}
	if v := envy.Get("VIDEOSINK_HEIGHT", ""); v != "" {
		if cfg.Height, err = strconv.Atoi(v); err != nil || cfg.Height <= 0 {
			return cfg, errors.Newf("VIDEOSINK_HEIGHT: invalid height %q", v)
		}
	}
	if v := envy.Get("VIDEOSINK_FORMAT", ""); v != "" {
		if cfg.Format, err = parseFormat(v); err != nil {
			return cfg, errors.Wrap(err, "VIDEOSINK_FORMAT")
		}
	}
	return cfg, nil
}

type app struct {
	logger *slog.Logger
	window *sdl.Window
	kernel *kernel.Kernel

	rotation int
}

func (a *app) initWindow(title string, w, h int) error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return err
	}
	window, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, int32(w), int32(h), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return err
	}
	a.window = window
	return nil
}

func (a *app) handleKey(key sdl.Keycode) error {
	k := a.kernel
	switch key {
	case sdl.K_r:
		a.rotation = (a.rotation + 90) % 360
		return k.SetSurfaceRotation(a.rotation)
	case sdl.K_g:
		gravity := (k.Config().Gravity + 1) % 3
		k.SetVideoGravity(gravity)
		a.logger.Info("video gravity", slog.String("gravity", gravity.String()))
	case sdl.K_f:
		filter := (k.Config().Filter + 1) % 3
		if err := k.SetResampleFilter(filter); err != nil {
			return err
		}
		a.logger.Info("resample filter", slog.String("filter", filter.String()))
	}
	return nil
}

// mainLoop renders until the window closes, ctx is cancelled or the frame
// limit is reached. It must run on the thread that created the window.
func (a *app) mainLoop(ctx context.Context, limit int) error {
	rendering := true
	presented := 0

	for ctx.Err() == nil {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				return nil
			case *sdl.KeyboardEvent:
				if e.Type != sdl.KEYDOWN {
					continue
				}
				if e.Keysym.Sym == sdl.K_ESCAPE {
					return nil
				}
				if err := a.handleKey(e.Keysym.Sym); err != nil {
					return err
				}
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
				case sdl.WINDOWEVENT_RESIZED:
					w, h := a.window.GetSize()
					rendering = w > 0 && h > 0
					a.kernel.InvalidateSurface()
				}
			}
		}
		if !rendering {
			sdl.Delay(10)
			continue
		}

		status, err := a.kernel.DrawFrame()
		if err != nil {
			if !gpuerr.IsRecoverable(err) {
				return err
			}
			a.logger.Warn("frame dropped", slog.Any("error", err))
		}
		if status == kernel.FramePresented {
			presented++
			if limit > 0 && presented >= limit {
				return nil
			}
		}
	}
	return nil
}

func run(logger *slog.Logger) error {
	if *envFile != "" {
		if err := godotenv.Overload(*envFile); err != nil {
			return errors.Wrapf(err, "load %s", *envFile)
		}
		envy.Reload()
	}
	cfg, err := kernel.LoadConfig()
	if err != nil {
		return err
	}
	demo, err := loadDemoConfig()
	if err != nil {
		return err
	}

	a := &app{logger: logger}
	if err := a.initWindow(cfg.ApplicationName, demo.Width, demo.Height); err != nil {
		return errors.Wrap(err, "create window")
	}
	defer sdl.Quit()
	defer a.window.Destroy()

	source := sdlsurface.New(a.window)
	var platform []string
	for _, name := range source.InstanceExtensions() {
		if name != khr_surface.ExtensionName {
			platform = append(platform, name)
		}
	}

	a.kernel = kernel.New(vkdriver.NewRuntime(sdlsurface.ProcAddr, logger), kernel.Options{
		Logger:            logger,
		Assets:            assets.NewBoxReader(packr.NewBox("./shaders")),
		Config:            cfg,
		SurfaceExtensions: platform,
	})
	defer func() {
		if err := a.kernel.TearDown(); err != nil {
			logger.Warn("tear down", slog.Any("error", err))
		}
	}()

	if err := a.kernel.Initialize(); err != nil {
		return err
	}
	if !a.kernel.Available() {
		return errors.New("no vulkan runtime; nothing to render")
	}
	if err := a.kernel.SetTextures([]texture.Spec{{Width: demo.Width, Height: demo.Height, Format: demo.Format}}); err != nil {
		return err
	}
	if err := a.kernel.SetUp(source); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	p := newProducer(demo.Width, demo.Height, demo.Format, logger)
	g.Go(func() error {
		return p.run(gctx, time.Second/time.Duration(max(*fps, 1)), func(buf hwbuffer.Buffer) {
			a.kernel.Publish(0, buf)
		})
	})

	loopErr := a.mainLoop(gctx, *frames)
	cancel()
	if err := g.Wait(); err != nil && loopErr == nil {
		loopErr = err
	}

	stats := a.kernel.FrameStats()
	logger.Info("done",
		slog.Int("frames", stats.Frames),
		slog.Duration("average", stats.Average),
		slog.Duration("last", stats.LastFrame),
	)
	return loopErr
}

func main() {
	runtime.LockOSThread()
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
