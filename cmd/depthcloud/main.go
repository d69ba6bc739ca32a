// Package main is the depthcloud command line tool.
package main

import (
	"fmt"
	"log"
	"math"
	"os"
	"runtime/debug"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"

	"go.viam.com/depthcloud/camera"
	"go.viam.com/depthcloud/compute"
	_ "go.viam.com/depthcloud/compute/wgpu"
	"go.viam.com/depthcloud/depth"
	"go.viam.com/depthcloud/pointcloud"
	"go.viam.com/depthcloud/projection"
	"go.viam.com/depthcloud/stream"
)

const (
	// Flags.
	flagConfig      = "config"
	flagCalibration = "calib"
	flagInput       = "in"
	flagOutput      = "out"
	flagFrameID     = "frame-id"
	flagMaxDepth    = "max-depth"
	flagBackend     = "backend"
	flagASCII       = "ascii"
	flagCount       = "count"
)

func main() {
	var logger golog.Logger

	app := &cli.App{
		Name:  "depthcloud",
		Usage: "project depth camera frames into organized point clouds",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				logger = golog.NewDebugLogger("depthcloud")
			} else {
				logger = zap.NewNop().Sugar()
			}

			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "convert",
				Usage: "project one raw depth frame into a PCD point cloud",
				UsageText: fmt.Sprintf("depthcloud convert <%s> <%s> <%s> [%s] [%s] [%s] [%s] [%s]",
					flagCalibration, flagInput, flagOutput, flagConfig, flagFrameID, flagMaxDepth, flagBackend, flagASCII),
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagCalibration,
						Required: true,
						Usage:    "path to the camera intrinsics JSON file",
					},
					&cli.PathFlag{
						Name:     flagInput,
						Required: true,
						Usage:    "path to the raw depth frame, gzipped if it ends in .gz",
					},
					&cli.PathFlag{
						Name:     flagOutput,
						Required: true,
						Usage:    "path the PCD file is written to",
					},
					&cli.PathFlag{
						Name:  flagConfig,
						Usage: "stream configuration JSON supplying defaults for the other flags",
					},
					&cli.StringFlag{
						Name:  flagFrameID,
						Usage: "coordinate frame id stored on the cloud",
					},
					&cli.Float64Flag{
						Name:  flagMaxDepth,
						Usage: "drop points beyond this range in meters, zero keeps everything",
					},
					&cli.StringFlag{
						Name:  flagBackend,
						Usage: "compute backend to project with, defaults to the best available",
					},
					&cli.BoolFlag{
						Name:  flagASCII,
						Usage: "write an ascii PCD instead of binary",
					},
				},
				Action: func(c *cli.Context) error {
					cfg := &stream.Config{}
					if c.Path(flagConfig) != "" {
						fileCfg, err := stream.ReadConfigFromFile(c.Path(flagConfig))
						if err != nil {
							return err
						}
						cfg = fileCfg
					}
					if c.String(flagFrameID) != "" {
						cfg.FrameID = c.String(flagFrameID)
					}
					if c.IsSet(flagMaxDepth) {
						cfg.MaxDepth = c.Float64(flagMaxDepth)
					}
					if c.String(flagBackend) != "" {
						cfg.Backend = c.String(flagBackend)
					}
					full := cfg.WithDefaults()

					intrinsics, err := camera.NewIntrinsicsFromJSONFile(c.Path(flagCalibration))
					if err != nil {
						return err
					}
					frame, err := depth.ParseRawFrame(c.Path(flagInput))
					if err != nil {
						return err
					}

					model := &camera.Model{}
					if err := model.Update(*intrinsics); err != nil {
						return err
					}
					tf, err := model.Transform()
					if err != nil {
						return err
					}
					md, err := depth.MetadataForFrame(frame, full.MaxDepth)
					if err != nil {
						return err
					}

					engine := projection.New(projection.Config{
						Backend:          full.Backend,
						KernelSourcePath: full.KernelSourcePath,
					}, logger)
					defer goutils.UncheckedErrorFunc(engine.Close)

					if err := engine.Prepare(md, tf); err != nil {
						return err
					}
					cloud, err := engine.Project(frame)
					if err != nil {
						return err
					}
					cloud.FrameID = full.FrameID

					outputType := pointcloud.PCDBinary
					if c.Bool(flagASCII) {
						outputType = pointcloud.PCDAscii
					}
					if err := cloud.WritePCDFile(c.Path(flagOutput), outputType); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "wrote %d points (%d valid) to %s\n",
						cloud.Size(), cloud.ValidCount(), c.Path(flagOutput))
					return nil
				},
			},
			{
				Name:  "bench",
				Usage: "replay a raw depth frame through the stream pipeline",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     flagCalibration,
						Required: true,
						Usage:    "path to the camera intrinsics JSON file",
					},
					&cli.PathFlag{
						Name:     flagInput,
						Required: true,
						Usage:    "path to the raw depth frame, gzipped if it ends in .gz",
					},
					&cli.IntFlag{
						Name:  flagCount,
						Value: 100,
						Usage: "number of readings to replay",
					},
					&cli.Float64Flag{
						Name:  flagMaxDepth,
						Usage: "drop points beyond this range in meters, zero keeps everything",
					},
					&cli.StringFlag{
						Name:  flagBackend,
						Usage: "compute backend to project with, defaults to the best available",
					},
				},
				Action: func(c *cli.Context) error {
					intrinsics, err := camera.NewIntrinsicsFromJSONFile(c.Path(flagCalibration))
					if err != nil {
						return err
					}
					frame, err := depth.ParseRawFrame(c.Path(flagInput))
					if err != nil {
						return err
					}

					engine := projection.New(projection.Config{
						Backend: c.String(flagBackend),
					}, logger)
					defer goutils.UncheckedErrorFunc(engine.Close)

					cfg := stream.Config{QueueSize: 4, MaxDepth: c.Float64(flagMaxDepth)}
					bus := stream.NewBus(cfg.QueueSize)
					defer bus.Close()
					pub := stream.NewPublisher(bus, engine, cfg, logger)
					defer goutils.UncheckedErrorFunc(pub.Close)

					sub, err := pub.Stream()
					if err != nil {
						return err
					}
					defer sub.Close()

					count := c.Int(flagCount)
					start := time.Now()
					received := 0
					for i := 0; i < count; i++ {
						bus.Publish(stream.FrameReading{Frame: frame, Calib: *intrinsics})
						select {
						case _, ok := <-sub.Clouds():
							if !ok {
								return pub.Err()
							}
							received++
						case <-time.After(10 * time.Second):
							return errors.New("timed out waiting for a cloud")
						}
					}
					elapsed := time.Since(start)
					fmt.Fprintf(c.App.Writer, "projected %d of %d frames in %s (%.1f clouds/sec, %d dropped)\n",
						received, count, elapsed.Round(time.Millisecond),
						float64(received)/elapsed.Seconds(), pub.Drops()+bus.Dropped())
					return nil
				},
			},
			{
				Name:      "info",
				Usage:     "describe a raw depth frame file",
				ArgsUsage: "<frame.bin>",
				Action: func(c *cli.Context) error {
					target := c.Args().First()
					if target == "" {
						fmt.Fprintln(c.App.ErrWriter, "frame file required")
						cli.ShowSubcommandHelpAndExit(c, 1)
						return nil
					}
					frame, err := depth.ParseRawFrame(target)
					if err != nil {
						return err
					}

					valid := 0
					minDepth := uint16(math.MaxUint16)
					maxDepth := uint16(0)
					for _, d := range frame.Samples {
						if d == depth.InvalidDepth {
							continue
						}
						valid++
						if d < minDepth {
							minDepth = d
						}
						if d > maxDepth {
							maxDepth = d
						}
					}
					fmt.Fprintf(c.App.Writer, "%dx%d %s, %d samples, %d valid\n",
						frame.Width, frame.Height, frame.Encoding, frame.PixelCount(), valid)
					if valid > 0 {
						fmt.Fprintf(c.App.Writer, "depth range %.3fm to %.3fm\n",
							float64(minDepth)*depth.DefaultDepthScale, float64(maxDepth)*depth.DefaultDepthScale)
					}
					return nil
				},
			},
			{
				Name:  "backends",
				Usage: "list registered compute backends",
				Action: func(c *cli.Context) error {
					names := compute.Registered()
					if len(names) == 0 {
						fmt.Fprintln(c.App.Writer, "no compute backends registered")
						return nil
					}
					for _, name := range names {
						fmt.Fprintf(c.App.Writer, "%s\n", name)
					}
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "print version info for this program",
				Action: func(c *cli.Context) error {
					info, ok := debug.ReadBuildInfo()
					if !ok {
						return errors.New("error reading build info")
					}
					if c.Bool("debug") {
						fmt.Fprintf(c.App.Writer, "%s\n", info.String())
					}
					settings := make(map[string]string, len(info.Settings))
					for _, setting := range info.Settings {
						settings[setting.Key] = setting.Value
					}
					version := "?"
					if rev, ok := settings["vcs.revision"]; ok {
						version = rev[:8]
						if settings["vcs.modified"] == "true" {
							version += "+"
						}
					}
					fmt.Fprintf(c.App.Writer, "version %s git=%s\n", info.Main.Version, version)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
