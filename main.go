package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/kwv/meshalign/mesh"
)

// Version is set at build time via -ldflags
var Version = "dev"

const (
	flagConfig = "config"
	flagDebug  = "debug"

	flagSource      = "source"
	flagDestination = "destination"
	flagID          = "id"
	flagK           = "k"
	flagNumPoints   = "num-points"
	flagIterations  = "iterations"
	flagEpsilon     = "epsilon"
	flagMetric      = "metric"
	flagSampling    = "sampling"
	flagBinning     = "binning"
	flagBins        = "bins"
	flagWorkers     = "workers"
	flagSeed        = "seed"
	flagOutput      = "output"
	flagPreview     = "preview"
	flagGeoJSON     = "geojson"
	flagPlane       = "plane"

	flagMesh      = "mesh"
	flagShape     = "shape"
	flagTransform = "transform"

	flagHTTPPort = "http-port"
	flagMQTT     = "mqtt"
)

// AppOptions carries everything the command line can set
type AppOptions struct {
	ConfigFile string
	Debug      bool

	// register
	ID          string
	Source      string
	Destination string
	Overrides   mesh.RegistrationConfig
	OutputFile  string
	PreviewFile string
	GeoJSONFile string
	Plane       string

	// inspect
	MeshFile string

	// primitive
	Shape     string
	Transform string

	// serve
	HTTPPort int
	MQTTMode bool
}

// Runner is driven by the command line. App is the real implementation.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunRegister(ctx context.Context) error
	RunInspect() error
	RunPrimitive() error
	RunService(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, NewApp()); err != nil {
		fmt.Fprintf(os.Stderr, "meshalign: %v\n", err)
		os.Exit(1)
	}
}

// run parses args (without the program name) and dispatches to runner
func run(ctx context.Context, args []string, out io.Writer, runner Runner) error {
	return newCLI(out, runner).RunContext(ctx, append([]string{"meshalign"}, args...))
}

func newCLI(out io.Writer, runner Runner) *cli.App {
	common := []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:  flagDebug,
			Usage: "enable debug logging",
		},
	}

	return &cli.App{
		Name:      "meshalign",
		Usage:     "rigid registration of triangle meshes and point clouds",
		Version:   Version,
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "align a source mesh or point cloud onto a destination",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagSource, Aliases: []string{"s"}, Usage: "source `PATH` or URL", Required: true},
					&cli.StringFlag{Name: flagDestination, Aliases: []string{"d"}, Usage: "destination `PATH` or URL", Required: true},
					&cli.StringFlag{Name: flagID, Usage: "record ID (generated when empty)"},
					&cli.Float64Flag{Name: flagK, Usage: "inlier threshold multiplier on the median distance"},
					&cli.IntFlag{Name: flagNumPoints, Usage: "points sampled per iteration"},
					&cli.IntFlag{Name: flagIterations, Usage: "maximum accepted transforms"},
					&cli.Float64Flag{Name: flagEpsilon, Usage: "convergence tolerance"},
					&cli.StringFlag{Name: flagMetric, Usage: "POINT_TO_POINT or POINT_TO_PLANE"},
					&cli.StringFlag{Name: flagSampling, Usage: "UNIFORM, FARTHEST_POINT or NORMAL_SPACE"},
					&cli.StringFlag{Name: flagBinning, Usage: "ANGULAR or KMEANS"},
					&cli.IntFlag{Name: flagBins, Usage: "normal-space bins per axis"},
					&cli.IntFlag{Name: flagWorkers, Usage: "parallel nearest-neighbour workers"},
					&cli.Int64Flag{Name: flagSeed, Usage: "random seed (clock when unset)"},
					&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "write the record as JSON to `FILE`"},
					&cli.StringFlag{Name: flagPreview, Usage: "render a preview to `FILE` (.svg or .png)"},
					&cli.StringFlag{Name: flagGeoJSON, Usage: "write a GeoJSON footprint to `FILE`"},
					&cli.StringFlag{Name: flagPlane, Usage: "projection plane for previews: XY, XZ or YZ"},
				}, common...),
				Action: func(c *cli.Context) error {
					runner.ApplyOptions(registerOptions(c))
					return runner.RunRegister(c.Context)
				},
			},
			{
				Name:  "inspect",
				Usage: "print topology statistics of a mesh",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagMesh, Aliases: []string{"m"}, Usage: "mesh `PATH` (.obj or .off)", Required: true},
				}, common...),
				Action: func(c *cli.Context) error {
					runner.ApplyOptions(AppOptions{
						MeshFile: c.String(flagMesh),
						Debug:    c.Bool(flagDebug),
					})
					return runner.RunInspect()
				},
			},
			{
				Name:  "primitive",
				Usage: "write a fixture mesh",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: flagShape, Value: "cube", Usage: "cube, uvsphere, torus or heightfield"},
					&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "output `FILE` (.obj)", Required: true},
					&cli.StringFlag{Name: flagTransform, Usage: "rigid motion as rx,ry,rz,tx,ty,tz (rotation vector in radians)"},
				}, common...),
				Action: func(c *cli.Context) error {
					runner.ApplyOptions(AppOptions{
						Shape:      c.String(flagShape),
						OutputFile: c.String(flagOutput),
						Transform:  c.String(flagTransform),
						Debug:      c.Bool(flagDebug),
					})
					return runner.RunPrimitive()
				},
			},
			{
				Name:  "serve",
				Usage: "run the HTTP and MQTT registration service",
				Flags: append([]cli.Flag{
					&cli.IntFlag{Name: flagHTTPPort, Usage: "HTTP listen port (config value when 0)"},
					&cli.BoolFlag{Name: flagMQTT, Usage: "accept registration requests over MQTT"},
				}, common...),
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "meshalign version: %s\n", Version)
					runner.ApplyOptions(AppOptions{
						ConfigFile: c.String(flagConfig),
						Debug:      c.Bool(flagDebug),
						HTTPPort:   c.Int(flagHTTPPort),
						MQTTMode:   c.Bool(flagMQTT),
					})
					return runner.RunService(c.Context)
				},
			},
		},
	}
}

// registerOptions collects register flags. Only hyperparameters given on the
// command line end up in Overrides; the rest come from the config file.
func registerOptions(c *cli.Context) AppOptions {
	opts := AppOptions{
		ConfigFile:  c.String(flagConfig),
		Debug:       c.Bool(flagDebug),
		ID:          c.String(flagID),
		Source:      c.String(flagSource),
		Destination: c.String(flagDestination),
		OutputFile:  c.String(flagOutput),
		PreviewFile: c.String(flagPreview),
		GeoJSONFile: c.String(flagGeoJSON),
		Plane:       c.String(flagPlane),
	}

	o := &opts.Overrides
	o.K = c.Float64(flagK)
	o.NumPoints = c.Int(flagNumPoints)
	o.MaxIterations = c.Int(flagIterations)
	o.Epsilon = c.Float64(flagEpsilon)
	o.DistanceMetric = mesh.DistanceMetric(c.String(flagMetric))
	o.Sampling = mesh.SamplingStrategy(c.String(flagSampling))
	o.Binning = mesh.NormalBinning(c.String(flagBinning))
	o.Bins = c.Int(flagBins)
	o.Workers = c.Int(flagWorkers)
	if c.IsSet(flagSeed) {
		seed := c.Int64(flagSeed)
		o.Seed = &seed
	}
	return opts
}
