package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/meshalign/mesh"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *mesh.Config
	Logger       *zap.SugaredLogger
	StateTracker *mesh.StateTracker
	MQTTClient   *mesh.MQTTClient
	Publisher    *mesh.Publisher
	Metrics      *mesh.Metrics
	Registry     *prometheus.Registry

	// Out receives operator-facing command output
	Out io.Writer

	// FetchOptions are passed to every remote input download
	FetchOptions []mesh.FetchOption

	opts     AppOptions
	inflight sync.WaitGroup
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{Out: os.Stdout}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// setup fills in whatever dependencies have not been injected
func (a *App) setup() error {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	if a.Logger == nil {
		logger, err := mesh.NewLogger(a.opts.Debug)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		a.Logger = logger
	}
	if a.Config == nil {
		config, err := a.loadConfig()
		if err != nil {
			return err
		}
		a.Config = config
	}
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
	}
	if a.Metrics == nil {
		a.Metrics = mesh.NewMetrics(a.Registry)
	}
	if a.StateTracker == nil {
		a.StateTracker = mesh.NewStateTrackerWithCache(a.Config.Output.ResultCache, a.Logger)
	}
	return nil
}

// loadConfig reads the config named on the command line. Without one the
// default path is tried, and a missing default file means built-in defaults.
func (a *App) loadConfig() (*mesh.Config, error) {
	path := a.opts.ConfigFile
	if path == "" {
		if _, err := os.Stat(mesh.DefaultConfigPath); err != nil {
			a.Logger.Debugw("no config file, using defaults", "path", mesh.DefaultConfigPath)
			return mesh.DefaultConfig(), nil
		}
		path = mesh.DefaultConfigPath
	}
	config, err := mesh.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	a.Logger.Infow("Loaded config", "path", path)
	return config, nil
}

// RunRegistration loads both inputs, registers source onto destination with
// the configured hyperparameters plus req.Overrides, and records the outcome.
// Failures are captured in the returned record rather than returned.
func (a *App) RunRegistration(ctx context.Context, req mesh.RegistrationRequest) *mesh.RegistrationRecord {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	cfg := a.Config.Registration.Merge(req.Overrides)
	log := a.Logger.With("id", req.ID)

	a.StateTracker.Begin(req.ID)
	if a.Publisher != nil {
		if err := a.Publisher.PublishStatus(req.ID, mesh.StatusRunning, "Registration started"); err != nil {
			log.Warnw("Error publishing status", "error", err)
		}
	}
	log.Infow("Registration started", "source", req.Source, "destination", req.Destination)

	start := time.Now()
	var result mesh.ICPResult
	source, destination, err := a.loadInputs(ctx, req)
	if err == nil {
		var icp mesh.ICPConfig
		icp, err = cfg.ICPConfig(log)
		if err == nil {
			result, err = mesh.Register(source, destination, icp)
		}
	}
	rec := mesh.NewRecord(req, cfg, result, err, time.Since(start))

	var scene *mesh.Scene
	if err == nil {
		var sceneErr error
		if scene, sceneErr = mesh.NewScene(source, destination, rec.Net); sceneErr != nil {
			log.Warnw("Could not build preview scene", "error", sceneErr)
		}
	}

	a.Metrics.ObserveRecord(rec)
	a.StateTracker.Finish(rec, scene)

	if err != nil {
		log.Errorw("Registration failed", "error", err)
	} else {
		log.Infow(rec.Status(), "state", rec.State, "durationMs", rec.DurationMs)
	}

	if a.Publisher != nil {
		if pubErr := a.Publisher.PublishResult(rec); pubErr != nil {
			log.Warnw("Error publishing result", "error", pubErr)
		}
	}
	return rec
}

// loadInputs opens source and destination concurrently
func (a *App) loadInputs(ctx context.Context, req mesh.RegistrationRequest) (mesh.CloudSource, mesh.CloudSource, error) {
	var source, destination mesh.CloudSource
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		source, err = mesh.OpenCloud(gctx, req.Source, a.FetchOptions...)
		if err != nil {
			return fmt.Errorf("loading source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		destination, err = mesh.OpenCloud(gctx, req.Destination, a.FetchOptions...)
		if err != nil {
			return fmt.Errorf("loading destination: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return source, destination, nil
}

// RunRegister runs a single registration from the command line
func (a *App) RunRegister(ctx context.Context) error {
	if err := a.setup(); err != nil {
		return err
	}

	rec := a.RunRegistration(ctx, mesh.RegistrationRequest{
		ID:          a.opts.ID,
		Source:      a.opts.Source,
		Destination: a.opts.Destination,
		Overrides:   &a.opts.Overrides,
	})

	fmt.Fprintln(a.Out, rec.Status())
	if rec.Error != "" {
		return errors.New(rec.Error)
	}
	printTransform(a.Out, rec.Net)
	fmt.Fprintf(a.Out, "Record %s saved (%d ms)\n", rec.ID, rec.DurationMs)

	if a.opts.OutputFile != "" {
		if err := writeRecord(a.opts.OutputFile, rec); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Record written to %s\n", a.opts.OutputFile)
	}

	if a.opts.PreviewFile == "" && a.opts.GeoJSONFile == "" {
		return nil
	}
	scene, ok := a.StateTracker.Scene(rec.ID)
	if !ok {
		return fmt.Errorf("no preview scene for %s", rec.ID)
	}
	plane, err := a.previewPlane(a.opts.Plane)
	if err != nil {
		return err
	}
	if a.opts.PreviewFile != "" {
		if err := writePreview(a.opts.PreviewFile, scene, plane); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Preview written to %s\n", a.opts.PreviewFile)
	}
	if a.opts.GeoJSONFile != "" {
		if err := writeFootprint(a.opts.GeoJSONFile, scene, plane); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Footprint written to %s\n", a.opts.GeoJSONFile)
	}
	return nil
}

// previewPlane resolves an explicit plane or falls back to the config
func (a *App) previewPlane(explicit string) (mesh.Plane, error) {
	if explicit == "" && a.Config != nil {
		explicit = a.Config.Output.PreviewPlane
	}
	return mesh.ParsePlane(explicit)
}

// RunInspect prints the topology of a mesh
func (a *App) RunInspect() error {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	m, err := mesh.LoadMesh(a.opts.MeshFile)
	if err != nil {
		return err
	}
	stats := mesh.Analyze(m)

	fmt.Fprintf(a.Out, "%s\n", a.opts.MeshFile)
	fmt.Fprintf(a.Out, "  Vertices:       %d\n", stats.Vertices)
	fmt.Fprintf(a.Out, "  Faces:          %d\n", stats.Faces)
	fmt.Fprintf(a.Out, "  Edges:          %d\n", stats.Edges)
	fmt.Fprintf(a.Out, "  Components:     %d\n", stats.Components)
	fmt.Fprintf(a.Out, "  Boundary loops: %d\n", stats.BoundaryLoops)
	fmt.Fprintf(a.Out, "  Genus:          %d\n", stats.Genus)
	fmt.Fprintf(a.Out, "  Area:           %.4f\n", stats.Area)
	fmt.Fprintf(a.Out, "  Volume:         %.4f\n", stats.Volume)
	return nil
}

// RunPrimitive writes a fixture mesh, optionally moved by a rigid transform
func (a *App) RunPrimitive() error {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	m, err := primitiveMesh(a.opts.Shape)
	if err != nil {
		return err
	}
	if a.opts.Transform != "" {
		t, err := parseRigidTransform(a.opts.Transform)
		if err != nil {
			return err
		}
		m = m.Transformed(t)
	}
	if err := mesh.SaveMesh(a.opts.OutputFile, m); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote %s (%d vertices, %d faces) to %s\n",
		a.opts.Shape, len(m.Vertices), len(m.Faces), a.opts.OutputFile)
	return nil
}

func primitiveMesh(shape string) (*mesh.TriangleMesh, error) {
	switch strings.ToLower(shape) {
	case "", "cube":
		return mesh.Cube(2), nil
	case "uvsphere", "sphere":
		return mesh.UVSphere(32, 16, 1), nil
	case "torus":
		return mesh.Torus(32, 16, 2, 0.5), nil
	case "heightfield":
		return mesh.HeightField(32, 32, 4, mesh.Wave), nil
	default:
		return nil, fmt.Errorf("unknown shape %q (want cube, uvsphere, torus or heightfield)", shape)
	}
}

// parseRigidTransform parses "rx,ry,rz,tx,ty,tz": a rotation vector in
// radians followed by a translation. The rotation is applied first.
func parseRigidTransform(s string) (mesh.Transform, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return mesh.Transform{}, fmt.Errorf("transform needs 6 comma-separated values, got %d", len(parts))
	}
	var v [6]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return mesh.Transform{}, fmt.Errorf("transform value %d: %w", i+1, err)
		}
		v[i] = f
	}
	rotation := mesh.AxisAngle(r3.Vector{X: v[0], Y: v[1], Z: v[2]})
	return mesh.Multiply(mesh.Translation(r3.Vector{X: v[3], Y: v[4], Z: v[5]}), rotation), nil
}

// RunService starts the HTTP endpoints, and MQTT when enabled, and blocks
// until ctx is cancelled.
func (a *App) RunService(ctx context.Context) error {
	if err := a.setup(); err != nil {
		return err
	}
	if a.opts.HTTPPort != 0 {
		a.Config.HTTP.Port = a.opts.HTTPPort
	}

	if a.opts.MQTTMode {
		handler := func(req mesh.RegistrationRequest) {
			a.inflight.Add(1)
			go func() {
				defer a.inflight.Done()
				a.RunRegistration(ctx, req)
			}()
		}
		mqttClient, err := mesh.InitMQTT(a.Config, handler, a.Logger)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if mqttClient == nil {
			return errors.New("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = mqttClient
		a.Publisher = mesh.NewPublisher(mqttClient.GetClient(), mqttClient.Prefix(), a.Logger)
		a.Logger.Info("MQTT result publisher initialized")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", a.Config.HTTP.Port),
		Handler:           newHTTPServer(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		a.Logger.Infow("[HTTP] Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	a.printServiceInfo()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("HTTP server: %w", err)
		}
	}

	fmt.Fprintln(a.Out, "\nShutting down service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warnw("HTTP shutdown", "error", err)
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	a.inflight.Wait()
	_ = a.Logger.Sync()
	fmt.Fprintln(a.Out, "Service stopped")
	return runErr
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MQTTClient != nil {
		prefix := a.MQTTClient.Prefix()
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Requests:  %s\n", mesh.RequestTopic(prefix))
		fmt.Fprintf(a.Out, "  Status:    %s/status/{id}\n", prefix)
		fmt.Fprintf(a.Out, "  Results:   %s/result/{id} (retained)\n", prefix)
	}

	fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.Config.HTTP.Port)
	fmt.Fprintln(a.Out, "  GET  /health                          - Health check")
	fmt.Fprintln(a.Out, "  GET  /metrics                         - Prometheus metrics")
	fmt.Fprintln(a.Out, "  GET  /results                         - All registration records")
	fmt.Fprintln(a.Out, "  GET  /results/{id}                    - One record")
	fmt.Fprintln(a.Out, "  GET  /results/{id}/preview.svg        - Vector preview")
	fmt.Fprintln(a.Out, "  GET  /results/{id}/preview.png        - Raster preview")
	fmt.Fprintln(a.Out, "  GET  /results/{id}/footprint.geojson  - Projected footprint")
	fmt.Fprintln(a.Out, "  POST /register                        - Run a registration")
	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}

func printTransform(w io.Writer, t mesh.Transform) {
	fmt.Fprintln(w, "Net transform:")
	for _, row := range t {
		fmt.Fprintf(w, "  [% .6f % .6f % .6f % .6f]\n", row[0], row[1], row[2], row[3])
	}
}

func writeRecord(path string, rec *mesh.RegistrationRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// writePreview renders an SVG through the vector renderer and a PNG through the raster one
func writePreview(path string, scene *mesh.Scene, plane mesh.Plane) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating preview: %w", err)
		}
		if err := mesh.NewVectorRenderer(scene, plane).RenderToSVG(f); err != nil {
			f.Close()
			return fmt.Errorf("rendering SVG preview: %w", err)
		}
		return f.Close()
	case ".png":
		return mesh.NewSceneRenderer(scene, plane).SavePNG(path)
	default:
		return fmt.Errorf("unsupported preview format %q (want .svg or .png)", filepath.Ext(path))
	}
}

func writeFootprint(path string, scene *mesh.Scene, plane mesh.Plane) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating footprint: %w", err)
	}
	fc := mesh.SceneToFeatureCollection(scene, mesh.FootprintOptions{Plane: plane})
	if err := mesh.WriteFeatureCollection(f, fc); err != nil {
		f.Close()
		return fmt.Errorf("writing footprint: %w", err)
	}
	return f.Close()
}
