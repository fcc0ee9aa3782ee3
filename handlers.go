package main

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kwv/meshalign/mesh"
)

// maxRequestBytes limits POST /register bodies
const maxRequestBytes = 1 << 20

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(a *App) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", a.handleHealth)

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if a.Registry != nil {
		gatherer = a.Registry
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/results", func(r chi.Router) {
		r.Get("/", a.handleResults)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.handleResult)
			r.Get("/preview.svg", a.handlePreviewSVG)
			r.Get("/preview.png", a.handlePreviewPNG)
			r.Get("/footprint.geojson", a.handleFootprint)
		})
	})

	r.Post("/register", a.handleRegister)
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		Running   []string  `json:"running"`
		Results   int       `json:"results"`
		MQTT      bool      `json:"mqtt"`
	}{
		Status:    "ok",
		Timestamp: time.Now(),
		Running:   a.StateTracker.Running(),
		Results:   len(a.StateTracker.Records()),
		MQTT:      a.MQTTClient != nil && a.MQTTClient.IsConnected(),
	}
	a.writeJSON(w, http.StatusOK, status)
}

func (a *App) handleResults(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.StateTracker.Records())
}

func (a *App) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := a.StateTracker.Record(id)
	if !ok {
		if a.StateTracker.IsRunning(id) {
			a.writeJSON(w, http.StatusAccepted, mesh.StatusMessage{
				ID:        id,
				Status:    mesh.StatusRunning,
				Timestamp: time.Now().Unix(),
			})
			return
		}
		http.Error(w, "No such registration", http.StatusNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, rec)
}

func (a *App) handlePreviewSVG(w http.ResponseWriter, r *http.Request) {
	scene, plane, ok := a.previewScene(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	if err := mesh.NewVectorRenderer(scene, plane).RenderToSVG(w); err != nil {
		a.Logger.Errorw("Error rendering SVG preview", "error", err)
	}
}

func (a *App) handlePreviewPNG(w http.ResponseWriter, r *http.Request) {
	scene, plane, ok := a.previewScene(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := mesh.NewSceneRenderer(scene, plane).EncodePNG(w); err != nil {
		a.Logger.Errorw("Error encoding PNG preview", "error", err)
	}
}

func (a *App) handleFootprint(w http.ResponseWriter, r *http.Request) {
	scene, plane, ok := a.previewScene(w, r)
	if !ok {
		return
	}
	fc := mesh.SceneToFeatureCollection(scene, mesh.FootprintOptions{
		Plane:         plane,
		IncludePoints: r.URL.Query().Get("points") == "true",
	})
	w.Header().Set("Content-Type", "application/geo+json")
	if err := mesh.WriteFeatureCollection(w, fc); err != nil {
		a.Logger.Errorw("Error encoding footprint", "error", err)
	}
}

// previewScene resolves the scene for {id} and the ?plane= query, writing
// the error response itself when either is unusable.
func (a *App) previewScene(w http.ResponseWriter, r *http.Request) (*mesh.Scene, mesh.Plane, bool) {
	id := chi.URLParam(r, "id")
	scene, ok := a.StateTracker.Scene(id)
	if !ok {
		http.Error(w, "No preview available", http.StatusNotFound)
		return nil, "", false
	}
	plane, err := a.previewPlane(r.URL.Query().Get("plane"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, "", false
	}
	if !mesh.NewSceneRenderer(scene, plane).HasDrawableContent() {
		http.Error(w, "No drawable content", http.StatusServiceUnavailable)
		return nil, "", false
	}
	return scene, plane, true
}

// handleRegister runs a registration synchronously and returns its record.
// A failed registration still returns the record, with status 422.
func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, "Error reading request", http.StatusBadRequest)
		return
	}
	req, err := mesh.DecodeRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec := a.RunRegistration(r.Context(), req)
	status := http.StatusOK
	if rec.Error != "" {
		status = http.StatusUnprocessableEntity
	}
	a.writeJSON(w, status, rec)
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Errorw("Error encoding response", "error", err)
	}
}
