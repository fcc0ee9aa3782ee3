package mesh

import (
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
)

// RunStatus is the lifecycle status published for a registration request
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusConverged RunStatus = "converged"
	StatusExhausted RunStatus = "exhausted"
	StatusFailed    RunStatus = "failed"
)

// StatusOf maps a finished record to its published status
func StatusOf(rec *RegistrationRecord) RunStatus {
	switch {
	case rec.Error != "":
		return StatusFailed
	case rec.State == StateConverged:
		return StatusConverged
	default:
		return StatusExhausted
	}
}

// Scene holds the clouds of one finished registration for previews
type Scene struct {
	Source      []r3.Vector // original source positions
	Registered  []r3.Vector // source positions moved by the net transform
	Destination []r3.Vector
	Boundary    [][]r3.Vector // destination boundary loops, if the destination is a mesh
}

// StateTracker tracks in-flight and finished registrations for the service endpoints
type StateTracker struct {
	mu        sync.RWMutex
	running   map[string]time.Time
	results   *ResultCache
	scenes    map[string]*Scene
	cachePath string // path to the result cache; empty disables persistence
	logger    *zap.SugaredLogger
}

// NewStateTracker creates a tracker that keeps results in memory only
func NewStateTracker(logger *zap.SugaredLogger) *StateTracker {
	return NewStateTrackerWithCache("", logger)
}

// NewStateTrackerWithCache creates a tracker that persists finished records to
// cachePath. Records already in the file are loaded on creation.
func NewStateTrackerWithCache(cachePath string, logger *zap.SugaredLogger) *StateTracker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	st := &StateTracker{
		running:   make(map[string]time.Time),
		results:   NewResultCache(),
		scenes:    make(map[string]*Scene),
		cachePath: cachePath,
		logger:    logger,
	}
	if cachePath != "" {
		if cache, err := LoadResults(cachePath); err == nil {
			st.results = cache
		} else {
			logger.Warnw("ignoring unreadable result cache", "path", cachePath, "error", err)
		}
	}
	return st
}

// Begin marks a registration as running
func (st *StateTracker) Begin(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.running[id] = time.Now()
}

// Finish stores a finished record (and its scene, when available) and persists the cache
func (st *StateTracker) Finish(rec *RegistrationRecord, scene *Scene) {
	st.mu.Lock()
	delete(st.running, rec.ID)
	st.results.Put(rec)
	if scene != nil {
		st.scenes[rec.ID] = scene
	}
	cachePath := st.cachePath
	var snapshot *ResultCache
	if cachePath != "" {
		snapshot = &ResultCache{Records: make(map[string]*RegistrationRecord, len(st.results.Records))}
		for k, v := range st.results.Records {
			snapshot.Records[k] = v
		}
	}
	st.mu.Unlock()

	if snapshot != nil {
		if err := SaveResults(cachePath, snapshot); err != nil {
			st.logger.Errorw("failed to save result cache", "path", cachePath, "error", err)
		}
	}
}

// IsRunning reports whether id has begun and not yet finished
func (st *StateTracker) IsRunning(id string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.running[id]
	return ok
}

// Running returns the IDs of registrations in flight
func (st *StateTracker) Running() []string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	ids := make([]string, 0, len(st.running))
	for id := range st.running {
		ids = append(ids, id)
	}
	return ids
}

// Record returns a copy of the record for id
func (st *StateTracker) Record(id string) (*RegistrationRecord, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	rec := st.results.Get(id)
	if rec == nil {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// Records returns all finished records, newest first
func (st *StateTracker) Records() []*RegistrationRecord {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.results.List()
}

// Scene returns the preview scene for id, if it is still in memory
func (st *StateTracker) Scene(id string) (*Scene, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.scenes[id]
	return s, ok
}

// SetScene stores a scene rebuilt outside the tracker (e.g. from files on disk)
func (st *StateTracker) SetScene(id string, scene *Scene) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.scenes[id] = scene
}

// NewScene builds a preview scene: the source before and after net, and the
// destination with its boundary loops when it is a mesh.
func NewScene(source, destination CloudSource, net Transform) (*Scene, error) {
	src, err := source.Cloud()
	if err != nil {
		return nil, err
	}
	dst, err := destination.Cloud()
	if err != nil {
		return nil, err
	}
	scene := &Scene{
		Source:      src.Positions,
		Registered:  net.ApplyAll(src.Positions),
		Destination: dst.Positions,
	}
	if m, ok := destination.(*TriangleMesh); ok {
		for _, loop := range BoundaryLoops(m) {
			pts := make([]r3.Vector, len(loop))
			for i, v := range loop {
				pts[i] = m.Vertices[v]
			}
			scene.Boundary = append(scene.Boundary, pts)
		}
	}
	return scene, nil
}
