package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultResultCachePath is the default path for the registration result cache
const DefaultResultCachePath = ".registration-cache.json"

// ResultCache stores registration records keyed by request ID
type ResultCache struct {
	Records     map[string]*RegistrationRecord `json:"records"`
	LastUpdated int64                          `json:"lastUpdated"`
}

// NewResultCache returns an empty cache
func NewResultCache() *ResultCache {
	return &ResultCache{Records: make(map[string]*RegistrationRecord)}
}

// LoadResults loads the cache from a JSON file. A missing file yields an empty cache.
func LoadResults(path string) (*ResultCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewResultCache(), nil
		}
		return nil, fmt.Errorf("reading result cache: %w", err)
	}

	cache := NewResultCache()
	if err := json.Unmarshal(data, cache); err != nil {
		return nil, fmt.Errorf("parsing result cache: %w", err)
	}
	if cache.Records == nil {
		cache.Records = make(map[string]*RegistrationRecord)
	}
	return cache, nil
}

// SaveResults writes the cache to a JSON file
func SaveResults(path string, cache *ResultCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating result cache directory: %w", err)
	}

	cache.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing result cache: %w", err)
	}

	return nil
}

// Put stores or replaces a record
func (c *ResultCache) Put(rec *RegistrationRecord) {
	if c.Records == nil {
		c.Records = make(map[string]*RegistrationRecord)
	}
	c.Records[rec.ID] = rec
}

// Get returns the record for id, or nil
func (c *ResultCache) Get(id string) *RegistrationRecord {
	if c == nil || c.Records == nil {
		return nil
	}
	return c.Records[id]
}

// List returns all records, newest first
func (c *ResultCache) List() []*RegistrationRecord {
	if c == nil {
		return nil
	}
	out := make([]*RegistrationRecord, 0, len(c.Records))
	for _, r := range c.Records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// NewRecord captures the outcome of one registration. err is a fatal error from
// Register (or from loading its inputs); result is ignored when err is set.
func NewRecord(req RegistrationRequest, config RegistrationConfig, result ICPResult, err error, elapsed time.Duration) *RegistrationRecord {
	rec := &RegistrationRecord{
		ID:          req.ID,
		Source:      req.Source,
		Destination: req.Destination,
		Config:      config,
		DurationMs:  elapsed.Milliseconds(),
		Timestamp:   time.Now().Unix(),
		Net:         Identity(),
		Transforms:  []Transform{},
	}
	if err != nil {
		rec.Error = err.Error()
		return rec
	}
	rec.State = result.State
	rec.Iterations = result.Iterations
	rec.Transforms = append(rec.Transforms, result.Transforms...)
	rec.Net = result.Net()
	rec.Warnings = result.Warnings
	return rec
}
