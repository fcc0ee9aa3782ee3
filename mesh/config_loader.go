package mesh

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the CLI looks for a config file when none is given
const DefaultConfigPath = "meshalign.yaml"

// Config represents the full configuration file
type Config struct {
	Registration RegistrationConfig `yaml:"registration" json:"registration"`
	MQTT         MQTTConfig         `yaml:"mqtt" json:"mqtt"`
	HTTP         HTTPConfig         `yaml:"http" json:"http"`
	Output       OutputConfig       `yaml:"output" json:"output"`
}

// RegistrationConfig holds the ICP hyperparameters as they appear in files and requests
type RegistrationConfig struct {
	K              float64          `yaml:"k" json:"k"`
	NumPoints      int              `yaml:"numPoints" json:"numPoints"`
	MaxIterations  int              `yaml:"maxIterations" json:"maxIterations"`
	Epsilon        float64          `yaml:"epsilon" json:"epsilon"`
	DistanceMetric DistanceMetric   `yaml:"distanceMetric" json:"distanceMetric"`
	Sampling       SamplingStrategy `yaml:"sampling" json:"sampling"`
	Binning        NormalBinning    `yaml:"binning" json:"binning"`
	Bins           int              `yaml:"bins" json:"bins"`
	Workers        int              `yaml:"workers" json:"workers"`
	Seed           *int64           `yaml:"seed,omitempty" json:"seed,omitempty"` // nil seeds from the clock
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// HTTPConfig holds the service listener settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// OutputConfig controls where results and previews go
type OutputConfig struct {
	ResultCache  string `yaml:"resultCache" json:"resultCache"`
	PreviewPlane string `yaml:"previewPlane" json:"previewPlane"` // XY, XZ or YZ
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	icp := DefaultICPConfig()
	return &Config{
		Registration: RegistrationConfig{
			K:              icp.K,
			NumPoints:      icp.NumPoints,
			MaxIterations:  icp.MaxIterations,
			Epsilon:        icp.Epsilon,
			DistanceMetric: icp.DistanceMetric,
			Sampling:       icp.Sampling.Strategy,
			Binning:        icp.Sampling.Binning,
			Bins:           icp.Sampling.Bins,
			Workers:        icp.Workers,
		},
		MQTT: MQTTConfig{
			PublishPrefix: "meshalign",
			ClientID:      "meshalign",
		},
		HTTP:   HTTPConfig{Port: 8080},
		Output: OutputConfig{ResultCache: DefaultResultCachePath, PreviewPlane: "XY"},
	}
}

// LoadConfig loads the configuration from a YAML file.
// Sections missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks every section and reports all problems together
func (c *Config) Validate() error {
	var err error
	if rErr := c.Registration.Validate(); rErr != nil {
		for _, e := range multierr.Errors(rErr) {
			err = multierr.Append(err, fmt.Errorf("registration: %w", e))
		}
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		err = multierr.Append(err, configErrorf("http.port %d out of range", c.HTTP.Port))
	}
	switch strings.ToUpper(c.Output.PreviewPlane) {
	case "", "XY", "XZ", "YZ":
	default:
		err = multierr.Append(err, configErrorf("output.previewPlane must be XY, XZ or YZ, got %q", c.Output.PreviewPlane))
	}
	return err
}

// Validate checks the hyperparameters without building an ICPConfig
func (r RegistrationConfig) Validate() error {
	return r.icpConfig(nil).Validate()
}

// ICPConfig converts the file representation into a validated ICPConfig
func (r RegistrationConfig) ICPConfig(logger *zap.SugaredLogger) (ICPConfig, error) {
	config := r.icpConfig(logger)
	if err := config.Validate(); err != nil {
		return ICPConfig{}, err
	}
	return config, nil
}

func (r RegistrationConfig) icpConfig(logger *zap.SugaredLogger) ICPConfig {
	seed := time.Now().UnixNano()
	if r.Seed != nil {
		seed = *r.Seed
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	binning := r.Binning
	if binning == "" {
		binning = BinningAngular
	}
	return ICPConfig{
		K:              r.K,
		NumPoints:      r.NumPoints,
		MaxIterations:  r.MaxIterations,
		Epsilon:        r.Epsilon,
		DistanceMetric: DistanceMetric(strings.ToUpper(string(r.DistanceMetric))),
		Sampling: SamplerOptions{
			Strategy: SamplingStrategy(strings.ToUpper(string(r.Sampling))),
			Binning:  NormalBinning(strings.ToUpper(string(binning))),
			Bins:     r.Bins,
		},
		Workers: r.Workers,
		RNG:     rand.New(rand.NewSource(seed)),
		Logger:  logger,
	}
}

// Merge returns r with every non-zero field of o applied on top.
// A nil o returns r unchanged.
func (r RegistrationConfig) Merge(o *RegistrationConfig) RegistrationConfig {
	if o == nil {
		return r
	}
	if o.K != 0 {
		r.K = o.K
	}
	if o.NumPoints != 0 {
		r.NumPoints = o.NumPoints
	}
	if o.MaxIterations != 0 {
		r.MaxIterations = o.MaxIterations
	}
	if o.Epsilon != 0 {
		r.Epsilon = o.Epsilon
	}
	if o.DistanceMetric != "" {
		r.DistanceMetric = o.DistanceMetric
	}
	if o.Sampling != "" {
		r.Sampling = o.Sampling
	}
	if o.Binning != "" {
		r.Binning = o.Binning
	}
	if o.Bins != 0 {
		r.Bins = o.Bins
	}
	if o.Workers != 0 {
		r.Workers = o.Workers
	}
	if o.Seed != nil {
		seed := *o.Seed
		r.Seed = &seed
	}
	return r
}
