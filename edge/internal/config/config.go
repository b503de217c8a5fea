package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval           = 3 * time.Second
	DefaultAnomalyProbability = 0.2
	DefaultBaseFile           = "data/raw/2nd_test/2004.02.12.18.32.39.npy"
	DefaultBucket             = "echoguard-data"
	DefaultBufferSize         = 100
	DefaultEndpoint           = "localhost:4566"
	DefaultRegion             = "us-east-1"
	DefaultLogLevel           = "info"
)

// Config holds the edge configuration parsed from the `edge:` section of
// echoguard.yaml. The `scorer:` key in the same file is ignored.
type Config struct {
	Edge EdgeConfig `yaml:"edge"`
}

// EdgeConfig holds all simulator settings.
type EdgeConfig struct {
	LogLevel string `yaml:"log_level"`

	// Interval between generated snapshots. Hot-reloadable.
	Interval time.Duration `yaml:"interval"`

	// AnomalyProbability is the chance each snapshot is an anomaly. Hot-reloadable.
	AnomalyProbability float64 `yaml:"anomaly_probability"`

	// BaseFile is the healthy .npy spectrogram every snapshot derives from.
	// When it does not exist the simulator falls back to N(0, 0.1) noise.
	BaseFile string `yaml:"base_file"`

	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64 `yaml:"seed"`

	// Bucket receives the uploads.
	Bucket string `yaml:"bucket"`

	// BufferSize is how many encoded snapshots are held while storage is
	// unreachable. The oldest is dropped when full.
	BufferSize int `yaml:"buffer_size"`

	Storage StorageConfig `yaml:"storage"`
}

// StorageConfig locates the S3-compatible endpoint.
type StorageConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	UseSSL       bool   `yaml:"use_ssl"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`

	// CreateBucket makes the bucket at startup when it does not exist.
	CreateBucket bool `yaml:"create_bucket"`
}

// AccessKey resolves the access key from the environment.
func (s StorageConfig) AccessKey() string { return env(s.AccessKeyEnv) }

// SecretKey resolves the secret key from the environment.
func (s StorageConfig) SecretKey() string { return env(s.SecretKeyEnv) }

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Load reads and parses the config file at path, returning the edge configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("edge config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("edge config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("edge config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config { return defaults() }

func defaults() *Config {
	return &Config{
		Edge: EdgeConfig{
			LogLevel:           DefaultLogLevel,
			Interval:           DefaultInterval,
			AnomalyProbability: DefaultAnomalyProbability,
			BaseFile:           DefaultBaseFile,
			Bucket:             DefaultBucket,
			BufferSize:         DefaultBufferSize,
			Storage: StorageConfig{
				Endpoint: DefaultEndpoint,
				Region:   DefaultRegion,
			},
		},
	}
}

func validate(cfg *Config) error {
	e := cfg.Edge
	if e.Interval <= 0 {
		return fmt.Errorf("edge.interval must be positive")
	}
	if e.AnomalyProbability < 0 || e.AnomalyProbability > 1 {
		return fmt.Errorf("edge.anomaly_probability %v out of range [0, 1]", e.AnomalyProbability)
	}
	if e.Bucket == "" {
		return fmt.Errorf("edge.bucket is required")
	}
	if e.BufferSize <= 0 {
		return fmt.Errorf("edge.buffer_size must be positive")
	}
	if e.Storage.Endpoint == "" {
		return fmt.Errorf("edge.storage.endpoint is required")
	}
	return nil
}
