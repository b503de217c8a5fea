package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one condition evaluated against every stored result.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "mse > 0.01",
	// "status == ANOMALY_DETECTED", "windows_processed < 2".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for the same device for this duration.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return env(w.URLEnv) }

// Default values for the scorer configuration.
const (
	DefaultGRPCPort        = 50051
	DefaultHTTPPort        = 8080
	DefaultLogLevel        = "info"
	DefaultDeviceID        = "test_rig_1"
	DefaultModelPath       = "bearing_model.onnx"
	DefaultModelConfigPath = "model_config.json"
	DefaultThreshold       = 0.002
	DefaultWindowWidth     = 64
	DefaultWindowStride    = 32
	DefaultResultsTTL      = 24 * time.Hour
	DefaultDynamoTable     = "EchoGuardResults"
	DefaultSuffix          = ".npy"
	DefaultDirDebounce     = 500 * time.Millisecond
	DefaultStreamInterval  = 5 * time.Second
	DefaultAMQPQueue       = "echoguard.uploads"
	DefaultMQTTTopic       = "echoguard/uploads"
	DefaultMQTTClientID    = "echoguard-scorer"
	DefaultStorageRegion   = "us-east-1"
	DefaultResultsBackend  = "memory"
	DefaultStorageBackend  = "s3"
	DefaultStorageEndpoint = "localhost:4566"
	DefaultRedisAddr       = "localhost:6379"
)

// Config holds the scorer configuration parsed from the `scorer:` section of
// echoguard.yaml. The `edge:` key in the same file is ignored.
type Config struct {
	Scorer ScorerConfig `yaml:"scorer"`
}

// ScorerConfig holds all scorer settings.
type ScorerConfig struct {
	// GRPCPort serves the gRPC health service (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort serves the REST API, metrics and the WebSocket feed (default 8080).
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of debug | info | warn | error. LOG_LEVEL overrides it.
	LogLevel string `yaml:"log_level"`

	// DeviceID is written into every result record.
	DeviceID string `yaml:"device_id"`

	Model   ModelConfig   `yaml:"model"`
	Window  WindowConfig  `yaml:"window"`
	Storage StorageConfig `yaml:"storage"`
	Results ResultsConfig `yaml:"results"`
	Events  EventsConfig  `yaml:"events"`
	Auth    AuthConfig    `yaml:"auth"`
	Stream  StreamConfig  `yaml:"stream"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

// ModelConfig locates the reconstruction model and its threshold file.
type ModelConfig struct {
	Path       string `yaml:"path"`
	ConfigPath string `yaml:"config_path"`

	// RuntimeLib is the ONNX Runtime shared library. Empty uses the
	// platform default search path.
	RuntimeLib string `yaml:"runtime_lib"`

	// DefaultThreshold applies when the threshold file is absent or unusable.
	DefaultThreshold float64 `yaml:"default_threshold"`
}

// WindowConfig sets the windowing geometry.
type WindowConfig struct {
	Width  int `yaml:"width"`
	Stride int `yaml:"stride"`
}

// StorageConfig selects where payloads are fetched from.
type StorageConfig struct {
	// Backend is one of: s3 | dir.
	Backend string `yaml:"backend"`

	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	UseSSL       bool   `yaml:"use_ssl"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`

	// Root is the directory holding one subdirectory per bucket (dir backend).
	Root string `yaml:"root"`
}

// AccessKey resolves the access key from the environment.
func (s StorageConfig) AccessKey() string { return env(s.AccessKeyEnv) }

// SecretKey resolves the secret key from the environment.
func (s StorageConfig) SecretKey() string { return env(s.SecretKeyEnv) }

// ResultsConfig selects the result store.
type ResultsConfig struct {
	// Backend is one of: memory | dynamodb | postgres | redis | none.
	Backend string `yaml:"backend"`

	// TTL bounds how long the memory backend keeps a record. 0 keeps forever.
	TTL time.Duration `yaml:"ttl"`

	DynamoDB DynamoConfig   `yaml:"dynamodb"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// DynamoConfig configures the DynamoDB result store.
type DynamoConfig struct {
	Table        string `yaml:"table"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

// AccessKey resolves the DynamoDB access key. Empty falls back to the AWS
// default credential chain.
func (d DynamoConfig) AccessKey() string { return env(d.AccessKeyEnv) }

// SecretKey resolves the DynamoDB secret key.
func (d DynamoConfig) SecretKey() string { return env(d.SecretKeyEnv) }

// PostgresConfig configures the Postgres result store.
type PostgresConfig struct {
	// DSNEnv names the environment variable holding the connection string.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN resolves the connection string from the environment.
func (p PostgresConfig) DSN() string { return env(p.DSNEnv) }

// RedisConfig configures the Redis result store.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env"`
}

// Password resolves the Redis password from the environment.
func (r RedisConfig) Password() string { return env(r.PasswordEnv) }

// EventsConfig enables the event sources. The HTTP source is always on.
type EventsConfig struct {
	// Suffix filters object keys (default ".npy").
	Suffix string `yaml:"suffix"`

	AMQP AMQPConfig `yaml:"amqp"`
	MQTT MQTTConfig `yaml:"mqtt"`
	Dir  DirConfig  `yaml:"dir"`
}

// AMQPConfig configures the RabbitMQ source.
type AMQPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URLEnv     string `yaml:"url_env"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	Queue      string `yaml:"queue"`
}

// URL resolves the AMQP URL from the environment.
func (a AMQPConfig) URL() string { return env(a.URLEnv) }

// MQTTConfig configures the MQTT source.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// DirConfig configures the directory-watch source.
type DirConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	Debounce time.Duration `yaml:"debounce"`
}

// AuthConfig controls client authentication on the gRPC and REST surfaces.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StreamConfig controls the WebSocket feed.
type StreamConfig struct {
	// Interval between periodic pushes of recent results (default 5s).
	Interval time.Duration `yaml:"interval"`
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// Load reads and parses the config file at path, returning the scorer configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scorer config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("scorer config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("scorer config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config { return defaults() }

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Scorer: ScorerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			DeviceID: DefaultDeviceID,
			Model: ModelConfig{
				Path:             DefaultModelPath,
				ConfigPath:       DefaultModelConfigPath,
				DefaultThreshold: DefaultThreshold,
			},
			Window: WindowConfig{
				Width:  DefaultWindowWidth,
				Stride: DefaultWindowStride,
			},
			Storage: StorageConfig{
				Backend:  DefaultStorageBackend,
				Endpoint: DefaultStorageEndpoint,
				Region:   DefaultStorageRegion,
			},
			Results: ResultsConfig{
				Backend:  DefaultResultsBackend,
				TTL:      DefaultResultsTTL,
				DynamoDB: DynamoConfig{Table: DefaultDynamoTable},
				Redis:    RedisConfig{Addr: DefaultRedisAddr},
			},
			Events: EventsConfig{
				Suffix: DefaultSuffix,
				AMQP:   AMQPConfig{Queue: DefaultAMQPQueue},
				MQTT:   MQTTConfig{Topic: DefaultMQTTTopic, ClientID: DefaultMQTTClientID},
				Dir:    DirConfig{Debounce: DefaultDirDebounce},
			},
			Stream: StreamConfig{Interval: DefaultStreamInterval},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := &cfg.Scorer
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("scorer.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("scorer.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("scorer.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	if s.DeviceID == "" {
		return fmt.Errorf("scorer.device_id must not be empty")
	}
	if s.Model.Path == "" {
		return fmt.Errorf("scorer.model.path must not be empty")
	}
	if s.Model.DefaultThreshold < 0 {
		return fmt.Errorf("scorer.model.default_threshold must not be negative")
	}
	if s.Window.Width <= 0 || s.Window.Stride <= 0 {
		return fmt.Errorf("scorer.window width %d and stride %d must be positive", s.Window.Width, s.Window.Stride)
	}
	switch s.Storage.Backend {
	case "s3":
		if s.Storage.Endpoint == "" {
			return fmt.Errorf("scorer.storage.endpoint is required for the s3 backend")
		}
	case "dir":
		if s.Storage.Root == "" {
			return fmt.Errorf("scorer.storage.root is required for the dir backend")
		}
	default:
		return fmt.Errorf("scorer.storage.backend %q unknown: want s3|dir", s.Storage.Backend)
	}
	switch s.Results.Backend {
	case "memory", "dynamodb", "redis", "none":
	case "postgres":
		if s.Results.Postgres.DSNEnv == "" {
			return fmt.Errorf("scorer.results.postgres.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("scorer.results.backend %q unknown: want memory|dynamodb|postgres|redis|none", s.Results.Backend)
	}
	if s.Results.TTL < 0 {
		return fmt.Errorf("scorer.results.ttl must not be negative")
	}
	if s.Events.AMQP.Enabled && s.Events.AMQP.URLEnv == "" {
		return fmt.Errorf("scorer.events.amqp.url_env is required when amqp is enabled")
	}
	if s.Events.MQTT.Enabled && s.Events.MQTT.Broker == "" {
		return fmt.Errorf("scorer.events.mqtt.broker is required when mqtt is enabled")
	}
	if s.Events.Dir.Enabled && s.Events.Dir.Path == "" {
		return fmt.Errorf("scorer.events.dir.path is required when dir is enabled")
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("scorer.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Stream.Interval <= 0 {
		return fmt.Errorf("scorer.stream.interval must be positive")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("scorer.alerts.rules[%d]: name and condition are required", i)
		}
	}
	return nil
}
