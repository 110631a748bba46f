// Package config provides configuration file support for the clustering
// engine. It handles loading, validation, and environment variable
// interpolation for linkscluster.yaml configuration files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Store     StoreConfig     `mapstructure:"store"`
	Retriever RetrieverConfig `mapstructure:"retriever"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// EngineConfig holds the clustering engine's three similarity thresholds
// and its vector-retention policy, mirroring linkscluster.Config.
type EngineConfig struct {
	ClusterSim    float64 `mapstructure:"cluster_sim"`
	SubclusterSim float64 `mapstructure:"subcluster_sim"`
	PairSimMax    float64 `mapstructure:"pair_sim_max"`
	StoreVectors  bool    `mapstructure:"store_vectors"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	BatchSize int    `mapstructure:"batch_size"`
	CacheSize int    `mapstructure:"cache_size"`
}

// StoreConfig holds persistence settings for cluster/sub-cluster state.
type StoreConfig struct {
	// Backend selects the store.Store implementation: "memory" or "sqlite".
	Backend string `mapstructure:"backend"`

	// Path is the SQLite file path (or ":memory:"). Unused for "memory".
	Path string `mapstructure:"path"`
}

// RetrieverConfig holds vector DB read-side settings, used by the
// replay command to source a population of vectors.
type RetrieverConfig struct {
	Backend   string `mapstructure:"backend"`
	Index     string `mapstructure:"index"`
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	PageSize  int    `mapstructure:"page_size"`
}

// MirrorConfig holds vector DB write-side settings, used to keep an
// external index's centroids in sync with the engine's sub-clusters.
type MirrorConfig struct {
	Backend    string `mapstructure:"backend"`
	Index      string `mapstructure:"index"`
	Host       string `mapstructure:"host"`
	Namespace  string `mapstructure:"namespace"`
	Collection string `mapstructure:"collection"`
}

// CacheConfig holds response-cache settings.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	RedisURL   string        `mapstructure:"redis_url"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxSize    int64         `mapstructure:"max_size"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Exporter   string  `mapstructure:"exporter"`
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Insecure   bool    `mapstructure:"insecure"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Engine: EngineConfig{
			ClusterSim:    0.7,
			SubclusterSim: 0.75,
			PairSimMax:    0.99,
			StoreVectors:  false,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			BatchSize: 100,
			CacheSize: 10000,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Retriever: RetrieverConfig{
			Backend:  "pinecone",
			PageSize: 100,
		},
		Mirror: MirrorConfig{
			Backend: "none",
		},
		Cache: CacheConfig{
			Backend:    "memory",
			DefaultTTL: time.Hour,
			MaxSize:    10000,
		},
		Auth: AuthConfig{
			APIKeys: []string{},
		},
		Telemetry: TelemetryConfig{
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "otlp",
				Endpoint:   "localhost:4317",
				SampleRate: 1.0,
				Insecure:   true,
			},
		},
	}
}

// Load reads configuration from the given viper instance and returns
// a validated Config. Environment variables in string values are
// interpolated using ${VAR} syntax.
func Load(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	interpolateConfig(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile reads a specific config file and returns a validated Config.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Load(v)
}

// Validate checks the configuration for errors and returns a descriptive
// error if any field is invalid.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port: must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout: must be non-negative")
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, "server.write_timeout: must be non-negative")
	}

	// Engine validation mirrors linkscluster.Config.validate: 0 < S <= sigma <= M <= 1.
	if cfg.Engine.ClusterSim <= 0 || cfg.Engine.ClusterSim >= 1 {
		errs = append(errs, fmt.Sprintf("engine.cluster_sim: must be in (0, 1), got %f", cfg.Engine.ClusterSim))
	}
	if cfg.Engine.SubclusterSim < cfg.Engine.ClusterSim {
		errs = append(errs, fmt.Sprintf("engine.subcluster_sim: %f must be >= engine.cluster_sim %f", cfg.Engine.SubclusterSim, cfg.Engine.ClusterSim))
	}
	if cfg.Engine.PairSimMax < cfg.Engine.SubclusterSim || cfg.Engine.PairSimMax > 1 {
		errs = append(errs, fmt.Sprintf("engine.pair_sim_max: %f must be in [engine.subcluster_sim, 1]", cfg.Engine.PairSimMax))
	}

	validProviders := map[string]bool{"openai": true, "": true}
	if !validProviders[cfg.Embedding.Provider] {
		errs = append(errs, fmt.Sprintf("embedding.provider: unsupported provider %q (supported: openai)", cfg.Embedding.Provider))
	}
	if cfg.Embedding.BatchSize < 0 {
		errs = append(errs, "embedding.batch_size: must be non-negative")
	}

	validStoreBackends := map[string]bool{"memory": true, "sqlite": true, "": true}
	if !validStoreBackends[cfg.Store.Backend] {
		errs = append(errs, fmt.Sprintf("store.backend: unsupported backend %q (supported: memory, sqlite)", cfg.Store.Backend))
	}

	validRetrieverBackends := map[string]bool{"pinecone": true, "qdrant": true, "": true}
	if !validRetrieverBackends[cfg.Retriever.Backend] {
		errs = append(errs, fmt.Sprintf("retriever.backend: unsupported backend %q (supported: pinecone, qdrant)", cfg.Retriever.Backend))
	}
	if cfg.Retriever.PageSize < 0 {
		errs = append(errs, "retriever.page_size: must be non-negative")
	}

	validMirrorBackends := map[string]bool{"pinecone": true, "qdrant": true, "none": true, "": true}
	if !validMirrorBackends[cfg.Mirror.Backend] {
		errs = append(errs, fmt.Sprintf("mirror.backend: unsupported backend %q (supported: pinecone, qdrant, none)", cfg.Mirror.Backend))
	}

	validCacheBackends := map[string]bool{"memory": true, "redis": true, "": true}
	if !validCacheBackends[cfg.Cache.Backend] {
		errs = append(errs, fmt.Sprintf("cache.backend: unsupported backend %q (supported: memory, redis)", cfg.Cache.Backend))
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true, "": true}
	if !validExporters[cfg.Telemetry.Tracing.Exporter] {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.exporter: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Telemetry.Tracing.Exporter))
	}
	if cfg.Telemetry.Tracing.SampleRate < 0 || cfg.Telemetry.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.tracing.sample_rate: must be between 0 and 1, got %f", cfg.Telemetry.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnv replaces ${VAR} and ${VAR:-default} patterns in a string
// with the corresponding environment variable values.
func InterpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		return match
	})
}

// interpolateConfig applies environment variable interpolation to all
// string fields in the config.
func interpolateConfig(cfg *Config) {
	cfg.Server.Host = InterpolateEnv(cfg.Server.Host)
	cfg.Embedding.Provider = InterpolateEnv(cfg.Embedding.Provider)
	cfg.Embedding.Model = InterpolateEnv(cfg.Embedding.Model)
	cfg.Store.Backend = InterpolateEnv(cfg.Store.Backend)
	cfg.Store.Path = InterpolateEnv(cfg.Store.Path)
	cfg.Retriever.Backend = InterpolateEnv(cfg.Retriever.Backend)
	cfg.Retriever.Index = InterpolateEnv(cfg.Retriever.Index)
	cfg.Retriever.Host = InterpolateEnv(cfg.Retriever.Host)
	cfg.Retriever.Namespace = InterpolateEnv(cfg.Retriever.Namespace)
	cfg.Mirror.Backend = InterpolateEnv(cfg.Mirror.Backend)
	cfg.Mirror.Index = InterpolateEnv(cfg.Mirror.Index)
	cfg.Mirror.Host = InterpolateEnv(cfg.Mirror.Host)
	cfg.Mirror.Namespace = InterpolateEnv(cfg.Mirror.Namespace)
	cfg.Mirror.Collection = InterpolateEnv(cfg.Mirror.Collection)
	cfg.Cache.Backend = InterpolateEnv(cfg.Cache.Backend)
	cfg.Cache.RedisURL = InterpolateEnv(cfg.Cache.RedisURL)

	for i, key := range cfg.Auth.APIKeys {
		cfg.Auth.APIKeys[i] = InterpolateEnv(key)
	}

	cfg.Telemetry.Tracing.Exporter = InterpolateEnv(cfg.Telemetry.Tracing.Exporter)
	cfg.Telemetry.Tracing.Endpoint = InterpolateEnv(cfg.Telemetry.Tracing.Endpoint)
}

// GenerateTemplate returns a YAML template string with all available
// configuration options and their defaults, suitable for writing to
// a linkscluster.yaml file.
func GenerateTemplate() string {
	return `# linkscluster configuration
# See: https://github.com/matluuk/linkscluster

server:
  port: 8080
  host: 0.0.0.0
  read_timeout: 30s
  write_timeout: 60s

engine:
  cluster_sim: 0.7      # S: base adjacency threshold between singletons
  subcluster_sim: 0.75  # sigma: direct-absorption threshold
  pair_sim_max: 0.99    # M: asymptotic adjacency threshold
  store_vectors: false

embedding:
  provider: openai
  model: text-embedding-3-small
  batch_size: 100
  cache_size: 10000

store:
  backend: memory      # memory or sqlite
  path: ""             # sqlite file path, or ":memory:"

retriever:
  backend: pinecone    # pinecone or qdrant, used by the replay command
  index: ""
  host: ""             # required for qdrant
  namespace: ""
  page_size: 100

mirror:
  backend: none        # pinecone, qdrant, or none
  index: ""
  host: ""
  namespace: ""
  collection: ""

cache:
  backend: memory      # memory or redis
  redis_url: ""
  default_ttl: 1h
  max_size: 10000

auth:
  api_keys:
    # - ${LINKSCLUSTER_API_KEY}

telemetry:
  tracing:
    enabled: false
    exporter: otlp       # otlp, stdout, or none
    endpoint: localhost:4317
    sample_rate: 1.0     # 0.0 to 1.0
    insecure: true
`
}
