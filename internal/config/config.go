package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Kafka         KafkaConfig         `yaml:"kafka"`
	Buffer        BufferConfig        `yaml:"buffer"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
	OffsetInitial string   `yaml:"offset_initial"` // "oldest" or "newest"
	ClientID      string   `yaml:"client_id"`
}

type BufferConfig struct {
	Memory  MemoryConfig  `yaml:"memory"`
	Durable DurableConfig `yaml:"durable"`
}

type MemoryConfig struct {
	// Capacity is the maximum number of messages retained in memory.
	Capacity int `yaml:"capacity"`
}

type DurableConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	// KeyPrefix namespaces all keys written by this instance. The key layout
	// under the prefix is a stable contract shared with older deployments.
	KeyPrefix string `yaml:"key_prefix"`

	TTL Duration `yaml:"ttl"`

	// MaxConcurrentWrites bounds in-flight background persistence writes.
	MaxConcurrentWrites int      `yaml:"max_concurrent_writes"`
	AdmissionTimeout    Duration `yaml:"admission_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`

	// TrimCadence triggers an index-cardinality check every Nth write;
	// TrimBurstThreshold forces a check after that many writes since the
	// last one regardless of cadence alignment.
	TrimCadence        int `yaml:"trim_cadence"`
	TrimBurstThreshold int `yaml:"trim_burst_threshold"`
	MaxIndexEntries    int `yaml:"max_index_entries"`

	PageSize  int `yaml:"page_size"`
	ScanBatch int `yaml:"scan_batch"`

	DrainTimeout Duration `yaml:"drain_timeout"`
	ClearBudget  Duration `yaml:"clear_budget"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("kafka.consumer_group is required")
	}

	if c.Buffer.Memory.Capacity <= 0 {
		return fmt.Errorf("buffer.memory.capacity must be > 0")
	}

	d := c.Buffer.Durable
	if d.Enabled {
		if d.Addr == "" {
			return fmt.Errorf("buffer.durable.addr is required when the durable tier is enabled")
		}
		if d.KeyPrefix == "" {
			return fmt.Errorf("buffer.durable.key_prefix is required when the durable tier is enabled")
		}
		if d.TTL <= 0 {
			return fmt.Errorf("buffer.durable.ttl must be > 0")
		}
		if d.MaxConcurrentWrites <= 0 {
			return fmt.Errorf("buffer.durable.max_concurrent_writes must be > 0")
		}
		if d.TrimCadence <= 0 {
			return fmt.Errorf("buffer.durable.trim_cadence must be > 0")
		}
		if d.MaxIndexEntries <= 0 {
			return fmt.Errorf("buffer.durable.max_index_entries must be > 0")
		}
		if d.PageSize <= 0 {
			return fmt.Errorf("buffer.durable.page_size must be > 0")
		}
	}

	return nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
