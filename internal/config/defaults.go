package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			OffsetInitial: "newest",
			ClientID:      "kafka-replay-buffer",
		},
		Buffer: BufferConfig{
			Memory: MemoryConfig{
				Capacity: 10000,
			},
			Durable: DurableConfig{
				Enabled:             false,
				Addr:                "localhost:6379",
				KeyPrefix:           "replay",
				TTL:                 Duration(24 * time.Hour),
				MaxConcurrentWrites: 32,
				AdmissionTimeout:    Duration(50 * time.Millisecond),
				WriteTimeout:        Duration(2 * time.Second),
				TrimCadence:         100,
				TrimBurstThreshold:  500,
				MaxIndexEntries:     50000,
				PageSize:            1000,
				ScanBatch:           200,
				DrainTimeout:        Duration(5 * time.Second),
				ClearBudget:         Duration(10 * time.Second),
			},
		},
		API: APIConfig{
			Enabled: true,
			Listen:  ":8080",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
