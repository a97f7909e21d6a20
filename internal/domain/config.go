package domain

import "time"

// Config holds the complete medaudit configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" koanf:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" koanf:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" koanf:"repository"`
	Cache      CacheConfig      `json:"cache" koanf:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" koanf:"event_bus"`
	Graph      GraphConfig      `json:"graph" koanf:"graph"`

	// Scoring and evaluation
	Scoring    ScoringConfig    `json:"scoring" koanf:"scoring"`
	Evaluation EvaluationConfig `json:"evaluation" koanf:"evaluation"`
	ML         MLConfig         `json:"ml" koanf:"ml"`
	Legality   LegalityConfig   `json:"legality" koanf:"legality"`

	// Observability
	Logging LoggingConfig `json:"logging" koanf:"logging"`
	Tracing TracingConfig `json:"tracing" koanf:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" koanf:"host"`
	Port         int    `json:"port" koanf:"port"`
	ReadTimeout  int    `json:"readTimeout" koanf:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" koanf:"write_timeout"` // seconds
}

// GraphConfig holds neo4j settings for enrichment and network analysis.
type GraphConfig struct {
	Enabled  bool          `json:"enabled" koanf:"enabled"`
	URI      string        `json:"uri" koanf:"uri"`
	Username string        `json:"username" koanf:"username"`
	Password string        `json:"-" koanf:"password"`
	Database string        `json:"database" koanf:"database"`
	CacheTTL time.Duration `json:"cacheTtl" koanf:"cache_ttl"`
}

// ScoringConfig holds the risk scoring weights and level thresholds.
type ScoringConfig struct {
	Weights         ScoringWeights `json:"weights" koanf:"weights"`
	HighThreshold   float64        `json:"highThreshold" koanf:"high_threshold"`
	MediumThreshold float64        `json:"mediumThreshold" koanf:"medium_threshold"`
}

// EvaluationConfig holds evaluator settings.
type EvaluationConfig struct {
	BatchSize           int           `json:"batchSize" koanf:"batch_size"`
	HistoryLookbackDays int           `json:"historyLookbackDays" koanf:"history_lookback_days"`
	AsyncWorker         bool          `json:"asyncWorker" koanf:"async_worker"`
	CatalogCacheTTL     time.Duration `json:"catalogCacheTtl" koanf:"catalog_cache_ttl"`
}

// MLConfig points at persisted model artifacts. Empty paths leave models untrained.
type MLConfig struct {
	ClassifierPath string `json:"classifierPath" koanf:"classifier_path"`
	OutlierPath    string `json:"outlierPath" koanf:"outlier_path"`
}

// LegalityConfig bounds the accepted billed amount range.
type LegalityConfig struct {
	AmountMin float64 `json:"amountMin" koanf:"amount_min"`
	AmountMax float64 `json:"amountMax" koanf:"amount_max"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level"`   // debug, info, warn, error
	Format string `json:"format" koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" koanf:"enabled"`
	ServiceName  string `json:"serviceName" koanf:"service_name"`
	ExporterType string `json:"exporterType" koanf:"exporter_type"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" koanf:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis + neo4j
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./medaudit.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Graph: GraphConfig{
			Enabled:  false,
			URI:      "neo4j://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
			CacheTTL: 15 * time.Minute,
		},
		Scoring: ScoringConfig{
			Weights: ScoringWeights{
				Rules:   0.3,
				ML:      0.3,
				Network: 0.2,
				NLP:     0.2,
			},
			HighThreshold:   0.8,
			MediumThreshold: 0.65,
		},
		Evaluation: EvaluationConfig{
			BatchSize:           10,
			HistoryLookbackDays: 90,
			CatalogCacheTTL:     10 * time.Minute,
		},
		Legality: LegalityConfig{
			AmountMin: 0,
			AmountMax: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "medaudit",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "medaudit",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Graph.Enabled = true
	cfg.Evaluation.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}
