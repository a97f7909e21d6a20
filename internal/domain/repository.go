// Package domain defines the core interfaces and types for medaudit.
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for data persistence.
type Repository interface {
	// Bill operations
	SaveBill(ctx context.Context, bill *Bill) error
	GetBillByClaimID(ctx context.Context, claimID string) (*Bill, error)
	ListBillsByParties(ctx context.Context, patientID, providerID string, since time.Time) ([]*Bill, error)

	// Billing code catalog
	SaveBillingCode(ctx context.Context, code *BillingCode) error
	GetBillingCodes(ctx context.Context, codes []string) (map[string]BillingCode, error)

	// Compliance checks
	SaveComplianceChecks(ctx context.Context, checks []*ComplianceCheck) error
	ListComplianceChecks(ctx context.Context, claimID string) ([]*ComplianceCheck, error)

	// Evaluation results
	SaveEvaluation(ctx context.Context, eval *EvaluationResult) error
	GetEvaluation(ctx context.Context, evalID string) (*EvaluationResult, error)

	// Expression rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}
