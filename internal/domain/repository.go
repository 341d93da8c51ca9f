package domain

import (
	"context"
	"time"
)

// Repository is the system of record for decisions, risk scores, and merchant
// configuration. The relational schema behind it is managed elsewhere.
type Repository interface {
	// Decision operations
	SaveDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, id string) (*Decision, error)
	GetDecisionByEvaluation(ctx context.Context, evaluationID string) (*Decision, error)

	// Risk score operations
	SaveRiskScore(ctx context.Context, rs *RiskScore) error
	GetRiskScoreByEvaluation(ctx context.Context, evaluationID string) (*RiskScore, error)

	// Merchant configuration operations
	GetMerchantSettings(ctx context.Context, merchantID string) (*MerchantSettings, error)
	SaveMerchantSettings(ctx context.Context, s *MerchantSettings) error
	GetMerchantRules(ctx context.Context, merchantID string) ([]*Rule, error)
	SaveMerchantRule(ctx context.Context, merchantID string, r *Rule) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
