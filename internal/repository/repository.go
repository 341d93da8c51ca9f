// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/theomodesto/fraudshield/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveDecision stores a decision. The evaluation_id unique constraint
// enforces one decision per evaluation at the storage layer.
func (r *SQLRepository) SaveDecision(ctx context.Context, d *domain.Decision) error {
	if d.ID == "" || d.EvaluationID == "" {
		return fmt.Errorf("%w: decision id and evaluationId are required", ErrInvalidInput)
	}

	reasoning, _ := json.Marshal(d.Reasoning)

	query := `
		INSERT INTO decisions (
			id, evaluation_id, merchant_id, transaction_id,
			decision, risk_score, risk_level, reasoning, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, d.EvaluationID, d.MerchantID, d.TransactionID,
		d.Decision, d.RiskScore, d.RiskLevel, string(reasoning), d.CreatedAt,
	)
	return err
}

// GetDecision retrieves a decision by ID.
func (r *SQLRepository) GetDecision(ctx context.Context, id string) (*domain.Decision, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, evaluation_id, merchant_id, transaction_id,
			   decision, risk_score, risk_level, reasoning, created_at
		FROM decisions
		WHERE id = ?
	`

	return r.scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// GetDecisionByEvaluation retrieves the decision for one evaluation. This is
// the idempotency lookup used before creating a new decision.
func (r *SQLRepository) GetDecisionByEvaluation(ctx context.Context, evaluationID string) (*domain.Decision, error) {
	if evaluationID == "" {
		return nil, fmt.Errorf("%w: evaluationId is required", ErrInvalidInput)
	}

	query := `
		SELECT id, evaluation_id, merchant_id, transaction_id,
			   decision, risk_score, risk_level, reasoning, created_at
		FROM decisions
		WHERE evaluation_id = ?
	`

	return r.scanDecision(r.db.QueryRowContext(ctx, r.rebind(query), evaluationID))
}

func (r *SQLRepository) scanDecision(row *sql.Row) (*domain.Decision, error) {
	var d domain.Decision
	var reasoning string

	err := row.Scan(
		&d.ID, &d.EvaluationID, &d.MerchantID, &d.TransactionID,
		&d.Decision, &d.RiskScore, &d.RiskLevel, &reasoning, &d.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if reasoning != "" {
		json.Unmarshal([]byte(reasoning), &d.Reasoning)
	}

	return &d, nil
}

// SaveRiskScore stores a risk score.
func (r *SQLRepository) SaveRiskScore(ctx context.Context, rs *domain.RiskScore) error {
	if rs.ID == "" || rs.EvaluationID == "" {
		return fmt.Errorf("%w: risk score id and evaluationId are required", ErrInvalidInput)
	}

	factors, _ := json.Marshal(rs.RiskFactors)

	query := `
		INSERT INTO risk_scores (
			id, evaluation_id, session_id, merchant_id, visitor_id,
			score, is_fraud, requires_captcha, risk_factors, timestamp_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rs.ID, rs.EvaluationID, rs.SessionID, rs.MerchantID, rs.VisitorID,
		rs.Score, boolToInt(rs.IsFraud), boolToInt(rs.RequiresCaptcha),
		string(factors), rs.TimestampMs,
	)
	return err
}

// GetRiskScoreByEvaluation retrieves the most recent risk score for an
// evaluation. Captcha retries append scores, so the latest one wins.
func (r *SQLRepository) GetRiskScoreByEvaluation(ctx context.Context, evaluationID string) (*domain.RiskScore, error) {
	if evaluationID == "" {
		return nil, fmt.Errorf("%w: evaluationId is required", ErrInvalidInput)
	}

	query := `
		SELECT id, evaluation_id, session_id, merchant_id, visitor_id,
			   score, is_fraud, requires_captcha, risk_factors, timestamp_ms
		FROM risk_scores
		WHERE evaluation_id = ?
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`

	var rs domain.RiskScore
	var factors string
	var isFraud, requiresCaptcha int

	err := r.db.QueryRowContext(ctx, r.rebind(query), evaluationID).Scan(
		&rs.ID, &rs.EvaluationID, &rs.SessionID, &rs.MerchantID, &rs.VisitorID,
		&rs.Score, &isFraud, &requiresCaptcha, &factors, &rs.TimestampMs,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rs.IsFraud = isFraud == 1
	rs.RequiresCaptcha = requiresCaptcha == 1
	if factors != "" {
		json.Unmarshal([]byte(factors), &rs.RiskFactors)
	}

	return &rs, nil
}

// GetMerchantSettings retrieves settings for one merchant.
func (r *SQLRepository) GetMerchantSettings(ctx context.Context, merchantID string) (*domain.MerchantSettings, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchantId is required", ErrInvalidInput)
	}

	query := `
		SELECT merchant_id, risk_threshold, high_risk_threshold, automatic_reject,
			   manual_review_threshold, ip_anonymization, captcha_site_key,
			   webhook_url, webhook_secret, updated_at
		FROM merchant_settings
		WHERE merchant_id = ?
	`

	var s domain.MerchantSettings
	var automaticReject, ipAnonymization int
	var captchaSiteKey, webhookURL, webhookSecret sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), merchantID).Scan(
		&s.MerchantID, &s.RiskThreshold, &s.HighRiskThreshold, &automaticReject,
		&s.ManualReviewThreshold, &ipAnonymization, &captchaSiteKey,
		&webhookURL, &webhookSecret, &s.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.AutomaticReject = automaticReject == 1
	s.IPAnonymization = ipAnonymization == 1
	s.CaptchaSiteKey = captchaSiteKey.String
	s.WebhookURL = webhookURL.String
	s.WebhookSecret = webhookSecret.String

	return &s, nil
}

// SaveMerchantSettings creates or replaces settings for one merchant.
func (r *SQLRepository) SaveMerchantSettings(ctx context.Context, s *domain.MerchantSettings) error {
	if s.MerchantID == "" {
		return fmt.Errorf("%w: merchantId is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO merchant_settings (
			merchant_id, risk_threshold, high_risk_threshold, automatic_reject,
			manual_review_threshold, ip_anonymization, captcha_site_key,
			webhook_url, webhook_secret, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id) DO UPDATE SET
			risk_threshold = excluded.risk_threshold,
			high_risk_threshold = excluded.high_risk_threshold,
			automatic_reject = excluded.automatic_reject,
			manual_review_threshold = excluded.manual_review_threshold,
			ip_anonymization = excluded.ip_anonymization,
			captcha_site_key = excluded.captcha_site_key,
			webhook_url = excluded.webhook_url,
			webhook_secret = excluded.webhook_secret,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		s.MerchantID, s.RiskThreshold, s.HighRiskThreshold, boolToInt(s.AutomaticReject),
		s.ManualReviewThreshold, boolToInt(s.IPAnonymization), s.CaptchaSiteKey,
		s.WebhookURL, s.WebhookSecret, now,
	)
	if err == nil {
		s.UpdatedAt = now
	}
	return err
}

// GetMerchantRules retrieves all rules for a merchant, enabled or not.
// Filtering and priority ordering belong to the rule engine.
func (r *SQLRepository) GetMerchantRules(ctx context.Context, merchantID string) ([]*domain.Rule, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchantId is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, conditions, expression, action, priority,
			   is_enabled, risk_score_adjustment, created_at, updated_at
		FROM merchant_rules
		WHERE merchant_id = ?
		ORDER BY priority DESC, created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		var rule domain.Rule
		var conditions string
		var expression sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &conditions, &expression, &rule.Action,
			&rule.Priority, &enabled, &rule.RiskScoreAdjustment,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.IsEnabled = enabled == 1
		rule.Expression = expression.String
		if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
			return nil, fmt.Errorf("failed to parse conditions for rule %s: %w", rule.ID, err)
		}
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveMerchantRule creates or replaces one rule for a merchant.
func (r *SQLRepository) SaveMerchantRule(ctx context.Context, merchantID string, rule *domain.Rule) error {
	if merchantID == "" {
		return fmt.Errorf("%w: merchantId is required", ErrInvalidInput)
	}
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO merchant_rules (
			id, merchant_id, name, conditions, expression, action,
			priority, is_enabled, risk_score_adjustment, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, merchant_id) DO UPDATE SET
			name = excluded.name,
			conditions = excluded.conditions,
			expression = excluded.expression,
			action = excluded.action,
			priority = excluded.priority,
			is_enabled = excluded.is_enabled,
			risk_score_adjustment = excluded.risk_score_adjustment,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, merchantID, rule.Name, string(conditions), rule.Expression,
		rule.Action, rule.Priority, boolToInt(rule.IsEnabled),
		rule.RiskScoreAdjustment, createdAt, now,
	)
	if err == nil {
		rule.CreatedAt = createdAt
		rule.UpdatedAt = now
	}
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
