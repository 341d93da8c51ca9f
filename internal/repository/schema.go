package repository

// Schema definitions for FraudShield database.
// Compatible with both SQLite and PostgreSQL.

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    evaluation_id TEXT NOT NULL UNIQUE,
    merchant_id TEXT NOT NULL,
    transaction_id TEXT,
    decision TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    reasoning TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_merchant ON decisions(merchant_id);
CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(merchant_id, created_at);
`

const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    id TEXT PRIMARY KEY,
    evaluation_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    visitor_id TEXT,
    score INTEGER NOT NULL,
    is_fraud INTEGER NOT NULL DEFAULT 0,
    requires_captcha INTEGER NOT NULL DEFAULT 0,
    risk_factors TEXT NOT NULL,
    timestamp_ms BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_evaluation ON risk_scores(evaluation_id);
CREATE INDEX IF NOT EXISTS idx_risk_scores_merchant ON risk_scores(merchant_id);
CREATE INDEX IF NOT EXISTS idx_risk_scores_session ON risk_scores(merchant_id, session_id);
`

const schemaMerchantSettings = `
CREATE TABLE IF NOT EXISTS merchant_settings (
    merchant_id TEXT PRIMARY KEY,
    risk_threshold INTEGER NOT NULL,
    high_risk_threshold INTEGER NOT NULL,
    automatic_reject INTEGER NOT NULL DEFAULT 1,
    manual_review_threshold INTEGER NOT NULL DEFAULT 0,
    ip_anonymization INTEGER NOT NULL DEFAULT 0,
    captcha_site_key TEXT,
    webhook_url TEXT,
    webhook_secret TEXT,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaMerchantRules = `
CREATE TABLE IF NOT EXISTS merchant_rules (
    id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    conditions TEXT NOT NULL,
    expression TEXT,
    action TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    is_enabled INTEGER NOT NULL DEFAULT 1,
    risk_score_adjustment INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, merchant_id)
);

CREATE INDEX IF NOT EXISTS idx_merchant_rules_merchant ON merchant_rules(merchant_id);
CREATE INDEX IF NOT EXISTS idx_merchant_rules_enabled ON merchant_rules(merchant_id, is_enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDecisions,
		schemaRiskScores,
		schemaMerchantSettings,
		schemaMerchantRules,
	}
}
