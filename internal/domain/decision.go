package domain

import "time"

// Decision outcomes.
const (
	DecisionApprove = "approve"
	DecisionReview  = "review"
	DecisionReject  = "reject"
)

// Decision is the final outcome for one evaluation. Created exactly once per
// evaluationId (idempotent keying) and immutable after creation; a captcha
// retry produces a new decision rather than mutating the old one.
type Decision struct {
	ID            string    `json:"id"`
	EvaluationID  string    `json:"evaluationId"`
	MerchantID    string    `json:"merchantId"`
	TransactionID string    `json:"transactionId,omitempty"`
	Decision      string    `json:"decision"`
	RiskScore     int       `json:"riskScore"`
	RiskLevel     string    `json:"riskLevel"`
	Reasoning     []string  `json:"reasoning"`
	CreatedAt     time.Time `json:"createdAt"`
}

// WebhookEvent is the payload delivered to a merchant webhook after a
// decision is made. Delivery is best-effort and never blocks decisioning.
type WebhookEvent struct {
	ID            string   `json:"id"`
	EventType     string   `json:"eventType"`
	MerchantID    string   `json:"merchantId"`
	OrderID       string   `json:"orderId,omitempty"`
	TransactionID string   `json:"transactionId"`
	EvaluationID  string   `json:"evaluationId"`
	Decision      string   `json:"decision"`
	RiskScore     int      `json:"riskScore"`
	IsFraud       bool     `json:"isFraud"`
	RiskFactors   []string `json:"riskFactors"`
	Timestamp     int64    `json:"timestamp"`
}

// EventTypeDecision is the webhook event type for transaction decisions.
const EventTypeDecision = "transaction.decision"
