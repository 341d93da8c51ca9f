package domain

import "time"

// DefaultMerchantID is the tenant record consulted when a merchant has no
// configuration of its own.
const DefaultMerchantID = "default"

// MerchantSettings holds per-merchant decisioning configuration. Mutated only
// through the administrative path; read-cached with a short TTL everywhere
// else.
type MerchantSettings struct {
	MerchantID            string `json:"merchantId"`
	RiskThreshold         int    `json:"riskThreshold"`
	HighRiskThreshold     int    `json:"highRiskThreshold"`
	AutomaticReject       bool   `json:"automaticReject"`
	ManualReviewThreshold int    `json:"manualReviewThreshold,omitempty"`
	IPAnonymization       bool   `json:"ipAnonymization"`
	CaptchaSiteKey        string `json:"captchaSiteKey,omitempty"`
	WebhookURL            string `json:"webhookUrl,omitempty"`
	WebhookSecret         string `json:"webhookSecret,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// BaselineSettings returns the hardcoded fallback used when neither the
// merchant nor the default tenant has a configuration record.
func BaselineSettings(merchantID string) *MerchantSettings {
	return &MerchantSettings{
		MerchantID:        merchantID,
		RiskThreshold:     70,
		HighRiskThreshold: 90,
		AutomaticReject:   true,
	}
}
