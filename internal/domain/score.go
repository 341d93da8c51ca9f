package domain

// Risk factor tags attached to a RiskScore. Each tag names one contributor
// to the final score.
const (
	FactorLowDeviceConfidence    = "low_device_confidence"
	FactorMediumDeviceConfidence = "medium_device_confidence"
	FactorIncognitoMode          = "incognito_mode"
	FactorHighRiskCountry        = "high_risk_country"
	FactorHighSessionVelocity    = "high_session_velocity"
	FactorHighIPVelocity         = "high_ip_velocity"
	FactorCalculationError       = "calculation_error"
	FactorCaptchaVerified        = "captcha_verified"
	FactorFailsafeTimeout        = "failsafe_timeout"
)

// RiskScore is the output of one evaluation, published on the risk_scores
// channel. Produced once per evaluation and immutable afterwards.
type RiskScore struct {
	ID              string   `json:"id"`
	EvaluationID    string   `json:"evaluationId"`
	SessionID       string   `json:"sessionId"`
	MerchantID      string   `json:"merchantId"`
	VisitorID       string   `json:"visitorId"`
	Score           int      `json:"score"`
	IsFraud         bool     `json:"isFraud"`
	RequiresCaptcha bool     `json:"requiresCaptcha"`
	RiskFactors     []string `json:"riskFactors"`
	TimestampMs     int64    `json:"timestampMs"`
}

// HasFactor reports whether the score carries the given risk factor tag.
func (rs *RiskScore) HasFactor(factor string) bool {
	for _, f := range rs.RiskFactors {
		if f == factor {
			return true
		}
	}
	return false
}

// Risk level bands. RiskLevelFor is the single mapping from score to level;
// it must stay monotonic in the score.
const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// RiskLevelFor maps a clamped score to its risk level band.
func RiskLevelFor(score int) string {
	switch {
	case score >= 90:
		return RiskLevelCritical
	case score >= 70:
		return RiskLevelHigh
	case score >= 40:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// ClampScore bounds a score to [0,100].
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Prediction is the output of an optional machine-learning scoring model.
type Prediction struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}
