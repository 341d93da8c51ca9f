// Package domain defines the core interfaces and types for FraudShield.
package domain

// FingerprintData is the browser/device signal bundle supplied by the
// client-side collector. The collector itself is an external component;
// only its output shape matters here.
type FingerprintData struct {
	VisitorID  string         `json:"visitorId"`
	Confidence float64        `json:"confidence"`
	Incognito  bool           `json:"incognito"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Components map[string]any `json:"components,omitempty"`
}

// PageData describes the page the event originated from.
type PageData struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer,omitempty"`
	Title    string `json:"title,omitempty"`
}

// UserAction describes the user interaction that triggered the evaluation.
type UserAction struct {
	Type     string         `json:"type"`
	Target   string         `json:"target,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RawEvent is one evaluation request as published on the raw_events channel.
// Immutable once published; created by the intake boundary.
type RawEvent struct {
	Type            string          `json:"type"`
	SessionID       string          `json:"sessionId"`
	MerchantID      string          `json:"merchantId"`
	FingerprintData FingerprintData `json:"fingerprintData"`
	PageData        *PageData       `json:"pageData,omitempty"`
	UserAction      *UserAction     `json:"userAction,omitempty"`
	TimestampMs     int64           `json:"timestampMs"`
	SourceIP        string          `json:"sourceIp"`
}

// GeoInfo is the result of a geo-IP lookup. Zero value means the backing
// provider had no data for the address.
type GeoInfo struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Continent string  `json:"continent"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"long"`
	Timezone  string  `json:"timezone"`
	ISP       string  `json:"isp"`
	ASN       uint    `json:"asn"`
}

// VelocityData holds the rate counters computed during enrichment.
// Counts are per rolling 24h window anchored at first-seen.
type VelocityData struct {
	SessionCount         int64 `json:"sessionCount"`
	IPCount              int64 `json:"ipCount"`
	DeviceCount          int64 `json:"deviceCount"`
	SecondsSinceLastSeen int64 `json:"secondsSinceLastSeen"`
	FirstSeenDevice      bool  `json:"firstSeenDevice"`
}

// EnrichedEvent is a RawEvent plus enrichment results. Owned exclusively by
// the evaluator during a single evaluation; never shared across evaluations.
// Enrichment fields stay nil/empty when the backing lookup failed.
type EnrichedEvent struct {
	RawEvent

	GeoData      *GeoInfo      `json:"geoData,omitempty"`
	VelocityData *VelocityData `json:"velocityData,omitempty"`
	AnonymizedIP string        `json:"anonymizedIp,omitempty"`
}
