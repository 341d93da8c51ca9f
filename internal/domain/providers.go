package domain

import "context"

// GeoProvider resolves geo-location data for an IP address. A nil result with
// nil error means the backing provider had no data.
type GeoProvider interface {
	Lookup(ctx context.Context, ip string) (*GeoInfo, error)
	Close() error
}

// CaptchaVerifier checks a captcha token with the external provider. Only the
// boolean outcome matters to the pipeline; the verification protocol is the
// provider's concern.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// Model is the optional machine-learning scoring hook. When configured, its
// prediction contributes an additional additive term to the risk score.
type Model interface {
	Predict(ctx context.Context, ev *EnrichedEvent) (*Prediction, error)
}
