// Package captcha verifies challenge tokens against an external provider.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/theomodesto/fraudshield/internal/domain"
)

// HTTPVerifier implements domain.CaptchaVerifier against a
// reCAPTCHA-compatible verification endpoint: a form POST with the shared
// secret and token, answered with a JSON success flag.
type HTTPVerifier struct {
	verifyURL string
	secret    string
	client    *http.Client
}

// New creates a verifier from configuration.
func New(cfg domain.CaptchaConfig) (*HTTPVerifier, error) {
	if cfg.VerifyURL == "" {
		return nil, fmt.Errorf("captcha verify URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPVerifier{
		verifyURL: cfg.VerifyURL,
		secret:    cfg.Secret,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// Verify checks one token. A provider rejection returns false with no error;
// transport and protocol failures return an error.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	form := url.Values{
		"secret":   {v.secret},
		"response": {token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("captcha provider returned %d", resp.StatusCode)
	}

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("parse verify response: %w", err)
	}

	return result.Success, nil
}
