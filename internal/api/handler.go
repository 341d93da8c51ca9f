package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/theomodesto/fraudshield/internal/decision"
	"github.com/theomodesto/fraudshield/internal/domain"
	"github.com/theomodesto/fraudshield/internal/evaluator"
	"github.com/theomodesto/fraudshield/internal/merchant"
	"github.com/theomodesto/fraudshield/internal/repository"
	"github.com/theomodesto/fraudshield/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	evaluator      *evaluator.Evaluator
	decisioner     *decision.Decisioner
	store          *merchant.Store
	repo           domain.Repository
	cache          domain.Cache
	bus            domain.EventBus
	engine         *rules.Engine
	captchaSiteKey string
	version        string
}

// NewHandler creates a new API handler.
func NewHandler(
	ev *evaluator.Evaluator,
	dec *decision.Decisioner,
	store *merchant.Store,
	repo domain.Repository,
	cache domain.Cache,
	eventBus domain.EventBus,
	engine *rules.Engine,
	captchaSiteKey string,
	version string,
) *Handler {
	return &Handler{
		evaluator:      ev,
		decisioner:     dec,
		store:          store,
		repo:           repo,
		cache:          cache,
		bus:            eventBus,
		engine:         engine,
		captchaSiteKey: captchaSiteKey,
		version:        version,
	}
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	SessionID       string                 `json:"sessionId"`
	MerchantID      string                 `json:"merchantId"`
	FingerprintData domain.FingerprintData `json:"fingerprintData"`
	PageData        *domain.PageData       `json:"pageData,omitempty"`
	UserAction      *domain.UserAction     `json:"userAction,omitempty"`
	Timestamp       int64                  `json:"timestamp,omitempty"`
}

// EvaluationResult is the response for POST /evaluate and
// POST /evaluate/captcha.
type EvaluationResult struct {
	RiskScore       int    `json:"riskScore"`
	IsFraud         bool   `json:"isFraud"`
	EvaluationID    string `json:"evaluationId"`
	RequiresCaptcha bool   `json:"requiresCaptcha"`
	CaptchaSiteKey  string `json:"captchaSiteKey,omitempty"`
}

// Evaluate handles POST /evaluate requests.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.SessionID == "" || req.MerchantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "sessionId and merchantId are required",
		})
		return
	}
	if req.FingerprintData.VisitorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "fingerprintData.visitorId is required",
		})
		return
	}

	raw := &domain.RawEvent{
		Type:            "evaluation_request",
		SessionID:       req.SessionID,
		MerchantID:      req.MerchantID,
		FingerprintData: req.FingerprintData,
		PageData:        req.PageData,
		UserAction:      req.UserAction,
		TimestampMs:     req.Timestamp,
		SourceIP:        clientIP(r.RemoteAddr),
	}

	rs, err := h.evaluator.Evaluate(ctx, raw)
	if err != nil {
		slog.Error("evaluation failed", "merchant_id", req.MerchantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.evaluationResult(ctx, rs))
}

// CaptchaRequest is the request body for POST /evaluate/captcha.
type CaptchaRequest struct {
	EvaluationID string `json:"evaluationId"`
	CaptchaToken string `json:"captchaToken"`
}

// VerifyCaptcha handles POST /evaluate/captcha requests.
func (h *Handler) VerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CaptchaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.EvaluationID == "" || req.CaptchaToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluationId and captchaToken are required",
		})
		return
	}

	rs, err := h.evaluator.VerifyCaptcha(ctx, req.EvaluationID, req.CaptchaToken)
	if err != nil {
		switch {
		case errors.Is(err, evaluator.ErrCaptchaFailed):
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "captcha verification failed",
			})
		case errors.Is(err, repository.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "evaluation not found",
			})
		default:
			slog.Error("captcha verification failed", "evaluation_id", req.EvaluationID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "captcha verification failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, h.evaluationResult(ctx, rs))
}

// clientIP strips the port from a RemoteAddr. RealIP rewrites RemoteAddr to
// the bare forwarded address behind a proxy; direct connections keep the
// host:port form, which would corrupt the per-IP velocity key and break geo
// lookup and anonymization.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// evaluationResult shapes a risk score for the client. The captcha site key
// is only disclosed when a captcha is actually required.
func (h *Handler) evaluationResult(ctx context.Context, rs *domain.RiskScore) EvaluationResult {
	result := EvaluationResult{
		RiskScore:       rs.Score,
		IsFraud:         rs.IsFraud,
		EvaluationID:    rs.EvaluationID,
		RequiresCaptcha: rs.RequiresCaptcha,
	}

	if rs.RequiresCaptcha {
		result.CaptchaSiteKey = h.captchaSiteKey
		if settings, err := h.store.GetSettings(ctx, rs.MerchantID); err == nil && settings.CaptchaSiteKey != "" {
			result.CaptchaSiteKey = settings.CaptchaSiteKey
		}
	}

	return result
}

// DecisionRequest is the request body for POST /decisions.
type DecisionRequest struct {
	EvaluationID  string `json:"evaluationId"`
	MerchantID    string `json:"merchantId"`
	TransactionID string `json:"transactionId,omitempty"`
}

// DecisionResult is the response for decision endpoints.
type DecisionResult struct {
	Decision     string    `json:"decision"`
	DecisionID   string    `json:"decisionId"`
	EvaluationID string    `json:"evaluationId"`
	MerchantID   string    `json:"merchantId"`
	RiskScore    int       `json:"riskScore"`
	RiskLevel    string    `json:"riskLevel"`
	Reasoning    []string  `json:"reasoning"`
	Timestamp    time.Time `json:"timestamp"`
}

func decisionResult(dec *domain.Decision) DecisionResult {
	return DecisionResult{
		Decision:     dec.Decision,
		DecisionID:   dec.ID,
		EvaluationID: dec.EvaluationID,
		MerchantID:   dec.MerchantID,
		RiskScore:    dec.RiskScore,
		RiskLevel:    dec.RiskLevel,
		Reasoning:    dec.Reasoning,
		Timestamp:    dec.CreatedAt,
	}
}

// CreateDecision handles POST /decisions requests from merchant backends.
// The evaluation must have been scored first.
func (h *Handler) CreateDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.EvaluationID == "" || req.MerchantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "evaluationId and merchantId are required",
		})
		return
	}

	rs, err := h.evaluator.RiskScoreByEvaluation(ctx, req.EvaluationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no risk score for evaluation",
			})
			return
		}
		slog.Error("failed to load risk score", "evaluation_id", req.EvaluationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load risk score",
		})
		return
	}
	if rs.MerchantID != req.MerchantID {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no risk score for evaluation",
		})
		return
	}

	dec, _, err := h.decisioner.DecideForTransaction(ctx, rs, req.TransactionID)
	if err != nil {
		slog.Error("decisioning failed", "evaluation_id", req.EvaluationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "decisioning failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, decisionResult(dec))
}

// GetDecision retrieves a decision by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decisionID := chi.URLParam(r, "id")

	if decisionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision id is required",
		})
		return
	}

	dec, err := h.decisioner.GetDecision(ctx, decisionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get decision", "id", decisionID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "decision not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, decisionResult(dec))
}

// GetMerchantSettings retrieves the effective settings for a merchant.
func (h *Handler) GetMerchantSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "merchantId")

	settings, err := h.store.GetSettings(ctx, merchantID)
	if err != nil {
		slog.Error("failed to get merchant settings", "merchant_id", merchantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load merchant settings",
		})
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// UpdateMerchantSettings replaces the settings for a merchant.
func (h *Handler) UpdateMerchantSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "merchantId")

	var settings domain.MerchantSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	settings.MerchantID = merchantID

	if settings.RiskThreshold < 0 || settings.RiskThreshold > 100 ||
		settings.HighRiskThreshold < 0 || settings.HighRiskThreshold > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "thresholds must be between 0 and 100",
		})
		return
	}
	if settings.RiskThreshold > settings.HighRiskThreshold {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "riskThreshold must not exceed highRiskThreshold",
		})
		return
	}

	if err := h.store.SaveSettings(ctx, &settings); err != nil {
		slog.Error("failed to save merchant settings", "merchant_id", merchantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save merchant settings",
		})
		return
	}

	writeJSON(w, http.StatusOK, &settings)
}

// ListMerchantRules returns the custom rules of a merchant.
func (h *Handler) ListMerchantRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "merchantId")

	merchantRules, err := h.store.GetRules(ctx, merchantID)
	if err != nil {
		slog.Error("failed to list merchant rules", "merchant_id", merchantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load merchant rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": merchantRules,
		"count": len(merchantRules),
	})
}

// CreateMerchantRule validates and stores a custom rule for a merchant.
func (h *Handler) CreateMerchantRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := chi.URLParam(r, "merchantId")

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := h.engine.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.store.SaveRule(ctx, merchantID, &rule); err != nil {
		slog.Error("failed to save merchant rule", "merchant_id", merchantID, "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save merchant rule",
		})
		return
	}

	writeJSON(w, http.StatusCreated, &rule)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
