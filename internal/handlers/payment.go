package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/babymaxMAX/autosub/internal/logging"
	"github.com/babymaxMAX/autosub/internal/models"
	"github.com/babymaxMAX/autosub/internal/payments"
	"github.com/babymaxMAX/autosub/internal/repositories"
)

// PaymentHandler implements the provider webhook and checkout link endpoints.
type PaymentHandler struct {
	Users      UserStore
	Reconciler PaymentReconciler
	Limiter    RateLimiter
}

// Webhook handles POST /webhook/payment requests from the provider.
func (h PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !allowRequest(h.Limiter, r, "payment-webhook") {
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
		return
	}

	if h.Reconciler == nil {
		logger.Error("payment reconciler unavailable")
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "payment service unavailable"})
		return
	}

	var hook payments.Webhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		logger.Warn("invalid webhook payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	outcome, err := h.Reconciler.Apply(ctx, hook)
	if err != nil {
		logger.Error("apply payment webhook", "orderId", hook.OrderID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to process webhook"})
		return
	}

	switch outcome {
	case payments.OutcomeRejected:
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
	case payments.OutcomeUnknown:
		respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "payment not found"})
	default:
		// Applied, duplicate, and ignored deliveries all acknowledge so the
		// provider stops retrying.
		respondJSON(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// CreateLink handles POST /api/v1/payments/link requests.
func (h PaymentHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Reconciler == nil {
		logger.Error("payment dependencies unavailable", "hasUsers", h.Users != nil, "hasReconciler", h.Reconciler != nil)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "payment service unavailable"})
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ChatID <= 0 {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "chatId is required"})
		return
	}

	t, err := models.ParseTier(req.Tier)
	if err != nil || !t.Paid() {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "tier must be pro or creator"})
		return
	}
	if req.Period != models.PeriodMonthly && req.Period != models.PeriodYearly {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "period must be monthly or yearly"})
		return
	}

	user, err := h.Users.GetByChatID(ctx, req.ChatID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "account not found"})
			return
		}
		logger.Error("lookup account", "chatId", req.ChatID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to create payment"})
		return
	}

	link, err := h.Reconciler.CreateLink(ctx, user.ID, t, req.Period)
	if err != nil {
		logger.Error("create payment link", "chatId", req.ChatID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "unable to create payment"})
		return
	}

	respondJSON(ctx, w, http.StatusCreated, linkResponse{
		PaymentID: link.Payment.ID,
		URL:       link.URL,
		Amount:    link.Payment.Amount,
	})
}

type linkRequest struct {
	ChatID int64  `json:"chatId"`
	Tier   string `json:"tier"`
	Period string `json:"period"`
}

type linkResponse struct {
	PaymentID string  `json:"paymentId"`
	URL       string  `json:"url"`
	Amount    float64 `json:"amount"`
}
