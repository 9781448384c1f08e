package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/babymaxMAX/autosub/internal/models"
	"github.com/babymaxMAX/autosub/internal/payments"
)

type reconcilerStub struct {
	outcome payments.Outcome
	err     error
	applied []payments.Webhook

	link    payments.Link
	linkErr error
}

func (s *reconcilerStub) Apply(ctx context.Context, hook payments.Webhook) (payments.Outcome, error) {
	s.applied = append(s.applied, hook)
	return s.outcome, s.err
}

func (s *reconcilerStub) CreateLink(ctx context.Context, userID string, t models.Tier, period string) (payments.Link, error) {
	return s.link, s.linkErr
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(key string) bool { return true }

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(key string) bool { return false }

func webhookBody(t *testing.T, hook payments.Webhook) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(hook)
	if err != nil {
		t.Fatalf("marshal webhook: %v", err)
	}
	return bytes.NewReader(body)
}

func TestWebhookOutcomes(t *testing.T) {
	cases := []struct {
		outcome payments.Outcome
		status  int
	}{
		{payments.OutcomeApplied, http.StatusOK},
		{payments.OutcomeDuplicate, http.StatusOK},
		{payments.OutcomeIgnored, http.StatusOK},
		{payments.OutcomeRejected, http.StatusBadRequest},
		{payments.OutcomeUnknown, http.StatusNotFound},
	}

	for _, tc := range cases {
		handler := PaymentHandler{Reconciler: &reconcilerStub{outcome: tc.outcome}, Limiter: allowAllLimiter{}}

		req := httptest.NewRequest(http.MethodPost, "/webhook/payment", webhookBody(t, payments.Webhook{
			OrderID: "order-1",
			Amount:  json.Number("299"),
			Status:  "success",
		}))
		rec := httptest.NewRecorder()

		handler.Webhook(rec, req)

		if rec.Code != tc.status {
			t.Fatalf("outcome %v: expected status %d got %d", tc.outcome, tc.status, rec.Code)
		}
	}
}

func TestWebhookRateLimited(t *testing.T) {
	rec2 := &reconcilerStub{outcome: payments.OutcomeApplied}
	handler := PaymentHandler{Reconciler: rec2, Limiter: denyAllLimiter{}}

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", webhookBody(t, payments.Webhook{OrderID: "order-1"}))
	rec := httptest.NewRecorder()

	handler.Webhook(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 got %d", rec.Code)
	}
	if len(rec2.applied) != 0 {
		t.Fatal("throttled webhook must not reach the reconciler")
	}
}

func TestWebhookRejectsMalformedBody(t *testing.T) {
	handler := PaymentHandler{Reconciler: &reconcilerStub{}, Limiter: allowAllLimiter{}}

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	handler.Webhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestCreateLinkReturnsCheckoutURL(t *testing.T) {
	users := newUserStoreStub(models.User{ID: "user-1", ChatID: 42, Tier: models.TierFree})
	rec2 := &reconcilerStub{link: payments.Link{
		Payment: models.Payment{ID: "pay-1", Amount: 299},
		URL:     "https://pay.example.com/checkout?order_id=pay-1",
	}}
	handler := PaymentHandler{Users: users, Reconciler: rec2}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/link",
		bytes.NewReader([]byte(`{"chatId":42,"tier":"pro","period":"monthly"}`)))
	rec := httptest.NewRecorder()

	handler.CreateLink(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d: %s", rec.Code, rec.Body.String())
	}

	var resp linkResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PaymentID != "pay-1" || resp.URL == "" || resp.Amount != 299 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateLinkRejectsFreeTier(t *testing.T) {
	users := newUserStoreStub(models.User{ID: "user-1", ChatID: 42})
	handler := PaymentHandler{Users: users, Reconciler: &reconcilerStub{}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/link",
		bytes.NewReader([]byte(`{"chatId":42,"tier":"free","period":"monthly"}`)))
	rec := httptest.NewRecorder()

	handler.CreateLink(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
}

func TestCreateLinkUnknownAccount(t *testing.T) {
	handler := PaymentHandler{Users: newUserStoreStub(), Reconciler: &reconcilerStub{}}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/link",
		bytes.NewReader([]byte(`{"chatId":42,"tier":"pro","period":"yearly"}`)))
	rec := httptest.NewRecorder()

	handler.CreateLink(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}
