package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mrkniai/backend/internal/auth"
	"github.com/mrkniai/backend/internal/billing"
	"github.com/mrkniai/backend/internal/generation"
	"github.com/mrkniai/backend/internal/history"
	"github.com/mrkniai/backend/internal/models"
	"github.com/mrkniai/backend/internal/replicate"
	"github.com/mrkniai/backend/internal/repositories"
)

type generationServiceStub struct {
	submitErr  error
	statusErr  error
	imageCalls int
	lastImage  models.ImageRequest
	lastKind   models.GenerationKind
	account    generation.Account
}

func (s *generationServiceStub) SubmitImage(_ context.Context, userID string, req models.ImageRequest) (generation.Submission, error) {
	s.imageCalls++
	s.lastImage = req
	if s.submitErr != nil {
		return generation.Submission{}, s.submitErr
	}
	return generation.Submission{ID: "pred-1", Status: models.StatusStarting, Model: "flux-schnell", ModelName: "FLUX.1 [schnell]"}, nil
}

func (s *generationServiceStub) SubmitVideo(_ context.Context, userID string, req models.VideoRequest) (generation.Submission, error) {
	if s.submitErr != nil {
		return generation.Submission{}, s.submitErr
	}
	return generation.Submission{ID: "vid-1", Status: models.StatusStarting, Model: "kling-v1.6-standard", PollIntervalMs: 5000, MaxPollAttempts: 60}, nil
}

func (s *generationServiceStub) CheckStatus(_ context.Context, userID string, kind models.GenerationKind, id string) (generation.StatusResult, error) {
	s.lastKind = kind
	if s.statusErr != nil {
		return generation.StatusResult{}, s.statusErr
	}
	return generation.StatusResult{ID: id, Type: kind, Status: models.StatusSucceeded, Output: []string{"https://cdn/a.png"}}, nil
}

func (s *generationServiceStub) Account(_ context.Context, userID string) (generation.Account, error) {
	acct := s.account
	acct.UserID = userID
	if acct.Tier == "" {
		acct.Tier = models.TierFree
	}
	return acct, nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func authedRequest(method, target string, body any, email string) *http.Request {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: "user-1", Email: email}))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestSubmitImageSuccess(t *testing.T) {
	svc := &generationServiceStub{}
	handler := GenerationHandler{Service: svc}

	rec := httptest.NewRecorder()
	handler.SubmitImage(rec, authedRequest(http.MethodPost, "/api/v1/generations/image", map[string]any{"prompt": "cat", "num_outputs": 2}, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var sub generation.Submission
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sub.ID != "pred-1" || sub.Status != models.StatusStarting || sub.Model != "flux-schnell" {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if svc.lastImage.NumOutputs != 2 {
		t.Fatalf("expected request to be decoded, got %+v", svc.lastImage)
	}
}

func TestSubmitImageErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		substr string
	}{
		{"missing prompt", generation.ErrPromptRequired, http.StatusBadRequest, "prompt"},
		{"bad input", fmt.Errorf("%w: aspect ratio", generation.ErrInvalidRequest), http.StatusBadRequest, "aspect ratio"},
		{"unknown model", generation.ErrModelNotFound, http.StatusNotFound, "model"},
		{"no credits", generation.ErrInsufficientCredits, http.StatusForbidden, "credits"},
		{"tier", &generation.TierError{Model: "FLUX 1.1 [pro]", Required: models.TierPremium, Current: models.TierFree}, http.StatusForbidden, "premium"},
		{"provider", &replicate.APIError{StatusCode: http.StatusUnprocessableEntity, Detail: "width too large", Body: json.RawMessage(`{"detail":"width too large"}`)}, http.StatusUnprocessableEntity, "width too large"},
		{"no token", replicate.ErrMissingToken, http.StatusInternalServerError, "not configured"},
		{"database", fmt.Errorf("persist image generation: %w", repositories.ErrConflict), http.StatusInternalServerError, "internal"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := GenerationHandler{Service: &generationServiceStub{submitErr: tc.err}}
			rec := httptest.NewRecorder()
			handler.SubmitImage(rec, authedRequest(http.MethodPost, "/api/v1/generations/image", map[string]any{"prompt": "cat"}, ""))

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			resp := decodeError(t, rec)
			if !strings.Contains(resp.Error, tc.substr) {
				t.Fatalf("expected error to mention %q, got %q", tc.substr, resp.Error)
			}
		})
	}
}

func TestSubmitImageTierDetails(t *testing.T) {
	handler := GenerationHandler{Service: &generationServiceStub{submitErr: &generation.TierError{Model: "x", Required: models.TierPremium, Current: models.TierFree}}}
	rec := httptest.NewRecorder()
	handler.SubmitImage(rec, authedRequest(http.MethodPost, "/api/v1/generations/image", map[string]any{"prompt": "cat"}, ""))

	var resp struct {
		Details map[string]string `json:"details"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Details["requiredTier"] != "premium" {
		t.Fatalf("expected required tier in details, got %+v", resp.Details)
	}
}

func TestSubmitImageRequiresIdentityAndBody(t *testing.T) {
	svc := &generationServiceStub{}
	handler := GenerationHandler{Service: svc}

	rec := httptest.NewRecorder()
	handler.SubmitImage(rec, httptest.NewRequest(http.MethodPost, "/api/v1/generations/image", strings.NewReader(`{"prompt":"cat"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations/image", strings.NewReader(`{not json`))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: "user-1"}))
	rec = httptest.NewRecorder()
	handler.SubmitImage(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.SubmitImage(rec, authedRequest(http.MethodGet, "/api/v1/generations/image", nil, ""))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	if svc.imageCalls != 0 {
		t.Fatalf("service should not be called, got %d calls", svc.imageCalls)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	svc := &generationServiceStub{}
	handler := GenerationHandler{Service: svc, Limiter: denyAll{}}

	rec := httptest.NewRecorder()
	handler.SubmitVideo(rec, authedRequest(http.MethodPost, "/api/v1/generations/video", map[string]any{"prompt": "waves"}, ""))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestSubmitVideoReturnsPollHints(t *testing.T) {
	handler := GenerationHandler{Service: &generationServiceStub{}}

	rec := httptest.NewRecorder()
	handler.SubmitVideo(rec, authedRequest(http.MethodPost, "/api/v1/generations/video", map[string]any{"prompt": "waves"}, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["pollIntervalMs"] != float64(5000) || body["maxPollAttempts"] != float64(60) {
		t.Fatalf("expected poll hints, got %v", body)
	}
}

func TestStatus(t *testing.T) {
	svc := &generationServiceStub{}
	handler := GenerationHandler{Service: svc}

	rec := httptest.NewRecorder()
	handler.Status(rec, authedRequest(http.MethodGet, "/api/v1/generations/status", nil, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without id, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Status(rec, authedRequest(http.MethodGet, "/api/v1/generations/status?id=pred-1", nil, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.lastKind != models.KindImage {
		t.Fatalf("expected image default, got %q", svc.lastKind)
	}
	var res generation.StatusResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ID != "pred-1" || len(res.Output) != 1 {
		t.Fatalf("unexpected status %+v", res)
	}

	svc.statusErr = generation.ErrNotFound
	rec = httptest.NewRecorder()
	handler.Status(rec, authedRequest(http.MethodGet, "/api/v1/generations/status?id=pred-1&type=video", nil, ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if svc.lastKind != models.KindVideo {
		t.Fatalf("expected video kind, got %q", svc.lastKind)
	}

	svc.statusErr = &replicate.APIError{StatusCode: http.StatusBadGateway}
	rec = httptest.NewRecorder()
	handler.Status(rec, authedRequest(http.MethodGet, "/api/v1/generations/status?id=pred-1&type=video", nil, ""))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected relayed 502, got %d", rec.Code)
	}
}

func TestHistoryHandler(t *testing.T) {
	store := repositories.NewMemoryStore()
	ctx := context.Background()
	if err := store.Save(ctx, &models.ImageGeneration{ID: "img-1", UserID: "user-1", Status: models.StatusSucceeded, Assets: []models.GeneratedAsset{{URL: "cdn/a.png"}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Save(ctx, &models.VideoGeneration{PredictionID: "vid-1", UserID: "user-1", Status: models.StatusProcessing}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler := HistoryHandler{History: history.NewReader(store)}

	rec := httptest.NewRecorder()
	handler.Handle(rec, authedRequest(http.MethodGet, "/api/v1/history", nil, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp historyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Generations) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.Generations))
	}

	rec = httptest.NewRecorder()
	handler.Handle(rec, authedRequest(http.MethodDelete, "/api/v1/history?id=img-1", nil, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without type, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Handle(rec, authedRequest(http.MethodDelete, "/api/v1/history?id=img-1&type=video", nil, ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for wrong table, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Handle(rec, authedRequest(http.MethodDelete, "/api/v1/history?id=img-1&type=image", nil, ""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestModelsMarksAccessibleModels(t *testing.T) {
	handler := AccountHandler{Service: &generationServiceStub{account: generation.Account{Tier: models.TierBasic}}}

	rec := httptest.NewRecorder()
	handler.Models(rec, authedRequest(http.MethodGet, "/api/v1/models?kind=image", nil, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Models []modelView `json:"models"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Models) == 0 {
		t.Fatal("expected image models")
	}
	for _, m := range resp.Models {
		if m.Kind != models.KindImage {
			t.Fatalf("unexpected kind %q", m.Kind)
		}
		if want := m.Tier != models.TierPremium; m.Accessible != want {
			t.Fatalf("model %s accessible=%v, want %v", m.ID, m.Accessible, want)
		}
	}

	rec = httptest.NewRecorder()
	handler.Models(rec, authedRequest(http.MethodGet, "/api/v1/models?kind=audio", nil, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdminSubscriptions(t *testing.T) {
	store := repositories.NewMemoryStore()
	manager := billing.NewManager(store.Subscriptions(), store.Credits())
	handler := AdminHandler{
		Manager: manager,
		IsAdmin: func(email string) bool { return email == "ops@mrkni.ai" },
	}

	rec := httptest.NewRecorder()
	handler.Subscriptions(rec, authedRequest(http.MethodPost, "/api/v1/admin/subscriptions", subscriptionRequest{TargetUserID: "user-9", Tier: "premium", Action: "add"}, "someone@example.com"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-operator, got %d", rec.Code)
	}
	if _, err := store.Subscriptions().GetActive(context.Background(), "user-9"); err == nil {
		t.Fatal("non-operator request must not mutate state")
	}

	rec = httptest.NewRecorder()
	handler.Subscriptions(rec, authedRequest(http.MethodPost, "/api/v1/admin/subscriptions", subscriptionRequest{TargetUserID: "user-9", Tier: "premium", Action: "add"}, "ops@mrkni.ai"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.Subscriptions(rec, authedRequest(http.MethodPost, "/api/v1/admin/subscriptions", subscriptionRequest{TargetUserID: "user-9", Tier: "premium", Action: "delete"}, "ops@mrkni.ai"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp subscriptionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != models.SubscriptionCanceled || resp.ImageCredits != 5 || resp.VideoCredits != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = httptest.NewRecorder()
	handler.Subscriptions(rec, authedRequest(http.MethodPost, "/api/v1/admin/subscriptions", subscriptionRequest{TargetUserID: "user-9", Tier: "premium", Action: "delete"}, "ops@mrkni.ai"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without active subscription, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Subscriptions(rec, authedRequest(http.MethodPost, "/api/v1/admin/subscriptions", subscriptionRequest{TargetUserID: "user-9", Tier: "gold", Action: "add"}, "ops@mrkni.ai"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tier, got %d", rec.Code)
	}
}

func TestBillingWebhook(t *testing.T) {
	store := repositories.NewMemoryStore()
	manager := billing.NewManager(store.Subscriptions(), store.Credits())

	disabled := BillingHandler{Processor: billing.NewWebhookHandler(manager, "", "", "")}
	rec := httptest.NewRecorder()
	disabled.Webhook(rec, httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", strings.NewReader(`{}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when disabled, got %d", rec.Code)
	}

	handler := BillingHandler{Processor: billing.NewWebhookHandler(manager, "whsec_test", "price_basic", "price_premium")}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", strings.NewReader(`{"id":"evt_1","type":"customer.subscription.created"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec = httptest.NewRecorder()
	handler.Webhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad signature, got %d", rec.Code)
	}
}

type verifierStub struct{}

func (verifierStub) Verify(token string) (auth.Identity, error) {
	if token != "good" {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return auth.Identity{UserID: "user-1", Email: "a@b.c"}, nil
}

func TestRegisterRoutesRequiresAuthentication(t *testing.T) {
	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{
		Generations: &generationServiceStub{},
		Verifier:    verifierStub{},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/account", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/account", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var acct generation.Account
	if err := json.NewDecoder(rec.Body).Decode(&acct); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acct.UserID != "user-1" || acct.Tier != models.TierFree {
		t.Fatalf("unexpected account %+v", acct)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected public health check, got %d", rec.Code)
	}
}
