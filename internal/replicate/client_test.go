package replicate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreatePredictionOfficialModel(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p1","status":"starting","output":null}`))
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	p, err := client.CreatePrediction(context.Background(), "black-forest-labs/flux-schnell", map[string]any{"prompt": "fox"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if gotPath != "/models/black-forest-labs/flux-schnell/predictions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if _, ok := gotBody["version"]; ok {
		t.Fatalf("official model request must not carry a version")
	}
	if p.ID != "p1" || p.Status != StatusStarting || p.Output != nil {
		t.Fatalf("unexpected prediction %+v", p)
	}
}

func TestCreatePredictionVersion(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"p2","status":"processing"}`))
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL+"/"))
	if _, err := client.CreatePrediction(context.Background(), "abc123", map[string]any{"prompt": "fox"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotPath != "/predictions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["version"] != "abc123" {
		t.Fatalf("expected version in body, got %v", gotBody)
	}
}

func TestGetPredictionNormalisesOutput(t *testing.T) {
	responses := map[string]string{
		"/predictions/single": `{"id":"single","status":"succeeded","output":"https://x/y.mp4"}`,
		"/predictions/list":   `{"id":"list","status":"succeeded","output":["https://x/1.png","https://x/2.png"]}`,
		"/predictions/failed": `{"id":"failed","status":"failed","error":"NSFW content detected"}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not found."}`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	ctx := context.Background()

	p, err := client.GetPrediction(ctx, "single")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.Output) != 1 || p.Output[0] != "https://x/y.mp4" {
		t.Fatalf("unexpected output %v", p.Output)
	}

	p, err = client.GetPrediction(ctx, "list")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.Output) != 2 || !p.Terminal() {
		t.Fatalf("unexpected prediction %+v", p)
	}

	p, err = client.GetPrediction(ctx, "failed")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.ErrorMessage() != "NSFW content detected" {
		t.Fatalf("unexpected error message %q", p.ErrorMessage())
	}

	_, err = client.GetPrediction(ctx, "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "Not found." {
		t.Fatalf("expected detail to be captured, got %v", err)
	}
}

func TestClientRelaysUpstreamErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"title":"Input validation failed","detail":"prompt is required"}`))
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	_, err := client.CreatePrediction(context.Background(), "owner/model", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Detail != "prompt is required" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
	if len(apiErr.Body) == 0 {
		t.Fatalf("expected raw body to be kept")
	}
	if IsServerError(err) || IsNotFound(err) {
		t.Fatalf("422 is neither a server error nor a not found")
	}
}

func TestClientRequiresToken(t *testing.T) {
	client := NewClient("  ")
	if _, err := client.GetPrediction(context.Background(), "p1"); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}
