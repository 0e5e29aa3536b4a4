package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"
)

// keyRepo serves provider keys and records cooldowns; the embedded interface
// panics on anything else the client should never call.
type keyRepo struct {
	repo.Repository
	keys      []repo.APIKey
	cooldowns map[string]time.Time
}

func (r *keyRepo) ListActiveProviderKeys(ctx context.Context, provider string) ([]repo.APIKey, error) {
	return r.keys, nil
}

func (r *keyRepo) SetCooldownUntil(ctx context.Context, id string, until time.Time) error {
	if r.cooldowns == nil {
		r.cooldowns = map[string]time.Time{}
	}
	r.cooldowns[id] = until
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func geminiReply(w http.ResponseWriter, parts []map[string]any) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{"parts": parts},
		}},
	})
}

func TestRespondParsesReplyAndToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		geminiReply(w, []map[string]any{
			{"text": "Adicionei a pizza!"},
			{"functionCall": map[string]any{
				"name": "add_to_cart",
				"args": map[string]any{"product_id": "prod-1"},
			}},
		})
	}))
	defer srv.Close()

	repository := &keyRepo{keys: []repo.APIKey{{ID: "k1", Value: "key-1"}}}
	client := New(repository, discardLogger(), nil, Config{BaseURL: srv.URL})

	resp, err := client.Respond(context.Background(), Request{UserMessage: "quero pizza"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.ReplyText != "Adicionei a pizza!" {
		t.Fatalf("unexpected reply %q", resp.ReplyText)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "add_to_cart" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Args["product_id"] != "prod-1" {
		t.Fatalf("unexpected tool args %+v", resp.ToolCalls[0].Args)
	}
	if len(repository.cooldowns) != 0 {
		t.Fatalf("healthy key must not be cooled down: %+v", repository.cooldowns)
	}
}

func TestRespondRotatesOnQuotaError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Query().Get("key") == "exhausted" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		geminiReply(w, []map[string]any{{"text": "ok"}})
	}))
	defer srv.Close()

	repository := &keyRepo{keys: []repo.APIKey{
		{ID: "k1", Value: "exhausted", Priority: 0},
		{ID: "k2", Value: "fresh", Priority: 1},
	}}
	client := New(repository, discardLogger(), nil, Config{BaseURL: srv.URL})

	resp, err := client.Respond(context.Background(), Request{UserMessage: "oi"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.ReplyText != "ok" {
		t.Fatalf("unexpected reply %q", resp.ReplyText)
	}
	if hits != 2 {
		t.Fatalf("expected fallthrough to the second key, got %d calls", hits)
	}
	if _, ok := repository.cooldowns["k1"]; !ok {
		t.Fatal("quota-limited key must be cooled down")
	}
}

func TestRespondFailsFastOnBadRequest(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	repository := &keyRepo{keys: []repo.APIKey{
		{ID: "k1", Value: "key-1"},
		{ID: "k2", Value: "key-2"},
	}}
	client := New(repository, discardLogger(), nil, Config{BaseURL: srv.URL})

	if _, err := client.Respond(context.Background(), Request{UserMessage: "oi"}); err == nil {
		t.Fatal("expected error on 400")
	}
	// A malformed request will fail on every key; rotating is pointless.
	if hits != 1 {
		t.Fatalf("expected no rotation on 400, got %d calls", hits)
	}
}

func TestRespondSkipsCoolingKeys(t *testing.T) {
	later := time.Now().Add(time.Hour)
	repository := &keyRepo{keys: []repo.APIKey{
		{ID: "k1", Value: "key-1", CooldownUntil: &later},
	}}
	client := New(repository, discardLogger(), nil, Config{BaseURL: "http://127.0.0.1:0"})

	_, err := client.Respond(context.Background(), Request{UserMessage: "oi"})
	if !errors.Is(err, ErrNoUsableKeys) {
		t.Fatalf("expected ErrNoUsableKeys, got %v", err)
	}
}
