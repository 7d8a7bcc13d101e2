package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perp-edge/internal/config"

	"go.uber.org/zap"
)

func TestTelegramSendDisabled(t *testing.T) {
	client := newTelegram(config.TelegramConfig{}, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}

func TestTelegramSendMissingConfig(t *testing.T) {
	client := newTelegram(config.TelegramConfig{Enabled: true}, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestTelegramSendPostsMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Send(context.Background(), "feed spot disconnected"); err != nil {
		t.Fatalf("expected send success, got %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("expected path /bottoken/sendMessage, got %s", gotPath)
	}
	if gotPayload["chat_id"] != "123" || gotPayload["text"] != "feed spot disconnected" {
		t.Fatalf("unexpected payload %v", gotPayload)
	}
}

func TestTelegramSendReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for ok=false")
	}
}

func TestTelegramGetUpdates(t *testing.T) {
	var gotOffset float64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/getUpdates" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotOffset, _ = payload["offset"].(float64)
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":7,"message":{"message_id":1,"from":{"id":42,"username":"ops"},"chat":{"id":123},"text":"/status"}}]}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	updates, err := client.GetUpdates(context.Background(), 5, time.Second)
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	if gotOffset != 5 {
		t.Fatalf("expected offset 5, got %v", gotOffset)
	}
	if len(updates) != 1 || updates[0].UpdateID != 7 || updates[0].Message.Text != "/status" {
		t.Fatalf("unexpected updates %+v", updates)
	}
	if updates[0].Message.From.ID != 42 || updates[0].Message.Chat.ID != 123 {
		t.Fatalf("unexpected sender %+v", updates[0].Message)
	}
}
