package notifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"chatrelay/internal/crypto"
	"chatrelay/internal/storage"
)

func testManager(t *testing.T) *crypto.Manager {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	m, err := crypto.NewManager("k1", map[string][]byte{"k1": key})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func encToken(t *testing.T, m *crypto.Manager, token string) string {
	t.Helper()
	enc, err := m.MarshalEncryptedString(token)
	if err != nil {
		t.Fatalf("encrypt token: %v", err)
	}
	return enc
}

func TestNotifyDeliversPayload(t *testing.T) {
	m := testManager(t)

	var gotAuth string
	var gotPayload Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Chat-Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Config{
		Crypto:     m,
		AuthHeader: "Chat-Authorization",
		Logger:     zerolog.Nop(),
	})

	ch := storage.Channel{
		ID:       "ch-1",
		URL:      srv.URL,
		EncToken: encToken(t, m, "chan-token"),
		IsActive: true,
	}

	if err := n.Notify(context.Background(), ch, NewMessagePayload("chat-1", "hello")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotAuth != "Bearer chan-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotPayload.EventType != "new_message" || gotPayload.ChatID != "chat-1" || gotPayload.Text != "hello" {
		t.Fatalf("unexpected payload %+v", gotPayload)
	}
}

func TestNotifySkipsInactiveChannel(t *testing.T) {
	m := testManager(t)

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(Config{Crypto: m, Logger: zerolog.Nop()})
	ch := storage.Channel{
		ID:       "ch-1",
		URL:      srv.URL,
		EncToken: encToken(t, m, "chan-token"),
		IsActive: false,
	}

	err := n.Notify(context.Background(), ch, NewMessagePayload("chat-1", "hello"))
	if !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
	if called {
		t.Fatalf("inactive channel must not be called")
	}
}

func TestNotifyReportsNon2xx(t *testing.T) {
	m := testManager(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(Config{Crypto: m, Logger: zerolog.Nop()})
	ch := storage.Channel{
		ID:       "ch-1",
		URL:      srv.URL,
		EncToken: encToken(t, m, "chan-token"),
		IsActive: true,
	}

	if err := n.Notify(context.Background(), ch, NewMessagePayload("chat-1", "hello")); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestNotifyReportsUnreachableChannel(t *testing.T) {
	m := testManager(t)

	n := New(Config{Crypto: m, Logger: zerolog.Nop()})
	ch := storage.Channel{
		ID:       "ch-1",
		URL:      "http://127.0.0.1:1/hook",
		EncToken: encToken(t, m, "chan-token"),
		IsActive: true,
	}

	if err := n.Notify(context.Background(), ch, NewMessagePayload("chat-1", "hello")); err == nil {
		t.Fatalf("expected error for unreachable webhook")
	}
}
