package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatrelay/internal/crypto"
	"chatrelay/internal/generator"
	"chatrelay/internal/guard"
	"chatrelay/internal/notifier"
	"chatrelay/internal/storage"
)

type stubGenerator struct {
	reply string
	err   error
	calls int
}

func (s *stubGenerator) Reply(ctx context.Context, history []generator.Message) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

type spyNotifier struct {
	err      error
	calls    int
	channel  storage.Channel
	payloads []notifier.Payload
}

func (s *spyNotifier) Notify(ctx context.Context, ch storage.Channel, payload notifier.Payload) error {
	s.calls++
	s.channel = ch
	s.payloads = append(s.payloads, payload)
	return s.err
}

type fixture struct {
	store    *storage.Store
	gen      *stubGenerator
	notify   *spyNotifier
	pipe     *Pipeline
	botToken string
	bot      storage.ChatBot
	channel  storage.Channel
}

func newFixture(t *testing.T, dedupe *guard.MessageDeduplicator) *fixture {
	t.Helper()

	store, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "test.db"), true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	botToken := "bot-secret-token"
	bot := storage.ChatBot{
		ID:              uuid.NewString(),
		Name:            "support",
		SecretTokenHash: crypto.HashToken(botToken),
	}
	if err := store.CreateChatBot(context.Background(), bot); err != nil {
		t.Fatalf("create chatbot: %v", err)
	}

	channel := storage.Channel{
		ID:        uuid.NewString(),
		ChatBotID: bot.ID,
		Name:      "web",
		URL:       "https://example.com/hook",
		TokenHash: "tok-web",
		EncToken:  "enc-web",
		IsActive:  true,
	}
	if err := store.CreateChannel(context.Background(), channel); err != nil {
		t.Fatalf("create channel: %v", err)
	}

	gen := &stubGenerator{reply: "New message from llm"}
	spy := &spyNotifier{}
	pipe := New(Config{
		Store:     store,
		Generator: gen,
		Notifier:  spy,
		Dedupe:    dedupe,
		Logger:    zerolog.Nop(),
	})

	return &fixture{
		store:    store,
		gen:      gen,
		notify:   spy,
		pipe:     pipe,
		botToken: botToken,
		bot:      bot,
		channel:  channel,
	}
}

func (f *fixture) history(t *testing.T) []storage.DialogueMessage {
	t.Helper()
	d, err := f.store.GetDialogueByChat(context.Background(), f.bot.ID, f.channel.ID)
	if err != nil {
		t.Fatalf("get dialogue: %v", err)
	}
	msgs, err := f.store.ListDialogueMessages(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return msgs
}

func TestProcessInboundCustomerMessage(t *testing.T) {
	f := newFixture(t, nil)

	err := f.pipe.ProcessInbound(context.Background(), f.botToken, InboundMessage{
		ChatID: f.channel.ID,
		Text:   "hello",
		Sender: SenderCustomer,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	msgs := f.history(t)
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != storage.RoleUser || msgs[0].Text != "hello" {
		t.Fatalf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].Role != storage.RoleAssistant || msgs[1].Text != "New message from llm" {
		t.Fatalf("unexpected second message %+v", msgs[1])
	}
	if msgs[0].MessageID == "" || msgs[1].MessageID == "" {
		t.Fatalf("expected generated message ids")
	}

	if f.notify.calls != 1 {
		t.Fatalf("expected one notification, got %d", f.notify.calls)
	}
	if f.notify.channel.ID != f.channel.ID {
		t.Fatalf("notified wrong channel %s", f.notify.channel.ID)
	}
	p := f.notify.payloads[0]
	if p.EventType != "new_message" || p.ChatID != f.channel.ID || p.Text != "New message from llm" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestProcessInboundUnknownToken(t *testing.T) {
	f := newFixture(t, nil)

	err := f.pipe.ProcessInbound(context.Background(), "wrong-token", InboundMessage{
		ChatID: f.channel.ID,
		Text:   "hello",
		Sender: SenderCustomer,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if f.gen.calls != 0 || f.notify.calls != 0 {
		t.Fatalf("nothing downstream should run for a bad token")
	}
}

func TestProcessInboundUnknownChat(t *testing.T) {
	f := newFixture(t, nil)

	for _, chatID := range []string{uuid.NewString(), "not-a-uuid"} {
		err := f.pipe.ProcessInbound(context.Background(), f.botToken, InboundMessage{
			ChatID: chatID,
			Text:   "hello",
			Sender: SenderCustomer,
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("chat %q: expected ErrNotFound, got %v", chatID, err)
		}
		if _, err := f.store.GetDialogueByChat(context.Background(), f.bot.ID, chatID); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("chat %q: no dialogue should be created, got %v", chatID, err)
		}
	}
}

func TestProcessInboundForeignChannel(t *testing.T) {
	f := newFixture(t, nil)

	other := storage.ChatBot{
		ID:              uuid.NewString(),
		Name:            "other",
		SecretTokenHash: crypto.HashToken("other-token"),
	}
	if err := f.store.CreateChatBot(context.Background(), other); err != nil {
		t.Fatalf("create other bot: %v", err)
	}

	err := f.pipe.ProcessInbound(context.Background(), "other-token", InboundMessage{
		ChatID: f.channel.ID,
		Text:   "hello",
		Sender: SenderCustomer,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a channel owned by another bot, got %v", err)
	}
}

func TestProcessInboundEmployeeMessage(t *testing.T) {
	f := newFixture(t, nil)

	err := f.pipe.ProcessInbound(context.Background(), f.botToken, InboundMessage{
		ChatID: f.channel.ID,
		Text:   "internal note",
		Sender: SenderEmployee,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	msgs := f.history(t)
	if len(msgs) != 1 {
		t.Fatalf("expected only the employee message, got %d", len(msgs))
	}
	if msgs[0].Role != storage.RoleEmployee {
		t.Fatalf("unexpected role %q", msgs[0].Role)
	}
	if f.gen.calls != 0 {
		t.Fatalf("generator must not run for employee messages")
	}
	if f.notify.calls != 0 {
		t.Fatalf("notifier must not run for employee messages")
	}
}

func TestProcessInboundInvalidSender(t *testing.T) {
	f := newFixture(t, nil)

	err := f.pipe.ProcessInbound(context.Background(), f.botToken, InboundMessage{
		ChatID: f.channel.ID,
		Text:   "hello",
		Sender: "robot",
	})
	if !errors.Is(err, ErrInvalidSender) {
		t.Fatalf("expected ErrInvalidSender, got %v", err)
	}
}

func TestProcessInboundDuplicateIsNoOp(t *testing.T) {
	f := newFixture(t, nil)

	msg := InboundMessage{
		ChatID:    f.channel.ID,
		Text:      "hello",
		Sender:    SenderCustomer,
		MessageID: "m-1",
	}

	if err := f.pipe.ProcessInbound(context.Background(), f.botToken, msg); err != nil {
		t.Fatalf("process#1: %v", err)
	}
	if err := f.pipe.ProcessInbound(context.Background(), f.botToken, msg); err != nil {
		t.Fatalf("process#2: %v", err)
	}

	msgs := f.history(t)
	if len(msgs) != 2 {
		t.Fatalf("duplicate must not change the dialogue, got %d messages", len(msgs))
	}
	if f.gen.calls != 1 {
		t.Fatalf("generator must run once, got %d", f.gen.calls)
	}
	if f.notify.calls != 1 {
		t.Fatalf("notifier must run once, got %d", f.notify.calls)
	}
}

func TestProcessInboundRedisFastPath(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	f := newFixture(t, guard.NewMessageDeduplicator(rdb, time.Hour))

	msg := InboundMessage{
		ChatID:    f.channel.ID,
		Text:      "hello",
		Sender:    SenderCustomer,
		MessageID: "m-1",
	}
	if err := f.pipe.ProcessInbound(context.Background(), f.botToken, msg); err != nil {
		t.Fatalf("process#1: %v", err)
	}
	if err := f.pipe.ProcessInbound(context.Background(), f.botToken, msg); err != nil {
		t.Fatalf("process#2: %v", err)
	}

	if len(f.history(t)) != 2 {
		t.Fatalf("duplicate must not change the dialogue")
	}
	if f.gen.calls != 1 {
		t.Fatalf("generator must run once, got %d", f.gen.calls)
	}
}

func TestProcessInboundGeneratorFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.err = errors.New("model unavailable")

	err := f.pipe.ProcessInbound(context.Background(), f.botToken, InboundMessage{
		ChatID: f.channel.ID,
		Text:   "hello",
		Sender: SenderCustomer,
	})
	if err == nil {
		t.Fatalf("expected generator failure to surface")
	}

	msgs := f.history(t)
	if len(msgs) != 1 {
		t.Fatalf("the inbound message must stay persisted, got %d messages", len(msgs))
	}
	if msgs[0].Role != storage.RoleUser {
		t.Fatalf("unexpected surviving message %+v", msgs[0])
	}
	if f.notify.calls != 0 {
		t.Fatalf("no notification on generator failure")
	}
}

func TestProcessInboundNotifierFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, nil)
	f.notify.err = errors.New("webhook down")

	err := f.pipe.ProcessInbound(context.Background(), f.botToken, InboundMessage{
		ChatID: f.channel.ID,
		Text:   "hello",
		Sender: SenderCustomer,
	})
	if err != nil {
		t.Fatalf("notifier failure must not fail the request: %v", err)
	}
	if len(f.history(t)) != 2 {
		t.Fatalf("dialogue must contain both messages")
	}
}

func TestProcessInboundConversationAccumulates(t *testing.T) {
	f := newFixture(t, nil)

	for i, text := range []string{"first", "second"} {
		err := f.pipe.ProcessInbound(context.Background(), f.botToken, InboundMessage{
			ChatID: f.channel.ID,
			Text:   text,
			Sender: SenderCustomer,
		})
		if err != nil {
			t.Fatalf("process#%d: %v", i+1, err)
		}
	}

	msgs := f.history(t)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages after two rounds, got %d", len(msgs))
	}
	wantRoles := []string{storage.RoleUser, storage.RoleAssistant, storage.RoleUser, storage.RoleAssistant}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Fatalf("message %d: expected role %q, got %q", i, want, msgs[i].Role)
		}
	}
}
