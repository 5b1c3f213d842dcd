package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chatrelay/internal/crypto"
	"chatrelay/internal/generator"
	"chatrelay/internal/guard"
	"chatrelay/internal/metrics"
	"chatrelay/internal/notifier"
	"chatrelay/internal/storage"
)

const (
	SenderCustomer = "customer"
	SenderEmployee = "employee"
)

var (
	// ErrUnauthorized means the presented bot token resolves to no chatbot.
	ErrUnauthorized = errors.New("chat bot token not recognized")
	// ErrInvalidSender means message_sender is neither customer nor employee.
	ErrInvalidSender = errors.New("invalid message sender")
)

// InboundMessage is one webhook delivery from an external channel.
type InboundMessage struct {
	ChatID    string
	Text      string
	Sender    string
	MessageID string
}

// ChannelNotifier delivers a reply payload to a channel's webhook.
type ChannelNotifier interface {
	Notify(ctx context.Context, ch storage.Channel, payload notifier.Payload) error
}

// Pipeline runs the webhook message flow: authenticate the bot, resolve the
// target channel, record the message in the dialogue, generate a reply, and
// hand it to the notifier.
type Pipeline struct {
	store     *storage.Store
	generator generator.Generator
	notifier  ChannelNotifier
	dedupe    *guard.MessageDeduplicator
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

type Config struct {
	Store     *storage.Store
	Generator generator.Generator
	Notifier  ChannelNotifier
	Dedupe    *guard.MessageDeduplicator
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

func New(cfg Config) *Pipeline {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Pipeline{
		store:     cfg.Store,
		generator: cfg.Generator,
		notifier:  cfg.Notifier,
		dedupe:    cfg.Dedupe,
		logger:    cfg.Logger,
		metrics:   m,
	}
}

// ProcessInbound handles one webhook message end to end. Duplicate messages
// (same message_id in the same dialogue) are a no-op. Employee messages are
// recorded but produce no reply. Generator failures fail the request and
// leave the dialogue as persisted before the reply; notifier failures never
// fail the request.
func (p *Pipeline) ProcessInbound(ctx context.Context, botToken string, msg InboundMessage) error {
	p.metrics.WebhookMessages.Inc()

	role, err := senderRole(msg.Sender)
	if err != nil {
		return err
	}

	bot, err := p.store.GetChatBotByTokenHash(ctx, crypto.HashToken(botToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("resolve chatbot: %w", err)
	}

	ch, err := p.resolveChannel(ctx, bot, msg.ChatID)
	if err != nil {
		return err
	}

	messageID := strings.TrimSpace(msg.MessageID)
	clientProvided := messageID != ""
	if !clientProvided {
		messageID = uuid.NewString()
	}

	dialogue, err := p.store.FindOrCreateDialogue(ctx, bot.ID, msg.ChatID)
	if err != nil {
		return fmt.Errorf("find or create dialogue: %w", err)
	}

	// Redis fast path; only meaningful for client-provided ids. The unique
	// constraint on (dialogue_id, message_id) stays authoritative below.
	if p.dedupe != nil && clientProvided {
		first, err := p.dedupe.MarkFirst(ctx, bot.ID, msg.ChatID, messageID)
		if err != nil {
			p.logger.Warn().Err(err).Str("message_id", messageID).Msg("dedupe check failed, falling back to database")
		} else if !first {
			p.metrics.DuplicateMessages.Inc()
			return nil
		}
	}

	inserted, err := p.store.AppendDialogueMessage(ctx, storage.DialogueMessage{
		DialogueID: dialogue.ID,
		MessageID:  messageID,
		Role:       role,
		Text:       msg.Text,
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if !inserted {
		p.metrics.DuplicateMessages.Inc()
		return nil
	}

	if role == storage.RoleEmployee {
		p.metrics.ProcessedMessages.Inc()
		return nil
	}

	history, err := p.store.ListDialogueMessages(ctx, dialogue.ID)
	if err != nil {
		return fmt.Errorf("load dialogue history: %w", err)
	}

	reply, err := p.generator.Reply(ctx, toGeneratorHistory(history))
	if err != nil {
		p.metrics.GeneratorFailures.Inc()
		return fmt.Errorf("reply generator: %w", err)
	}

	if _, err := p.store.AppendDialogueMessage(ctx, storage.DialogueMessage{
		DialogueID: dialogue.ID,
		MessageID:  uuid.NewString(),
		Role:       storage.RoleAssistant,
		Text:       reply,
	}); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, ch, notifier.NewMessagePayload(msg.ChatID, reply)); err != nil && !errors.Is(err, notifier.ErrInactive) {
			p.logger.Error().Err(err).Str("channel_id", ch.ID).Msg("reply delivery failed")
		}
	}

	p.metrics.ProcessedMessages.Inc()
	return nil
}

// resolveChannel treats chat_id as the target channel id. A malformed or
// unknown id, or a channel owned by another bot, is NotFound: the bot has no
// such chat.
func (p *Pipeline) resolveChannel(ctx context.Context, bot storage.ChatBot, chatID string) (storage.Channel, error) {
	ch, err := p.store.GetChannel(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidID) {
			return storage.Channel{}, fmt.Errorf("channel for chat %q: %w", chatID, storage.ErrNotFound)
		}
		return storage.Channel{}, fmt.Errorf("resolve channel: %w", err)
	}
	if ch.ChatBotID != bot.ID {
		return storage.Channel{}, fmt.Errorf("channel for chat %q: %w", chatID, storage.ErrNotFound)
	}
	return ch, nil
}

func senderRole(sender string) (string, error) {
	switch sender {
	case SenderCustomer:
		return storage.RoleUser, nil
	case SenderEmployee:
		return storage.RoleEmployee, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}
}

func toGeneratorHistory(messages []storage.DialogueMessage) []generator.Message {
	out := make([]generator.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, generator.Message{Role: m.Role, Text: m.Text})
	}
	return out
}
