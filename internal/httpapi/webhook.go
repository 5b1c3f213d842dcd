package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"chatrelay/internal/crypto"
	"chatrelay/internal/notifier"
	"chatrelay/internal/pipeline"
	"chatrelay/internal/storage"
)

type newMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	Sender    string `json:"message_sender"`
	MessageID string `json:"message_id"`
}

type sendMessageRequest struct {
	EventType string `json:"event_type"`
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
}

// newMessage is the channel ingress: one customer or employee message,
// authenticated by the owning bot's secret token.
func (s *Server) newMessage(c echo.Context) error {
	var req newMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ChatID) == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "chat_id is required")
	}

	ctx := c.Request().Context()
	token := requestToken(c)

	if s.limiter != nil {
		allowed, _, resetAt, err := s.limiter.Allow(ctx, crypto.HashToken(token), time.Now())
		if err != nil {
			s.logger.Warn().Err(err).Msg("rate limit check failed, allowing request")
		} else if !allowed {
			c.Response().Header().Set("Retry-After", resetAt.UTC().Format(http.TimeFormat))
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}

	err := s.pipe.ProcessInbound(ctx, token, pipeline.InboundMessage{
		ChatID:    req.ChatID,
		Text:      req.Text,
		Sender:    req.Sender,
		MessageID: req.MessageID,
	})
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "Message processed successfully"})
}

// sendMessage is the operator egress: authenticated by a channel token, it
// pushes a message out through the channel webhook and records it in the
// dialogue as an employee message. Unlike pipeline notifications, a delivery
// failure here is surfaced to the caller.
func (s *Server) sendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "text is required")
	}

	ctx := c.Request().Context()

	ch, err := s.store.GetChannelByTokenHash(ctx, crypto.HashToken(requestToken(c)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "channel token not recognized")
		}
		return mapError(err)
	}

	chatID := req.ChatID
	if chatID == "" {
		chatID = ch.ID
	}

	payload := notifier.Payload{
		EventType: req.EventType,
		ChatID:    chatID,
		Text:      req.Text,
	}
	if payload.EventType == "" {
		payload.EventType = "new_message"
	}

	if err := s.notify.Notify(ctx, ch, payload); err != nil {
		if errors.Is(err, notifier.ErrInactive) {
			return echo.NewHTTPError(http.StatusBadRequest, "channel is inactive")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "message delivery failed")
	}

	dialogue, err := s.store.FindOrCreateDialogue(ctx, ch.ChatBotID, chatID)
	if err != nil {
		return mapError(err)
	}
	if _, err := s.store.AppendDialogueMessage(ctx, storage.DialogueMessage{
		DialogueID: dialogue.ID,
		MessageID:  uuid.NewString(),
		Role:       storage.RoleEmployee,
		Text:       req.Text,
	}); err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "Message sent successfully"})
}
