package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"chatrelay/internal/crypto"
	"chatrelay/internal/storage"
)

const channelTokenLength = 32

type channelCreateRequest struct {
	Name      string `json:"name"`
	ChatBotID string `json:"chat_bot_id"`
	URL       string `json:"url"`
	IsActive  *bool  `json:"is_active"`
}

type channelUpdateRequest struct {
	Name      *string `json:"name"`
	ChatBotID *string `json:"chat_bot_id"`
	URL       *string `json:"url"`
	IsActive  *bool   `json:"is_active"`
}

type channelResponse struct {
	ID        string    `json:"id"`
	ChatBotID string    `json:"chat_bot_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type dialogueEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (s *Server) channelResponse(ch storage.Channel) (channelResponse, error) {
	token, err := s.crypto.UnmarshalEncryptedString(ch.EncToken)
	if err != nil {
		return channelResponse{}, fmt.Errorf("decrypt channel token: %w", err)
	}
	return channelResponse{
		ID:        ch.ID,
		ChatBotID: ch.ChatBotID,
		Name:      ch.Name,
		URL:       ch.URL,
		Token:     token,
		IsActive:  ch.IsActive,
		CreatedAt: ch.CreatedAt,
	}, nil
}

func (s *Server) createChannel(c echo.Context) error {
	var req channelCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "name and url are required")
	}

	botID, err := storage.ParseID(req.ChatBotID)
	if err != nil {
		return mapError(err)
	}
	if _, err := s.store.GetChatBot(c.Request().Context(), botID); err != nil {
		return mapError(err)
	}

	token, err := crypto.GenerateToken(channelTokenLength)
	if err != nil {
		return mapError(err)
	}
	encToken, err := s.crypto.MarshalEncryptedString(token)
	if err != nil {
		return mapError(err)
	}

	ch := storage.Channel{
		ID:        uuid.NewString(),
		ChatBotID: botID,
		Name:      req.Name,
		URL:       req.URL,
		TokenHash: crypto.HashToken(token),
		EncToken:  encToken,
		IsActive:  true,
	}
	if req.IsActive != nil {
		ch.IsActive = *req.IsActive
	}

	if err := s.store.CreateChannel(c.Request().Context(), ch); err != nil {
		return mapError(err)
	}

	created, err := s.store.GetChannel(c.Request().Context(), ch.ID)
	if err != nil {
		return mapError(err)
	}
	resp, err := s.channelResponse(created)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) listChannels(c echo.Context) error {
	var filter storage.ChannelFilter

	if raw := c.QueryParam("chat_bot_id"); raw != "" {
		botID, err := storage.ParseID(raw)
		if err != nil {
			return mapError(err)
		}
		if _, err := s.store.GetChatBot(c.Request().Context(), botID); err != nil {
			return mapError(err)
		}
		filter.ChatBotID = botID
	}
	if raw := c.QueryParam("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "active must be a boolean")
		}
		filter.Active = &active
	}

	channels, err := s.store.ListChannels(c.Request().Context(), filter)
	if err != nil {
		return mapError(err)
	}

	out := make([]channelResponse, 0, len(channels))
	for _, ch := range channels {
		resp, err := s.channelResponse(ch)
		if err != nil {
			return mapError(err)
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getChannel(c echo.Context) error {
	ch, err := s.store.GetChannel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	resp, err := s.channelResponse(ch)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) updateChannel(c echo.Context) error {
	var req channelUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	upd := storage.ChannelUpdate{
		Name:     req.Name,
		URL:      req.URL,
		IsActive: req.IsActive,
	}
	if req.ChatBotID != nil {
		botID, err := storage.ParseID(*req.ChatBotID)
		if err != nil {
			return mapError(err)
		}
		if _, err := s.store.GetChatBot(c.Request().Context(), botID); err != nil {
			return mapError(err)
		}
		upd.ChatBotID = &botID
	}

	ch, err := s.store.UpdateChannel(c.Request().Context(), c.Param("id"), upd)
	if err != nil {
		return mapError(err)
	}
	resp, err := s.channelResponse(ch)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) deleteChannel(c echo.Context) error {
	if err := s.store.DeleteChannel(c.Request().Context(), c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// getChannelDialogue returns the ordered conversation recorded for the
// channel, oldest first. A channel with no dialogue yet yields an empty list.
func (s *Server) getChannelDialogue(c echo.Context) error {
	ctx := c.Request().Context()

	ch, err := s.store.GetChannel(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}

	dialogue, err := s.store.GetDialogueByChat(ctx, ch.ChatBotID, ch.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusOK, []dialogueEntry{})
		}
		return mapError(err)
	}

	messages, err := s.store.ListDialogueMessages(ctx, dialogue.ID)
	if err != nil {
		return mapError(err)
	}

	out := make([]dialogueEntry, 0, len(messages))
	for _, m := range messages {
		out = append(out, dialogueEntry{Role: m.Role, Text: m.Text})
	}
	return c.JSON(http.StatusOK, out)
}
