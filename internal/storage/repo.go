package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInvalidID = errors.New("invalid id")
)

// ParseID validates an entity id and returns its canonical form.
func ParseID(raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return id.String(), nil
}

func (s *Store) CreateChatBot(ctx context.Context, b ChatBot) error {
	q := s.sql.Insert("chatbots").
		Columns("id", "name", "secret_token_hash").
		Values(b.ID, b.Name, b.SecretTokenHash)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build chatbot insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert chatbot: %w", err)
	}
	return nil
}

func (s *Store) GetChatBot(ctx context.Context, id string) (ChatBot, error) {
	id, err := ParseID(id)
	if err != nil {
		return ChatBot{}, err
	}
	return s.getChatBot(ctx, sq.Eq{"id": id})
}

func (s *Store) GetChatBotByName(ctx context.Context, name string) (ChatBot, error) {
	return s.getChatBot(ctx, sq.Eq{"name": name})
}

// GetChatBotByTokenHash resolves the bot presenting a webhook credential.
func (s *Store) GetChatBotByTokenHash(ctx context.Context, tokenHash string) (ChatBot, error) {
	return s.getChatBot(ctx, sq.Eq{"secret_token_hash": tokenHash})
}

func (s *Store) getChatBot(ctx context.Context, where sq.Sqlizer) (ChatBot, error) {
	q := s.sql.Select("id", "name", "secret_token_hash", "created_at").
		From("chatbots").
		Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return ChatBot{}, fmt.Errorf("build chatbot query: %w", err)
	}

	var b ChatBot
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&b.ID, &b.Name, &b.SecretTokenHash, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChatBot{}, ErrNotFound
		}
		return ChatBot{}, fmt.Errorf("get chatbot: %w", err)
	}
	return b, nil
}

func (s *Store) DeleteAllChatBots(ctx context.Context) (int64, error) {
	sqlStr, args, err := s.sql.Delete("chatbots").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build chatbot delete query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("delete chatbots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
