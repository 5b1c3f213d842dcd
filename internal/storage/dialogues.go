package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// FindOrCreateDialogue returns the dialogue for (chatBotID, chatID), creating
// it on first use. The insert is ON CONFLICT DO NOTHING against the unique
// (chat_bot_id, chat_id) constraint, so two concurrent first messages for the
// same chat converge on a single row.
func (s *Store) FindOrCreateDialogue(ctx context.Context, chatBotID, chatID string) (Dialogue, error) {
	q := s.sql.Insert("dialogues").
		Columns("id", "chat_bot_id", "chat_id").
		Values(uuid.NewString(), chatBotID, chatID).
		Suffix("ON CONFLICT(chat_bot_id, chat_id) DO NOTHING")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Dialogue{}, fmt.Errorf("build dialogue insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return Dialogue{}, fmt.Errorf("insert dialogue: %w", err)
	}

	return s.GetDialogueByChat(ctx, chatBotID, chatID)
}

func (s *Store) GetDialogueByChat(ctx context.Context, chatBotID, chatID string) (Dialogue, error) {
	q := s.sql.Select("id", "chat_bot_id", "chat_id", "created_at").
		From("dialogues").
		Where(sq.Eq{"chat_bot_id": chatBotID, "chat_id": chatID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Dialogue{}, fmt.Errorf("build dialogue query: %w", err)
	}

	var d Dialogue
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&d.ID, &d.ChatBotID, &d.ChatID, &d.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Dialogue{}, ErrNotFound
		}
		return Dialogue{}, fmt.Errorf("get dialogue: %w", err)
	}
	return d, nil
}

// AppendDialogueMessage appends one message to a dialogue. It reports false
// when a message with the same message_id already exists in the dialogue;
// the unique (dialogue_id, message_id) constraint makes the check atomic.
func (s *Store) AppendDialogueMessage(ctx context.Context, m DialogueMessage) (bool, error) {
	q := s.sql.Insert("dialogue_messages").
		Columns("dialogue_id", "message_id", "role", "text").
		Values(m.DialogueID, m.MessageID, m.Role, m.Text).
		Suffix("ON CONFLICT(dialogue_id, message_id) DO NOTHING")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build message insert query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("insert dialogue message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return true, nil
	}
	return n > 0, nil
}

// ListDialogueMessages returns a dialogue's messages in insertion order.
func (s *Store) ListDialogueMessages(ctx context.Context, dialogueID string) ([]DialogueMessage, error) {
	q := s.sql.Select("id", "dialogue_id", "message_id", "role", "text", "created_at").
		From("dialogue_messages").
		Where(sq.Eq{"dialogue_id": dialogueID}).
		OrderBy("id ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list dialogue messages: %w", err)
	}
	defer rows.Close()

	out := make([]DialogueMessage, 0)
	for rows.Next() {
		var m DialogueMessage
		if err := rows.Scan(&m.ID, &m.DialogueID, &m.MessageID, &m.Role, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}
