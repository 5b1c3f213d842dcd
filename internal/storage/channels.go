package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// ChannelFilter narrows ListChannels. Zero values mean "no filter".
type ChannelFilter struct {
	ChatBotID string
	Active    *bool
}

// ChannelUpdate carries a partial update; nil fields are left unchanged.
type ChannelUpdate struct {
	Name      *string
	ChatBotID *string
	URL       *string
	IsActive  *bool
}

const channelColumns = "id, chat_bot_id, name, url, token_hash, enc_token, is_active, created_at"

func (s *Store) CreateChannel(ctx context.Context, c Channel) error {
	q := s.sql.Insert("channels").
		Columns("id", "chat_bot_id", "name", "url", "token_hash", "enc_token", "is_active").
		Values(c.ID, c.ChatBotID, c.Name, c.URL, c.TokenHash, c.EncToken, c.IsActive)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build channel insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *Store) GetChannel(ctx context.Context, id string) (Channel, error) {
	id, err := ParseID(id)
	if err != nil {
		return Channel{}, err
	}
	return s.getChannel(ctx, sq.Eq{"id": id})
}

// GetChannelByTokenHash resolves the channel presenting an egress credential.
func (s *Store) GetChannelByTokenHash(ctx context.Context, tokenHash string) (Channel, error) {
	return s.getChannel(ctx, sq.Eq{"token_hash": tokenHash})
}

func (s *Store) getChannel(ctx context.Context, where sq.Sqlizer) (Channel, error) {
	q := s.sql.Select("id", "chat_bot_id", "name", "url", "token_hash", "enc_token", "is_active", "created_at").
		From("channels").
		Where(where)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Channel{}, fmt.Errorf("build channel query: %w", err)
	}

	var c Channel
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&c.ID,
		&c.ChatBotID,
		&c.Name,
		&c.URL,
		&c.TokenHash,
		&c.EncToken,
		&c.IsActive,
		&c.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Channel{}, ErrNotFound
		}
		return Channel{}, fmt.Errorf("get channel: %w", err)
	}
	return c, nil
}

func (s *Store) ListChannels(ctx context.Context, filter ChannelFilter) ([]Channel, error) {
	q := s.sql.Select("id", "chat_bot_id", "name", "url", "token_hash", "enc_token", "is_active", "created_at").
		From("channels").
		OrderBy("name ASC")
	if filter.ChatBotID != "" {
		q = q.Where(sq.Eq{"chat_bot_id": filter.ChatBotID})
	}
	if filter.Active != nil {
		q = q.Where(sq.Eq{"is_active": *filter.Active})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list channels query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	out := make([]Channel, 0)
	for rows.Next() {
		var c Channel
		if err := rows.Scan(
			&c.ID,
			&c.ChatBotID,
			&c.Name,
			&c.URL,
			&c.TokenHash,
			&c.EncToken,
			&c.IsActive,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel rows: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateChannel(ctx context.Context, id string, upd ChannelUpdate) (Channel, error) {
	id, err := ParseID(id)
	if err != nil {
		return Channel{}, err
	}

	q := s.sql.Update("channels").Where(sq.Eq{"id": id})
	changed := false
	if upd.Name != nil {
		q = q.Set("name", *upd.Name)
		changed = true
	}
	if upd.ChatBotID != nil {
		q = q.Set("chat_bot_id", *upd.ChatBotID)
		changed = true
	}
	if upd.URL != nil {
		q = q.Set("url", *upd.URL)
		changed = true
	}
	if upd.IsActive != nil {
		q = q.Set("is_active", *upd.IsActive)
		changed = true
	}
	if !changed {
		return s.getChannel(ctx, sq.Eq{"id": id})
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Channel{}, fmt.Errorf("build channel update query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return Channel{}, fmt.Errorf("update channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return Channel{}, ErrNotFound
	}
	return s.getChannel(ctx, sq.Eq{"id": id})
}

func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	id, err := ParseID(id)
	if err != nil {
		return err
	}
	q := s.sql.Delete("channels").Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete channel query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
