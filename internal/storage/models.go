package storage

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleEmployee  = "employee"
)

type ChatBot struct {
	ID              string
	Name            string
	SecretTokenHash string
	CreatedAt       time.Time
}

// Channel is an external webhook destination owned by a chatbot. The outbound
// token is stored as an AES-GCM envelope (enc_token) plus a SHA-256 hash
// (token_hash) so it can be both returned to API clients and looked up by
// value without keeping plaintext at rest.
type Channel struct {
	ID        string
	ChatBotID string
	Name      string
	URL       string
	TokenHash string
	EncToken  string
	IsActive  bool
	CreatedAt time.Time
}

// Dialogue is the conversation log for one (chat_bot_id, chat_id) pair.
// At most one exists per pair; messages are append-only.
type Dialogue struct {
	ID        string
	ChatBotID string
	ChatID    string
	CreatedAt time.Time
}

type DialogueMessage struct {
	ID         int64
	DialogueID string
	MessageID  string
	Role       string
	Text       string
	CreatedAt  time.Time
}
