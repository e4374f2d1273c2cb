package models

import "time"

// User is a transport identity. Created on first contact, never hard-deleted;
// revoking access is a flag flip.
type User struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TelegramID    string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"telegram_id"`
	Username      string    `gorm:"type:varchar(128)" json:"username"`
	FullName      string    `gorm:"type:varchar(255)" json:"full_name"`
	Role          string    `gorm:"type:varchar(16);not null;default:user" json:"role"`
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	PreferredMode string    `gorm:"type:varchar(32);not null;default:default" json:"preferred_mode"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Dialog is one conversation thread. At most one active dialog per user;
// the session service enforces it, not a storage constraint.
type Dialog struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PublicID       string     `gorm:"type:varchar(26);uniqueIndex;not null" json:"public_id"`
	UserID         uint64     `gorm:"index:idx_dialogs_user_active,priority:1;not null" json:"user_id"`
	Title          string     `gorm:"type:varchar(255);not null" json:"title"`
	TelegramChatID string     `gorm:"type:varchar(32)" json:"telegram_chat_id"`
	IsActive       bool       `gorm:"index:idx_dialogs_user_active,priority:2;not null;default:true" json:"is_active"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Dialog) TableName() string { return "dialogs" }

// MessageTurn is one user/assistant exchange. Append-only; the assistant side
// and token counts are filled in after the backend call returns.
type MessageTurn struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	DialogID       uint64 `gorm:"index:uniq_turn_dialog_seq,unique,priority:1;not null" json:"dialog_id"`
	UserID         uint64 `gorm:"index;not null" json:"user_id"`
	SequenceNumber int    `gorm:"index:uniq_turn_dialog_seq,unique,priority:2;not null" json:"sequence_number"`

	UserText      string  `gorm:"type:text;not null" json:"user_text"`
	AssistantText *string `gorm:"type:text" json:"assistant_text"`

	Model            string `gorm:"type:varchar(128)" json:"model"`
	Mode             string `gorm:"type:varchar(32)" json:"mode"`
	PromptTokens     int    `gorm:"not null;default:0" json:"prompt_tokens"`
	CompletionTokens int    `gorm:"not null;default:0" json:"completion_tokens"`
	TotalTokens      int    `gorm:"not null;default:0" json:"total_tokens"`

	// Transport message ids on both sides, used to attach and later strip
	// interactive controls.
	UserMessageID      int64  `json:"user_message_id"`
	AssistantMessageID *int64 `json:"assistant_message_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MessageTurn) TableName() string { return "message_turns" }

// ModelConfig holds stored generation parameters for one routable model.
type ModelConfig struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name       string `gorm:"type:varchar(128);not null" json:"name"`
	ProviderID uint64 `gorm:"index;not null" json:"provider_id"`
	Model      string `gorm:"type:varchar(128);not null" json:"model"`

	Temperature      float64 `gorm:"not null;default:1.0" json:"temperature"`
	MaxTokens        int     `gorm:"not null;default:512" json:"max_tokens"`
	TopP             float64 `gorm:"not null;default:1.0" json:"top_p"`
	FrequencyPenalty float64 `gorm:"not null;default:0" json:"frequency_penalty"`
	PresencePenalty  float64 `gorm:"not null;default:0" json:"presence_penalty"`

	SystemPrompt string `gorm:"type:text" json:"system_prompt"`
	IsDefault    bool   `gorm:"index;not null;default:false" json:"is_default"`

	// Per-dialog token ceiling; 0 means unset.
	DialogTokenLimit int `gorm:"not null;default:0" json:"dialog_token_limit"`

	// "" = infer by model name, "chat" or "responses" to force an endpoint.
	EndpointOverride string `gorm:"type:varchar(16)" json:"endpoint_override"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ModelConfig) TableName() string { return "model_configs" }

// ProviderCredential identifies one backend account. A provider client is
// cached per (vendor, key, updated-at) signature, so editing the row rotates
// the client.
type ProviderCredential struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Vendor    string    `gorm:"type:varchar(32);not null" json:"vendor"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	APIKey    string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProviderCredential) TableName() string { return "provider_credentials" }

// Setting is a runtime-tunable key/value pair.
type Setting struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Key       string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

// BotCommand maps an operator-defined slash command to a canned reply.
type BotCommand struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"name"`
	Description  string    `gorm:"type:varchar(255)" json:"description"`
	ResponseText string    `gorm:"type:text;not null" json:"response_text"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (BotCommand) TableName() string { return "bot_commands" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Dialog{},
		&MessageTurn{},
		&ModelConfig{},
		&ProviderCredential{},
		&Setting{},
		&BotCommand{},
	}
}
