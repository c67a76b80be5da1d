package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AIProvider string

const (
	ProviderAnthropic  AIProvider = "ANTHROPIC"
	ProviderOpenAI     AIProvider = "OPENAI"
	ProviderGemini     AIProvider = "GEMINI"
	ProviderOpenRouter AIProvider = "OPENROUTER"
)

type ChannelType string

const (
	ChannelTelegram ChannelType = "TELEGRAM"
	ChannelWhatsApp ChannelType = "WHATSAPP"
	ChannelDiscord  ChannelType = "DISCORD"
)

// Configuration is the user's declarative bot configuration, bound 1:1 to
// an Instance. API keys are stored encrypted; they are decrypted only while
// building the deploy environment map.
type Configuration struct {
	ID         uuid.UUID `gorm:"primaryKey;type:uuid"`
	InstanceID uuid.UUID `gorm:"column:instance_id;type:uuid;uniqueIndex;not null"`
	UserID     string    `gorm:"column:user_id;not null"`

	Provider      AIProvider `gorm:"column:provider;not null"`
	Model         string     `gorm:"column:model;not null"`
	FallbackModel string     `gorm:"column:fallback_model"`
	APIKeyEnc     string     `gorm:"column:api_key_enc"`

	BotName         string `gorm:"column:bot_name"`
	SystemPrompt    string `gorm:"column:system_prompt;type:text"`
	ThinkingMode    string `gorm:"column:thinking_mode"`
	DefaultDMPolicy string `gorm:"column:default_dm_policy"`

	WebSearchEnabled   bool   `gorm:"column:web_search_enabled"`
	WebSearchAPIKeyEnc string `gorm:"column:web_search_api_key_enc"`
	BrowserEnabled     bool   `gorm:"column:browser_enabled"`
	TTSEnabled         bool   `gorm:"column:tts_enabled"`
	TTSAPIKeyEnc       string `gorm:"column:tts_api_key_enc"`
	CanvasEnabled      bool   `gorm:"column:canvas_enabled"`
	SchedulerEnabled   bool   `gorm:"column:scheduler_enabled"`
	MemoryEnabled      bool   `gorm:"column:memory_enabled"`

	Channels []Channel `gorm:"foreignKey:ConfigurationID;constraint:OnDelete:CASCADE"`

	CreateTime time.Time `gorm:"column:create_time;autoCreateTime"`
	UpdateTime time.Time `gorm:"column:update_time;autoUpdateTime"`
}

// Channel is one enabled messaging platform on a Configuration, unique per
// (configuration, type). Config carries the raw per-platform credentials as
// an opaque JSON blob; the denormalized fields exist for display only.
type Channel struct {
	ID              uuid.UUID      `gorm:"primaryKey;type:uuid"`
	ConfigurationID uuid.UUID      `gorm:"column:configuration_id;type:uuid;uniqueIndex:idx_config_channel_type;not null"`
	ChannelType     ChannelType    `gorm:"column:channel_type;uniqueIndex:idx_config_channel_type;not null"`
	Enabled         bool           `gorm:"column:enabled;not null;default:true"`
	Config          datatypes.JSON `gorm:"column:config;type:jsonb"`
	Username        string         `gorm:"column:username"`
	PhoneNumber     string         `gorm:"column:phone_number"`
	InviteLink      string         `gorm:"column:invite_link"`
	CreateTime      time.Time      `gorm:"column:create_time;autoCreateTime"`
	UpdateTime      time.Time      `gorm:"column:update_time;autoUpdateTime"`
}

type ChannelList []Channel
