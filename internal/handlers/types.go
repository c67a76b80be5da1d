package handlers

import (
	"time"

	"github.com/botforge-cloud/instance-manager/internal/store/model"
	"github.com/botforge-cloud/instance-manager/internal/translator"
)

// DeployRequest is the dashboard's declarative bot configuration. The same
// shape arrives inside billing webhook events as the pending configuration.
type DeployRequest struct {
	Provider      string `json:"provider" validate:"required,oneof=ANTHROPIC OPENAI GEMINI OPENROUTER"`
	Model         string `json:"model" validate:"required"`
	FallbackModel string `json:"fallbackModel"`
	APIKey        string `json:"apiKey" validate:"required"`

	BotName         string `json:"botName"`
	SystemPrompt    string `json:"systemPrompt"`
	ThinkingMode    string `json:"thinkingMode"`
	DefaultDMPolicy string `json:"defaultDmPolicy" validate:"omitempty,oneof=pairing allowlist open disabled"`

	Channels []ChannelRequest `json:"channels" validate:"dive"`
	Skills   SkillsRequest    `json:"skills"`
}

type ChannelRequest struct {
	Type    string               `json:"type" validate:"required,oneof=TELEGRAM WHATSAPP DISCORD"`
	Enabled *bool                `json:"enabled"`
	Config  ChannelConfigRequest `json:"config"`
}

type ChannelConfigRequest struct {
	BotToken       string   `json:"botToken"`
	DMPolicy       string   `json:"dmPolicy" validate:"omitempty,oneof=pairing allowlist open disabled"`
	GroupPolicy    string   `json:"groupPolicy" validate:"omitempty,oneof=allowlist open"`
	AllowedGroups  []string `json:"allowedGroups"`
	RequireMention bool     `json:"requireMention"`
}

type SkillsRequest struct {
	WebSearchEnabled bool   `json:"webSearchEnabled"`
	WebSearchAPIKey  string `json:"webSearchApiKey"`
	BrowserEnabled   bool   `json:"browserEnabled"`
	TTSEnabled       bool   `json:"ttsEnabled"`
	TTSAPIKey        string `json:"ttsApiKey"`
	CanvasEnabled    bool   `json:"canvasEnabled"`
	SchedulerEnabled bool   `json:"schedulerEnabled"`
	MemoryEnabled    bool   `json:"memoryEnabled"`
}

// BillingEvent is the payload delivered by the billing system on payment
// success. The pending configuration travels inside the event.
type BillingEvent struct {
	Type          string         `json:"type" validate:"required"`
	UserID        string         `json:"userId" validate:"required"`
	Configuration *DeployRequest `json:"configuration"`
}

// InstanceResponse is the dashboard's status view of an instance.
type InstanceResponse struct {
	ID              string               `json:"id"`
	ContainerID     *string              `json:"containerId"`
	ContainerName   string               `json:"containerName"`
	Port            int                  `json:"port"`
	Status          model.InstanceStatus `json:"status"`
	AccessURL       string               `json:"accessUrl"`
	LastHealthCheck *time.Time           `json:"lastHealthCheck"`
	CreateTime      time.Time            `json:"createTime"`
}

func instanceToResponse(m *model.Instance) *InstanceResponse {
	return &InstanceResponse{
		ID:              m.ID.String(),
		ContainerID:     m.ContainerID,
		ContainerName:   m.ContainerName,
		Port:            m.Port,
		Status:          m.Status,
		AccessURL:       m.AccessURL,
		LastHealthCheck: m.LastHealthCheck,
		CreateTime:      m.CreateTime,
	}
}

func (r *DeployRequest) toUserConfiguration() *translator.UserConfiguration {
	cfg := &translator.UserConfiguration{
		Provider:        model.AIProvider(r.Provider),
		Model:           r.Model,
		FallbackModel:   r.FallbackModel,
		APIKey:          r.APIKey,
		BotName:         r.BotName,
		SystemPrompt:    r.SystemPrompt,
		ThinkingMode:    r.ThinkingMode,
		DefaultDMPolicy: r.DefaultDMPolicy,
		Skills: translator.SkillConfig{
			WebSearchEnabled: r.Skills.WebSearchEnabled,
			WebSearchAPIKey:  r.Skills.WebSearchAPIKey,
			BrowserEnabled:   r.Skills.BrowserEnabled,
			TTSEnabled:       r.Skills.TTSEnabled,
			TTSAPIKey:        r.Skills.TTSAPIKey,
			CanvasEnabled:    r.Skills.CanvasEnabled,
			SchedulerEnabled: r.Skills.SchedulerEnabled,
			MemoryEnabled:    r.Skills.MemoryEnabled,
		},
	}
	for _, ch := range r.Channels {
		enabled := true
		if ch.Enabled != nil {
			enabled = *ch.Enabled
		}
		cfg.Channels = append(cfg.Channels, translator.ChannelConfig{
			Type:           model.ChannelType(ch.Type),
			Enabled:        enabled,
			BotToken:       ch.Config.BotToken,
			DMPolicy:       ch.Config.DMPolicy,
			GroupPolicy:    ch.Config.GroupPolicy,
			AllowedGroups:  ch.Config.AllowedGroups,
			RequireMention: ch.Config.RequireMention,
		})
	}
	return cfg
}
