// Package translator maps a user's declarative bot configuration into the
// JSON config blob and environment variables consumed by the deployed
// runtime. Pure data mapping: no I/O, no persistence.
package translator

import "github.com/botforge-cloud/instance-manager/internal/store/model"

// DM policies accepted on a channel. An unset policy falls back to the
// configuration default, then to pairing.
const (
	DMPolicyPairing   = "pairing"
	DMPolicyAllowlist = "allowlist"
	DMPolicyOpen      = "open"
	DMPolicyDisabled  = "disabled"
)

const (
	GroupPolicyAllowlist = "allowlist"
	GroupPolicyOpen      = "open"
)

const defaultWorkspace = "/data/workspace"

// UserConfiguration is the declarative input to the translator. API keys
// and tokens arrive already decrypted.
type UserConfiguration struct {
	Provider      model.AIProvider
	Model         string
	FallbackModel string
	APIKey        string

	BotName         string
	SystemPrompt    string
	ThinkingMode    string
	DefaultDMPolicy string

	Channels []ChannelConfig
	Skills   SkillConfig
}

type ChannelConfig struct {
	Type           model.ChannelType
	Enabled        bool
	BotToken       string
	DMPolicy       string
	GroupPolicy    string
	AllowedGroups  []string
	RequireMention bool
}

type SkillConfig struct {
	WebSearchEnabled bool
	WebSearchAPIKey  string
	BrowserEnabled   bool
	TTSEnabled       bool
	TTSAPIKey        string
	CanvasEnabled    bool
	SchedulerEnabled bool
	MemoryEnabled    bool
}

// GenerateConfig builds the runtime's nested configuration object. Disabled
// channels are excluded entirely, and channel types the mapping does not
// recognize are silently ignored; new types must be added here explicitly.
func GenerateConfig(cfg *UserConfiguration) map[string]any {
	agent := map[string]any{
		"workspace": defaultWorkspace,
		"model":     modelSection(cfg),
	}
	if cfg.BotName != "" {
		agent["identity"] = map[string]any{"name": cfg.BotName}
	}
	if cfg.SystemPrompt != "" {
		agent["systemPrompt"] = cfg.SystemPrompt
	}
	if cfg.ThinkingMode != "" {
		agent["thinking"] = cfg.ThinkingMode
	}

	channels := map[string]any{}
	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		switch ch.Type {
		case model.ChannelTelegram:
			channels["telegram"] = telegramChannel(cfg, ch)
		case model.ChannelWhatsApp:
			channels["whatsapp"] = whatsappChannel(cfg, ch)
		case model.ChannelDiscord:
			channels["discord"] = discordChannel(cfg, ch)
		}
	}

	return map[string]any{
		"agent":    agent,
		"channels": channels,
		"skills":   skillsSection(cfg.Skills),
	}
}

func modelSection(cfg *UserConfiguration) map[string]any {
	section := map[string]any{"primary": cfg.Model}
	if cfg.FallbackModel != "" {
		section["fallbacks"] = []string{cfg.FallbackModel}
	}
	return section
}

// dmPolicy resolves channel policy -> configuration default -> pairing.
func dmPolicy(cfg *UserConfiguration, ch ChannelConfig) string {
	if ch.DMPolicy != "" {
		return ch.DMPolicy
	}
	if cfg.DefaultDMPolicy != "" {
		return cfg.DefaultDMPolicy
	}
	return DMPolicyPairing
}

// groupEntries maps the group policy into the runtime's per-group table.
// An open policy produces a single wildcard entry.
func groupEntries(ch ChannelConfig) map[string]any {
	policy := ch.GroupPolicy
	if policy == "" {
		policy = GroupPolicyAllowlist
	}
	groups := map[string]any{}
	if policy == GroupPolicyOpen {
		groups["*"] = map[string]any{"requireMention": ch.RequireMention}
		return groups
	}
	for _, id := range ch.AllowedGroups {
		groups[id] = map[string]any{"requireMention": ch.RequireMention}
	}
	return groups
}

func telegramChannel(cfg *UserConfiguration, ch ChannelConfig) map[string]any {
	section := map[string]any{
		"dmPolicy": dmPolicy(cfg, ch),
		"groups":   groupEntries(ch),
	}
	if ch.BotToken != "" {
		section["botToken"] = ch.BotToken
	}
	return section
}

func whatsappChannel(cfg *UserConfiguration, ch ChannelConfig) map[string]any {
	// WhatsApp pairs via QR scan; there is no token to carry.
	return map[string]any{
		"dmPolicy": dmPolicy(cfg, ch),
		"groups":   groupEntries(ch),
	}
}

func discordChannel(cfg *UserConfiguration, ch ChannelConfig) map[string]any {
	section := map[string]any{
		"dm":     map[string]any{"policy": dmPolicy(cfg, ch)},
		"guilds": groupEntries(ch),
	}
	if ch.BotToken != "" {
		section["token"] = ch.BotToken
	}
	return section
}

// skillsSection contains only enabled skills; a disabled skill contributes
// no key at all.
func skillsSection(skills SkillConfig) map[string]any {
	section := map[string]any{}
	if skills.WebSearchEnabled {
		entry := map[string]any{"enabled": true}
		if skills.WebSearchAPIKey != "" {
			entry["apiKey"] = skills.WebSearchAPIKey
		}
		section["webSearch"] = entry
	}
	if skills.BrowserEnabled {
		section["browser"] = map[string]any{"enabled": true}
	}
	if skills.TTSEnabled {
		entry := map[string]any{"enabled": true}
		if skills.TTSAPIKey != "" {
			entry["apiKey"] = skills.TTSAPIKey
		}
		section["tts"] = entry
	}
	if skills.CanvasEnabled {
		section["canvas"] = map[string]any{"enabled": true}
	}
	if skills.SchedulerEnabled {
		section["scheduler"] = map[string]any{"enabled": true}
	}
	if skills.MemoryEnabled {
		section["memory"] = map[string]any{"enabled": true}
	}
	return section
}

// providerEnvVars maps each AI provider to its secret variable name.
var providerEnvVars = map[model.AIProvider]string{
	model.ProviderAnthropic:  "ANTHROPIC_API_KEY",
	model.ProviderOpenAI:     "OPENAI_API_KEY",
	model.ProviderGemini:     "GEMINI_API_KEY",
	model.ProviderOpenRouter: "OPENROUTER_API_KEY",
}

var channelTokenEnvVars = map[model.ChannelType]string{
	model.ChannelTelegram: "TELEGRAM_BOT_TOKEN",
	model.ChannelDiscord:  "DISCORD_BOT_TOKEN",
}

// BuildEnvironmentVariables produces the flat secret map for a deploy. It
// is total: unknown providers and absent values simply contribute nothing.
func BuildEnvironmentVariables(cfg *UserConfiguration) map[string]string {
	env := map[string]string{}

	if name, ok := providerEnvVars[cfg.Provider]; ok && cfg.APIKey != "" {
		env[name] = cfg.APIKey
	}

	for _, ch := range cfg.Channels {
		if !ch.Enabled || ch.BotToken == "" {
			continue
		}
		if name, ok := channelTokenEnvVars[ch.Type]; ok {
			env[name] = ch.BotToken
		}
	}

	if cfg.Skills.WebSearchEnabled && cfg.Skills.WebSearchAPIKey != "" {
		env["BRAVE_API_KEY"] = cfg.Skills.WebSearchAPIKey
	}
	if cfg.Skills.TTSEnabled && cfg.Skills.TTSAPIKey != "" {
		env["ELEVENLABS_API_KEY"] = cfg.Skills.TTSAPIKey
	}

	return env
}
