package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/botforge-cloud/instance-manager/internal/store"
	"github.com/botforge-cloud/instance-manager/internal/store/model"
	"github.com/botforge-cloud/instance-manager/internal/translator"
	"github.com/google/uuid"
)

// channelBlob is the opaque per-platform credential/config document stored
// on a Channel row.
type channelBlob struct {
	BotToken       string   `json:"botToken"`
	DMPolicy       string   `json:"dmPolicy"`
	GroupPolicy    string   `json:"groupPolicy"`
	AllowedGroups  []string `json:"allowedGroups"`
	RequireMention bool     `json:"requireMention"`
}

// SyncConfig re-derives the deployment config from current database state
// and pushes it to the already-running remote service, then redeploys.
// Disabled channels are excluded entirely. The persisted gateway token is
// reused, never regenerated. Callers invoke this through SpawnDetached
// after every mutating dashboard action; missing remote ID or missing
// configuration are silent no-ops.
func (o *Orchestrator) SyncConfig(ctx context.Context, instanceID uuid.UUID) error {
	instance, err := o.store.Instance().Get(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			log.Printf("Config sync skipped: instance %s not found", instanceID)
			return nil
		}
		return NewInternalError(fmt.Sprintf("failed to retrieve instance: %v", err))
	}

	serviceID, err := o.ensureContainerID(ctx, instance)
	if err != nil {
		log.Printf("Config sync skipped for instance %s: no remote service (%v)", instanceID, err)
		return nil
	}

	cfg, err := o.store.Configuration().GetByInstanceID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrConfigurationNotFound) {
			log.Printf("Config sync skipped: instance %s has no configuration", instanceID)
			return nil
		}
		return NewInternalError(fmt.Sprintf("failed to retrieve configuration: %v", err))
	}

	userCfg, err := o.userConfigFromModel(cfg)
	if err != nil {
		return NewInternalError(fmt.Sprintf("failed to rebuild configuration: %v", err))
	}

	configObj := translator.GenerateConfig(userCfg)
	env := translator.BuildEnvironmentVariables(userCfg)

	configJSON, err := json.Marshal(configObj)
	if err != nil {
		return NewInternalError(fmt.Sprintf("failed to encode config: %v", err))
	}
	env["BOT_CONFIG_JSON"] = string(configJSON)
	env["GATEWAY_PORT"] = fmt.Sprintf("%d", gatewayPort)
	env["GATEWAY_TOKEN"] = instance.GatewayToken

	if err := o.railway.SetVariables(ctx, serviceID, env); err != nil {
		return NewProviderError(fmt.Sprintf("failed to push variables: %v", err))
	}
	if err := o.retryCooldown(ctx, "redeploy", func() error {
		return o.railway.RedeployService(ctx, serviceID)
	}); err != nil {
		return NewProviderError(fmt.Sprintf("failed to redeploy after config sync: %v", err))
	}

	log.Printf("Synced configuration to instance %s (service %s)", instanceID, serviceID)
	return nil
}

// userConfigFromModel rebuilds the translator input from persisted state,
// decrypting secrets and carrying only enabled channels.
func (o *Orchestrator) userConfigFromModel(cfg *model.Configuration) (*translator.UserConfiguration, error) {
	userCfg := &translator.UserConfiguration{
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		FallbackModel:   cfg.FallbackModel,
		BotName:         cfg.BotName,
		SystemPrompt:    cfg.SystemPrompt,
		ThinkingMode:    cfg.ThinkingMode,
		DefaultDMPolicy: cfg.DefaultDMPolicy,
		Skills: translator.SkillConfig{
			WebSearchEnabled: cfg.WebSearchEnabled,
			BrowserEnabled:   cfg.BrowserEnabled,
			TTSEnabled:       cfg.TTSEnabled,
			CanvasEnabled:    cfg.CanvasEnabled,
			SchedulerEnabled: cfg.SchedulerEnabled,
			MemoryEnabled:    cfg.MemoryEnabled,
		},
	}

	var err error
	if userCfg.APIKey, err = o.decryptIfSet(cfg.APIKeyEnc); err != nil {
		return nil, fmt.Errorf("decrypt provider API key: %w", err)
	}
	if userCfg.Skills.WebSearchAPIKey, err = o.decryptIfSet(cfg.WebSearchAPIKeyEnc); err != nil {
		return nil, fmt.Errorf("decrypt web search API key: %w", err)
	}
	if userCfg.Skills.TTSAPIKey, err = o.decryptIfSet(cfg.TTSAPIKeyEnc); err != nil {
		return nil, fmt.Errorf("decrypt TTS API key: %w", err)
	}

	for _, ch := range cfg.Channels {
		if !ch.Enabled {
			continue
		}
		var blob channelBlob
		if len(ch.Config) > 0 {
			if err := json.Unmarshal(ch.Config, &blob); err != nil {
				log.Printf("WARNING: invalid channel config blob on %s channel, skipping fields: %v", ch.ChannelType, err)
			}
		}
		userCfg.Channels = append(userCfg.Channels, translator.ChannelConfig{
			Type:           ch.ChannelType,
			Enabled:        true,
			BotToken:       blob.BotToken,
			DMPolicy:       blob.DMPolicy,
			GroupPolicy:    blob.GroupPolicy,
			AllowedGroups:  blob.AllowedGroups,
			RequireMention: blob.RequireMention,
		})
	}

	return userCfg, nil
}

func (o *Orchestrator) decryptIfSet(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	return o.codec.Decrypt(ciphertext)
}
