package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/botforge-cloud/instance-manager/internal/auth"
	"github.com/botforge-cloud/instance-manager/internal/gateway"
	"github.com/botforge-cloud/instance-manager/internal/orchestrator"
	"github.com/botforge-cloud/instance-manager/internal/secrets"
	"github.com/botforge-cloud/instance-manager/internal/store"
	"github.com/botforge-cloud/instance-manager/internal/store/model"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const defaultLogTail = 100

type Handler struct {
	store    store.Store
	orch     *orchestrator.Orchestrator
	codec    *secrets.Codec
	gateway  *gateway.Client
	auth     auth.Resolver
	validate *validator.Validate
}

func NewHandler(dataStore store.Store, orch *orchestrator.Orchestrator, codec *secrets.Codec, gw *gateway.Client, resolver auth.Resolver) *Handler {
	return &Handler{
		store:    dataStore,
		orch:     orch,
		codec:    codec,
		gateway:  gw,
		auth:     resolver,
		validate: validator.New(),
	}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeployInstance provisions (or replaces) the caller's instance and saves
// the submitted configuration alongside it.
func (h *Handler) DeployInstance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req DeployRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.orch.Deploy(r.Context(), userID, req.toUserConfiguration())
	if err != nil {
		writeServiceError(w, "deploy-error", "Failed to deploy instance", err)
		return
	}

	if err := h.saveConfiguration(r.Context(), userID, result.InstanceID, &req); err != nil {
		log.Printf("WARNING: deployed instance %s but failed to persist configuration: %v", result.InstanceID, err)
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) GetCurrentInstance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	instance, err := h.store.Instance().GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			writeProblem(w, "not-found", "Instance not found", "no instance deployed for this user", http.StatusNotFound)
			return
		}
		writeProblem(w, "get-error", "Failed to get instance", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, instanceToResponse(instance))
}

func (h *Handler) StopInstance(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.orch.Stop)
}

func (h *Handler) StartInstance(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.orch.Start)
}

func (h *Handler) RestartInstance(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.orch.Restart)
}

func (h *Handler) lifecycleOp(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) error) {
	instance, ok := h.ownedInstance(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), instance.ID); err != nil {
		writeServiceError(w, "lifecycle-error", "Instance operation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetInstanceLogs(w http.ResponseWriter, r *http.Request) {
	instance, ok := h.ownedInstance(w, r)
	if !ok {
		return
	}
	tail := defaultLogTail
	if raw := r.URL.Query().Get("tail"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeProblem(w, "validation-error", "Validation failed", "tail must be a positive integer", http.StatusBadRequest)
			return
		}
		tail = parsed
	}

	logs, err := h.orch.GetInstanceLogs(r.Context(), instance.ID, tail)
	if err != nil {
		writeServiceError(w, "logs-error", "Failed to fetch logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

func (h *Handler) CheckInstanceHealth(w http.ResponseWriter, r *http.Request) {
	instance, ok := h.ownedInstance(w, r)
	if !ok {
		return
	}
	healthy := h.orch.CheckInstanceHealth(r.Context(), instance.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"healthy": healthy})
}

func (h *Handler) ListInstanceSessions(w http.ResponseWriter, r *http.Request) {
	instance, ok := h.ownedInstance(w, r)
	if !ok {
		return
	}
	sessions := h.gateway.ListSessions(r.Context(), instance.ServiceURL, instance.GatewayToken)
	if sessions == nil {
		sessions = []gateway.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// UpdateConfiguration replaces the caller's stored configuration (model,
// prompt, skills) and triggers a detached config sync.
func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var req DeployRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	cfg, err := h.store.Configuration().GetByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrConfigurationNotFound) {
			writeProblem(w, "not-found", "Configuration not found", "deploy an instance first", http.StatusNotFound)
			return
		}
		writeProblem(w, "get-error", "Failed to get configuration", err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.applyConfigurationUpdate(r.Context(), cfg, &req); err != nil {
		writeProblem(w, "update-error", "Failed to update configuration", err.Error(), http.StatusInternalServerError)
		return
	}

	h.spawnSync(cfg.InstanceID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// UpsertChannel creates or replaces one channel on the caller's
// configuration and triggers a detached config sync.
func (h *Handler) UpsertChannel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	channelType := model.ChannelType(chi.URLParam(r, "type"))

	var req ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, "validation-error", "Validation failed", "invalid request body", http.StatusBadRequest)
		return
	}
	req.Type = string(channelType)
	if err := h.validate.Struct(&req); err != nil {
		writeProblem(w, "validation-error", "Validation failed", err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := h.store.Configuration().GetByUserID(r.Context(), userID)
	if err != nil {
		writeProblem(w, "not-found", "Configuration not found", "deploy an instance first", http.StatusNotFound)
		return
	}

	blob, err := json.Marshal(req.Config)
	if err != nil {
		writeProblem(w, "validation-error", "Validation failed", err.Error(), http.StatusBadRequest)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if _, err := h.store.Configuration().UpsertChannel(r.Context(), model.Channel{
		ID:              uuid.New(),
		ConfigurationID: cfg.ID,
		ChannelType:     channelType,
		Enabled:         enabled,
		Config:          datatypes.JSON(blob),
	}); err != nil {
		writeProblem(w, "update-error", "Failed to save channel", err.Error(), http.StatusInternalServerError)
		return
	}

	h.spawnSync(cfg.InstanceID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// SetChannelEnabled toggles one channel without touching its stored
// credentials, then triggers a detached config sync.
func (h *Handler) SetChannelEnabled(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	channelType := model.ChannelType(chi.URLParam(r, "type"))

	var req struct {
		Enabled *bool `json:"enabled" validate:"required"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	cfg, err := h.store.Configuration().GetByUserID(r.Context(), userID)
	if err != nil {
		writeProblem(w, "not-found", "Configuration not found", "deploy an instance first", http.StatusNotFound)
		return
	}
	if err := h.store.Configuration().SetChannelEnabled(r.Context(), cfg.ID, channelType, *req.Enabled); err != nil {
		if errors.Is(err, store.ErrChannelNotFound) {
			writeProblem(w, "not-found", "Channel not found", fmt.Sprintf("no %s channel configured", channelType), http.StatusNotFound)
			return
		}
		writeProblem(w, "update-error", "Failed to update channel", err.Error(), http.StatusInternalServerError)
		return
	}

	h.spawnSync(cfg.InstanceID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	channelType := model.ChannelType(chi.URLParam(r, "type"))

	cfg, err := h.store.Configuration().GetByUserID(r.Context(), userID)
	if err != nil {
		writeProblem(w, "not-found", "Configuration not found", "deploy an instance first", http.StatusNotFound)
		return
	}
	if err := h.store.Configuration().DeleteChannel(r.Context(), cfg.ID, channelType); err != nil {
		if errors.Is(err, store.ErrChannelNotFound) {
			writeProblem(w, "not-found", "Channel not found", fmt.Sprintf("no %s channel configured", channelType), http.StatusNotFound)
			return
		}
		writeProblem(w, "delete-error", "Failed to delete channel", err.Error(), http.StatusInternalServerError)
		return
	}

	h.spawnSync(cfg.InstanceID)
	w.WriteHeader(http.StatusNoContent)
}

// BillingWebhook accepts payment events. A successful checkout carries the
// pending configuration and triggers a detached deploy; the webhook
// response never waits on provisioning.
func (h *Handler) BillingWebhook(w http.ResponseWriter, r *http.Request) {
	var event BillingEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeProblem(w, "validation-error", "Validation failed", "invalid event body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&event); err != nil {
		writeProblem(w, "validation-error", "Validation failed", err.Error(), http.StatusBadRequest)
		return
	}

	if event.Type != "checkout.completed" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if event.Configuration == nil {
		writeProblem(w, "validation-error", "Validation failed", "checkout event missing configuration", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(event.Configuration); err != nil {
		writeProblem(w, "validation-error", "Validation failed", err.Error(), http.StatusBadRequest)
		return
	}

	userID := event.UserID
	req := *event.Configuration
	orchestrator.SpawnDetached("billing-deploy", func(ctx context.Context) error {
		result, err := h.orch.Deploy(ctx, userID, req.toUserConfiguration())
		if err != nil {
			return err
		}
		return h.saveConfiguration(ctx, userID, result.InstanceID, &req)
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "deploying"})
}

func (h *Handler) spawnSync(instanceID uuid.UUID) {
	orchestrator.SpawnDetached("config-sync", func(ctx context.Context) error {
		return h.orch.SyncConfig(ctx, instanceID)
	})
}

// saveConfiguration persists the submitted configuration with encrypted
// secrets, replacing any prior one for the instance.
func (h *Handler) saveConfiguration(ctx context.Context, userID string, instanceID uuid.UUID, req *DeployRequest) error {
	cfg := model.Configuration{
		ID:              uuid.New(),
		InstanceID:      instanceID,
		UserID:          userID,
		Provider:        model.AIProvider(req.Provider),
		Model:           req.Model,
		FallbackModel:   req.FallbackModel,
		BotName:         req.BotName,
		SystemPrompt:    req.SystemPrompt,
		ThinkingMode:    req.ThinkingMode,
		DefaultDMPolicy: req.DefaultDMPolicy,

		WebSearchEnabled: req.Skills.WebSearchEnabled,
		BrowserEnabled:   req.Skills.BrowserEnabled,
		TTSEnabled:       req.Skills.TTSEnabled,
		CanvasEnabled:    req.Skills.CanvasEnabled,
		SchedulerEnabled: req.Skills.SchedulerEnabled,
		MemoryEnabled:    req.Skills.MemoryEnabled,
	}

	var err error
	if cfg.APIKeyEnc, err = h.encryptIfSet(req.APIKey); err != nil {
		return err
	}
	if cfg.WebSearchAPIKeyEnc, err = h.encryptIfSet(req.Skills.WebSearchAPIKey); err != nil {
		return err
	}
	if cfg.TTSAPIKeyEnc, err = h.encryptIfSet(req.Skills.TTSAPIKey); err != nil {
		return err
	}

	for _, ch := range req.Channels {
		blob, merr := json.Marshal(ch.Config)
		if merr != nil {
			return merr
		}
		enabled := true
		if ch.Enabled != nil {
			enabled = *ch.Enabled
		}
		cfg.Channels = append(cfg.Channels, model.Channel{
			ID:          uuid.New(),
			ChannelType: model.ChannelType(ch.Type),
			Enabled:     enabled,
			Config:      datatypes.JSON(blob),
		})
	}

	_, err = h.store.Configuration().Create(ctx, cfg)
	return err
}

func (h *Handler) applyConfigurationUpdate(ctx context.Context, cfg *model.Configuration, req *DeployRequest) error {
	cfg.Provider = model.AIProvider(req.Provider)
	cfg.Model = req.Model
	cfg.FallbackModel = req.FallbackModel
	cfg.BotName = req.BotName
	cfg.SystemPrompt = req.SystemPrompt
	cfg.ThinkingMode = req.ThinkingMode
	cfg.DefaultDMPolicy = req.DefaultDMPolicy
	cfg.WebSearchEnabled = req.Skills.WebSearchEnabled
	cfg.BrowserEnabled = req.Skills.BrowserEnabled
	cfg.TTSEnabled = req.Skills.TTSEnabled
	cfg.CanvasEnabled = req.Skills.CanvasEnabled
	cfg.SchedulerEnabled = req.Skills.SchedulerEnabled
	cfg.MemoryEnabled = req.Skills.MemoryEnabled

	var err error
	if req.APIKey != "" {
		if cfg.APIKeyEnc, err = h.codec.Encrypt(req.APIKey); err != nil {
			return err
		}
	}
	if req.Skills.WebSearchAPIKey != "" {
		if cfg.WebSearchAPIKeyEnc, err = h.codec.Encrypt(req.Skills.WebSearchAPIKey); err != nil {
			return err
		}
	}
	if req.Skills.TTSAPIKey != "" {
		if cfg.TTSAPIKeyEnc, err = h.codec.Encrypt(req.Skills.TTSAPIKey); err != nil {
			return err
		}
	}

	return h.store.Configuration().Update(ctx, cfg)
}

func (h *Handler) encryptIfSet(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return h.codec.Encrypt(plaintext)
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := h.auth.UserID(r)
	if err != nil {
		writeProblem(w, "unauthenticated", "Authentication required", "missing or invalid credentials", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

// ownedInstance resolves the {id} path parameter and enforces that the
// caller owns it; foreign instances surface as not found.
func (h *Handler) ownedInstance(w http.ResponseWriter, r *http.Request) (*model.Instance, bool) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeProblem(w, "validation-error", "Validation failed", "invalid instance ID format", http.StatusBadRequest)
		return nil, false
	}

	instance, err := h.store.Instance().Get(r.Context(), id)
	if err != nil || instance.UserID != userID {
		writeProblem(w, "not-found", "Instance not found", "Instance not found", http.StatusNotFound)
		return nil, false
	}
	return instance, true
}
