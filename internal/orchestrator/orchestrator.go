// Package orchestrator coordinates the store, the config translator and the
// Railway client into one idempotent provisioning flow, and owns every
// Instance status transition.
package orchestrator

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/botforge-cloud/instance-manager/internal/config"
	"github.com/botforge-cloud/instance-manager/internal/railway"
	"github.com/botforge-cloud/instance-manager/internal/secrets"
	"github.com/botforge-cloud/instance-manager/internal/store"
	"github.com/botforge-cloud/instance-manager/internal/store/model"
	"github.com/botforge-cloud/instance-manager/internal/translator"
	"github.com/google/uuid"
)

// gatewayPort is the fixed port the deployed runtime's internal API listens
// on inside Railway's private network.
const gatewayPort = 18789

const logTailOnFailure = 20

// startCommand makes the runtime write its config file from the injected
// environment before booting, so config changes only need a variable upsert
// plus redeploy.
const startCommand = `/bin/sh -c 'mkdir -p /data && printf "%s" "$BOT_CONFIG_JSON" > /data/bot-config.json && exec agent-runtime --config /data/bot-config.json'`

// RailwayAPI is the slice of the Railway client the orchestrator consumes.
// Tests substitute a fake.
type RailwayAPI interface {
	CreateService(ctx context.Context, name, image string, env map[string]string) (string, error)
	SetVariables(ctx context.Context, serviceID string, env map[string]string) error
	UpdateStartCommand(ctx context.Context, serviceID, startCommand string) error
	RedeployService(ctx context.Context, serviceID string) error
	FindServiceByName(ctx context.Context, name string) (string, error)
	GetLatestDeployment(ctx context.Context, serviceID string) (*railway.Deployment, error)
	GetLogs(ctx context.Context, deploymentID string, limit int) []railway.LogEntry
	CreateServiceDomain(ctx context.Context, serviceID string) (string, error)
	DeleteService(ctx context.Context, serviceID string) error
	RemoveDeployment(ctx context.Context, deploymentID string) error
	RestartDeployment(ctx context.Context, deploymentID string) error
}

var _ RailwayAPI = (*railway.Client)(nil)

type Orchestrator struct {
	store    store.Store
	railway  RailwayAPI
	codec    *secrets.Codec
	cfg      *config.DeployConfig
	classify ErrorClassifier
}

func New(dataStore store.Store, railwayAPI RailwayAPI, codec *secrets.Codec, cfg *config.DeployConfig) *Orchestrator {
	return &Orchestrator{
		store:    dataStore,
		railway:  railwayAPI,
		codec:    codec,
		cfg:      cfg,
		classify: DefaultClassifier,
	}
}

// ServiceNameForUser derives the deterministic remote service name for a
// user. All recovery logic (cleanup of half-created services, re-resolving
// a lost container ID) depends on this being a fixed function of the user.
func ServiceNameForUser(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "chatbot-" + hex.EncodeToString(sum[:])[:8]
}

// InternalServiceURL is the fixed-shape private network address for
// server-to-server calls into a deployed instance.
func InternalServiceURL(serviceName string) string {
	return fmt.Sprintf("http://%s.railway.internal:%d", serviceName, gatewayPort)
}

func newGatewayToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// DeployResult is the outward view of a finished deploy.
type DeployResult struct {
	InstanceID    uuid.UUID            `json:"instanceId"`
	ContainerID   string               `json:"containerId"`
	ContainerName string               `json:"containerName"`
	Port          int                  `json:"port"`
	AccessURL     string               `json:"accessUrl"`
	Status        model.InstanceStatus `json:"status"`
}

// Deploy provisions a fresh instance for the user, replacing any existing
// one. Steps are strictly sequential; each depends on the previous remote
// side effect. Concurrent deploys for the same user are not serialized —
// the cleanup-first step makes repeated calls eventually consistent, but a
// true race can leave a duplicate remote service.
func (o *Orchestrator) Deploy(ctx context.Context, userID string, userCfg *translator.UserConfiguration) (*DeployResult, error) {
	serviceName := ServiceNameForUser(userID)

	o.cleanupExisting(ctx, userID, serviceName)

	port, err := o.store.Instance().NextPort(ctx)
	if err != nil {
		return nil, NewInternalError(fmt.Sprintf("failed to allocate port: %v", err))
	}

	// Placeholder row first so the dashboard shows progress immediately.
	instance, err := o.store.Instance().Create(ctx, model.Instance{
		ID:            uuid.New(),
		UserID:        userID,
		ContainerName: serviceName,
		Port:          port,
		Status:        model.InstanceStatusDeploying,
	})
	if err != nil {
		return nil, NewInternalError(fmt.Sprintf("failed to create instance record: %v", err))
	}

	o.writeLog(ctx, instance.ID, userID, model.ActionDeploy, model.LogStatusInProgress, "deployment started", "")

	result, err := o.provision(ctx, instance, userCfg)
	if err != nil {
		log.Printf("Deployment failed for user %s: %v", userID, err)
		o.markFailed(ctx, instance.ID, userID, model.ActionDeploy, err)
		return nil, err
	}

	o.writeLog(ctx, instance.ID, userID, model.ActionDeploy, model.LogStatusSuccess, "deployment completed", "")
	return result, nil
}

func (o *Orchestrator) provision(ctx context.Context, instance *model.Instance, userCfg *translator.UserConfiguration) (*DeployResult, error) {
	configObj := translator.GenerateConfig(userCfg)
	env := translator.BuildEnvironmentVariables(userCfg)

	configJSON, err := json.Marshal(configObj)
	if err != nil {
		return nil, NewInternalError(fmt.Sprintf("failed to encode config: %v", err))
	}
	env["BOT_CONFIG_JSON"] = string(configJSON)
	env["GATEWAY_PORT"] = fmt.Sprintf("%d", gatewayPort)

	token, err := newGatewayToken()
	if err != nil {
		return nil, NewInternalError(fmt.Sprintf("failed to generate gateway token: %v", err))
	}
	env["GATEWAY_TOKEN"] = token

	// Persist the token before any remote call so it survives later
	// failures.
	if err := o.store.Instance().UpdateFields(ctx, instance.ID, map[string]any{
		"gateway_token": token,
	}); err != nil {
		return nil, NewInternalError(fmt.Sprintf("failed to persist gateway token: %v", err))
	}

	serviceID, err := o.railway.CreateService(ctx, instance.ContainerName, o.cfg.Image, env)
	if serviceID != "" {
		// The remote service exists from this point on; record its ID even
		// when a later step fails so future cleanup can find it.
		if uerr := o.store.Instance().UpdateFields(ctx, instance.ID, map[string]any{
			"container_id": serviceID,
		}); uerr != nil {
			log.Printf("WARNING: failed to persist container ID %s: %v", serviceID, uerr)
		}
	}
	if err != nil {
		return nil, NewProviderError(fmt.Sprintf("failed to create Railway service: %v", err))
	}

	// Railway needs a moment to propagate a new service internally before
	// it accepts further mutations against it.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(o.cfg.PropagationDelay):
	}

	domainURL, err := o.railway.CreateServiceDomain(ctx, serviceID)
	if err != nil {
		log.Printf("WARNING: failed to create service domain for %s: %v", serviceID, err)
	}

	if err := o.retryCooldown(ctx, "update start command", func() error {
		return o.railway.UpdateStartCommand(ctx, serviceID, startCommand)
	}); err != nil {
		return nil, NewProviderError(fmt.Sprintf("failed to set start command: %v", err))
	}

	// The automatic deploy from service creation may have started with the
	// default command; an explicit redeploy guarantees the override is used.
	if err := o.retryCooldown(ctx, "redeploy", func() error {
		return o.railway.RedeployService(ctx, serviceID)
	}); err != nil {
		return nil, NewProviderError(fmt.Sprintf("failed to trigger deployment: %v", err))
	}

	deployURL, err := o.waitForDeployment(ctx, serviceID)
	if err != nil {
		return nil, NewProviderError(err.Error())
	}

	accessURL := deployURL
	if accessURL == "" {
		accessURL = domainURL
	}
	serviceURL := InternalServiceURL(instance.ContainerName)

	if err := o.store.Instance().UpdateFields(ctx, instance.ID, map[string]any{
		"status":       model.InstanceStatusRunning,
		"access_url":   accessURL,
		"service_url":  serviceURL,
		"container_id": serviceID,
	}); err != nil {
		return nil, NewInternalError(fmt.Sprintf("failed to persist deployment result: %v", err))
	}

	log.Printf("Deployed instance %s for user %s (service %s)", instance.ID, instance.UserID, serviceID)
	return &DeployResult{
		InstanceID:    instance.ID,
		ContainerID:   serviceID,
		ContainerName: instance.ContainerName,
		Port:          instance.Port,
		AccessURL:     accessURL,
		Status:        model.InstanceStatusRunning,
	}, nil
}

// cleanupExisting removes any prior instance for the user, both the DB row
// and the remote service, and independently deletes a remote service
// matching the deterministic name in case a previous deploy crashed before
// persisting its ID. Every error here is logged and swallowed: a failed
// cleanup must never block a fresh deployment.
func (o *Orchestrator) cleanupExisting(ctx context.Context, userID, serviceName string) {
	var deletedServiceID string

	existing, err := o.store.Instance().GetByUserID(ctx, userID)
	if err == nil {
		if existing.ContainerID != nil && *existing.ContainerID != "" {
			if derr := o.railway.DeleteService(ctx, *existing.ContainerID); derr != nil {
				log.Printf("WARNING: failed to delete previous service %s: %v", *existing.ContainerID, derr)
			} else {
				deletedServiceID = *existing.ContainerID
			}
		}
		if cfg, cerr := o.store.Configuration().GetByInstanceID(ctx, existing.ID); cerr == nil {
			if derr := o.store.Configuration().Delete(ctx, cfg.ID); derr != nil {
				log.Printf("WARNING: failed to delete previous configuration: %v", derr)
			}
		}
		if derr := o.store.Instance().Delete(ctx, existing.ID); derr != nil {
			log.Printf("WARNING: failed to delete previous instance record: %v", derr)
		}
	} else if !errors.Is(err, store.ErrInstanceNotFound) {
		log.Printf("WARNING: failed to look up existing instance for user %s: %v", userID, err)
	}

	orphanID, err := o.railway.FindServiceByName(ctx, serviceName)
	if err != nil {
		log.Printf("WARNING: failed to scan for orphaned service %s: %v", serviceName, err)
		return
	}
	if orphanID != "" && orphanID != deletedServiceID {
		if derr := o.railway.DeleteService(ctx, orphanID); derr != nil {
			log.Printf("WARNING: failed to delete orphaned service %s: %v", orphanID, derr)
		}
	}
}

// waitForDeployment polls the latest deployment until a terminal status or
// the deadline. FAILED/CRASHED raise immediately with a best-effort log
// excerpt; every other status, including "no deployment yet", keeps
// polling.
func (o *Orchestrator) waitForDeployment(ctx context.Context, serviceID string) (string, error) {
	deadline := time.Now().Add(o.cfg.PollTimeout)
	for {
		deployment, err := o.railway.GetLatestDeployment(ctx, serviceID)
		if err != nil {
			log.Printf("WARNING: deployment status poll failed for %s: %v", serviceID, err)
		} else if deployment != nil {
			switch deployment.Status {
			case railway.DeployStatusSuccess:
				return deployment.URL, nil
			case railway.DeployStatusFailed, railway.DeployStatusCrashed:
				excerpt := o.logExcerpt(ctx, deployment.ID)
				return "", fmt.Errorf("deployment %s failed with status %s%s", deployment.ID, deployment.Status, excerpt)
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for deployment after %s", o.cfg.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

func (o *Orchestrator) logExcerpt(ctx context.Context, deploymentID string) string {
	entries := o.railway.GetLogs(ctx, deploymentID, logTailOnFailure)
	if len(entries) == 0 {
		return ""
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Message
	}
	return ": " + strings.Join(lines, " | ")
}

// Stop takes the active deployment down without deleting the service.
func (o *Orchestrator) Stop(ctx context.Context, instanceID uuid.UUID) error {
	instance, err := o.getInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	o.writeLog(ctx, instance.ID, instance.UserID, model.ActionStop, model.LogStatusInProgress, "stopping instance", "")

	serviceID, err := o.ensureContainerID(ctx, instance)
	if err != nil {
		o.writeLog(ctx, instance.ID, instance.UserID, model.ActionStop, model.LogStatusFailed, "", err.Error())
		return err
	}

	deployment, err := o.railway.GetLatestDeployment(ctx, serviceID)
	if err != nil {
		o.writeLog(ctx, instance.ID, instance.UserID, model.ActionStop, model.LogStatusFailed, "", err.Error())
		return NewProviderError(fmt.Sprintf("failed to find active deployment: %v", err))
	}
	if deployment != nil {
		if err := o.railway.RemoveDeployment(ctx, deployment.ID); err != nil {
			o.writeLog(ctx, instance.ID, instance.UserID, model.ActionStop, model.LogStatusFailed, "", err.Error())
			return NewProviderError(fmt.Sprintf("failed to stop deployment: %v", err))
		}
	}

	if err := o.store.Instance().UpdateFields(ctx, instance.ID, map[string]any{
		"status": model.InstanceStatusStopped,
	}); err != nil {
		return NewInternalError(fmt.Sprintf("failed to update instance status: %v", err))
	}
	o.writeLog(ctx, instance.ID, instance.UserID, model.ActionStop, model.LogStatusSuccess, "instance stopped", "")
	return nil
}

// Start redeploys a stopped instance.
func (o *Orchestrator) Start(ctx context.Context, instanceID uuid.UUID) error {
	instance, err := o.getInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	o.writeLog(ctx, instance.ID, instance.UserID, model.ActionStart, model.LogStatusInProgress, "starting instance", "")

	serviceID, err := o.ensureContainerID(ctx, instance)
	if err != nil {
		o.writeLog(ctx, instance.ID, instance.UserID, model.ActionStart, model.LogStatusFailed, "", err.Error())
		return err
	}

	if err := o.retryCooldown(ctx, "redeploy", func() error {
		return o.railway.RedeployService(ctx, serviceID)
	}); err != nil {
		o.markFailed(ctx, instance.ID, instance.UserID, model.ActionStart, err)
		return NewProviderError(fmt.Sprintf("failed to start instance: %v", err))
	}

	if err := o.store.Instance().UpdateFields(ctx, instance.ID, map[string]any{
		"status": model.InstanceStatusRunning,
	}); err != nil {
		return NewInternalError(fmt.Sprintf("failed to update instance status: %v", err))
	}
	o.writeLog(ctx, instance.ID, instance.UserID, model.ActionStart, model.LogStatusSuccess, "instance started", "")
	return nil
}

// Restart prefers an in-place restart of a successful deployment and falls
// back to a full redeploy.
func (o *Orchestrator) Restart(ctx context.Context, instanceID uuid.UUID) error {
	instance, err := o.getInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	o.writeLog(ctx, instance.ID, instance.UserID, model.ActionRestart, model.LogStatusInProgress, "restarting instance", "")

	if err := o.store.Instance().UpdateFields(ctx, instance.ID, map[string]any{
		"status": model.InstanceStatusRestarting,
	}); err != nil {
		return NewInternalError(fmt.Sprintf("failed to update instance status: %v", err))
	}

	serviceID, err := o.ensureContainerID(ctx, instance)
	if err != nil {
		o.writeLog(ctx, instance.ID, instance.UserID, model.ActionRestart, model.LogStatusFailed, "", err.Error())
		return err
	}

	deployment, derr := o.railway.GetLatestDeployment(ctx, serviceID)
	if derr == nil && deployment != nil && deployment.Status == railway.DeployStatusSuccess {
		err = o.railway.RestartDeployment(ctx, deployment.ID)
	} else {
		err = o.retryCooldown(ctx, "redeploy", func() error {
			return o.railway.RedeployService(ctx, serviceID)
		})
	}
	if err != nil {
		o.markFailed(ctx, instance.ID, instance.UserID, model.ActionRestart, err)
		return NewProviderError(fmt.Sprintf("failed to restart instance: %v", err))
	}

	if err := o.store.Instance().UpdateFields(ctx, instance.ID, map[string]any{
		"status": model.InstanceStatusRunning,
	}); err != nil {
		return NewInternalError(fmt.Sprintf("failed to update instance status: %v", err))
	}
	o.writeLog(ctx, instance.ID, instance.UserID, model.ActionRestart, model.LogStatusSuccess, "instance restarted", "")
	return nil
}

// CheckInstanceHealth maps the latest deployment status to a boolean and
// persists the derived status plus the check timestamp as a side effect.
// Every internal error degrades to unhealthy; nothing propagates.
func (o *Orchestrator) CheckInstanceHealth(ctx context.Context, instanceID uuid.UUID) bool {
	instance, err := o.getInstance(ctx, instanceID)
	if err != nil {
		return false
	}

	healthy := false
	serviceID, err := o.ensureContainerID(ctx, instance)
	if err == nil {
		deployment, derr := o.railway.GetLatestDeployment(ctx, serviceID)
		healthy = derr == nil && deployment != nil && deployment.Status == railway.DeployStatusSuccess
	}

	status := model.InstanceStatusRunning
	if !healthy {
		status = model.InstanceStatusError
	}
	now := time.Now()
	if uerr := o.store.Instance().UpdateFields(ctx, instance.ID, map[string]any{
		"status":            status,
		"last_health_check": &now,
	}); uerr != nil {
		log.Printf("WARNING: failed to persist health check for instance %s: %v", instance.ID, uerr)
	}
	return healthy
}

// GetInstanceLogs returns a newline-joined "[timestamp] [severity] message"
// tail for the latest deployment, or the "No deployments found." sentinel.
func (o *Orchestrator) GetInstanceLogs(ctx context.Context, instanceID uuid.UUID, tail int) (string, error) {
	instance, err := o.getInstance(ctx, instanceID)
	if err != nil {
		return "", err
	}
	serviceID, err := o.ensureContainerID(ctx, instance)
	if err != nil {
		return "", err
	}

	deployment, err := o.railway.GetLatestDeployment(ctx, serviceID)
	if err != nil {
		return "", NewProviderError(fmt.Sprintf("failed to query deployments: %v", err))
	}
	if deployment == nil {
		return "No deployments found.", nil
	}

	entries := o.railway.GetLogs(ctx, deployment.ID, tail)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("[%s] [%s] %s", e.Timestamp, e.Severity, e.Message)
	}
	return strings.Join(lines, "\n"), nil
}

// ensureContainerID lazily re-resolves a missing container ID through the
// deterministic name. The ID can be null when a prior deploy crashed after
// creating the remote service but before persisting it.
func (o *Orchestrator) ensureContainerID(ctx context.Context, instance *model.Instance) (string, error) {
	if instance.ContainerID != nil && *instance.ContainerID != "" {
		return *instance.ContainerID, nil
	}

	serviceID, err := o.railway.FindServiceByName(ctx, instance.ContainerName)
	if err != nil {
		return "", NewProviderError(fmt.Sprintf("failed to look up service %s: %v", instance.ContainerName, err))
	}
	if serviceID == "" {
		return "", NewNotFoundError(fmt.Sprintf("no remote service found for instance %s", instance.ID))
	}

	if err := o.store.Instance().UpdateFields(ctx, instance.ID, map[string]any{
		"container_id": serviceID,
	}); err != nil {
		log.Printf("WARNING: failed to persist recovered container ID %s: %v", serviceID, err)
	}
	instance.ContainerID = &serviceID
	return serviceID, nil
}

func (o *Orchestrator) getInstance(ctx context.Context, instanceID uuid.UUID) (*model.Instance, error) {
	instance, err := o.store.Instance().Get(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrInstanceNotFound) {
			return nil, NewNotFoundError("Instance not found")
		}
		return nil, NewInternalError(fmt.Sprintf("failed to retrieve instance: %v", err))
	}
	return instance, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, instanceID uuid.UUID, userID string, action model.DeploymentAction, cause error) {
	if err := o.store.Instance().UpdateFields(ctx, instanceID, map[string]any{
		"status": model.InstanceStatusError,
	}); err != nil {
		log.Printf("WARNING: failed to mark instance %s as ERROR: %v", instanceID, err)
	}
	o.writeLog(ctx, instanceID, userID, action, model.LogStatusFailed, "", cause.Error())
}

func (o *Orchestrator) writeLog(ctx context.Context, instanceID uuid.UUID, userID string, action model.DeploymentAction, status model.DeploymentLogStatus, message, errMsg string) {
	if _, err := o.store.DeploymentLog().Create(ctx, model.DeploymentLog{
		InstanceID: instanceID,
		UserID:     userID,
		Action:     action,
		Status:     status,
		Message:    message,
		Error:      errMsg,
	}); err != nil {
		log.Printf("WARNING: failed to write deployment log: %v", err)
	}
}
