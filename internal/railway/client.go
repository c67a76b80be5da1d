package railway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/botforge-cloud/instance-manager/internal/config"
	"github.com/go-resty/resty/v2"
)

const defaultEndpoint = "https://backboard.railway.app/graphql/v2"

// Deployment statuses the orchestrator cares about. Railway reports more;
// everything else is treated as in-progress by callers.
const (
	DeployStatusBuilding  = "BUILDING"
	DeployStatusDeploying = "DEPLOYING"
	DeployStatusSuccess   = "SUCCESS"
	DeployStatusFailed    = "FAILED"
	DeployStatusCrashed   = "CRASHED"
)

// Deployment is one build-and-release attempt of a service.
type Deployment struct {
	ID        string
	Status    string
	URL       string
	CreatedAt time.Time
}

type LogEntry struct {
	Timestamp string
	Message   string
	Severity  string
}

// Client is a thin typed wrapper over Railway's GraphQL v2 API. It holds no
// state beyond credentials; retry and error classification belong to the
// orchestrator.
type Client struct {
	http          *resty.Client
	endpoint      string
	projectID     string
	environmentID string
}

func NewClient(cfg *config.RailwayConfig) (*Client, error) {
	if cfg == nil || cfg.Token == "" || cfg.ProjectID == "" || cfg.EnvironmentID == "" {
		return nil, errors.New("railway: token, project ID and environment ID are all required")
	}
	httpClient := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.Token)

	return &Client{
		http:          httpClient,
		endpoint:      defaultEndpoint,
		projectID:     cfg.ProjectID,
		environmentID: cfg.EnvironmentID,
	}, nil
}

// SetEndpoint overrides the GraphQL endpoint. Used by tests.
func (c *Client) SetEndpoint(url string) {
	c.endpoint = url
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// execute posts one GraphQL document and unwraps the response envelope. A
// non-2xx status or a populated errors array both become a single error
// carrying the concatenated messages.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	var envelope graphQLResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(graphQLRequest{Query: query, Variables: variables}).
		SetResult(&envelope).
		Post(c.endpoint)
	if err != nil {
		return fmt.Errorf("railway request failed: %w", err)
	}

	if resp.IsError() {
		// Error responses still carry a GraphQL envelope when the API
		// rejected the document; prefer its messages over the bare status.
		_ = json.Unmarshal(resp.Body(), &envelope)
		if len(envelope.Errors) > 0 {
			return errors.New(joinErrorMessages(envelope.Errors))
		}
		return fmt.Errorf("railway returned %s: %s", resp.Status(), strings.TrimSpace(string(resp.Body())))
	}

	if len(envelope.Errors) > 0 {
		return errors.New(joinErrorMessages(envelope.Errors))
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode railway response: %w", err)
		}
	}
	return nil
}

func joinErrorMessages(errs []graphQLError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// VerifyAccess confirms the token can read the configured project.
func (c *Client) VerifyAccess(ctx context.Context) error {
	query := `query project($id: String!) {
		project(id: $id) { id name }
	}`
	var result struct {
		Project struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"project"`
	}
	if err := c.execute(ctx, query, map[string]any{"id": c.projectID}, &result); err != nil {
		return fmt.Errorf("railway authorization failed: %w", err)
	}
	return nil
}

// CreateService creates a service from a container image and then upserts
// its environment variables. The two remote calls are not atomic: callers
// must tolerate a brief window where the service exists without its final
// environment.
func (c *Client) CreateService(ctx context.Context, name, image string, env map[string]string) (string, error) {
	mutation := `mutation serviceCreate($input: ServiceCreateInput!) {
		serviceCreate(input: $input) { id }
	}`
	variables := map[string]any{
		"input": map[string]any{
			"projectId": c.projectID,
			"name":      name,
			"source":    map[string]any{"image": image},
		},
	}
	var result struct {
		ServiceCreate struct {
			ID string `json:"id"`
		} `json:"serviceCreate"`
	}
	if err := c.execute(ctx, mutation, variables, &result); err != nil {
		return "", fmt.Errorf("create service %q: %w", name, err)
	}

	if len(env) > 0 {
		if err := c.SetVariables(ctx, result.ServiceCreate.ID, env); err != nil {
			return result.ServiceCreate.ID, err
		}
	}
	return result.ServiceCreate.ID, nil
}

// SetVariables upserts the given key/value pairs. Keys not provided are
// left untouched.
func (c *Client) SetVariables(ctx context.Context, serviceID string, env map[string]string) error {
	mutation := `mutation variableCollectionUpsert($input: VariableCollectionUpsertInput!) {
		variableCollectionUpsert(input: $input)
	}`
	variables := map[string]any{
		"input": map[string]any{
			"projectId":     c.projectID,
			"environmentId": c.environmentID,
			"serviceId":     serviceID,
			"variables":     env,
		},
	}
	if err := c.execute(ctx, mutation, variables, nil); err != nil {
		return fmt.Errorf("set variables on service %s: %w", serviceID, err)
	}
	return nil
}

// UpdateStartCommand changes the boot command template. Takes effect on the
// next deploy, not the current one.
func (c *Client) UpdateStartCommand(ctx context.Context, serviceID, startCommand string) error {
	mutation := `mutation serviceInstanceUpdate($serviceId: String!, $environmentId: String!, $input: ServiceInstanceUpdateInput!) {
		serviceInstanceUpdate(serviceId: $serviceId, environmentId: $environmentId, input: $input)
	}`
	variables := map[string]any{
		"serviceId":     serviceID,
		"environmentId": c.environmentID,
		"input":         map[string]any{"startCommand": startCommand},
	}
	if err := c.execute(ctx, mutation, variables, nil); err != nil {
		return fmt.Errorf("update start command on service %s: %w", serviceID, err)
	}
	return nil
}

// RedeployService requests a fresh deployment using the service's current
// image, variables and start command.
func (c *Client) RedeployService(ctx context.Context, serviceID string) error {
	mutation := `mutation serviceInstanceRedeploy($serviceId: String!, $environmentId: String!) {
		serviceInstanceRedeploy(serviceId: $serviceId, environmentId: $environmentId)
	}`
	variables := map[string]any{
		"serviceId":     serviceID,
		"environmentId": c.environmentID,
	}
	if err := c.execute(ctx, mutation, variables, nil); err != nil {
		return fmt.Errorf("redeploy service %s: %w", serviceID, err)
	}
	return nil
}

// FindServiceByName scans the project's services for an exact name match
// and returns its ID, or "" when absent. Recovery logic for lost container
// IDs depends on this plus the deterministic naming scheme.
func (c *Client) FindServiceByName(ctx context.Context, name string) (string, error) {
	query := `query project($id: String!) {
		project(id: $id) {
			services { edges { node { id name } } }
		}
	}`
	var result struct {
		Project struct {
			Services struct {
				Edges []struct {
					Node struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"services"`
		} `json:"project"`
	}
	if err := c.execute(ctx, query, map[string]any{"id": c.projectID}, &result); err != nil {
		return "", fmt.Errorf("list project services: %w", err)
	}
	for _, edge := range result.Project.Services.Edges {
		if edge.Node.Name == name {
			return edge.Node.ID, nil
		}
	}
	return "", nil
}

// GetLatestDeployment returns the newest deployment of a service, or nil
// when the service has none yet.
func (c *Client) GetLatestDeployment(ctx context.Context, serviceID string) (*Deployment, error) {
	query := `query deployments($input: DeploymentListInput!, $first: Int!) {
		deployments(input: $input, first: $first) {
			edges { node { id status url staticUrl createdAt } }
		}
	}`
	variables := map[string]any{
		"input": map[string]any{
			"projectId":     c.projectID,
			"environmentId": c.environmentID,
			"serviceId":     serviceID,
		},
		"first": 1,
	}
	var result struct {
		Deployments struct {
			Edges []struct {
				Node struct {
					ID        string    `json:"id"`
					Status    string    `json:"status"`
					URL       string    `json:"url"`
					StaticURL string    `json:"staticUrl"`
					CreatedAt time.Time `json:"createdAt"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	if err := c.execute(ctx, query, variables, &result); err != nil {
		return nil, fmt.Errorf("get latest deployment for service %s: %w", serviceID, err)
	}
	if len(result.Deployments.Edges) == 0 {
		return nil, nil
	}
	node := result.Deployments.Edges[0].Node
	url := node.URL
	if url == "" && node.StaticURL != "" {
		// staticUrl is populated for some provider configurations when url
		// is not; the exact semantics are undocumented upstream.
		url = "https://" + node.StaticURL
	}
	return &Deployment{
		ID:        node.ID,
		Status:    node.Status,
		URL:       url,
		CreatedAt: node.CreatedAt,
	}, nil
}

// GetLogs fetches up to limit log lines for a deployment. Logs are
// best-effort diagnostics: any failure yields an empty list, never an
// error.
func (c *Client) GetLogs(ctx context.Context, deploymentID string, limit int) []LogEntry {
	query := `query deploymentLogs($deploymentId: String!, $limit: Int!) {
		deploymentLogs(deploymentId: $deploymentId, limit: $limit) {
			timestamp message severity
		}
	}`
	variables := map[string]any{
		"deploymentId": deploymentID,
		"limit":        limit,
	}
	var result struct {
		DeploymentLogs []struct {
			Timestamp string `json:"timestamp"`
			Message   string `json:"message"`
			Severity  string `json:"severity"`
		} `json:"deploymentLogs"`
	}
	if err := c.execute(ctx, query, variables, &result); err != nil {
		log.Printf("Failed to fetch logs for deployment %s: %v", deploymentID, err)
		return nil
	}
	entries := make([]LogEntry, len(result.DeploymentLogs))
	for i, l := range result.DeploymentLogs {
		entries[i] = LogEntry{Timestamp: l.Timestamp, Message: l.Message, Severity: l.Severity}
	}
	return entries
}

// CreateServiceDomain provisions a public domain for the service. Domain
// creation is expected to fail on redeploys when the domain already
// exists, so that case degrades to an empty string with a warning.
func (c *Client) CreateServiceDomain(ctx context.Context, serviceID string) (string, error) {
	mutation := `mutation serviceDomainCreate($input: ServiceDomainCreateInput!) {
		serviceDomainCreate(input: $input) { domain }
	}`
	variables := map[string]any{
		"input": map[string]any{
			"serviceId":     serviceID,
			"environmentId": c.environmentID,
		},
	}
	var result struct {
		ServiceDomainCreate struct {
			Domain string `json:"domain"`
		} `json:"serviceDomainCreate"`
	}
	if err := c.execute(ctx, mutation, variables, &result); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			log.Printf("WARNING: domain already exists for service %s", serviceID)
			return "", nil
		}
		return "", fmt.Errorf("create domain for service %s: %w", serviceID, err)
	}
	return "https://" + result.ServiceDomainCreate.Domain, nil
}

// DeleteService removes a service and everything deployed under it.
// Irreversible.
func (c *Client) DeleteService(ctx context.Context, serviceID string) error {
	mutation := `mutation serviceDelete($id: String!) {
		serviceDelete(id: $id)
	}`
	if err := c.execute(ctx, mutation, map[string]any{"id": serviceID}, nil); err != nil {
		return fmt.Errorf("delete service %s: %w", serviceID, err)
	}
	return nil
}

// RemoveDeployment takes a running deployment down without deleting the
// service.
func (c *Client) RemoveDeployment(ctx context.Context, deploymentID string) error {
	mutation := `mutation deploymentRemove($id: String!) {
		deploymentRemove(id: $id)
	}`
	if err := c.execute(ctx, mutation, map[string]any{"id": deploymentID}, nil); err != nil {
		return fmt.Errorf("remove deployment %s: %w", deploymentID, err)
	}
	return nil
}

// RestartDeployment restarts a deployment in place.
func (c *Client) RestartDeployment(ctx context.Context, deploymentID string) error {
	mutation := `mutation deploymentRestart($id: String!) {
		deploymentRestart(id: $id)
	}`
	if err := c.execute(ctx, mutation, map[string]any{"id": deploymentID}, nil); err != nil {
		return fmt.Errorf("restart deployment %s: %w", deploymentID, err)
	}
	return nil
}
