package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"
)

// RailwayClient implements Provider against the Railway GraphQL API.
type RailwayClient struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

// NewRailwayClient constructs a RailwayClient.
func NewRailwayClient(endpoint, token string, timeout time.Duration, logger *slog.Logger) *RailwayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RailwayClient{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
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

// do executes one GraphQL operation and decodes data into out when non-nil.
func (c *RailwayClient) do(ctx context.Context, op, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return &APIError{Op: op, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &APIError{Op: op, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return &APIError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &APIError{Op: op, Message: err.Error()}
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Op: op, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var decoded graphQLResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return &APIError{Op: op, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(decoded.Errors) > 0 {
		msg := decoded.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "not found") {
			return ErrNotFound
		}
		return &APIError{Op: op, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(decoded.Data, out); err != nil {
			return &APIError{Op: op, Message: fmt.Sprintf("decode data: %v", err)}
		}
	}
	return nil
}

// CreateProject creates a compute project on the platform.
func (c *RailwayClient) CreateProject(ctx context.Context, name string) (string, error) {
	const query = `mutation projectCreate($input: ProjectCreateInput!) {
		projectCreate(input: $input) { id }
	}`
	var result struct {
		ProjectCreate struct {
			ID string `json:"id"`
		} `json:"projectCreate"`
	}
	vars := map[string]any{"input": map[string]any{"name": name}}
	if err := c.do(ctx, "projectCreate", query, vars, &result); err != nil {
		return "", err
	}
	return result.ProjectCreate.ID, nil
}

// CreateService creates a service inside a compute project.
func (c *RailwayClient) CreateService(ctx context.Context, projectID string) (string, error) {
	const query = `mutation serviceCreate($input: ServiceCreateInput!) {
		serviceCreate(input: $input) { id }
	}`
	var result struct {
		ServiceCreate struct {
			ID string `json:"id"`
		} `json:"serviceCreate"`
	}
	vars := map[string]any{"input": map[string]any{"projectId": projectID}}
	if err := c.do(ctx, "serviceCreate", query, vars, &result); err != nil {
		return "", err
	}
	return result.ServiceCreate.ID, nil
}

// SetEnvVars upserts service environment variables.
func (c *RailwayClient) SetEnvVars(ctx context.Context, serviceID string, vars map[string]string) error {
	const query = `mutation variableCollectionUpsert($input: VariableCollectionUpsertInput!) {
		variableCollectionUpsert(input: $input)
	}`
	payload := map[string]any{"input": map[string]any{
		"serviceId": serviceID,
		"variables": vars,
	}}
	return c.do(ctx, "variableCollectionUpsert", query, payload, nil)
}

// ConnectRepository attaches a source repository to a service so the
// platform can pull and build it.
func (c *RailwayClient) ConnectRepository(ctx context.Context, serviceID, repoFullName string) error {
	const query = `mutation serviceConnect($id: String!, $input: ServiceConnectInput!) {
		serviceConnect(id: $id, input: $input) { id }
	}`
	vars := map[string]any{
		"id":    serviceID,
		"input": map[string]any{"repo": repoFullName},
	}
	return c.do(ctx, "serviceConnect", query, vars, nil)
}

// BindHostname requests a public subdomain for a service and returns the
// resulting URL.
func (c *RailwayClient) BindHostname(ctx context.Context, serviceID, subdomain string) (string, error) {
	const query = `mutation serviceDomainCreate($input: ServiceDomainCreateInput!) {
		serviceDomainCreate(input: $input) { domain }
	}`
	var result struct {
		ServiceDomainCreate struct {
			Domain string `json:"domain"`
		} `json:"serviceDomainCreate"`
	}
	vars := map[string]any{"input": map[string]any{
		"serviceId": serviceID,
		"domain":    subdomain,
	}}
	if err := c.do(ctx, "serviceDomainCreate", query, vars, &result); err != nil {
		return "", err
	}
	domain := result.ServiceDomainCreate.Domain
	if domain == "" {
		domain = subdomain
	}
	return "https://" + domain, nil
}

// BuildStatus returns the status of the newest deployment of a service.
func (c *RailwayClient) BuildStatus(ctx context.Context, serviceID string) (string, error) {
	const query = `query deployments($input: DeploymentListInput!) {
		deployments(input: $input, first: 1) {
			edges { node { status } }
		}
	}`
	var result struct {
		Deployments struct {
			Edges []struct {
				Node struct {
					Status string `json:"status"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	vars := map[string]any{"input": map[string]any{"serviceId": serviceID}}
	if err := c.do(ctx, "deployments", query, vars, &result); err != nil {
		return "", err
	}
	if len(result.Deployments.Edges) == 0 {
		return StatusQueued, nil
	}
	return result.Deployments.Edges[0].Node.Status, nil
}

// DeleteService removes a service and everything attached to it.
func (c *RailwayClient) DeleteService(ctx context.Context, serviceID string) error {
	const query = `mutation serviceDelete($id: String!) {
		serviceDelete(id: $id)
	}`
	return c.do(ctx, "serviceDelete", query, map[string]any{"id": serviceID}, nil)
}

var _ Provider = (*RailwayClient)(nil)
