package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/halverson/custodian/internal/auth"
	"github.com/halverson/custodian/internal/maintenance"
)

// ControlAPI is the slice of the service's control channel the executor
// drives during a deployment.
type ControlAPI interface {
	EnterMaintenance(ctx context.Context) error
	ExitMaintenance(ctx context.Context) error
	DrainStatus(ctx context.Context) (*maintenance.DrainStatus, error)
	RecommendedDrainTimeout(ctx context.Context) (time.Duration, error)
	Healthy(ctx context.Context) error
}

// drainTimeoutPayload mirrors the server's drain-timeout response.
type drainTimeoutPayload struct {
	MaxJobTimeoutSeconds   int `json:"max_job_timeout_seconds"`
	RecommendedWaitSeconds int `json:"recommended_wait_seconds"`
}

// ControlClient talks to the local control channel over HTTP. Every call
// issues a fresh bearer token; a deployment can outlive any single token's
// TTL, so nothing is cached between calls.
type ControlClient struct {
	client *resty.Client
	issuer *auth.TokenIssuer
}

// NewControlClient creates a client for the control channel at baseURL.
func NewControlClient(baseURL string, issuer *auth.TokenIssuer) *ControlClient {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(30 * time.Second)
	return &ControlClient{client: client, issuer: issuer}
}

// request builds a request carrying a token issued for this call only.
func (c *ControlClient) request(ctx context.Context) (*resty.Request, error) {
	token, err := c.issuer.Issue()
	if err != nil {
		return nil, err
	}
	return c.client.R().SetContext(ctx).SetAuthToken(token), nil
}

// EnterMaintenance switches the service into maintenance mode.
func (c *ControlClient) EnterMaintenance(ctx context.Context) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.Post("/api/v1/maintenance/enter")
	if err != nil {
		return fmt.Errorf("enter maintenance: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("enter maintenance: %s", resp.Status())
	}
	return nil
}

// ExitMaintenance switches the service back to normal mode.
func (c *ControlClient) ExitMaintenance(ctx context.Context) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.Post("/api/v1/maintenance/exit")
	if err != nil {
		return fmt.Errorf("exit maintenance: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("exit maintenance: %s", resp.Status())
	}
	return nil
}

// DrainStatus fetches the current drain state.
func (c *ControlClient) DrainStatus(ctx context.Context) (*maintenance.DrainStatus, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var status maintenance.DrainStatus
	resp, err := req.SetResult(&status).Get("/api/v1/maintenance/drain")
	if err != nil {
		return nil, fmt.Errorf("drain status: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("drain status: %s", resp.Status())
	}
	return &status, nil
}

// RecommendedDrainTimeout fetches how long the server suggests waiting for
// active jobs before forcing the restart.
func (c *ControlClient) RecommendedDrainTimeout(ctx context.Context) (time.Duration, error) {
	req, err := c.request(ctx)
	if err != nil {
		return 0, err
	}
	var payload drainTimeoutPayload
	resp, err := req.SetResult(&payload).Get("/api/v1/maintenance/drain-timeout")
	if err != nil {
		return 0, fmt.Errorf("drain timeout: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("drain timeout: %s", resp.Status())
	}
	return time.Duration(payload.RecommendedWaitSeconds) * time.Second, nil
}

// Healthy probes the unauthenticated health endpoint.
func (c *ControlClient) Healthy(ctx context.Context) error {
	resp, err := c.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("health check: %s", resp.Status())
	}
	return nil
}
