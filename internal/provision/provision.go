// Package provision talks to the external compute hosting platform that
// builds and runs deployed projects.
package provision

import (
	"context"
	"errors"
	"fmt"
)

// Build status values observed when polling the platform.
const (
	StatusQueued    = "QUEUED"
	StatusBuilding  = "BUILDING"
	StatusDeploying = "DEPLOYING"
	StatusSuccess   = "SUCCESS"
	StatusFailed    = "FAILED"
	StatusCrashed   = "CRASHED"
)

// ErrNotFound reports that the remote resource no longer exists. Deletes
// that hit it are treated as already done.
var ErrNotFound = errors.New("provision: resource not found")

// APIError wraps a failed platform call.
type APIError struct {
	Op      string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provision %s: %s", e.Op, e.Message)
}

// Provider is the platform contract the deployment saga drives. All calls
// are independent remote operations with no transactional coupling.
type Provider interface {
	CreateProject(ctx context.Context, name string) (string, error)
	CreateService(ctx context.Context, projectID string) (string, error)
	SetEnvVars(ctx context.Context, serviceID string, vars map[string]string) error
	ConnectRepository(ctx context.Context, serviceID, repoFullName string) error
	BindHostname(ctx context.Context, serviceID, subdomain string) (string, error)
	BuildStatus(ctx context.Context, serviceID string) (string, error)
	DeleteService(ctx context.Context, serviceID string) error
}
