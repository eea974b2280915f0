package domain

import "time"

// Deployment status values cached on a project.
const (
	ProjectNotDeployed = "not_deployed"
	ProjectBuilding    = "building"
	ProjectDeployed    = "deployed"
	ProjectFailed      = "failed"
)

// Project describes a stored multi-file project owned by a user.
//
// The four cached deployment fields (Deployed, DeploymentStatus, URL,
// ServiceID) mirror the latest deployment outcome. Deployed is true exactly
// when DeploymentStatus is "deployed" and URL is set.
type Project struct {
	ID               string
	OwnerID          string
	Name             string
	Deployed         bool
	DeploymentStatus string
	URL              *string
	ServiceID        *string
	LastDeployedAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProjectFile is one file of a stored project.
type ProjectFile struct {
	ProjectID string
	Path      string
	Content   string
	UpdatedAt time.Time
}

// ProjectEnvVar stores an encrypted project environment variable.
type ProjectEnvVar struct {
	ProjectID string
	Key       string
	Value     []byte
	CreatedAt time.Time
}

// DeploymentFields is the atomic update applied to a project's cached
// deployment columns.
type DeploymentFields struct {
	Deployed         bool
	DeploymentStatus string
	URL              *string
	ServiceID        *string
	LastDeployedAt   *time.Time
}

// ResetDeploymentFields returns the not-deployed state used by compensation.
func ResetDeploymentFields() DeploymentFields {
	return DeploymentFields{DeploymentStatus: ProjectNotDeployed}
}
