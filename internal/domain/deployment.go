package domain

import "time"

// Terminal status values for a deployment attempt record.
const (
	DeploymentSuccess   = "success"
	DeploymentFailed    = "failed"
	DeploymentCancelled = "cancelled"
)

// Deployment is the durable record of one deployment attempt. A row is
// written exactly once per attempt and never mutated afterward.
type Deployment struct {
	ID           string
	ProjectID    string
	Status       string
	ServiceID    *string
	URL          *string
	Subdomain    *string
	Trigger      string
	BuildSeconds int
	Error        *string
	CreatedAt    time.Time
}

// DeploymentStatusView is the read model served to clients polling a
// project's deployment state.
type DeploymentStatusView struct {
	ProjectID        string
	Deployed         bool
	DeploymentStatus string
	URL              *string
	LastDeployedAt   *time.Time
	LatestAttempt    *Deployment
}
