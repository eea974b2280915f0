package repository

import (
	"context"

	"github.com/xjrogers/Forma-sub002/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ProjectRepository persists projects, their file sets and env vars.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
	UpsertProjectFile(ctx context.Context, file *domain.ProjectFile) error
	ListProjectFiles(ctx context.Context, projectID string) ([]domain.ProjectFile, error)
	UpsertEnvVar(ctx context.Context, envVar *domain.ProjectEnvVar) error
	ListEnvVars(ctx context.Context, projectID string) ([]domain.ProjectEnvVar, error)
	UpdateDeploymentFields(ctx context.Context, projectID string, fields domain.DeploymentFields) error
}

// DeploymentRepository stores deployment attempt records.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error)
	DeleteDeployment(ctx context.Context, deploymentID string) error
	CountBuildingByOwner(ctx context.Context, ownerID string) (int, error)
}

// UsageRepository stores billing usage rows.
type UsageRepository interface {
	GetUsageByDeployment(ctx context.Context, deploymentID string) (*domain.UsageRecord, error)
	DeleteUsageRecord(ctx context.Context, usageID string) error
}

// DeployFinalizer commits the success branch of a deployment: the
// deployment record insert, the project cached-field update and the usage
// row insert happen in one database transaction or not at all.
type DeployFinalizer interface {
	FinalizeDeployment(ctx context.Context, deployment *domain.Deployment, fields domain.DeploymentFields, usage *domain.UsageRecord) error
}
