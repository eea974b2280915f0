// Package project manages stored projects, their file sets and environment
// variables.
package project

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xjrogers/Forma-sub002/internal/domain"
	"github.com/xjrogers/Forma-sub002/internal/repository"
	"github.com/xjrogers/Forma-sub002/pkg/crypto"
)

var (
	ErrNotOwner    = errors.New("project: not owned by requester")
	ErrInvalidPath = errors.New("project: invalid file path")
)

// Service owns project storage. Env var values are encrypted before they
// touch the database and only ever decrypted for the deployment saga.
type Service struct {
	projects repository.ProjectRepository
	logger   *slog.Logger
	envKey   string
}

func New(projects repository.ProjectRepository, logger *slog.Logger, envKey string) *Service {
	return &Service{projects: projects, logger: logger, envKey: envKey}
}

// Create stores a new, not-yet-deployed project.
func (s *Service) Create(ctx context.Context, ownerID, name string) (*domain.Project, error) {
	now := time.Now().UTC()
	project := &domain.Project{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Name:             strings.TrimSpace(name),
		DeploymentStatus: domain.ProjectNotDeployed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "owner_id", ownerID)
	return project, nil
}

// Get returns a project after checking ownership.
func (s *Service) Get(ctx context.Context, projectID, ownerID string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return project, nil
}

// List returns the owner's projects.
func (s *Service) List(ctx context.Context, ownerID string) ([]domain.Project, error) {
	return s.projects.ListProjectsByOwner(ctx, ownerID)
}

// SaveFile writes one file of a project, replacing any previous content at
// the same path.
func (s *Service) SaveFile(ctx context.Context, projectID, ownerID, path, content string) error {
	if _, err := s.Get(ctx, projectID, ownerID); err != nil {
		return err
	}
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" || strings.Contains(path, "..") {
		return ErrInvalidPath
	}
	return s.projects.UpsertProjectFile(ctx, &domain.ProjectFile{
		ProjectID: projectID,
		Path:      path,
		Content:   content,
		UpdatedAt: time.Now().UTC(),
	})
}

// Files returns the full file set of a project.
func (s *Service) Files(ctx context.Context, projectID, ownerID string) ([]domain.ProjectFile, error) {
	if _, err := s.Get(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	return s.projects.ListProjectFiles(ctx, projectID)
}

// SetEnvVar stores an environment variable encrypted at rest.
func (s *Service) SetEnvVar(ctx context.Context, projectID, ownerID, key, value string) error {
	if _, err := s.Get(ctx, projectID, ownerID); err != nil {
		return err
	}
	sealed, err := crypto.EncryptString(s.envKey, value)
	if err != nil {
		return err
	}
	return s.projects.UpsertEnvVar(ctx, &domain.ProjectEnvVar{
		ProjectID: projectID,
		Key:       key,
		Value:     sealed,
		CreatedAt: time.Now().UTC(),
	})
}

// EnvVarKeys lists the configured variable names. Values are never exposed
// through the API once stored.
func (s *Service) EnvVarKeys(ctx context.Context, projectID, ownerID string) ([]string, error) {
	if _, err := s.Get(ctx, projectID, ownerID); err != nil {
		return nil, err
	}
	stored, err := s.projects.ListEnvVars(ctx, projectID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(stored))
	for _, v := range stored {
		keys = append(keys, v.Key)
	}
	return keys, nil
}
