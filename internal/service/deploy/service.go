package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/xjrogers/Forma-sub002/internal/domain"
	"github.com/xjrogers/Forma-sub002/internal/provision"
	"github.com/xjrogers/Forma-sub002/internal/repository"
	"github.com/xjrogers/Forma-sub002/internal/service/detect"
	"github.com/xjrogers/Forma-sub002/internal/sourcehost"
	"github.com/xjrogers/Forma-sub002/pkg/config"
	"github.com/xjrogers/Forma-sub002/pkg/crypto"
)

// Required service environment variables applied in step 4.
const (
	envProductionKey  = "NODE_ENV"
	envProductionMode = "production"
	envPortKey        = "PORT"
	envPortValue      = "3000"
)

// TriggerManual labels user-initiated deployments.
const TriggerManual = "manual"

// StatusSink receives live deployment progress events. *ws.Hub satisfies it.
type StatusSink interface {
	Broadcast(projectID string, payload []byte)
}

// Service orchestrates the deployment saga across the provisioning
// platform, the source-hosting platform and the database. Every failure
// between the first external effect and the final commit runs the
// compensation pass in compensate.go.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	usage       repository.UsageRepository
	finalizer   repository.DeployFinalizer
	users       repository.UserRepository
	provider    provision.Provider
	repos       sourcehost.Client // nil when no source-hosting credential is configured
	poller      Poller
	hub         StatusSink
	logger      *slog.Logger
	cfg         config.Config
	slots       *semaphore.Weighted
}

// New constructs a deployment service. repos may be nil; the saga then
// fails at the credential-resolution step with ErrMissingSourceCredential.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, usage repository.UsageRepository, finalizer repository.DeployFinalizer, users repository.UserRepository, provider provision.Provider, repos sourcehost.Client, poller Poller, hub StatusSink, logger *slog.Logger, cfg config.Config) *Service {
	max := cfg.MaxConcurrentDeploys
	if max <= 0 {
		max = 8
	}
	initMetrics()
	return &Service{
		projects:    projects,
		deployments: deployments,
		usage:       usage,
		finalizer:   finalizer,
		users:       users,
		provider:    provider,
		repos:       repos,
		poller:      poller,
		hub:         hub,
		logger:      logger,
		cfg:         cfg,
		slots:       semaphore.NewWeighted(max),
	}
}

// Start admits a deployment request and schedules the saga as a detached
// background task. It returns once the task is scheduled; the outcome is
// observed through GetStatus, never through the triggering request.
func (s *Service) Start(ctx context.Context, projectID, ownerID, trigger string) error {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project.OwnerID != ownerID {
		return ErrNotOwner
	}
	owner, err := s.users.GetUserByID(ctx, ownerID)
	if err != nil {
		return err
	}
	files, err := s.projects.ListProjectFiles(ctx, projectID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return ErrEmptyProject
	}
	building, err := s.deployments.CountBuildingByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if building >= domain.LimitsForPlan(owner.Plan).ConcurrentDeploys {
		return ErrQuotaExceeded
	}
	extraEnv := s.decryptEnvVars(ctx, projectID)

	if trigger == "" {
		trigger = TriggerManual
	}
	fields := domain.DeploymentFields{
		DeploymentStatus: domain.ProjectBuilding,
		URL:              project.URL,
		ServiceID:        project.ServiceID,
		LastDeployedAt:   project.LastDeployedAt,
	}
	if err := s.projects.UpdateDeploymentFields(ctx, projectID, fields); err != nil {
		return err
	}

	go s.runDetached(project, owner, files, extraEnv, trigger)
	s.logger.Info("deployment scheduled", "project_id", projectID, "owner_id", ownerID, "trigger", trigger)
	return nil
}

// GetStatus is a pure read of persisted deployment state; it never triggers
// orchestration.
func (s *Service) GetStatus(ctx context.Context, projectID string) (*domain.DeploymentStatusView, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	view := &domain.DeploymentStatusView{
		ProjectID:        project.ID,
		Deployed:         project.Deployed,
		DeploymentStatus: project.DeploymentStatus,
		URL:              project.URL,
		LastDeployedAt:   project.LastDeployedAt,
	}
	latest, err := s.deployments.GetLatestDeployment(ctx, projectID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	view.LatestAttempt = latest
	return view, nil
}

// History returns recent deployment records for a project.
func (s *Service) History(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeploymentsByProject(ctx, projectID, limit)
}

// runDetached supervises one saga run. It is deliberately decoupled from
// the triggering request's context so compensation always runs to
// completion even after the caller disconnects.
func (s *Service) runDetached(project *domain.Project, owner *domain.User, files []domain.ProjectFile, extraEnv map[string]string, trigger string) {
	ctx := context.Background()
	if err := s.slots.Acquire(ctx, 1); err != nil {
		s.logger.Error("deployment slot acquire failed", "project_id", project.ID, "error", err)
		return
	}
	defer s.slots.Release(1)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("deployment run panicked", "project_id", project.ID, "panic", r)
		}
	}()

	att := newAttempt()
	if err := s.execute(ctx, project, owner, files, extraEnv, trigger, att); err != nil {
		attemptsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("deployment failed", "project_id", project.ID, "error", err)
		s.compensate(ctx, project, att, err)
		s.publish(project.ID, "compensated", domain.ProjectFailed, err.Error(), "")
		return
	}
	attemptsTotal.WithLabelValues("success").Inc()
	buildDuration.Observe(float64(att.buildSeconds()))
	s.logger.Info("deployment succeeded", "project_id", project.ID, "url", att.URL, "build_seconds", att.buildSeconds())
}

// execute runs saga steps 1-12 in strict order, updating att after each
// irreversible external effect.
func (s *Service) execute(ctx context.Context, project *domain.Project, owner *domain.User, files []domain.ProjectFile, extraEnv map[string]string, trigger string, att *attempt) error {
	// Step 1: compute project, named deterministically from project and owner.
	s.publish(project.ID, "provision", domain.ProjectBuilding, "creating compute project", "")
	computeName := fmt.Sprintf("%s-%s", nameSlug(project.Name), shortID(owner.ID))
	computeProjectID, err := s.provider.CreateProject(ctx, computeName)
	if err != nil {
		return s.external("provisioning", "create compute project", err)
	}
	att.ComputeProjectID = computeProjectID

	// Step 2: service inside the compute project.
	serviceID, err := s.provider.CreateService(ctx, computeProjectID)
	if err != nil {
		return s.external("provisioning", "create service", err)
	}
	att.ServiceID = serviceID

	// Step 3: framework detection and packaging. Pure, never fails.
	packaged := detect.Apply(files)
	s.logger.Info("framework detected", "project_id", project.ID, "framework", packaged.Framework)

	// Step 4: required env vars plus the project's own.
	envVars := map[string]string{
		envProductionKey: envProductionMode,
		envPortKey:       envPortValue,
	}
	for key, value := range extraEnv {
		envVars[key] = value
	}
	if err := s.provider.SetEnvVars(ctx, serviceID, envVars); err != nil {
		return s.external("provisioning", "set env vars", err)
	}
	att.EnvVarsApplied = true

	// Step 5: resolve the source-hosting credential.
	if s.repos == nil {
		return ErrMissingSourceCredential
	}

	// Step 6: temporary private repository.
	s.publish(project.ID, "stage_source", domain.ProjectBuilding, "staging project source", "")
	repo, err := s.repos.CreateTempRepository(ctx, project.Name)
	if err != nil {
		return s.external("sourcehost", "create temp repository", err)
	}
	att.TempRepo = &repo

	// Step 7: whole file set as one commit.
	if err := s.repos.UploadFiles(ctx, repo, packaged.Files); err != nil {
		return s.external("sourcehost", "upload files", err)
	}

	// Step 8: wire the service to the staged source.
	if err := s.provider.ConnectRepository(ctx, serviceID, repo.FullName()); err != nil {
		return s.external("provisioning", "connect repository", err)
	}
	att.RepoConnected = true

	// Step 9: block on the remote build.
	s.publish(project.ID, "build", domain.ProjectBuilding, "remote build in progress", "")
	if err := s.poller.Wait(ctx, serviceID); err != nil {
		return err
	}

	// Step 10: public hostname.
	subdomain := fmt.Sprintf("%s-%s", nameSlug(project.Name), shortID(project.ID))
	url, err := s.provider.BindHostname(ctx, serviceID, subdomain)
	if err != nil {
		return s.external("provisioning", "bind hostname", err)
	}
	att.Subdomain = subdomain
	att.URL = url
	att.HostnameBound = true

	// Step 11: one atomic transaction for the deployment record, the
	// project's cached fields and the usage row.
	now := time.Now().UTC()
	att.DeploymentID = uuid.NewString()
	att.UsageID = uuid.NewString()
	record := &domain.Deployment{
		ID:           att.DeploymentID,
		ProjectID:    project.ID,
		Status:       domain.DeploymentSuccess,
		ServiceID:    &serviceID,
		URL:          &url,
		Subdomain:    &subdomain,
		Trigger:      trigger,
		BuildSeconds: att.buildSeconds(),
		CreatedAt:    now,
	}
	fields := domain.DeploymentFields{
		Deployed:         true,
		DeploymentStatus: domain.ProjectDeployed,
		URL:              &url,
		ServiceID:        &serviceID,
		LastDeployedAt:   &now,
	}
	usageRecord := &domain.UsageRecord{
		ID:           att.UsageID,
		UserID:       owner.ID,
		ProjectID:    project.ID,
		DeploymentID: att.DeploymentID,
		MonthlyCost:  domain.LimitsForPlan(owner.Plan).MonthlyCost,
		BillingMonth: domain.BillingMonthKey(now),
		Active:       true,
		CreatedAt:    now,
	}
	if err := s.finalizer.FinalizeDeployment(ctx, record, fields, usageRecord); err != nil {
		return &PersistenceError{Err: err}
	}
	att.RecordsWritten = true
	s.publish(project.ID, "ready", domain.ProjectDeployed, "deployment is live", url)

	// Step 12: best-effort temp repository cleanup. A failure here must
	// never turn a successful deployment into a failed one.
	if err := s.repos.DeleteRepository(ctx, repo); err != nil && !errors.Is(err, sourcehost.ErrNotFound) {
		s.logger.Warn("temp repository cleanup failed", "project_id", project.ID, "repo", repo.FullName(), "error", err)
	}
	return nil
}

func (s *Service) external(platform, op string, err error) error {
	return &ExternalServiceError{Platform: platform, Op: op, Err: err}
}

// decryptEnvVars loads and decrypts the project's stored env vars. Broken
// entries are skipped with a warning rather than blocking the deploy.
func (s *Service) decryptEnvVars(ctx context.Context, projectID string) map[string]string {
	stored, err := s.projects.ListEnvVars(ctx, projectID)
	if err != nil {
		s.logger.Warn("project env vars unavailable", "project_id", projectID, "error", err)
		return nil
	}
	if len(stored) == 0 {
		return nil
	}
	vars := make(map[string]string, len(stored))
	for _, v := range stored {
		plain, err := crypto.DecryptToString(s.cfg.EnvEncryptionKey, v.Value)
		if err != nil {
			s.logger.Warn("project env var undecryptable", "project_id", projectID, "key", v.Key, "error", err)
			continue
		}
		vars[v.Key] = plain
	}
	return vars
}

type statusEvent struct {
	ProjectID string    `json:"project_id"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// publish pushes a progress event to live subscribers. Persisted state is
// the source of truth; this stream is advisory.
func (s *Service) publish(projectID, stage, status, message, url string) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(statusEvent{
		ProjectID: projectID,
		Stage:     stage,
		Status:    status,
		Message:   message,
		URL:       url,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}
	s.hub.Broadcast(projectID, payload)
}

// nameSlug lowercases a project name into a handle-safe fragment.
func nameSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-', r == '.':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "project"
	}
	if len(slug) > 32 {
		slug = slug[:32]
	}
	return slug
}

// shortID keeps the first UUID group as a stable disambiguator.
func shortID(id string) string {
	if idx := strings.IndexRune(id, '-'); idx > 0 {
		return id[:idx]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
