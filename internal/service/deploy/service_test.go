package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xjrogers/Forma-sub002/internal/domain"
	"github.com/xjrogers/Forma-sub002/internal/provision"
	"github.com/xjrogers/Forma-sub002/internal/repository"
	"github.com/xjrogers/Forma-sub002/internal/sourcehost"
	"github.com/xjrogers/Forma-sub002/pkg/config"
	"github.com/xjrogers/Forma-sub002/pkg/crypto"
)

const testSecret = "unit-test-secret"

// memStore implements every repository interface in memory so one fake can
// model the atomic finalize transaction.
type memStore struct {
	mu          sync.Mutex
	user        *domain.User
	project     *domain.Project
	files       []domain.ProjectFile
	envVars     []domain.ProjectEnvVar
	deployments []*domain.Deployment
	usage       []*domain.UsageRecord
	building    int
	finalizeErr error
}

func (m *memStore) CreateUser(context.Context, *domain.User) error { return nil }

func (m *memStore) GetUserByEmail(context.Context, string) (*domain.User, error) {
	return nil, repository.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil || m.user.ID != id {
		return nil, repository.ErrNotFound
	}
	u := *m.user
	return &u, nil
}

func (m *memStore) CreateProject(context.Context, *domain.Project) error { return nil }

func (m *memStore) GetProjectByID(_ context.Context, projectID string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.project == nil || m.project.ID != projectID {
		return nil, repository.ErrNotFound
	}
	p := *m.project
	return &p, nil
}

func (m *memStore) ListProjectsByOwner(context.Context, string) ([]domain.Project, error) {
	return nil, nil
}

func (m *memStore) UpsertProjectFile(context.Context, *domain.ProjectFile) error { return nil }

func (m *memStore) ListProjectFiles(context.Context, string) ([]domain.ProjectFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProjectFile(nil), m.files...), nil
}

func (m *memStore) UpsertEnvVar(context.Context, *domain.ProjectEnvVar) error { return nil }

func (m *memStore) ListEnvVars(context.Context, string) ([]domain.ProjectEnvVar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProjectEnvVar(nil), m.envVars...), nil
}

func (m *memStore) UpdateDeploymentFields(_ context.Context, projectID string, fields domain.DeploymentFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.project == nil || m.project.ID != projectID {
		return repository.ErrNotFound
	}
	m.project.Deployed = fields.Deployed
	m.project.DeploymentStatus = fields.DeploymentStatus
	m.project.URL = fields.URL
	m.project.ServiceID = fields.ServiceID
	m.project.LastDeployedAt = fields.LastDeployedAt
	return nil
}

func (m *memStore) CreateDeployment(_ context.Context, d *domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record := *d
	m.deployments = append(m.deployments, &record)
	return nil
}

func (m *memStore) GetLatestDeployment(_ context.Context, projectID string) (*domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.deployments) - 1; i >= 0; i-- {
		if m.deployments[i].ProjectID == projectID {
			d := *m.deployments[i]
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ListDeploymentsByProject(_ context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Deployment
	for i := len(m.deployments) - 1; i >= 0 && len(out) < limit; i-- {
		if m.deployments[i].ProjectID == projectID {
			out = append(out, *m.deployments[i])
		}
	}
	return out, nil
}

func (m *memStore) DeleteDeployment(_ context.Context, deploymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.deployments {
		if d.ID == deploymentID {
			m.deployments = append(m.deployments[:i], m.deployments[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) CountBuildingByOwner(context.Context, string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.building, nil
}

func (m *memStore) GetUsageByDeployment(_ context.Context, deploymentID string) (*domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.usage {
		if u.DeploymentID == deploymentID {
			record := *u
			return &record, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) DeleteUsageRecord(_ context.Context, usageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, u := range m.usage {
		if u.ID == usageID {
			m.usage = append(m.usage[:i], m.usage[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *memStore) FinalizeDeployment(ctx context.Context, deployment *domain.Deployment, fields domain.DeploymentFields, usage *domain.UsageRecord) error {
	m.mu.Lock()
	if m.finalizeErr != nil {
		m.mu.Unlock()
		return m.finalizeErr
	}
	m.mu.Unlock()
	if err := m.CreateDeployment(ctx, deployment); err != nil {
		return err
	}
	if err := m.UpdateDeploymentFields(ctx, deployment.ProjectID, fields); err != nil {
		return err
	}
	m.mu.Lock()
	record := *usage
	m.usage = append(m.usage, &record)
	m.mu.Unlock()
	return nil
}

func (m *memStore) snapshot() (domain.Project, []*domain.Deployment, []*domain.UsageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deployments := append([]*domain.Deployment(nil), m.deployments...)
	usage := append([]*domain.UsageRecord(nil), m.usage...)
	return *m.project, deployments, usage
}

// fakeProvider records provisioning calls and fails at a configurable step.
type fakeProvider struct {
	mu              sync.Mutex
	failOp          string
	statuses        []string
	statusIdx       int
	deleteErr       error
	envVars         map[string]string
	connectedRepo   string
	deletedServices []string
}

func (f *fakeProvider) fail(op string) error {
	if f.failOp == op {
		return &provision.APIError{Op: op, Message: "injected failure"}
	}
	return nil
}

func (f *fakeProvider) CreateProject(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("create project"); err != nil {
		return "", err
	}
	return "cp-" + name, nil
}

func (f *fakeProvider) CreateService(_ context.Context, projectID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("create service"); err != nil {
		return "", err
	}
	return "svc-" + projectID, nil
}

func (f *fakeProvider) SetEnvVars(_ context.Context, _ string, vars map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("set env vars"); err != nil {
		return err
	}
	f.envVars = vars
	return nil
}

func (f *fakeProvider) ConnectRepository(_ context.Context, _ string, repoFullName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("connect repository"); err != nil {
		return err
	}
	f.connectedRepo = repoFullName
	return nil
}

func (f *fakeProvider) BindHostname(_ context.Context, _ string, subdomain string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("bind hostname"); err != nil {
		return "", err
	}
	return "https://" + subdomain + ".up.forma.app", nil
}

func (f *fakeProvider) BuildStatus(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return provision.StatusSuccess, nil
	}
	status := f.statuses[f.statusIdx]
	if f.statusIdx < len(f.statuses)-1 {
		f.statusIdx++
	}
	return status, nil
}

func (f *fakeProvider) DeleteService(_ context.Context, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedServices = append(f.deletedServices, serviceID)
	return f.deleteErr
}

// fakeHost records source-hosting calls.
type fakeHost struct {
	mu           sync.Mutex
	createErr    error
	uploadErr    error
	deleteErr    error
	uploaded     []sourcehost.File
	deletedRepos []string
}

func (f *fakeHost) CreateTempRepository(_ context.Context, nameHint string) (sourcehost.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return sourcehost.Repo{}, f.createErr
	}
	return sourcehost.Repo{Owner: "forma-staging", Name: nameHint + "-abc123"}, nil
}

func (f *fakeHost) UploadFiles(_ context.Context, _ sourcehost.Repo, files []sourcehost.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.uploaded = files
	return nil
}

func (f *fakeHost) DeleteRepository(_ context.Context, repo sourcehost.Repo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedRepos = append(f.deletedRepos, repo.FullName())
	return f.deleteErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore() *memStore {
	encrypted, err := crypto.EncryptString(testSecret, "postgres://db")
	if err != nil {
		panic(err)
	}
	return &memStore{
		user: &domain.User{ID: "user-1", Email: "dev@example.com", Plan: domain.PlanPro},
		project: &domain.Project{
			ID:               "proj-1",
			OwnerID:          "user-1",
			Name:             "My Shop",
			DeploymentStatus: domain.ProjectNotDeployed,
		},
		files: []domain.ProjectFile{
			{ProjectID: "proj-1", Path: "index.js", Content: "require('express')"},
			{ProjectID: "proj-1", Path: "package.json", Content: `{"dependencies":{"express":"^4.18.0"}}`},
		},
		envVars: []domain.ProjectEnvVar{
			{ProjectID: "proj-1", Key: "DATABASE_URL", Value: encrypted},
		},
	}
}

func newService(store *memStore, provider *fakeProvider, host sourcehost.Client) *Service {
	poller := NewPoller(provider, time.Millisecond, 250*time.Millisecond, testLogger())
	cfg := config.Config{EnvEncryptionKey: testSecret, MaxConcurrentDeploys: 4}
	return New(store, store, store, store, store, provider, host, poller, nil, testLogger(), cfg)
}

// waitSettled blocks until the project leaves the building state.
func waitSettled(t *testing.T, store *memStore) domain.Project {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		status := store.project.DeploymentStatus
		store.mu.Unlock()
		if status != domain.ProjectBuilding {
			project, _, _ := store.snapshot()
			return project
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("deployment never reached a terminal state")
	return domain.Project{}
}

func TestStartRejectsForeignOwner(t *testing.T) {
	store := newStore()
	svc := newService(store, &fakeProvider{}, &fakeHost{})

	err := svc.Start(context.Background(), "proj-1", "someone-else", TriggerManual)
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestStartRejectsEmptyProject(t *testing.T) {
	store := newStore()
	store.files = nil
	svc := newService(store, &fakeProvider{}, &fakeHost{})

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); !errors.Is(err, ErrEmptyProject) {
		t.Fatalf("expected ErrEmptyProject, got %v", err)
	}
}

func TestStartRejectsQuota(t *testing.T) {
	store := newStore()
	store.user.Plan = domain.PlanFree
	store.building = domain.LimitsForPlan(domain.PlanFree).ConcurrentDeploys
	svc := newService(store, &fakeProvider{}, &fakeHost{})

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestDeploySuccess(t *testing.T) {
	store := newStore()
	provider := &fakeProvider{statuses: []string{provision.StatusBuilding, provision.StatusSuccess}}
	host := &fakeHost{}
	svc := newService(store, provider, host)

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	project := waitSettled(t, store)

	if project.DeploymentStatus != domain.ProjectDeployed || !project.Deployed {
		t.Fatalf("project not deployed: %+v", project)
	}
	if project.URL == nil || !strings.HasPrefix(*project.URL, "https://my-shop-") {
		t.Fatalf("unexpected project url %v", project.URL)
	}
	if project.ServiceID == nil || project.LastDeployedAt == nil {
		t.Fatalf("cached service id or timestamp missing: %+v", project)
	}

	_, deployments, usage := store.snapshot()
	if len(deployments) != 1 || deployments[0].Status != domain.DeploymentSuccess {
		t.Fatalf("expected exactly one success record, got %+v", deployments)
	}
	if len(usage) != 1 || !usage[0].Active || usage[0].DeploymentID != deployments[0].ID {
		t.Fatalf("usage row not linked to deployment: %+v", usage)
	}
	if usage[0].MonthlyCost != domain.LimitsForPlan(domain.PlanPro).MonthlyCost {
		t.Fatalf("usage cost %v does not match plan", usage[0].MonthlyCost)
	}

	if provider.envVars[envProductionKey] != envProductionMode || provider.envVars[envPortKey] != envPortValue {
		t.Fatalf("required env vars missing: %v", provider.envVars)
	}
	if provider.envVars["DATABASE_URL"] != "postgres://db" {
		t.Fatalf("custom env var not decrypted: %v", provider.envVars)
	}
	if provider.connectedRepo == "" || !strings.HasPrefix(provider.connectedRepo, "forma-staging/") {
		t.Fatalf("service not connected to staged repo: %q", provider.connectedRepo)
	}
	if len(host.uploaded) != len(store.files) {
		t.Fatalf("expected %d uploaded files, got %d", len(store.files), len(host.uploaded))
	}
	if len(host.deletedRepos) != 1 {
		t.Fatalf("temp repo not cleaned up after success: %v", host.deletedRepos)
	}
	if len(provider.deletedServices) != 0 {
		t.Fatalf("service deleted on the success path: %v", provider.deletedServices)
	}
}

func TestDeployConnectFailureCompensates(t *testing.T) {
	store := newStore()
	provider := &fakeProvider{failOp: "connect repository"}
	host := &fakeHost{}
	svc := newService(store, provider, host)

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	project := waitSettled(t, store)

	if project.DeploymentStatus != domain.ProjectFailed || project.Deployed {
		t.Fatalf("project not marked failed: %+v", project)
	}
	if project.URL != nil || project.ServiceID != nil {
		t.Fatalf("cached fields not cleared: %+v", project)
	}
	if len(provider.deletedServices) != 1 {
		t.Fatalf("provisioned service not deleted: %v", provider.deletedServices)
	}
	if len(host.deletedRepos) != 1 {
		t.Fatalf("temp repo not deleted: %v", host.deletedRepos)
	}

	_, deployments, usage := store.snapshot()
	if len(usage) != 0 {
		t.Fatalf("no usage rows expected, got %+v", usage)
	}
	if len(deployments) != 1 || deployments[0].Status != domain.DeploymentFailed {
		t.Fatalf("expected one failed record, got %+v", deployments)
	}
	if deployments[0].Error == nil || !strings.Contains(*deployments[0].Error, "connect repository") {
		t.Fatalf("failure cause not recorded: %+v", deployments[0])
	}
}

func TestDeployBuildFailureCompensates(t *testing.T) {
	store := newStore()
	provider := &fakeProvider{statuses: []string{provision.StatusBuilding, provision.StatusFailed}}
	host := &fakeHost{}
	svc := newService(store, provider, host)

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	project := waitSettled(t, store)

	if project.DeploymentStatus != domain.ProjectFailed {
		t.Fatalf("expected failed project, got %+v", project)
	}
	_, deployments, _ := store.snapshot()
	if len(deployments) != 1 || deployments[0].Error == nil || !strings.Contains(*deployments[0].Error, provision.StatusFailed) {
		t.Fatalf("build failure status not recorded: %+v", deployments)
	}
	if len(provider.deletedServices) != 1 || len(host.deletedRepos) != 1 {
		t.Fatal("remote effects not reversed after build failure")
	}
}

func TestDeployBuildTimeoutCompensates(t *testing.T) {
	store := newStore()
	provider := &fakeProvider{statuses: []string{provision.StatusBuilding}}
	host := &fakeHost{}
	svc := newService(store, provider, host)

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	project := waitSettled(t, store)

	if project.DeploymentStatus != domain.ProjectFailed {
		t.Fatalf("expected failed project after timeout, got %+v", project)
	}
	_, deployments, _ := store.snapshot()
	if len(deployments) != 1 || deployments[0].Error == nil || !strings.Contains(*deployments[0].Error, "did not finish") {
		t.Fatalf("timeout not recorded: %+v", deployments)
	}
}

func TestDeployMissingCredentialCompensates(t *testing.T) {
	store := newStore()
	provider := &fakeProvider{}
	svc := newService(store, provider, nil)

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	project := waitSettled(t, store)

	if project.DeploymentStatus != domain.ProjectFailed {
		t.Fatalf("expected failed project, got %+v", project)
	}
	if len(provider.deletedServices) != 1 {
		t.Fatal("service created before the credential check must be deleted")
	}
	_, deployments, _ := store.snapshot()
	if len(deployments) != 1 || deployments[0].Error == nil || !strings.Contains(*deployments[0].Error, "credential") {
		t.Fatalf("credential failure not recorded: %+v", deployments)
	}
}

func TestDeployFinalizeFailureCompensates(t *testing.T) {
	store := newStore()
	store.finalizeErr = fmt.Errorf("connection reset")
	provider := &fakeProvider{}
	host := &fakeHost{}
	svc := newService(store, provider, host)

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	project := waitSettled(t, store)

	if project.DeploymentStatus != domain.ProjectFailed {
		t.Fatalf("expected failed project, got %+v", project)
	}
	_, deployments, usage := store.snapshot()
	if len(usage) != 0 {
		t.Fatalf("usage rows must not survive a failed finalize: %+v", usage)
	}
	if len(deployments) != 1 || deployments[0].Status != domain.DeploymentFailed {
		t.Fatalf("expected only the failed record, got %+v", deployments)
	}
	if len(provider.deletedServices) != 1 || len(host.deletedRepos) != 1 {
		t.Fatal("remote effects not reversed after persistence failure")
	}
}

func TestCompensationToleratesMissingRemotes(t *testing.T) {
	store := newStore()
	provider := &fakeProvider{failOp: "bind hostname", deleteErr: provision.ErrNotFound}
	host := &fakeHost{deleteErr: sourcehost.ErrNotFound}
	svc := newService(store, provider, host)

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	project := waitSettled(t, store)

	if project.DeploymentStatus != domain.ProjectFailed {
		t.Fatalf("expected failed project, got %+v", project)
	}
	_, deployments, _ := store.snapshot()
	if len(deployments) != 1 || deployments[0].Status != domain.DeploymentFailed {
		t.Fatalf("failure must be recorded even when remotes are already gone: %+v", deployments)
	}
}

func TestGetStatusReflectsLatestAttempt(t *testing.T) {
	store := newStore()
	provider := &fakeProvider{}
	svc := newService(store, provider, &fakeHost{})

	if err := svc.Start(context.Background(), "proj-1", "user-1", TriggerManual); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitSettled(t, store)

	view, err := svc.GetStatus(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if view.DeploymentStatus != domain.ProjectDeployed || view.LatestAttempt == nil {
		t.Fatalf("unexpected status view: %+v", view)
	}
	if view.LatestAttempt.Status != domain.DeploymentSuccess {
		t.Fatalf("latest attempt should be the success record: %+v", view.LatestAttempt)
	}
}

func TestGetStatusNeverDeployedProject(t *testing.T) {
	store := newStore()
	svc := newService(store, &fakeProvider{}, &fakeHost{})

	view, err := svc.GetStatus(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if view.DeploymentStatus != domain.ProjectNotDeployed || view.LatestAttempt != nil {
		t.Fatalf("unexpected view for fresh project: %+v", view)
	}
}
