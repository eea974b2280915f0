package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xjrogers/Forma-sub002/internal/domain"
	"github.com/xjrogers/Forma-sub002/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.ProjectRepository    = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.UsageRepository      = (*Repository)(nil)
	_ repository.DeployFinalizer      = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, plan, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.Plan, user.CreatedAt)
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, plan, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Plan, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, plan, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Plan, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateProject inserts a project with its cached deployment columns reset.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner_id, name, deployed, deployment_status, url, service_id, last_deployed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		project.ID, project.OwnerID, project.Name, project.Deployed, project.DeploymentStatus,
		project.URL, project.ServiceID, project.LastDeployedAt, project.CreatedAt, project.UpdatedAt)
	return err
}

// GetProjectByID fetches a project.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, owner_id, name, deployed, deployment_status, url, service_id, last_deployed_at, created_at, updated_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Deployed, &p.DeploymentStatus, &p.URL, &p.ServiceID, &p.LastDeployedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProjectsByOwner returns the projects owned by a user.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	const query = `SELECT id, owner_id, name, deployed, deployment_status, url, service_id, last_deployed_at, created_at, updated_at
		FROM projects WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Deployed, &p.DeploymentStatus, &p.URL, &p.ServiceID, &p.LastDeployedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpsertProjectFile writes one file of a project's stored file set.
func (r *Repository) UpsertProjectFile(ctx context.Context, file *domain.ProjectFile) error {
	const query = `INSERT INTO project_files (project_id, path, content, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, path) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, file.ProjectID, file.Path, file.Content, file.UpdatedAt)
	return err
}

// ListProjectFiles returns the full file set of a project.
func (r *Repository) ListProjectFiles(ctx context.Context, projectID string) ([]domain.ProjectFile, error) {
	const query = `SELECT project_id, path, content, updated_at FROM project_files WHERE project_id = $1 ORDER BY path`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var files []domain.ProjectFile
	for rows.Next() {
		var f domain.ProjectFile
		if err := rows.Scan(&f.ProjectID, &f.Path, &f.Content, &f.UpdatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpsertEnvVar stores an encrypted project environment variable.
func (r *Repository) UpsertEnvVar(ctx context.Context, envVar *domain.ProjectEnvVar) error {
	const query = `INSERT INTO project_env_vars (project_id, key, value, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, key) DO UPDATE SET value = EXCLUDED.value`
	_, err := r.pool.Exec(ctx, query, envVar.ProjectID, envVar.Key, envVar.Value, envVar.CreatedAt)
	return err
}

// ListEnvVars returns a project's encrypted environment variables.
func (r *Repository) ListEnvVars(ctx context.Context, projectID string) ([]domain.ProjectEnvVar, error) {
	const query = `SELECT project_id, key, value, created_at FROM project_env_vars WHERE project_id = $1 ORDER BY key`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vars []domain.ProjectEnvVar
	for rows.Next() {
		var v domain.ProjectEnvVar
		if err := rows.Scan(&v.ProjectID, &v.Key, &v.Value, &v.CreatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// UpdateDeploymentFields writes the four cached deployment columns.
func (r *Repository) UpdateDeploymentFields(ctx context.Context, projectID string, fields domain.DeploymentFields) error {
	return r.updateDeploymentFields(ctx, r.pool, projectID, fields)
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx so writes can run
// standalone or inside the finalize transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// updateDeploymentFields runs against either the pool or an open transaction.
func (r *Repository) updateDeploymentFields(ctx context.Context, q queryer, projectID string, fields domain.DeploymentFields) error {
	const query = `UPDATE projects
		SET deployed = $2, deployment_status = $3, url = $4, service_id = $5, last_deployed_at = $6, updated_at = NOW()
		WHERE id = $1`
	tag, err := q.Exec(ctx, query,
		projectID, fields.Deployed, fields.DeploymentStatus, fields.URL, fields.ServiceID, fields.LastDeployedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateDeployment inserts a deployment attempt record.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return r.createDeployment(ctx, r.pool, deployment)
}

func (r *Repository) createDeployment(ctx context.Context, q queryer, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, project_id, status, service_id, url, subdomain, trigger_reason, build_seconds, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.Exec(ctx, query,
		deployment.ID, deployment.ProjectID, deployment.Status, deployment.ServiceID, deployment.URL,
		deployment.Subdomain, deployment.Trigger, deployment.BuildSeconds, deployment.Error, deployment.CreatedAt)
	return err
}

// GetLatestDeployment returns the newest deployment record for a project.
func (r *Repository) GetLatestDeployment(ctx context.Context, projectID string) (*domain.Deployment, error) {
	const query = `SELECT id, project_id, status, service_id, url, subdomain, trigger_reason, build_seconds, error, created_at
		FROM deployments WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Status, &d.ServiceID, &d.URL, &d.Subdomain, &d.Trigger, &d.BuildSeconds, &d.Error, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDeploymentsByProject returns recent deployment records.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID string, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, project_id, status, service_id, url, subdomain, trigger_reason, build_seconds, error, created_at
		FROM deployments WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var deployments []domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Status, &d.ServiceID, &d.URL, &d.Subdomain, &d.Trigger, &d.BuildSeconds, &d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// DeleteDeployment removes a deployment record. Deleting a missing row is
// not an error so compensation can re-run safely.
func (r *Repository) DeleteDeployment(ctx context.Context, deploymentID string) error {
	const query = `DELETE FROM deployments WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, deploymentID)
	return err
}

// CountBuildingByOwner counts projects of an owner currently building.
func (r *Repository) CountBuildingByOwner(ctx context.Context, ownerID string) (int, error) {
	const query = `SELECT COUNT(1) FROM projects WHERE owner_id = $1 AND deployment_status = $2`
	row := r.pool.QueryRow(ctx, query, ownerID, domain.ProjectBuilding)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetUsageByDeployment fetches the usage row linked to a deployment.
func (r *Repository) GetUsageByDeployment(ctx context.Context, deploymentID string) (*domain.UsageRecord, error) {
	const query = `SELECT id, user_id, project_id, deployment_id, monthly_cost, billing_month, active, created_at
		FROM usage_records WHERE deployment_id = $1`
	row := r.pool.QueryRow(ctx, query, deploymentID)
	var u domain.UsageRecord
	if err := row.Scan(&u.ID, &u.UserID, &u.ProjectID, &u.DeploymentID, &u.MonthlyCost, &u.BillingMonth, &u.Active, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// DeleteUsageRecord removes a usage row. Missing rows are tolerated.
func (r *Repository) DeleteUsageRecord(ctx context.Context, usageID string) error {
	const query = `DELETE FROM usage_records WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, usageID)
	return err
}

// FinalizeDeployment commits the success branch of a deployment attempt in
// one transaction: deployment record, project cached fields, usage row.
func (r *Repository) FinalizeDeployment(ctx context.Context, deployment *domain.Deployment, fields domain.DeploymentFields, usage *domain.UsageRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.createDeployment(ctx, tx, deployment); err != nil {
		return fmt.Errorf("insert deployment record: %w", err)
	}
	if err := r.updateDeploymentFields(ctx, tx, deployment.ProjectID, fields); err != nil {
		return fmt.Errorf("update project deployment fields: %w", err)
	}
	const usageInsert = `INSERT INTO usage_records (id, user_id, project_id, deployment_id, monthly_cost, billing_month, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := tx.Exec(ctx, usageInsert,
		usage.ID, usage.UserID, usage.ProjectID, usage.DeploymentID, usage.MonthlyCost, usage.BillingMonth, usage.Active, usage.CreatedAt); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit finalize tx: %w", err)
	}
	return nil
}
