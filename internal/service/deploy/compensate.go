package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/xjrogers/Forma-sub002/internal/domain"
	"github.com/xjrogers/Forma-sub002/internal/provision"
	"github.com/xjrogers/Forma-sub002/internal/repository"
	"github.com/xjrogers/Forma-sub002/internal/sourcehost"
)

// compensate unwinds a failed saga in reverse order of the effects the
// attempt recorded. Each step is attempted regardless of whether earlier
// steps failed; "already gone" answers from the remote platforms count as
// success so reruns stay idempotent. The failed deployment record and the
// project's failed status are written unconditionally at the end.
func (s *Service) compensate(ctx context.Context, project *domain.Project, att *attempt, cause error) {
	compensations.Inc()
	var errs error

	// Database records only exist when the final transaction committed,
	// which means the failure happened after step 11 (it cannot today,
	// but the unwind must not depend on that).
	if att.RecordsWritten {
		if att.DeploymentID != "" {
			if usageRecord, err := s.usage.GetUsageByDeployment(ctx, att.DeploymentID); err == nil {
				if err := s.usage.DeleteUsageRecord(ctx, usageRecord.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
					errs = multierr.Append(errs, err)
				}
			} else if !errors.Is(err, repository.ErrNotFound) {
				errs = multierr.Append(errs, err)
			}
			if err := s.deployments.DeleteDeployment(ctx, att.DeploymentID); err != nil && !errors.Is(err, repository.ErrNotFound) {
				errs = multierr.Append(errs, err)
			}
		}
		if err := s.projects.UpdateDeploymentFields(ctx, project.ID, domain.ResetDeploymentFields()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	// Temp repository. ErrNotFound means a previous pass already removed it.
	if att.TempRepo != nil {
		if err := s.repos.DeleteRepository(ctx, *att.TempRepo); err != nil && !errors.Is(err, sourcehost.ErrNotFound) {
			errs = multierr.Append(errs, err)
			s.logger.Error("compensation: temp repository delete failed", "project_id", project.ID, "repo", att.TempRepo.FullName(), "error", err)
		}
	}

	// Provisioned service. Deleting the service also detaches its env
	// vars, repository link and hostname, so those need no separate undo.
	if att.ServiceID != "" {
		if err := s.provider.DeleteService(ctx, att.ServiceID); err != nil && !errors.Is(err, provision.ErrNotFound) {
			errs = multierr.Append(errs, err)
			s.logger.Error("compensation: service delete failed", "project_id", project.ID, "service_id", att.ServiceID, "error", err)
		}
	}
	// The compute project shell is left behind. It is empty once its only
	// service is gone and the provisioning platform has no project-delete
	// mutation scoped to a token, so reclaiming it is a manual operation.

	s.recordFailure(ctx, project, att, cause)

	if errs != nil {
		s.logger.Error("compensation finished with residue", "project_id", project.ID, "error", errs)
		return
	}
	s.logger.Info("compensation finished", "project_id", project.ID, "cause", cause.Error())
}

// recordFailure persists the failed attempt and flips the project to the
// failed state. This runs even when every compensation step failed; the
// user must always see the outcome.
func (s *Service) recordFailure(ctx context.Context, project *domain.Project, att *attempt, cause error) {
	message := cause.Error()
	record := &domain.Deployment{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		Status:       domain.DeploymentFailed,
		Trigger:      TriggerManual,
		BuildSeconds: att.buildSeconds(),
		Error:        &message,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.deployments.CreateDeployment(ctx, record); err != nil {
		s.logger.Error("compensation: failed deployment record not written", "project_id", project.ID, "error", err)
	}
	fields := domain.DeploymentFields{
		Deployed:         false,
		DeploymentStatus: domain.ProjectFailed,
		URL:              nil,
		ServiceID:        nil,
		LastDeployedAt:   project.LastDeployedAt,
	}
	if err := s.projects.UpdateDeploymentFields(ctx, project.ID, fields); err != nil {
		s.logger.Error("compensation: project status not updated", "project_id", project.ID, "error", err)
	}
}
