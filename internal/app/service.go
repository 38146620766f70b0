package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

// InstanceService is the application-facing surface for instance
// provisioning and lifecycle operations.
type InstanceService struct {
	repo         domain.InstanceRepository
	enqueuer     domain.ProvisionEnqueuer
	validator    domain.TransitionValidator
	orchestrator *Orchestrator
	baseDomain   string
}

// NewInstanceService creates a service with the given adapters.
func NewInstanceService(
	repo domain.InstanceRepository,
	enqueuer domain.ProvisionEnqueuer,
	validator domain.TransitionValidator,
	orchestrator *Orchestrator,
	baseDomain string,
) *InstanceService {
	return &InstanceService{
		repo:         repo,
		enqueuer:     enqueuer,
		validator:    validator,
		orchestrator: orchestrator,
		baseDomain:   baseDomain,
	}
}

// BaseDomain returns the domain under which instance URLs are computed.
func (s *InstanceService) BaseDomain() string {
	return s.baseDomain
}

// ProvisionInstance validates the intake, allocates an instance id, and
// hands the work off to the background provisioning task. It returns
// immediately; the caller polls the instance for progress. A request id
// that already produced an instance returns that instance's id instead
// of provisioning twice.
func (s *InstanceService) ProvisionInstance(ctx context.Context, intake domain.Intake) (string, error) {
	if err := intake.Validate(); err != nil {
		return "", err
	}

	if existing, err := s.repo.GetByRequestID(ctx, intake.RequestID); err == nil {
		return existing.ID, nil
	} else if !errors.Is(err, domain.ErrInstanceNotFound) {
		return "", fmt.Errorf("checking request id: %w", err)
	}

	id, err := generateID()
	if err != nil {
		return "", fmt.Errorf("generating instance id: %w", err)
	}

	if err := s.enqueuer.Enqueue(ctx, id, intake); err != nil {
		return "", fmt.Errorf("enqueuing provisioning task: %w", err)
	}

	return id, nil
}

// GetByID returns an instance by its unique identifier.
func (s *InstanceService) GetByID(ctx context.Context, id string) (domain.Instance, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns instances matching the given filter.
func (s *InstanceService) List(ctx context.Context, filter domain.ListFilter) ([]domain.Instance, error) {
	return s.repo.List(ctx, filter)
}

// Suspend sets an active instance to suspended. Scaling the workload to
// zero is an extension point; the core flow only records the transition.
func (s *InstanceService) Suspend(ctx context.Context, id string) (domain.Instance, error) {
	return s.transition(ctx, id, domain.EventSuspend)
}

// Resume reverses a suspension.
func (s *InstanceService) Resume(ctx context.Context, id string) (domain.Instance, error) {
	return s.transition(ctx, id, domain.EventResume)
}

// Terminate decommissions an instance: best-effort deletion of its
// resources followed by the terminated status.
func (s *InstanceService) Terminate(ctx context.Context, id string) (domain.Instance, error) {
	inst, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Instance{}, err
	}

	// Reject transitions the lifecycle does not allow before deleting
	// anything.
	if _, err := s.validator.Apply(ctx, inst.Status, domain.EventTerminate); err != nil {
		return domain.Instance{}, err
	}

	if err := s.orchestrator.Rollback(ctx, id); err != nil {
		return domain.Instance{}, fmt.Errorf("terminating instance: %w", err)
	}

	return s.repo.GetByID(ctx, id)
}

func (s *InstanceService) transition(ctx context.Context, id string, event domain.Event) (domain.Instance, error) {
	inst, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Instance{}, err
	}

	newStatus, err := s.validator.Apply(ctx, inst.Status, event)
	if err != nil {
		return domain.Instance{}, err
	}

	now := time.Now().UTC()
	inst.Status = newStatus
	inst.UpdatedAt = now
	switch event {
	case domain.EventSuspend:
		inst.SuspendedAt = &now
	case domain.EventResume:
		inst.SuspendedAt = nil
	}

	if err := s.repo.Update(ctx, inst); err != nil {
		return domain.Instance{}, fmt.Errorf("updating instance: %w", err)
	}

	return inst, nil
}
