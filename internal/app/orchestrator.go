package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

// Secret names created inside each tenant namespace.
const (
	SecretNameSigningKey  = "app-signing-key"
	SecretNameDatabase    = "database-credentials"
	dnsRecordType         = "A"
	slugAllocationRetries = 3
)

// OrchestratorConfig carries the environment-level knobs of a
// provisioning run.
type OrchestratorConfig struct {
	BaseDomain string

	// Simulate bypasses the resource managers entirely and fabricates a
	// structurally complete registry entity, for local development and
	// tests.
	Simulate bool

	// AutoRollback triggers compensation across already-provisioned
	// resources when a stage fails.
	AutoRollback bool

	// PropagationWait bounds the post-upsert DNS propagation poll.
	PropagationWait time.Duration

	// SSLIssuanceWait is the fixed delay of the ssl stage. Certificate
	// issuance is delegated to the ingress-driven ACME automation; the
	// stage only waits long enough for issuance to likely finish before
	// the instance goes active. Issuance failure does not block
	// activation: the automation retries on its own schedule.
	SSLIssuanceWait time.Duration
}

// Orchestrator walks a tenant instance through the provisioning stage
// sequence, persisting progress to the registry after every stage and
// compensating on failure. One orchestrator run owns its entity; no other
// component writes to it during active provisioning.
type Orchestrator struct {
	repo      domain.InstanceRepository
	databases domain.DatabaseProvisioner
	cluster   domain.ClusterManager
	dns       domain.DNSManager
	validator domain.TransitionValidator
	slugs     *SlugAllocator
	cfg       OrchestratorConfig
}

// NewOrchestrator creates an orchestrator with the given managers. The
// three resource manager implementations are chosen once at process
// start; in simulation mode they are never invoked and may be nil.
func NewOrchestrator(
	repo domain.InstanceRepository,
	databases domain.DatabaseProvisioner,
	cluster domain.ClusterManager,
	dns domain.DNSManager,
	validator domain.TransitionValidator,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		databases: databases,
		cluster:   cluster,
		dns:       dns,
		validator: validator,
		slugs:     NewSlugAllocator(repo),
		cfg:       cfg,
	}
}

// Provision runs the full stage sequence for one intake. It is executed
// as a background task; the triggering endpoint has already returned.
// Stage-level failures are recorded on the entity, never returned to the
// original caller.
func (o *Orchestrator) Provision(ctx context.Context, instanceID string, intake domain.Intake) error {
	if err := intake.Validate(); err != nil {
		return fmt.Errorf("validating intake: %w", err)
	}

	inst, err := o.createEntity(ctx, instanceID, intake)
	if err != nil {
		var reqErr *domain.RequestConflictError
		if errors.As(err, &reqErr) {
			// Duplicate delivery of the same intake request; the earlier
			// run owns the entity.
			slog.InfoContext(ctx, "skipping duplicate provisioning request",
				"request_id", intake.RequestID,
				"instance_id", reqErr.InstanceID,
			)
			return nil
		}
		return err
	}

	if o.cfg.Simulate {
		return o.simulate(ctx, inst)
	}

	// Run-local results that later stages need but the entity does not
	// persist (the generated database credentials live only in the
	// namespace secret).
	var creds domain.DatabaseCredentials

	stages := []struct {
		stage domain.Stage
		run   func(context.Context) error
	}{
		{domain.StageDatabase, func(ctx context.Context) error {
			res, err := o.databases.Provision(ctx, inst.Slug)
			if err != nil {
				return err
			}
			if err := o.databases.InitializeSchema(ctx, res.DSN); err != nil {
				return err
			}
			creds = res.Credentials
			inst.DatabaseDSN = res.DSN
			return nil
		}},
		{domain.StageInitialization, func(ctx context.Context) error {
			return o.databases.CreateOwnerPrincipal(ctx, inst.DatabaseDSN, domain.OwnerPrincipal{
				Email:    intake.OwnerEmail,
				Name:     intake.OwnerName,
				Password: intake.OwnerPassword,
			})
		}},
		{domain.StageNamespace, func(ctx context.Context) error {
			err := o.cluster.CreateNamespace(ctx, inst.Slug, map[string]string{
				"provisioniq.io/instance": inst.Slug,
				"provisioniq.io/owner":    intake.OwnerEmail,
			})
			if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
				return err
			}
			inst.Namespace = inst.Slug
			return nil
		}},
		{domain.StageSecrets, func(ctx context.Context) error {
			signingKey, err := GenerateSigningKey()
			if err != nil {
				return err
			}
			err = o.cluster.CreateSecret(ctx, inst.Namespace, SecretNameSigningKey, map[string]string{
				"signing-key": signingKey,
			})
			if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
				return err
			}
			err = o.cluster.CreateSecret(ctx, inst.Namespace, SecretNameDatabase, map[string]string{
				"dsn":      inst.DatabaseDSN,
				"username": creds.Username,
				"password": creds.Password,
			})
			if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
				return err
			}
			return nil
		}},
		{domain.StageDeployment, func(ctx context.Context) error {
			spec := SpecForTier(inst.Plan)
			spec.Host = inst.FQDN(o.cfg.BaseDomain)
			endpoints, err := o.cluster.DeployWorkload(ctx, inst.Namespace, spec)
			if err != nil {
				return err
			}
			inst.Endpoint = endpoints.URL
			return nil
		}},
		{domain.StageDNS, func(ctx context.Context) error {
			target, err := o.cluster.IngressAddress(ctx)
			if err != nil {
				return err
			}
			changeID, err := o.dns.UpsertRecord(ctx, inst.FQDN(o.cfg.BaseDomain), target, dnsRecordType)
			if err != nil {
				return err
			}
			inst.DNSRecordID = changeID

			err = o.dns.AwaitPropagation(ctx, changeID, o.cfg.PropagationWait)
			if errors.Is(err, domain.ErrPropagationTimeout) {
				// Non-fatal: async propagation completes shortly after.
				slog.WarnContext(ctx, "dns propagation still pending",
					"instance_id", inst.ID, "change_id", changeID)
				return nil
			}
			return err
		}},
		{domain.StageSSL, func(ctx context.Context) error {
			// Certificate issuance is triggered by the ingress applied at
			// the deployment stage. Bounded wait only.
			select {
			case <-time.After(o.cfg.SSLIssuanceWait):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
	}

	for _, s := range stages {
		start := time.Now()
		if err := s.run(ctx); err != nil {
			stageErr := &domain.StageError{Stage: s.stage, Err: err}
			o.fail(ctx, &inst, stageErr)
			return stageErr
		}
		if err := o.advance(ctx, &inst, s.stage); err != nil {
			o.fail(ctx, &inst, &domain.StageError{Stage: s.stage, Err: err})
			return err
		}
		slog.InfoContext(ctx, "provisioning stage complete",
			"instance_id", inst.ID,
			"slug", inst.Slug,
			"stage", string(s.stage),
			"duration", time.Since(start).Round(time.Millisecond).String(),
		)
	}

	return o.activate(ctx, &inst)
}

// createEntity allocates a slug and inserts the registry entity. A slug
// collision at insert time (the check-then-create race) is recoverable:
// the slug is re-allocated and the insert retried.
func (o *Orchestrator) createEntity(ctx context.Context, instanceID string, intake domain.Intake) (domain.Instance, error) {
	var lastErr error
	for attempt := 0; attempt < slugAllocationRetries; attempt++ {
		slug := o.slugs.Allocate(ctx, intake.CompanyName)
		inst := domain.NewInstance(instanceID, slug, intake)

		err := o.repo.Create(ctx, inst)
		if err == nil {
			slog.InfoContext(ctx, "provisioning stage complete",
				"instance_id", inst.ID,
				"slug", inst.Slug,
				"stage", string(domain.StageInitiated),
			)
			return inst, nil
		}

		var slugErr *domain.SlugConflictError
		if errors.As(err, &slugErr) {
			lastErr = err
			continue
		}
		return domain.Instance{}, fmt.Errorf("creating registry entity: %w", err)
	}
	return domain.Instance{}, fmt.Errorf("creating registry entity after %d slug allocations: %w", slugAllocationRetries, lastErr)
}

// advance records a completed stage before the next one begins, so a
// process restart mid-provisioning observes exactly which stages
// committed.
func (o *Orchestrator) advance(ctx context.Context, inst *domain.Instance, stage domain.Stage) error {
	inst.Stage = stage
	inst.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(ctx, *inst); err != nil {
		return fmt.Errorf("persisting stage %q: %w", stage, err)
	}
	return nil
}

// activate marks the final stage and flips the instance to active.
func (o *Orchestrator) activate(ctx context.Context, inst *domain.Instance) error {
	if healthy, err := o.databases.HealthCheck(ctx, inst.DatabaseDSN); err != nil || !healthy {
		slog.WarnContext(ctx, "database health check failed at activation",
			"instance_id", inst.ID, "error", err)
	}

	status, err := o.validator.Apply(ctx, inst.Status, domain.EventActivate)
	if err != nil {
		return fmt.Errorf("activating instance %q: %w", inst.ID, err)
	}

	now := time.Now().UTC()
	inst.Status = status
	inst.ActivatedAt = &now
	inst.LastHealthCheckAt = &now
	if err := o.advance(ctx, inst, domain.StageComplete); err != nil {
		return err
	}

	slog.InfoContext(ctx, "instance active",
		"instance_id", inst.ID,
		"slug", inst.Slug,
		"url", inst.URL(o.cfg.BaseDomain),
	)
	return nil
}

// fail freezes the stage at the point of failure, records the failure
// message, and runs compensation when enabled. The triggering caller
// never sees this; it is observable only by reading back the entity.
func (o *Orchestrator) fail(ctx context.Context, inst *domain.Instance, stageErr *domain.StageError) {
	slog.ErrorContext(ctx, "provisioning failed",
		"instance_id", inst.ID,
		"slug", inst.Slug,
		"stage", string(stageErr.Stage),
		"error", stageErr.Err.Error(),
	)

	status, err := o.validator.Apply(ctx, inst.Status, domain.EventFail)
	if err != nil {
		slog.ErrorContext(ctx, "cannot mark instance failed",
			"instance_id", inst.ID, "error", err)
		return
	}
	inst.Status = status
	inst.FailureMessage = stageErr.Error()
	inst.UpdatedAt = time.Now().UTC()
	if err := o.repo.Update(ctx, *inst); err != nil {
		slog.ErrorContext(ctx, "persisting failed status",
			"instance_id", inst.ID, "error", err)
		return
	}

	if o.cfg.AutoRollback {
		if err := o.Rollback(ctx, inst.ID); err != nil {
			slog.ErrorContext(ctx, "rollback incomplete",
				"instance_id", inst.ID, "error", err)
		}
	}
}

// Rollback attempts, in order, deletion of the cluster namespace (which
// cascades to secrets, deployment and services), the DNS record, and the
// tenant database. It runs in attempt-all mode: each failure is logged
// but does not abort the remaining deletions. Afterwards the instance is
// marked terminated. Resource handles stay populated as a record of what
// was attempted.
//
// Rollback also serves as the standalone decommission operation for an
// active instance.
func (o *Orchestrator) Rollback(ctx context.Context, instanceID string) error {
	inst, err := o.repo.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}

	if !o.cfg.Simulate {
		o.deleteQuietly(ctx, &inst, "namespace", func() error {
			return o.cluster.DeleteNamespace(ctx, inst.Namespace)
		})
		o.deleteQuietly(ctx, &inst, "dns record", func() error {
			return o.dns.DeleteRecord(ctx, inst.FQDN(o.cfg.BaseDomain), "", dnsRecordType)
		})
		o.deleteQuietly(ctx, &inst, "database", func() error {
			return o.databases.Delete(ctx, inst.DatabaseDSN)
		})
	}

	status, err := o.validator.Apply(ctx, inst.Status, domain.EventTerminate)
	if err != nil {
		return fmt.Errorf("terminating instance %q: %w", instanceID, err)
	}

	now := time.Now().UTC()
	inst.Status = status
	inst.TerminatedAt = &now
	inst.UpdatedAt = now
	if err := o.repo.Update(ctx, inst); err != nil {
		return fmt.Errorf("persisting terminated status: %w", err)
	}

	slog.InfoContext(ctx, "instance terminated",
		"instance_id", inst.ID, "slug", inst.Slug)
	return nil
}

// deleteQuietly runs one compensation step, treating a missing resource
// as success and logging anything else without aborting.
func (o *Orchestrator) deleteQuietly(ctx context.Context, inst *domain.Instance, what string, del func() error) {
	err := del()
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return
	}
	slog.WarnContext(ctx, "rollback deletion failed",
		"instance_id", inst.ID,
		"resource", what,
		"error", err.Error(),
	)
}

// simulate fabricates resource handles and activates the entity without
// touching any resource manager. The result is structurally
// indistinguishable from a real run.
func (o *Orchestrator) simulate(ctx context.Context, inst domain.Instance) error {
	now := time.Now().UTC()
	inst.DatabaseDSN = fmt.Sprintf("file:%s.db?mode=rwc", inst.Slug)
	inst.Namespace = inst.Slug
	inst.DNSRecordID = fmt.Sprintf("sim-%s", inst.ID)
	inst.Endpoint = inst.URL(o.cfg.BaseDomain)
	inst.Status = domain.StatusActive
	inst.Stage = domain.StageComplete
	inst.ActivatedAt = &now
	inst.LastHealthCheckAt = &now
	inst.UpdatedAt = now

	if err := o.repo.Update(ctx, inst); err != nil {
		return fmt.Errorf("persisting simulated instance: %w", err)
	}

	slog.InfoContext(ctx, "instance active",
		"instance_id", inst.ID,
		"slug", inst.Slug,
		"url", inst.URL(o.cfg.BaseDomain),
		"simulated", true,
	)
	return nil
}
