package river

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/provisioniq/internal/app"
)

// ProvisionWorker processes provisioning jobs from the River queue by
// driving the orchestrator through the full stage sequence.
type ProvisionWorker struct {
	river.WorkerDefaults[ProvisionJobArgs]

	orchestrator *app.Orchestrator
}

// NewProvisionWorker creates a worker bound to the given orchestrator.
func NewProvisionWorker(orchestrator *app.Orchestrator) *ProvisionWorker {
	return &ProvisionWorker{orchestrator: orchestrator}
}

// Work processes a single provisioning job.
func (w *ProvisionWorker) Work(ctx context.Context, job *river.Job[ProvisionJobArgs]) error {
	slog.InfoContext(ctx, "processing provision job",
		"instance_id", job.Args.InstanceID,
		"request_id", job.Args.RequestID,
		"job_id", job.ID,
	)
	return w.orchestrator.Provision(ctx, job.Args.InstanceID, job.Args.intake())
}
