package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

// Compile-time check: Enqueuer implements domain.ProvisionEnqueuer.
var _ domain.ProvisionEnqueuer = (*Enqueuer)(nil)

// ProvisionJobArgs carries everything a provisioning run needs. River
// serializes this as JSON into its job queue table. It includes the full
// intake payload, so the worker can start provisioning without re-reading
// the original request.
type ProvisionJobArgs struct {
	InstanceID    string `json:"instance_id"`
	CompanyName   string `json:"company_name"`
	Industry      string `json:"industry,omitempty"`
	OwnerEmail    string `json:"owner_email"`
	OwnerName     string `json:"owner_name"`
	OwnerPassword string `json:"owner_password"`
	OwnerPhone    string `json:"owner_phone,omitempty"`
	Plan          string `json:"plan"`
	RequestID     string `json:"request_id"`
	CreatorID     string `json:"creator_id,omitempty"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (ProvisionJobArgs) Kind() string { return "instance.provision" }

func (a ProvisionJobArgs) intake() domain.Intake {
	return domain.Intake{
		CompanyName:   a.CompanyName,
		Industry:      a.Industry,
		OwnerEmail:    a.OwnerEmail,
		OwnerName:     a.OwnerName,
		OwnerPassword: a.OwnerPassword,
		OwnerPhone:    a.OwnerPhone,
		Plan:          a.Plan,
		RequestID:     a.RequestID,
		CreatorID:     a.CreatorID,
	}
}

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Enqueuer implements domain.ProvisionEnqueuer by inserting River jobs.
type Enqueuer struct {
	client *Client
}

// NewEnqueuer creates an enqueuer backed by the given River client.
func NewEnqueuer(client *Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// Enqueue inserts a provisioning job for the instance. Jobs run at most
// once: a failed run is handled by the orchestrator's own rollback path,
// not by queue-level retries, so re-running would double-provision.
func (e *Enqueuer) Enqueue(ctx context.Context, instanceID string, intake domain.Intake) error {
	_, err := e.client.Insert(ctx, ProvisionJobArgs{
		InstanceID:    instanceID,
		CompanyName:   intake.CompanyName,
		Industry:      intake.Industry,
		OwnerEmail:    intake.OwnerEmail,
		OwnerName:     intake.OwnerName,
		OwnerPassword: intake.OwnerPassword,
		OwnerPhone:    intake.OwnerPhone,
		Plan:          intake.Plan,
		RequestID:     intake.RequestID,
		CreatorID:     intake.CreatorID,
	}, &river.InsertOpts{MaxAttempts: 1})
	if err != nil {
		return fmt.Errorf("enqueuing provision job: %w", err)
	}
	return nil
}
