package domain

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a tenant instance.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusFailed       Status = "failed"
	StatusTerminated   Status = "terminated"
)

// Stage represents one named step of the provisioning sequence. The stage
// recorded on an instance is the last step that completed successfully.
type Stage string

const (
	StageInitiated      Stage = "initiated"
	StageDatabase       Stage = "database"
	StageInitialization Stage = "initialization"
	StageNamespace      Stage = "namespace"
	StageSecrets        Stage = "secrets"
	StageDeployment     Stage = "deployment"
	StageDNS            Stage = "dns"
	StageSSL            Stage = "ssl"
	StageComplete       Stage = "complete"
)

// StageSequence is the fixed forward-only order of provisioning stages.
// A stage is never skipped or repeated on the success path; on failure the
// recorded stage freezes at the last completed step.
var StageSequence = []Stage{
	StageInitiated,
	StageDatabase,
	StageInitialization,
	StageNamespace,
	StageSecrets,
	StageDeployment,
	StageDNS,
	StageSSL,
	StageComplete,
}

// Event represents an action that triggers a lifecycle state transition.
type Event string

const (
	EventActivate  Event = "activate"
	EventSuspend   Event = "suspend"
	EventResume    Event = "resume"
	EventFail      Event = "fail"
	EventTerminate Event = "terminate"
)

// Transition defines a valid state change: an event moves an instance from Src to Dst.
type Transition struct {
	Event Event
	Src   Status
	Dst   Status
}

// Transitions defines all valid state changes in the instance lifecycle.
// This is domain knowledge consumed by the FSM adapter. "failed" and
// "terminated" are absorbing with respect to forward progress: the only
// way out of "failed" is termination (rollback), and nothing leaves
// "terminated".
var Transitions = []Transition{
	{Event: EventActivate, Src: StatusProvisioning, Dst: StatusActive},
	{Event: EventSuspend, Src: StatusActive, Dst: StatusSuspended},
	{Event: EventResume, Src: StatusSuspended, Dst: StatusActive},
	{Event: EventFail, Src: StatusProvisioning, Dst: StatusFailed},
	{Event: EventTerminate, Src: StatusActive, Dst: StatusTerminated},
	{Event: EventTerminate, Src: StatusSuspended, Dst: StatusTerminated},
	{Event: EventTerminate, Src: StatusFailed, Dst: StatusTerminated},
}

// Plan tiers, strictly increasing in compute allowance.
const (
	PlanTrial        = "trial"
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// ValidPlan reports whether plan names a known subscription tier.
func ValidPlan(plan string) bool {
	switch plan {
	case PlanTrial, PlanStarter, PlanProfessional, PlanEnterprise:
		return true
	}
	return false
}

// Instance is the registry entity for one isolated tenant deployment:
// its own database, compute workload, and subdomain.
type Instance struct {
	ID   string
	Name string
	Slug string

	Status Status
	Stage  Stage

	// Ownership is immutable once set; it is never re-derived from later
	// updates to the tenant's own records.
	OwnerEmail string
	OwnerName  string

	// Subscription snapshot at provisioning time.
	Plan        string
	TrialEndsAt *time.Time

	// Resource handles, assigned as each manager completes its stage.
	// A handle is only populated after its owning stage is recorded as
	// complete, and is never unset afterwards: if rollback deletes the
	// underlying resource the handle remains as a record of what was
	// attempted.
	DatabaseDSN string
	Namespace   string
	DNSRecordID string
	Endpoint    string

	FailureMessage string

	// Linkage to the originating conversion request. Opaque references;
	// nothing cascades through them.
	RequestID string
	CreatorID string

	CreatedAt         time.Time
	UpdatedAt         time.Time
	ActivatedAt       *time.Time
	SuspendedAt       *time.Time
	TerminatedAt      *time.Time
	LastHealthCheckAt *time.Time
}

// NewInstance creates an instance at the start of provisioning, in
// "provisioning" status with stage "initiated".
func NewInstance(id, slug string, intake Intake) Instance {
	now := time.Now().UTC()
	inst := Instance{
		ID:         id,
		Name:       intake.CompanyName,
		Slug:       slug,
		Status:     StatusProvisioning,
		Stage:      StageInitiated,
		OwnerEmail: intake.OwnerEmail,
		OwnerName:  intake.OwnerName,
		Plan:       intake.Plan,
		RequestID:  intake.RequestID,
		CreatorID:  intake.CreatorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if intake.Plan == PlanTrial {
		trialEnd := now.AddDate(0, 0, 14)
		inst.TrialEndsAt = &trialEnd
	}
	return inst
}

// URL returns the instance's public URL under the given base domain.
func (i Instance) URL(baseDomain string) string {
	return fmt.Sprintf("https://%s.%s", i.Slug, baseDomain)
}

// APIURL returns the instance's API endpoint under the given base domain.
func (i Instance) APIURL(baseDomain string) string {
	return fmt.Sprintf("https://%s.%s/api", i.Slug, baseDomain)
}

// FQDN returns the fully-qualified subdomain for the instance.
func (i Instance) FQDN(baseDomain string) string {
	return fmt.Sprintf("%s.%s", i.Slug, baseDomain)
}
