package domain

import (
	"context"
	"time"
)

// InstanceRepository defines the persistence contract for the instance
// registry.
type InstanceRepository interface {
	Create(ctx context.Context, instance Instance) error
	GetByID(ctx context.Context, id string) (Instance, error)
	// GetBySlug only considers non-terminated instances; terminated
	// instances release their slug.
	GetBySlug(ctx context.Context, slug string) (Instance, error)
	// GetByRequestID looks up the instance created for an originating
	// intake request, for idempotent re-delivery of the same request.
	GetByRequestID(ctx context.Context, requestID string) (Instance, error)
	List(ctx context.Context, filter ListFilter) ([]Instance, error)
	Update(ctx context.Context, instance Instance) error
}

// ListFilter holds optional criteria for listing instances.
type ListFilter struct {
	Status *Status
	Limit  int
	Offset int
}

// DatabaseCredentials are the generated credentials for a tenant database.
type DatabaseCredentials struct {
	Username string
	Password string
}

// DatabaseResource is the result of provisioning a tenant database.
type DatabaseResource struct {
	// DSN is the opaque connection descriptor for the new database.
	DSN         string
	Credentials DatabaseCredentials
}

// OwnerPrincipal describes the tenant owner account created inside the
// freshly initialized tenant database.
type OwnerPrincipal struct {
	Email    string
	Name     string
	Password string
}

// DatabaseProvisioner creates and destroys per-tenant databases.
// Provision is idempotent per instance key: repeating it either returns
// the existing database or fails with ErrAlreadyExists, never a duplicate.
type DatabaseProvisioner interface {
	Provision(ctx context.Context, instanceKey string) (DatabaseResource, error)
	// InitializeSchema is declarative: it creates a fixed set of tables
	// and secondary indexes if absent and is a no-op when already
	// satisfied.
	InitializeSchema(ctx context.Context, dsn string) error
	CreateOwnerPrincipal(ctx context.Context, dsn string, owner OwnerPrincipal) error
	// Delete tolerates a missing database: rollback may run against a
	// stage that never completed.
	Delete(ctx context.Context, dsn string) error
	HealthCheck(ctx context.Context, dsn string) (bool, error)
}

// WorkloadSpec describes the tenant workload for one subscription tier.
type WorkloadSpec struct {
	Replicas      int
	CPURequest    string
	CPULimit      string
	MemoryRequest string
	MemoryLimit   string
	// Host is the fully-qualified subdomain the workload's ingress
	// serves; certificate issuance is keyed off it.
	Host string
}

// WorkloadEndpoints are the service endpoints exposed by a deployed workload.
type WorkloadEndpoints struct {
	URL    string
	APIURL string
}

// NamespaceHealth summarizes the pods inside a tenant namespace.
type NamespaceHealth struct {
	PodsTotal int
	PodsReady int
	Healthy   bool
}

// ClusterManager drives the compute side of a tenant instance. Namespace
// and secret creation treat a pre-existing resource of the same name as
// success, since retries after partial failure must not abort on
// "already exists".
type ClusterManager interface {
	CreateNamespace(ctx context.Context, name string, labels map[string]string) error
	CreateSecret(ctx context.Context, namespace, name string, data map[string]string) error
	DeployWorkload(ctx context.Context, namespace string, spec WorkloadSpec) (WorkloadEndpoints, error)
	// DeleteNamespace cascades to everything inside the namespace and
	// tolerates a namespace that was never created.
	DeleteNamespace(ctx context.Context, name string) error
	NamespaceHealth(ctx context.Context, name string) (NamespaceHealth, error)
	// IngressAddress resolves the cluster's public ingress address, the
	// DNS target for all tenant subdomains.
	IngressAddress(ctx context.Context) (string, error)
}

// DNSManager manages the subdomain records pointing tenants at the
// cluster ingress.
type DNSManager interface {
	// UpsertRecord creates or updates a record and returns a change id
	// usable with AwaitPropagation and as the rollback target.
	UpsertRecord(ctx context.Context, fqdn, target, recordType string) (string, error)
	// AwaitPropagation polls at a fixed interval until the change is
	// in sync or maxWait elapses, in which case it returns
	// ErrPropagationTimeout.
	AwaitPropagation(ctx context.Context, changeID string, maxWait time.Duration) error
	// DeleteRecord tolerates an already-absent record.
	DeleteRecord(ctx context.Context, fqdn, target, recordType string) error
	// Resolve returns the addresses a subdomain currently points to, or
	// ErrNotFound.
	Resolve(ctx context.Context, fqdn string) ([]string, error)
}

// TransitionValidator checks lifecycle state transitions.
type TransitionValidator interface {
	Apply(ctx context.Context, current Status, event Event) (Status, error)
}

// ProvisionEnqueuer hands a validated intake off to the background
// provisioning task. The instance id is allocated by the caller so the
// triggering endpoint can acknowledge immediately.
type ProvisionEnqueuer interface {
	Enqueue(ctx context.Context, instanceID string, intake Intake) error
}
