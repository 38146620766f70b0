package app_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neomorfeo/provisioniq/internal/domain"
)

// --- In-memory registry ---

type memRepo struct {
	mu        sync.Mutex
	instances map[string]domain.Instance
	updates   []domain.Instance
}

func newMemRepo() *memRepo {
	return &memRepo{instances: make(map[string]domain.Instance)}
}

func (m *memRepo) Create(_ context.Context, inst domain.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.instances {
		if other.Slug == inst.Slug && other.Status != domain.StatusTerminated {
			return &domain.SlugConflictError{Slug: inst.Slug}
		}
		if other.RequestID == inst.RequestID {
			return &domain.RequestConflictError{RequestID: inst.RequestID, InstanceID: other.ID}
		}
	}
	m.instances[inst.ID] = inst
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id string) (domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return domain.Instance{}, domain.ErrInstanceNotFound
	}
	return inst, nil
}

func (m *memRepo) GetBySlug(_ context.Context, slug string) (domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.Slug == slug && inst.Status != domain.StatusTerminated {
			return inst, nil
		}
	}
	return domain.Instance{}, domain.ErrInstanceNotFound
}

func (m *memRepo) GetByRequestID(_ context.Context, requestID string) (domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.RequestID == requestID {
			return inst, nil
		}
	}
	return domain.Instance{}, domain.ErrInstanceNotFound
}

func (m *memRepo) List(_ context.Context, _ domain.ListFilter) ([]domain.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (m *memRepo) Update(_ context.Context, inst domain.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[inst.ID]; !ok {
		return domain.ErrInstanceNotFound
	}
	m.instances[inst.ID] = inst
	m.updates = append(m.updates, inst)
	return nil
}

// stageTrail returns the stages persisted for one instance, in order.
func (m *memRepo) stageTrail(id string) []domain.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var trail []domain.Stage
	for _, u := range m.updates {
		if u.ID == id {
			trail = append(trail, u.Stage)
		}
	}
	return trail
}

// --- Resource manager fakes ---

type fakeDatabases struct {
	mu             sync.Mutex
	provisioned    map[string]bool
	schemaInit     []string
	owners         []domain.OwnerPrincipal
	deleteCalls    int
	failProvision  error
	failSchema     error
	failOwner      error
}

func newFakeDatabases() *fakeDatabases {
	return &fakeDatabases{provisioned: make(map[string]bool)}
}

func (f *fakeDatabases) Provision(_ context.Context, instanceKey string) (domain.DatabaseResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProvision != nil {
		return domain.DatabaseResource{}, f.failProvision
	}
	if f.provisioned[instanceKey] {
		return domain.DatabaseResource{}, domain.ErrAlreadyExists
	}
	f.provisioned[instanceKey] = true
	return domain.DatabaseResource{
		DSN: fmt.Sprintf("file:%s.db", instanceKey),
		Credentials: domain.DatabaseCredentials{
			Username: "tenant_" + instanceKey,
			Password: "generated-password",
		},
	}, nil
}

func (f *fakeDatabases) InitializeSchema(_ context.Context, dsn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSchema != nil {
		return f.failSchema
	}
	f.schemaInit = append(f.schemaInit, dsn)
	return nil
}

func (f *fakeDatabases) CreateOwnerPrincipal(_ context.Context, _ string, owner domain.OwnerPrincipal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOwner != nil {
		return f.failOwner
	}
	f.owners = append(f.owners, owner)
	return nil
}

func (f *fakeDatabases) Delete(_ context.Context, dsn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if dsn == "" {
		return domain.ErrNotFound
	}
	return nil
}

func (f *fakeDatabases) HealthCheck(_ context.Context, _ string) (bool, error) {
	return true, nil
}

type fakeCluster struct {
	mu             sync.Mutex
	namespaces     map[string]map[string]string
	secrets        map[string]map[string]string
	deployments    []string
	deleteCalls    int
	failNamespace  error
	failSecret     error
	failDeploy     error
	ingressAddress string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		namespaces:     make(map[string]map[string]string),
		secrets:        make(map[string]map[string]string),
		ingressAddress: "203.0.113.10",
	}
}

func (f *fakeCluster) CreateNamespace(_ context.Context, name string, labels map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNamespace != nil {
		return f.failNamespace
	}
	// Idempotent upsert: pre-existing namespace is success.
	f.namespaces[name] = labels
	return nil
}

func (f *fakeCluster) CreateSecret(_ context.Context, namespace, name string, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSecret != nil {
		return f.failSecret
	}
	f.secrets[namespace+"/"+name] = data
	return nil
}

func (f *fakeCluster) DeployWorkload(_ context.Context, namespace string, spec domain.WorkloadSpec) (domain.WorkloadEndpoints, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeploy != nil {
		return domain.WorkloadEndpoints{}, f.failDeploy
	}
	f.deployments = append(f.deployments, namespace)
	return domain.WorkloadEndpoints{
		URL:    "https://" + spec.Host,
		APIURL: "https://" + spec.Host + "/api",
	}, nil
}

func (f *fakeCluster) DeleteNamespace(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if _, ok := f.namespaces[name]; !ok {
		return domain.ErrNotFound
	}
	delete(f.namespaces, name)
	return nil
}

func (f *fakeCluster) NamespaceHealth(_ context.Context, name string) (domain.NamespaceHealth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.namespaces[name]; !ok {
		return domain.NamespaceHealth{}, domain.ErrNotFound
	}
	return domain.NamespaceHealth{PodsTotal: 1, PodsReady: 1, Healthy: true}, nil
}

func (f *fakeCluster) IngressAddress(_ context.Context) (string, error) {
	return f.ingressAddress, nil
}

type fakeDNS struct {
	mu          sync.Mutex
	records     map[string]string // fqdn -> target
	deleteCalls int
	failUpsert  error
	propagation error
}

func newFakeDNS() *fakeDNS {
	return &fakeDNS{records: make(map[string]string)}
}

func (f *fakeDNS) UpsertRecord(_ context.Context, fqdn, target, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert != nil {
		return "", f.failUpsert
	}
	f.records[fqdn] = target
	return "change-" + fqdn, nil
}

func (f *fakeDNS) AwaitPropagation(_ context.Context, _ string, _ time.Duration) error {
	return f.propagation
}

func (f *fakeDNS) DeleteRecord(_ context.Context, fqdn, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if _, ok := f.records[fqdn]; !ok {
		return domain.ErrNotFound
	}
	delete(f.records, fqdn)
	return nil
}

func (f *fakeDNS) Resolve(_ context.Context, fqdn string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.records[fqdn]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return []string{target}, nil
}

// --- Transition validator ---

// tableValidator applies domain.Transitions directly, without the FSM
// adapter, to keep app tests dependency-free.
type tableValidator struct{}

func (tableValidator) Apply(_ context.Context, current domain.Status, event domain.Event) (domain.Status, error) {
	for _, tr := range domain.Transitions {
		if tr.Event == event && tr.Src == current {
			return tr.Dst, nil
		}
	}
	return "", &domain.TransitionError{Event: event, Current: current}
}

// --- Enqueuer ---

type recordingEnqueuer struct {
	mu      sync.Mutex
	entries []enqueued
	fail    error
}

type enqueued struct {
	instanceID string
	intake     domain.Intake
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, instanceID string, intake domain.Intake) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.entries = append(r.entries, enqueued{instanceID: instanceID, intake: intake})
	return nil
}
