package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/provisioniq/internal/domain"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// InstanceRepository implements domain.InstanceRepository using SQLite.
type InstanceRepository struct {
	db *sql.DB
}

// Compile-time check: InstanceRepository implements domain.InstanceRepository.
var _ domain.InstanceRepository = (*InstanceRepository)(nil)

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string) (*InstanceRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and
// returns a ready repository. Use this when the *sql.DB has been
// pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*InstanceRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &InstanceRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *InstanceRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (r *InstanceRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const timeFormat = "2006-01-02T15:04:05.999999999Z"

const instanceColumns = `id, name, slug, status, stage, owner_email, owner_name, plan,
	trial_ends_at, database_dsn, namespace, dns_record_id, endpoint, failure_message,
	request_id, creator_id, created_at, updated_at, activated_at, suspended_at,
	terminated_at, last_health_check_at`

func (r *InstanceRepository) Create(ctx context.Context, inst domain.Instance) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO instances (`+instanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.Name, inst.Slug, string(inst.Status), string(inst.Stage),
		inst.OwnerEmail, inst.OwnerName, inst.Plan,
		formatNullableTime(inst.TrialEndsAt),
		inst.DatabaseDSN, inst.Namespace, inst.DNSRecordID, inst.Endpoint, inst.FailureMessage,
		inst.RequestID, inst.CreatorID,
		inst.CreatedAt.Format(timeFormat),
		inst.UpdatedAt.Format(timeFormat),
		formatNullableTime(inst.ActivatedAt),
		formatNullableTime(inst.SuspendedAt),
		formatNullableTime(inst.TerminatedAt),
		formatNullableTime(inst.LastHealthCheckAt),
	)
	if err != nil {
		return r.mapUniqueViolation(ctx, err, inst)
	}
	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (domain.Instance, error) {
	return r.scanInstance(r.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id,
	))
}

func (r *InstanceRepository) GetBySlug(ctx context.Context, slug string) (domain.Instance, error) {
	return r.scanInstance(r.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances
		 WHERE slug = ? AND status != ?`, slug, string(domain.StatusTerminated),
	))
}

func (r *InstanceRepository) GetByRequestID(ctx context.Context, requestID string) (domain.Instance, error) {
	return r.scanInstance(r.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE request_id = ?`, requestID,
	))
}

func (r *InstanceRepository) List(ctx context.Context, filter domain.ListFilter) ([]domain.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances`
	var args []any

	if filter.Status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*filter.Status))
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET; -1 means unbounded.
		query += ` LIMIT -1`
	}

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.Instance
	for rows.Next() {
		inst, err := r.scanInstanceFromRows(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}

func (r *InstanceRepository) Update(ctx context.Context, inst domain.Instance) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE instances SET
			name = ?, slug = ?, status = ?, stage = ?, owner_email = ?, owner_name = ?,
			plan = ?, trial_ends_at = ?, database_dsn = ?, namespace = ?, dns_record_id = ?,
			endpoint = ?, failure_message = ?, updated_at = ?, activated_at = ?,
			suspended_at = ?, terminated_at = ?, last_health_check_at = ?
		 WHERE id = ?`,
		inst.Name, inst.Slug, string(inst.Status), string(inst.Stage),
		inst.OwnerEmail, inst.OwnerName,
		inst.Plan, formatNullableTime(inst.TrialEndsAt),
		inst.DatabaseDSN, inst.Namespace, inst.DNSRecordID,
		inst.Endpoint, inst.FailureMessage,
		time.Now().UTC().Format(timeFormat),
		formatNullableTime(inst.ActivatedAt),
		formatNullableTime(inst.SuspendedAt),
		formatNullableTime(inst.TerminatedAt),
		formatNullableTime(inst.LastHealthCheckAt),
		inst.ID,
	)
	if err != nil {
		return r.mapUniqueViolation(ctx, err, inst)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrInstanceNotFound
	}

	return nil
}

// mapUniqueViolation translates SQLite UNIQUE errors to the domain error
// matching the violated index: the slug race and the request-id
// idempotency guard surface as distinct, recoverable conditions.
func (r *InstanceRepository) mapUniqueViolation(ctx context.Context, err error, inst domain.Instance) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("writing instance: %w", err)
	}

	if strings.Contains(msg, "instances.request_id") {
		existingID := ""
		if existing, lookupErr := r.GetByRequestID(ctx, inst.RequestID); lookupErr == nil {
			existingID = existing.ID
		}
		return &domain.RequestConflictError{RequestID: inst.RequestID, InstanceID: existingID}
	}

	return &domain.SlugConflictError{Slug: inst.Slug}
}

func (r *InstanceRepository) scanInstance(row *sql.Row) (domain.Instance, error) {
	inst, err := scanFrom(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Instance{}, domain.ErrInstanceNotFound
		}
		return domain.Instance{}, fmt.Errorf("scanning instance: %w", err)
	}
	return inst, nil
}

func (r *InstanceRepository) scanInstanceFromRows(rows *sql.Rows) (domain.Instance, error) {
	inst, err := scanFrom(rows.Scan)
	if err != nil {
		return domain.Instance{}, fmt.Errorf("scanning instance row: %w", err)
	}
	return inst, nil
}

func scanFrom(scan func(...any) error) (domain.Instance, error) {
	var inst domain.Instance
	var status, stage, createdAt, updatedAt string
	var trialEndsAt, activatedAt, suspendedAt, terminatedAt, lastHealthCheckAt sql.NullString

	err := scan(
		&inst.ID, &inst.Name, &inst.Slug, &status, &stage,
		&inst.OwnerEmail, &inst.OwnerName, &inst.Plan,
		&trialEndsAt,
		&inst.DatabaseDSN, &inst.Namespace, &inst.DNSRecordID, &inst.Endpoint, &inst.FailureMessage,
		&inst.RequestID, &inst.CreatorID,
		&createdAt, &updatedAt,
		&activatedAt, &suspendedAt, &terminatedAt, &lastHealthCheckAt,
	)
	if err != nil {
		return domain.Instance{}, err
	}

	inst.Status = domain.Status(status)
	inst.Stage = domain.Stage(stage)
	inst.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	inst.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	inst.TrialEndsAt = parseNullableTime(trialEndsAt)
	inst.ActivatedAt = parseNullableTime(activatedAt)
	inst.SuspendedAt = parseNullableTime(suspendedAt)
	inst.TerminatedAt = parseNullableTime(terminatedAt)
	inst.LastHealthCheckAt = parseNullableTime(lastHealthCheckAt)

	return inst, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(timeFormat)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil
	}
	return &t
}
