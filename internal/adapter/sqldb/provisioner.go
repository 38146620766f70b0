// Package sqldb provisions per-instance application databases. Each
// instance gets its own SQLite file with the application schema applied
// and an owner account seeded.
package sqldb

import (
	"context"
	"crypto/rand"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/neomorfeo/provisioniq/internal/app"
	"github.com/neomorfeo/provisioniq/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

const passwordLength = 24

// Provisioner implements domain.DatabaseProvisioner with one SQLite file
// per instance. Connection pools are held in a registry keyed by DSN and
// closed explicitly when the database is deleted or the provisioner shuts
// down.
type Provisioner struct {
	dir string

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// Compile-time check: Provisioner implements domain.DatabaseProvisioner.
var _ domain.DatabaseProvisioner = (*Provisioner)(nil)

// New creates a provisioner storing databases under dir.
func New(dir string) (*Provisioner, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	return &Provisioner{dir: dir, pools: make(map[string]*sql.DB)}, nil
}

// Provision creates the database file for instanceKey and generates its
// credentials. Provisioning the same key again reuses the existing file.
func (p *Provisioner) Provision(ctx context.Context, instanceKey string) (domain.DatabaseResource, error) {
	dsn := p.dsnFor(instanceKey)

	db, err := p.pool(dsn)
	if err != nil {
		return domain.DatabaseResource{}, err
	}
	if err := db.PingContext(ctx); err != nil {
		return domain.DatabaseResource{}, fmt.Errorf("creating database for %s: %w", instanceKey, err)
	}

	password, err := app.GeneratePassword(passwordLength, app.DatabasePasswordOptions)
	if err != nil {
		return domain.DatabaseResource{}, fmt.Errorf("generating database password: %w", err)
	}

	return domain.DatabaseResource{
		DSN: dsn,
		Credentials: domain.DatabaseCredentials{
			Username: "app_" + strings.ReplaceAll(instanceKey, "-", "_"),
			Password: password,
		},
	}, nil
}

// InitializeSchema applies the application schema to the database. The
// migrations are idempotent, so re-running is safe.
func (p *Provisioner) InitializeSchema(ctx context.Context, dsn string) error {
	db, err := p.pool(dsn)
	if err != nil {
		return err
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("resolving migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	return nil
}

// CreateOwnerPrincipal seeds the owner account. The password is stored
// bcrypt-hashed. Seeding the same owner twice is a no-op.
func (p *Provisioner) CreateOwnerPrincipal(ctx context.Context, dsn string, owner domain.OwnerPrincipal) error {
	db, err := p.pool(dsn)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(owner.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing owner password: %w", err)
	}

	id, err := randomID()
	if err != nil {
		return fmt.Errorf("generating owner id: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, created_at)
		 VALUES (?, ?, ?, ?, 'owner', ?)
		 ON CONFLICT (email) DO NOTHING`,
		id, owner.Email, owner.Name, string(hash), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("seeding owner account: %w", err)
	}

	return nil
}

// Delete closes the pool and removes the database file. Returns
// domain.ErrNotFound when the file is already gone.
func (p *Provisioner) Delete(ctx context.Context, dsn string) error {
	p.mu.Lock()
	if db, ok := p.pools[dsn]; ok {
		db.Close()
		delete(p.pools, dsn)
	}
	p.mu.Unlock()

	path := filePath(dsn)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("removing database file: %w", err)
	}

	// WAL side files are best-effort.
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")

	return nil
}

// HealthCheck reports whether the database responds to a ping.
func (p *Provisioner) HealthCheck(ctx context.Context, dsn string) (bool, error) {
	db, err := p.pool(dsn)
	if err != nil {
		return false, err
	}
	if err := db.PingContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases every pooled connection.
func (p *Provisioner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for dsn, db := range p.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.pools, dsn)
	}
	return firstErr
}

func (p *Provisioner) dsnFor(instanceKey string) string {
	return "file:" + filepath.Join(p.dir, instanceKey+".db") + "?mode=rwc"
}

func (p *Provisioner) pool(dsn string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.pools[dsn]; ok {
		return db, nil
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	p.pools[dsn] = db
	return db, nil
}

func filePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
