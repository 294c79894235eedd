package directory

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("directory: not found")

	// ErrConflict is returned when an insert hits a uniqueness constraint.
	ErrConflict = errors.New("directory: conflict")
)

// Store provides directory persistence over database/sql. It supports the
// postgres and sqlite3 drivers; queries are written with $n placeholders and
// rebound for sqlite.
type Store struct {
	db     *sql.DB
	driver string
}

// NewStore wraps an open database handle. driver must match the handle's
// driver name ("postgres" or "sqlite3").
func NewStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// rebind rewrites $n placeholders to ? for sqlite. Queries keep their
// placeholders in argument order, so positional binding stays correct.
func (s *Store) rebind(query string) string {
	if s.driver == "sqlite3" {
		return placeholderRe.ReplaceAllString(query, "?")
	}
	return query
}

// isUniqueViolation reports whether err is a uniqueness-constraint failure
// on either supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetTenant fetches a tenant by its provider GUID.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	tenant := &Tenant{}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, tenant_id, name, active, created_at, updated_at
		FROM tenants
		WHERE tenant_id = $1
	`), tenantID).Scan(
		&tenant.ID, &tenant.TenantID, &tenant.Name, &tenant.Active,
		&tenant.CreatedAt, &tenant.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// CreateTenant inserts a new active tenant. A duplicate provider GUID
// returns ErrConflict.
func (s *Store) CreateTenant(ctx context.Context, tenantID, name string) (*Tenant, error) {
	tenant := &Tenant{TenantID: tenantID, Name: name, Active: true}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO tenants (tenant_id, name, active, created_at, updated_at)
		VALUES ($1, $2, TRUE, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at
	`), tenantID, name).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return tenant, nil
}

// EnsureTenant fetches a tenant, creating it when absent. A concurrent
// create is resolved by re-reading.
func (s *Store) EnsureTenant(ctx context.Context, tenantID, name string) (*Tenant, error) {
	tenant, err := s.GetTenant(ctx, tenantID)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tenant, err = s.CreateTenant(ctx, tenantID, name)
	if errors.Is(err, ErrConflict) {
		return s.GetTenant(ctx, tenantID)
	}
	return tenant, err
}

// GetAccountBySubject finds the account linked to a provider subject ID.
func (s *Store) GetAccountBySubject(ctx context.Context, subjectID string) (*Account, error) {
	account := &Account{}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT a.id, a.username, a.email, a.first_name, a.last_name, a.active, a.created_at
		FROM accounts a
		JOIN federated_identities i ON i.account_id = a.id
		WHERE i.subject_id = $1
	`), subjectID).Scan(
		&account.ID, &account.Username, &account.Email,
		&account.FirstName, &account.LastName, &account.Active, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by subject: %w", err)
	}
	return account, nil
}

// GetAccountByUsername fetches an account by its username.
func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	account := &Account{}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, username, email, first_name, last_name, active, created_at
		FROM accounts
		WHERE username = $1
	`), username).Scan(
		&account.ID, &account.Username, &account.Email,
		&account.FirstName, &account.LastName, &account.Active, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by username: %w", err)
	}
	return account, nil
}

// CreateAccount inserts an account and its federated identity link in one
// transaction. tenantRef may be 0 when the tenant is not tracked. A
// username or subject collision returns ErrConflict so the caller can
// re-derive and retry.
func (s *Store) CreateAccount(ctx context.Context, na NewAccount, subjectID string, tenantRef int64) (*Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	account := &Account{
		Username:  na.Username,
		Email:     na.Email,
		FirstName: na.FirstName,
		LastName:  na.LastName,
		Active:    true,
	}
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO accounts (username, email, first_name, last_name, password_hash, active, created_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, CURRENT_TIMESTAMP)
		RETURNING id, created_at
	`), na.Username, na.Email, na.FirstName, na.LastName, unusablePassword()).Scan(
		&account.ID, &account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO federated_identities (account_id, subject_id, name, preferred_username, tenant_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`), account.ID, nullString(subjectID), na.DisplayName, na.PreferredUsername, nullInt64(tenantRef))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create federated identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit account creation: %w", err)
	}
	return account, nil
}

// UpdateIdentityTenant records the tenant a subject last signed in from.
func (s *Store) UpdateIdentityTenant(ctx context.Context, subjectID string, tenantRef int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE federated_identities
		SET tenant_ref = $1, updated_at = CURRENT_TIMESTAMP
		WHERE subject_id = $2
	`), nullInt64(tenantRef), subjectID)
	if err != nil {
		return fmt.Errorf("failed to update identity tenant: %w", err)
	}
	return nil
}

// LinkAccount attaches a provider subject to an existing account, recording
// the directory's display name and login hint alongside it. Used by the
// backfill linker. A subject already linked elsewhere returns ErrConflict.
func (s *Store) LinkAccount(ctx context.Context, accountID int64, subjectID, name, preferredUsername string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE federated_identities
		SET subject_id = $1, name = $2, preferred_username = $3, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = $4 AND subject_id IS NULL
	`), subjectID, name, preferredUsername, accountID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to link account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check link result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetIdentity fetches the federated identity row for an account.
func (s *Store) GetIdentity(ctx context.Context, accountID int64) (*Identity, error) {
	identity := &Identity{}
	var subject sql.NullString
	var tenantRef sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, account_id, subject_id, name, preferred_username, tenant_ref, created_at, updated_at
		FROM federated_identities
		WHERE account_id = $1
	`), accountID).Scan(
		&identity.ID, &identity.AccountID, &subject,
		&identity.Name, &identity.PreferredUsername, &tenantRef,
		&identity.CreatedAt, &identity.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	identity.SubjectID = subject.String
	identity.TenantRef = tenantRef.Int64
	return identity, nil
}

// ListUnlinkedAccounts returns active accounts whose identity row has no
// provider subject yet.
func (s *Store) ListUnlinkedAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT a.id, a.username, a.email, a.first_name, a.last_name, a.active, a.created_at
		FROM accounts a
		JOIN federated_identities i ON i.account_id = a.id
		WHERE i.subject_id IS NULL AND a.active = TRUE
		ORDER BY a.username
	`))
	if err != nil {
		return nil, fmt.Errorf("failed to list unlinked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		account := &Account{}
		if err := rows.Scan(
			&account.ID, &account.Username, &account.Email,
			&account.FirstName, &account.LastName, &account.Active, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// GetAccount fetches an account by its primary key.
func (s *Store) GetAccount(ctx context.Context, id int64) (*Account, error) {
	account := &Account{}
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, username, email, first_name, last_name, active, created_at
		FROM accounts
		WHERE id = $1
	`), id).Scan(
		&account.ID, &account.Username, &account.Email,
		&account.FirstName, &account.LastName, &account.Active, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// unusablePassword returns a marker hash that can never verify. The leading
// "!" keeps it outside every hash scheme's format.
func unusablePassword() string {
	buf := make([]byte, 30)
	if _, err := rand.Read(buf); err != nil {
		return "!"
	}
	return "!" + base64.RawURLEncoding.EncodeToString(buf)
}
