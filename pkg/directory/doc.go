// Package directory persists tenants, accounts, and their federated
// identity links.
//
// # Overview
//
// Store runs over database/sql with either the postgres or sqlite3 driver.
// Sqlite is meant for development; queries are written once with $n
// placeholders and rebound for sqlite.
//
// The one structural rule: every account has exactly one identity row, and
// a provider subject links to at most one account. Both are enforced by
// uniqueness constraints, and CreateAccount surfaces violations as
// ErrConflict so provisioning can retry with a different username instead
// of failing the login.
//
// # Usage Example
//
//	db, err := sql.Open("postgres", cfg.Directory.DSN)
//	if err != nil {
//		return err
//	}
//	store := directory.NewStore(db, "postgres")
//	if err := store.EnsureSchema(ctx); err != nil {
//		return err
//	}
//	tenant, err := store.EnsureTenant(ctx, cfg.Auth.PrimaryTenantID, cfg.Auth.PrimaryTenantName)
//
// # Related Packages
//
//   - pkg/authflow: Admits tenants and provisions accounts through Store
//   - cmd/signon-linker: Backfills subject IDs for pre-federation accounts
package directory
