package directory

import "time"

// Tenant is an identity-provider tenant known to the directory. TenantID is
// the provider's GUID; Active gates whether its users may sign in.
type Tenant struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Account is a local user record. The password hash is an unusable
// placeholder; accounts authenticate through the identity provider only.
type Account struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity links an account to its provider subject. SubjectID is empty for
// accounts created before federation; the linker backfills those. Name and
// PreferredUsername hold the provider's display name and login hint as seen
// at provisioning or linking time.
type Identity struct {
	ID                int64     `json:"id"`
	AccountID         int64     `json:"account_id"`
	SubjectID         string    `json:"subject_id,omitempty"`
	Name              string    `json:"name,omitempty"`
	PreferredUsername string    `json:"preferred_username,omitempty"`
	TenantRef         int64     `json:"tenant_ref,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewAccount carries the fields for account creation. The username must
// already be unique-checked by the caller; the store's constraint is the
// final arbiter. DisplayName and PreferredUsername land on the federated
// identity, not the account row.
type NewAccount struct {
	Username  string
	Email     string
	FirstName string
	LastName  string

	DisplayName       string
	PreferredUsername string
}
