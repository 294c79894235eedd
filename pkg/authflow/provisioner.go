package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/signonhq/signon/pkg/directory"
	"github.com/signonhq/signon/pkg/idp"
	"github.com/signonhq/signon/pkg/observability"
)

// maxUsernameAttempts bounds the derivation loop so a pathological claim
// set cannot spin forever.
const maxUsernameAttempts = 20

// AccountStore is the slice of the directory the provisioner needs.
type AccountStore interface {
	GetAccountBySubject(ctx context.Context, subjectID string) (*directory.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*directory.Account, error)
	CreateAccount(ctx context.Context, na directory.NewAccount, subjectID string, tenantRef int64) (*directory.Account, error)
	UpdateIdentityTenant(ctx context.Context, subjectID string, tenantRef int64) error
}

// Provisioner resolves a provider subject to a local account, creating one
// on first sign-in. Provisioning is idempotent per subject ID.
type Provisioner struct {
	store   AccountStore
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewProvisioner builds a provisioner.
func NewProvisioner(store AccountStore, metrics *observability.Metrics, logger *observability.Logger) *Provisioner {
	return &Provisioner{store: store, metrics: metrics, logger: logger}
}

// Provision returns the account for a subject, creating it when unknown.
// created reports whether this call made the account. The tenant the
// subject signed in from is recorded on its identity either way.
func (p *Provisioner) Provision(ctx context.Context, subjectID string, tenant *directory.Tenant, claims idp.Claims) (account *directory.Account, created bool, err error) {
	account, err = p.store.GetAccountBySubject(ctx, subjectID)
	if err == nil {
		if tenant != nil {
			if err := p.store.UpdateIdentityTenant(ctx, subjectID, tenant.ID); err != nil {
				return nil, false, err
			}
		}
		return account, false, nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return nil, false, err
	}

	profile := ProfileFromClaims(claims)
	account, created, err = p.createAccount(ctx, subjectID, tenant, profile)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return account, false, nil
	}

	if p.metrics != nil {
		p.metrics.AccountsProvisionedTotal.Inc()
	}
	p.logger.WithFields(map[string]interface{}{
		"username": account.Username,
		"subject":  subjectID,
	}).Info("Provisioned new account")
	return account, true, nil
}

// createAccount derives a unique username and inserts the account. Taken
// usernames get a numeric suffix; each candidate is re-checked against the
// directory, and the uniqueness constraint is the final arbiter when two
// logins race on the same name. created is false when the conflict turns
// out to be on the subject itself and the account already exists.
func (p *Provisioner) createAccount(ctx context.Context, subjectID string, tenant *directory.Tenant, profile Profile) (*directory.Account, bool, error) {
	base := profile.PreferredUsername
	if base == "" {
		base = subjectID
	}

	var tenantRef int64
	if tenant != nil {
		tenantRef = tenant.ID
	}

	candidate := base
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		_, err := p.store.GetAccountByUsername(ctx, candidate)
		if err == nil {
			candidate = p.nextCandidate(base, attempt)
			continue
		}
		if !errors.Is(err, directory.ErrNotFound) {
			return nil, false, err
		}

		account, err := p.store.CreateAccount(ctx, directory.NewAccount{
			Username:          candidate,
			Email:             profile.Email,
			FirstName:         profile.FirstName,
			LastName:          profile.LastName,
			DisplayName:       profile.DisplayName,
			PreferredUsername: profile.PreferredUsername,
		}, subjectID, tenantRef)
		if errors.Is(err, directory.ErrConflict) {
			// The constraint also fires on the subject when two callbacks
			// race on the same first sign-in. The loser resolves to the
			// winner's account instead of burning username attempts.
			if existing, subErr := p.store.GetAccountBySubject(ctx, subjectID); subErr == nil {
				return existing, false, nil
			}
			candidate = p.nextCandidate(base, attempt)
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return account, true, nil
	}

	return nil, false, fmt.Errorf("failed to derive a unique username for %q after %d attempts", base, maxUsernameAttempts)
}

func (p *Provisioner) nextCandidate(base string, attempt int) string {
	if p.metrics != nil {
		p.metrics.UsernameRetriesTotal.Inc()
	}
	return fmt.Sprintf("%s_%d", base, attempt+1)
}
