package authflow

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/signonhq/signon/pkg/directory"
	"github.com/signonhq/signon/pkg/idp"
	"github.com/signonhq/signon/pkg/observability"
)

// Standard claim names carried by the identity token.
const (
	claimTenantID          = "tid"
	claimSubjectID         = "oid"
	claimDisplayName       = "name"
	claimPreferredUsername = "preferred_username"
)

// TenantStore is the slice of the directory the validator needs.
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (*directory.Tenant, error)
	EnsureTenant(ctx context.Context, tenantID, name string) (*directory.Tenant, error)
}

// TenantValidator admits or rejects sign-ins by tenant.
//
// Restricted mode only admits tenants that already exist and are active;
// it never creates one. Unrestricted mode records tenants lazily on first
// sight, named by their GUID until an operator renames them, and admits
// them without an active check. An existing inactive tenant is returned
// as-is in unrestricted mode, never reactivated.
type TenantValidator struct {
	store    TenantStore
	restrict bool
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewTenantValidator builds a validator. restrict selects restricted mode.
func NewTenantValidator(store TenantStore, restrict bool, metrics *observability.Metrics, logger *observability.Logger) *TenantValidator {
	return &TenantValidator{store: store, restrict: restrict, metrics: metrics, logger: logger}
}

// Admit resolves the tid claim to a directory tenant. A nil Rejection with
// a nil error means the tenant was admitted.
func (v *TenantValidator) Admit(ctx context.Context, claims idp.Claims) (*directory.Tenant, *Rejection, error) {
	tenantID := claims.String(claimTenantID)
	if tenantID == "" {
		return nil, Reject(CodeMissingTenant, "identity token carried no tenant ID"), nil
	}

	if v.restrict {
		tenant, err := v.store.GetTenant(ctx, tenantID)
		if errors.Is(err, directory.ErrNotFound) {
			return nil, Reject(CodeInvalidTenant, "tenant is not allowed to sign in"), nil
		}
		if err != nil {
			return nil, nil, err
		}
		if !tenant.Active {
			return nil, Reject(CodeInvalidTenant, "tenant is not allowed to sign in"), nil
		}
		return tenant, nil, nil
	}

	existing, err := v.store.GetTenant(ctx, tenantID)
	if err == nil {
		return existing, nil, nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return nil, nil, err
	}

	tenant, err := v.store.EnsureTenant(ctx, tenantID, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if v.metrics != nil {
		v.metrics.TenantsCreatedTotal.Inc()
	}
	v.logger.WithField("tenant", tenantID).Info("Recorded new tenant")
	return tenant, nil, nil
}

// ValidateSubject extracts the provider subject ID from the claims.
func ValidateSubject(claims idp.Claims) (string, *Rejection) {
	subjectID := claims.String(claimSubjectID)
	if subjectID == "" {
		return "", Reject(CodeMissingSubject, "identity token carried no subject ID")
	}
	return subjectID, nil
}

// Profile is the account-shaping subset of the claims.
type Profile struct {
	PreferredUsername string
	DisplayName       string
	FirstName         string
	LastName          string
	Email             string
}

// ProfileFromClaims derives account fields from the claims. The display
// name splits on the first space; the email is only taken from the
// preferred username when it parses as an address.
func ProfileFromClaims(claims idp.Claims) Profile {
	profile := Profile{
		PreferredUsername: claims.String(claimPreferredUsername),
		DisplayName:       claims.String(claimDisplayName),
	}

	if profile.DisplayName != "" {
		parts := strings.SplitN(profile.DisplayName, " ", 2)
		profile.FirstName = parts[0]
		if len(parts) > 1 {
			profile.LastName = parts[1]
		}
	}

	if addr, err := mail.ParseAddress(profile.PreferredUsername); err == nil {
		profile.Email = addr.Address
	}

	return profile
}
