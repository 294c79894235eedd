package authflow

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/signonhq/signon/pkg/directory"
	"github.com/signonhq/signon/pkg/idp"
	"github.com/signonhq/signon/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// fakeDirectory is an in-memory stand-in for the directory store. It
// enforces the same uniqueness rules as the real schema.
type fakeDirectory struct {
	mu         sync.Mutex
	tenants    map[string]*directory.Tenant
	bySubject  map[string]*directory.Account
	byName     map[string]*directory.Account
	tenantOf   map[string]int64
	identities map[string]directory.Identity
	nextID     int64

	// conflictOnce forces one ErrConflict for a username even after the
	// availability probe said it was free, simulating a lost race.
	conflictOnce map[string]bool

	// beforeCreate runs inside CreateAccount ahead of the uniqueness
	// checks, once, so a test can interleave a competing write.
	beforeCreate func(f *fakeDirectory)
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		tenants:      make(map[string]*directory.Tenant),
		bySubject:    make(map[string]*directory.Account),
		byName:       make(map[string]*directory.Account),
		tenantOf:     make(map[string]int64),
		identities:   make(map[string]directory.Identity),
		conflictOnce: make(map[string]bool),
	}
}

func (f *fakeDirectory) addTenant(tenantID, name string, active bool) *directory.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	tenant := &directory.Tenant{ID: f.nextID, TenantID: tenantID, Name: name, Active: active}
	f.tenants[tenantID] = tenant
	return tenant
}

func (f *fakeDirectory) GetTenant(_ context.Context, tenantID string) (*directory.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tenant, ok := f.tenants[tenantID]; ok {
		return tenant, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) EnsureTenant(_ context.Context, tenantID, name string) (*directory.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tenant, ok := f.tenants[tenantID]; ok {
		return tenant, nil
	}
	f.nextID++
	tenant := &directory.Tenant{ID: f.nextID, TenantID: tenantID, Name: name, Active: true}
	f.tenants[tenantID] = tenant
	return tenant, nil
}

func (f *fakeDirectory) GetAccountBySubject(_ context.Context, subjectID string) (*directory.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account, ok := f.bySubject[subjectID]; ok {
		return account, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) GetAccountByUsername(_ context.Context, username string) (*directory.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account, ok := f.byName[username]; ok {
		return account, nil
	}
	return nil, directory.ErrNotFound
}

func (f *fakeDirectory) CreateAccount(_ context.Context, na directory.NewAccount, subjectID string, tenantRef int64) (*directory.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.beforeCreate != nil {
		hook := f.beforeCreate
		f.beforeCreate = nil
		hook(f)
	}

	if f.conflictOnce[na.Username] {
		delete(f.conflictOnce, na.Username)
		return nil, directory.ErrConflict
	}
	if _, taken := f.byName[na.Username]; taken {
		return nil, directory.ErrConflict
	}
	if _, taken := f.bySubject[subjectID]; taken && subjectID != "" {
		return nil, directory.ErrConflict
	}

	f.nextID++
	account := &directory.Account{
		ID:        f.nextID,
		Username:  na.Username,
		Email:     na.Email,
		FirstName: na.FirstName,
		LastName:  na.LastName,
		Active:    true,
	}
	f.byName[na.Username] = account
	if subjectID != "" {
		f.bySubject[subjectID] = account
		f.tenantOf[subjectID] = tenantRef
		f.identities[subjectID] = directory.Identity{
			AccountID:         account.ID,
			SubjectID:         subjectID,
			Name:              na.DisplayName,
			PreferredUsername: na.PreferredUsername,
			TenantRef:         tenantRef,
		}
	}
	return account, nil
}

func (f *fakeDirectory) UpdateIdentityTenant(_ context.Context, subjectID string, tenantRef int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenantOf[subjectID] = tenantRef
	return nil
}

// fakeIDPClient returns canned exchange results keyed by code. Codes are
// single-use, mirroring the provider.
type fakeIDPClient struct {
	mu       sync.Mutex
	results  map[string]idp.TokenResult
	redeemed map[string]bool
}

func newFakeIDPClient() *fakeIDPClient {
	return &fakeIDPClient{
		results:  make(map[string]idp.TokenResult),
		redeemed: make(map[string]bool),
	}
}

func (c *fakeIDPClient) allow(code string, result idp.TokenResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[code] = result
}

func (c *fakeIDPClient) AuthCodeURL(state string) string {
	return "https://login.example.com/authorize?state=" + state
}

func (c *fakeIDPClient) Exchange(_ context.Context, code string, cache *idp.TokenCache) idp.TokenResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.redeemed[code] {
		return idp.TokenResult{Err: &idp.ProviderError{Code: "invalid_grant", Description: "code already redeemed"}}
	}
	result, ok := c.results[code]
	if !ok {
		return idp.TokenResult{Err: &idp.ProviderError{Code: "invalid_grant", Description: fmt.Sprintf("unknown code %q", code)}}
	}
	c.redeemed[code] = true
	return result
}

// fakeNotifier records provisioned accounts.
type fakeNotifier struct {
	mu       sync.Mutex
	accounts []*directory.Account
}

func (n *fakeNotifier) AccountProvisioned(account *directory.Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts = append(n.accounts, account)
}

func (n *fakeNotifier) provisioned() []*directory.Account {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*directory.Account(nil), n.accounts...)
}
