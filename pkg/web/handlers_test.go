package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signonhq/signon/pkg/authflow"
	"github.com/signonhq/signon/pkg/directory"
	"github.com/signonhq/signon/pkg/idp"
	"github.com/signonhq/signon/pkg/observability"
	"github.com/signonhq/signon/pkg/session"
)

// stubClient hands out one canned exchange result.
type stubClient struct {
	result idp.TokenResult
}

func (c *stubClient) AuthCodeURL(state string) string {
	return "https://login.example.com/authorize?state=" + state
}

func (c *stubClient) Exchange(_ context.Context, code string, _ *idp.TokenCache) idp.TokenResult {
	if code != "good-code" {
		return idp.TokenResult{Err: &idp.ProviderError{Code: "invalid_grant"}}
	}
	return c.result
}

// stubDirectory covers the tenant, account and reader interfaces.
type stubDirectory struct {
	mu       sync.Mutex
	tenants  map[string]*directory.Tenant
	accounts map[int64]*directory.Account
	byOID    map[string]*directory.Account
	byName   map[string]*directory.Account
	nextID   int64
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		tenants:  make(map[string]*directory.Tenant),
		accounts: make(map[int64]*directory.Account),
		byOID:    make(map[string]*directory.Account),
		byName:   make(map[string]*directory.Account),
	}
}

func (d *stubDirectory) GetTenant(_ context.Context, tenantID string) (*directory.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tenants[tenantID]; ok {
		return t, nil
	}
	return nil, directory.ErrNotFound
}

func (d *stubDirectory) EnsureTenant(_ context.Context, tenantID, name string) (*directory.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tenants[tenantID]; ok {
		return t, nil
	}
	d.nextID++
	t := &directory.Tenant{ID: d.nextID, TenantID: tenantID, Name: name, Active: true}
	d.tenants[tenantID] = t
	return t, nil
}

func (d *stubDirectory) GetAccountBySubject(_ context.Context, subjectID string) (*directory.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.byOID[subjectID]; ok {
		return a, nil
	}
	return nil, directory.ErrNotFound
}

func (d *stubDirectory) GetAccountByUsername(_ context.Context, username string) (*directory.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.byName[username]; ok {
		return a, nil
	}
	return nil, directory.ErrNotFound
}

func (d *stubDirectory) CreateAccount(_ context.Context, na directory.NewAccount, subjectID string, _ int64) (*directory.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.byName[na.Username]; taken {
		return nil, directory.ErrConflict
	}
	d.nextID++
	a := &directory.Account{
		ID: d.nextID, Username: na.Username, Email: na.Email,
		FirstName: na.FirstName, LastName: na.LastName, Active: true,
	}
	d.accounts[a.ID] = a
	d.byName[na.Username] = a
	d.byOID[subjectID] = a
	return a, nil
}

func (d *stubDirectory) UpdateIdentityTenant(_ context.Context, _ string, _ int64) error {
	return nil
}

func (d *stubDirectory) GetAccount(_ context.Context, id int64) (*directory.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.accounts[id]; ok {
		return a, nil
	}
	return nil, directory.ErrNotFound
}

type webHarness struct {
	handler *Handler
	router  http.Handler
	store   *session.MemoryStore
	dir     *stubDirectory
}

func newWebHarness(t *testing.T, cfgMut func(*Config)) *webHarness {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	dir := newStubDirectory()
	store := session.NewMemoryStore(time.Hour)

	client := &stubClient{result: idp.TokenResult{Claims: idp.Claims{
		"tid":                "tid-1",
		"oid":                "oid-1",
		"name":               "Jane Doe",
		"preferred_username": "jdoe@example.com",
	}}}

	coordinator := authflow.NewCoordinator(
		client,
		authflow.NewTenantValidator(dir, false, nil, logger),
		authflow.NewProvisioner(dir, nil, logger),
		nil,
		nil,
		logger,
	)

	cfg := Config{
		AppName:           "Signon",
		LoginPath:         "/auth/login",
		AuthorizePath:     "/auth/authorize",
		CallbackPath:      "/auth/callback",
		LandingPath:       "/auth/landing",
		LogoutPath:        "/auth/logout",
		RedirectFieldName: "next",
		SessionTTL:        time.Hour,
	}
	if cfgMut != nil {
		cfgMut(&cfg)
	}

	handler, err := NewHandler(cfg, coordinator, store, dir, logger)
	require.NoError(t, err)

	return &webHarness{
		handler: handler,
		router:  NewRouter(handler, logger, nil),
		store:   store,
		dir:     dir,
	}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	return nil
}

// signIn walks authorize then callback and returns the session cookie.
func (h *webHarness) signIn(t *testing.T) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/authorize", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	cookie := sessionCookie(t, rec)
	require.NotNil(t, cookie)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+state+"&code=good-code", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/auth/landing", rec.Header().Get("Location"))

	return cookie
}

func TestLoginPageRendersSignInLink(t *testing.T) {
	h := newWebHarness(t, nil)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/auth/authorize")
	assert.NotNil(t, sessionCookie(t, rec), "login must establish a session cookie")
}

func TestLoginPageShowsPendingErrorOnce(t *testing.T) {
	ctx := context.Background()
	h := newWebHarness(t, nil)

	flow := session.NewFlow(h.store, "sid-err")
	require.NoError(t, flow.SetAuthError(ctx, session.AuthError{Code: "access_denied", Description: "user declined consent"}))

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sid-err"})
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Contains(t, rec.Body.String(), "access_denied")
	assert.Contains(t, rec.Body.String(), "user declined consent")

	// Reload shows a clean page.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sid-err"})
	h.router.ServeHTTP(rec, req)
	assert.NotContains(t, rec.Body.String(), "access_denied")
}

func TestLoginRedirectsAuthenticatedSession(t *testing.T) {
	h := newWebHarness(t, nil)
	cookie := h.signIn(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/landing", rec.Header().Get("Location"))
}

func TestAuthorizeRedirectsToProvider(t *testing.T) {
	h := newWebHarness(t, nil)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/authorize?next=/reports", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.Contains(t, location, "https://login.example.com/authorize")
	assert.Contains(t, location, "state=")
}

func TestCallbackHonorsNextURL(t *testing.T) {
	h := newWebHarness(t, nil)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/authorize?next=%2Freports%2F42", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	cookie := sessionCookie(t, rec)
	require.NotNil(t, cookie)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+state+"&code=good-code", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/reports/42", rec.Header().Get("Location"))
}

func TestCallbackRejectionReturnsToLogin(t *testing.T) {
	h := newWebHarness(t, nil)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/authorize", nil))
	cookie := sessionCookie(t, rec)
	require.NotNil(t, cookie)

	// Forged state: the stored one is ignored.
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=forged&code=good-code", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get("Location"))

	flow := session.NewFlow(h.store, cookie.Value)
	authErr, found, err := flow.PopAuthError(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "csrf_mismatch", authErr.Code)
}

func TestLandingRequiresLogin(t *testing.T) {
	h := newWebHarness(t, nil)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/landing", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/auth/login", location.Path)
	assert.Equal(t, "/auth/landing", location.Query().Get("next"))
}

func TestLandingShowsAccount(t *testing.T) {
	h := newWebHarness(t, nil)
	cookie := h.signIn(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/landing", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jdoe@example.com")
}

func TestRequireLoginRejectsInactiveAccount(t *testing.T) {
	h := newWebHarness(t, nil)
	cookie := h.signIn(t)

	for _, a := range h.dir.accounts {
		a.Active = false
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/landing", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/auth/login", location.Path)

	// Following the redirect must land on the login page, not bounce back
	// to the landing page on the stale session.
	req = httptest.NewRequest(http.MethodGet, location.String(), nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/auth/authorize")

	flow := session.NewFlow(h.store, cookie.Value)
	id, err := flow.AccountID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestLogoutDestroysSession(t *testing.T) {
	h := newWebHarness(t, nil)
	cookie := h.signIn(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "signed out")

	cleared := sessionCookie(t, rec)
	require.NotNil(t, cleared)
	assert.Equal(t, "", cleared.Value)

	flow := session.NewFlow(h.store, cookie.Value)
	id, err := flow.AccountID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestLogoutChainsToProvider(t *testing.T) {
	h := newWebHarness(t, func(cfg *Config) {
		cfg.ProviderLogoutURL = "https://login.example.com/logout"
	})
	cookie := h.signIn(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://login.example.com/logout", rec.Header().Get("Location"))
}

func TestSafeNextBlocksAbsoluteURLs(t *testing.T) {
	h := newWebHarness(t, nil)

	tests := []struct {
		name string
		next string
		want string
	}{
		{"relative path allowed", "/reports", "/reports"},
		{"scheme-relative blocked", "//evil.example.com", ""},
		{"absolute blocked", "https://evil.example.com", ""},
		{"backslash trick blocked", "/\\evil.example.com", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/login?next="+url.QueryEscape(tt.next), nil)
			assert.Equal(t, tt.want, h.handler.safeNext(req))
		})
	}
}
