package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/signonhq/signon/pkg/authflow"
	"github.com/signonhq/signon/pkg/directory"
	"github.com/signonhq/signon/pkg/observability"
	"github.com/signonhq/signon/pkg/session"
)

// AccountReader fetches accounts for page rendering.
type AccountReader interface {
	GetAccount(ctx context.Context, id int64) (*directory.Account, error)
}

// Config holds the handler routes and cookie policy.
type Config struct {
	AppName           string
	LoginPath         string
	AuthorizePath     string
	CallbackPath      string
	LandingPath       string
	LogoutPath        string
	RedirectFieldName string

	// ProviderLogoutURL, when set, is where the browser is sent after the
	// local session is destroyed so the provider session ends too.
	ProviderLogoutURL string

	// CookieName overrides the default session cookie name.
	CookieName    string
	SessionTTL    time.Duration
	SecureCookies bool
}

// Handler serves the sign-in pages and flow endpoints.
type Handler struct {
	cfg         Config
	coordinator *authflow.Coordinator
	store       session.Store
	accounts    AccountReader
	templates   *templates
	logger      *observability.Logger
}

// NewHandler builds the HTTP layer over the flow coordinator.
func NewHandler(cfg Config, coordinator *authflow.Coordinator, store session.Store, accounts AccountReader, logger *observability.Logger) (*Handler, error) {
	t, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Handler{
		cfg:         cfg,
		coordinator: coordinator,
		store:       store,
		accounts:    accounts,
		templates:   t,
		logger:      logger,
	}, nil
}

// Login renders the sign-in page. A pending one-shot error payload from a
// failed callback is shown once and cleared.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid, err := h.sessionID(w, r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	flow := session.NewFlow(h.store, sid)

	if accountID, err := flow.AccountID(ctx); err == nil && accountID != 0 {
		http.Redirect(w, r, h.cfg.LandingPath, http.StatusFound)
		return
	}

	authErr, found, err := flow.PopAuthError(ctx)
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	authorizeURL := h.cfg.AuthorizePath
	if next := h.safeNext(r); next != "" {
		authorizeURL += "?" + h.cfg.RedirectFieldName + "=" + url.QueryEscape(next)
	}

	data := struct {
		AppName      string
		AuthorizeURL string
		Error        *session.AuthError
	}{
		AppName:      h.cfg.AppName,
		AuthorizeURL: authorizeURL,
	}
	if found {
		data.Error = &authErr
	}
	render(w, h.logger, h.templates.login, data)
}

// Authorize starts the flow and redirects to the provider.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid, err := h.sessionID(w, r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	flow := session.NewFlow(h.store, sid)

	authURL, err := h.coordinator.Initiate(ctx, flow, h.safeNext(r))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback finishes the flow. Rejections land the user back on the login
// page; only infrastructure failures surface as a 500.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid, err := h.sessionID(w, r)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	flow := session.NewFlow(h.store, sid)

	query := r.URL.Query()
	result, err := h.coordinator.HandleCallback(ctx, flow, authflow.CallbackParams{
		State:            query.Get("state"),
		Code:             query.Get("code"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	})
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	if result.Rejection != nil {
		http.Redirect(w, r, h.cfg.LoginPath, http.StatusFound)
		return
	}

	next := result.NextURL
	if next == "" {
		next = h.cfg.LandingPath
	}
	http.Redirect(w, r, next, http.StatusFound)
}

// Landing shows the signed-in page.
func (h *Handler) Landing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account, ok := AccountFromContext(ctx)
	if !ok {
		http.Redirect(w, r, h.cfg.LoginPath, http.StatusFound)
		return
	}

	render(w, h.logger, h.templates.landing, struct {
		AppName   string
		Account   *directory.Account
		LogoutURL string
	}{
		AppName:   h.cfg.AppName,
		Account:   account,
		LogoutURL: h.cfg.LogoutPath,
	})
}

// Logout destroys the session and, when configured, chains to the provider
// logout endpoint.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if cookie, err := r.Cookie(h.cookieName()); err == nil && cookie.Value != "" {
		flow := session.NewFlow(h.store, cookie.Value)
		if err := flow.Destroy(ctx); err != nil {
			h.logger.WithError(err).Error("Failed to destroy session on logout")
		}
	}
	h.clearSessionCookie(w)

	if h.cfg.ProviderLogoutURL != "" {
		http.Redirect(w, r, h.cfg.ProviderLogoutURL, http.StatusFound)
		return
	}

	render(w, h.logger, h.templates.loggedOut, struct {
		AppName  string
		LoginURL string
	}{
		AppName:  h.cfg.AppName,
		LoginURL: h.cfg.LoginPath,
	})
}

// safeNext returns the redirect target from the request, restricted to
// site-relative paths so the flow cannot be used as an open redirector.
func (h *Handler) safeNext(r *http.Request) string {
	next := r.URL.Query().Get(h.cfg.RedirectFieldName)
	if next == "" {
		return ""
	}
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	return next
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	observability.FromContext(r.Context()).WithError(err).Error("Request failed")
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

type accountContextKey struct{}

// AccountFromContext returns the account attached by RequireLogin.
func AccountFromContext(ctx context.Context) (*directory.Account, bool) {
	account, ok := ctx.Value(accountContextKey{}).(*directory.Account)
	return account, ok
}

// RequireLogin gates a handler on an authenticated session. Anonymous
// requests are sent to the login page with the original path preserved.
func (h *Handler) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		redirect := func() {
			target := fmt.Sprintf("%s?%s=%s", h.cfg.LoginPath, h.cfg.RedirectFieldName, url.QueryEscape(r.URL.RequestURI()))
			http.Redirect(w, r, target, http.StatusFound)
		}

		cookie, err := r.Cookie(h.cookieName())
		if err != nil || cookie.Value == "" {
			redirect()
			return
		}

		flow := session.NewFlow(h.store, cookie.Value)
		accountID, err := flow.AccountID(ctx)
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		if accountID == 0 {
			redirect()
			return
		}

		account, err := h.accounts.GetAccount(ctx, accountID)
		if errors.Is(err, directory.ErrNotFound) {
			// Account deleted out from under the session.
			if destroyErr := flow.Destroy(ctx); destroyErr != nil {
				h.logger.WithError(destroyErr).Error("Failed to destroy orphaned session")
			}
			redirect()
			return
		}
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		if !account.Active {
			// A deactivated account keeps its session otherwise, and the
			// login page would bounce it straight back here.
			if destroyErr := flow.Destroy(ctx); destroyErr != nil {
				h.logger.WithError(destroyErr).Error("Failed to destroy session for deactivated account")
			}
			redirect()
			return
		}

		ctx = context.WithValue(ctx, accountContextKey{}, account)
		ctx = observability.WithAccountID(ctx, fmt.Sprintf("%d", account.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
