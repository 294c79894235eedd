package idp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config holds the relying-party registration with the identity provider.
type Config struct {
	ClientID     string
	ClientSecret string

	// Authority is the issuer URL used for discovery.
	Authority string

	RedirectURL string
	Scopes      []string
}

// Claims is the parsed claim set of a verified identity token.
type Claims map[string]interface{}

// String returns a string-valued claim, or "" when absent or non-string.
func (c Claims) String(name string) string {
	if v, ok := c[name].(string); ok {
		return v
	}
	return ""
}

// ProviderError describes a failure reported by, or while talking to, the
// identity provider.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// TokenResult is the outcome of a code-for-token exchange. Provider-side
// and transport failures populate Err; callers inspect the result rather
// than handle a raised error.
type TokenResult struct {
	Claims     Claims
	RawIDToken string
	Err        *ProviderError
}

// Client issues authorization requests and exchanges authorization codes.
type Client interface {
	// AuthCodeURL builds the authorization URL. The state value is
	// embedded verbatim and echoed back on the callback.
	AuthCodeURL(state string) string

	// Exchange performs a single round trip to the token endpoint and
	// verifies the returned identity token. The result's Err field is
	// populated on failure; Exchange itself never returns an error.
	Exchange(ctx context.Context, code string, cache *TokenCache) TokenResult
}

// OIDCClient implements Client against a discovered OpenID Connect provider.
type OIDCClient struct {
	cfg          Config
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCClient discovers the provider's endpoints from the authority URL
// and prepares the OAuth2 configuration.
func NewOIDCClient(ctx context.Context, cfg Config) (*OIDCClient, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}
	if cfg.Authority == "" {
		return nil, fmt.Errorf("authority is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Authority)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})

	scopes := cfg.Scopes
	if !containsScope(scopes, oidc.ScopeOpenID) {
		scopes = append([]string{oidc.ScopeOpenID}, scopes...)
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
	}

	return &OIDCClient{
		cfg:          cfg,
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// AuthCodeURL builds the authorization URL for the configured scopes.
func (c *OIDCClient) AuthCodeURL(state string) string {
	return c.oauth2Config.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens and verifies the
// identity token. On success the token is recorded in the cache so the
// caller can persist it.
func (c *OIDCClient) Exchange(ctx context.Context, code string, cache *TokenCache) TokenResult {
	oauth2Token, err := c.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return TokenResult{Err: asProviderError(err)}
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return TokenResult{Err: &ProviderError{Code: "missing_id_token", Description: "token response carried no identity token"}}
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return TokenResult{Err: &ProviderError{Code: "invalid_id_token", Description: err.Error()}}
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return TokenResult{Err: &ProviderError{Code: "invalid_id_token", Description: err.Error()}}
	}

	if cache != nil {
		cache.Put(oauth2Token)
	}

	return TokenResult{Claims: claims, RawIDToken: rawIDToken}
}

// asProviderError maps an exchange failure to a ProviderError, preserving
// the provider's own error code when one was returned.
func asProviderError(err error) *ProviderError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
		return &ProviderError{
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
		}
	}
	return &ProviderError{Code: "token_exchange_failed", Description: err.Error()}
}

// AppTokenSource returns a client-credentials token source for server-to-
// server calls against the provider's APIs, e.g. the user directory.
func (c *OIDCClient) AppTokenSource(ctx context.Context, scopes ...string) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.oauth2Config.Endpoint.TokenURL,
		Scopes:       scopes,
	}
	return cc.TokenSource(ctx)
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

// exchangeTimeout bounds the token endpoint round trip when the caller's
// context has no deadline of its own.
const exchangeTimeout = 15 * time.Second

// WithExchangeTimeout returns a context bounded for a token exchange.
func WithExchangeTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, exchangeTimeout)
}
