package authflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/signonhq/signon/pkg/directory"
	"github.com/signonhq/signon/pkg/idp"
	"github.com/signonhq/signon/pkg/observability"
	"github.com/signonhq/signon/pkg/session"
)

// AccountNotifier receives newly provisioned accounts.
type AccountNotifier interface {
	AccountProvisioned(account *directory.Account)
}

// CallbackParams are the query parameters the provider sends back.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// CallbackResult is the outcome of one callback. Exactly one of Account
// and Rejection is set. When Rejection is set the error payload has
// already been stored in the session for the login page to pick up.
type CallbackResult struct {
	Account   *directory.Account
	Created   bool
	NextURL   string
	Rejection *Rejection
}

// Coordinator drives the authorization-code flow: it issues authorization
// requests and walks callbacks through CSRF correlation, token exchange,
// tenant admission, and provisioning.
type Coordinator struct {
	client      idp.Client
	validator   *TenantValidator
	provisioner *Provisioner
	notifier    AccountNotifier
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewCoordinator wires the flow components together. notifier may be nil.
func NewCoordinator(client idp.Client, validator *TenantValidator, provisioner *Provisioner, notifier AccountNotifier, metrics *observability.Metrics, logger *observability.Logger) *Coordinator {
	return &Coordinator{
		client:      client,
		validator:   validator,
		provisioner: provisioner,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
}

// Initiate starts a login: it stores a fresh CSRF state and the post-login
// destination in the session and returns the provider authorization URL.
func (c *Coordinator) Initiate(ctx context.Context, flow *session.Flow, next string) (string, error) {
	state := uuid.NewString()
	if err := flow.SetState(ctx, state); err != nil {
		return "", err
	}
	if next != "" {
		if err := flow.SetNextURL(ctx, next); err != nil {
			return "", err
		}
	}

	if c.metrics != nil {
		c.metrics.LoginInitiatedTotal.Inc()
	}
	return c.client.AuthCodeURL(state), nil
}

// HandleCallback processes the provider redirect. The stored CSRF state is
// consumed no matter the outcome, so a callback URL cannot be replayed. A
// non-nil error is a system fault; user-attributable failures come back as
// a Rejection inside the result.
func (c *Coordinator) HandleCallback(ctx context.Context, flow *session.Flow, params CallbackParams) (*CallbackResult, error) {
	logger := observability.FromContext(ctx)

	storedState, err := flow.State(ctx)
	if err != nil {
		return nil, err
	}
	if err := flow.ClearState(ctx); err != nil {
		return nil, err
	}

	if storedState == "" || params.State != storedState {
		logger.Warn("Callback state did not match session")
		return c.reject(ctx, flow, Reject(CodeCSRFMismatch, "state did not match the pending authorization request"))
	}

	if params.Error != "" {
		logger.WithFields(map[string]interface{}{
			"code":        params.Error,
			"description": params.ErrorDescription,
		}).Warn("Provider reported an authorization error")
		return c.reject(ctx, flow, Reject(params.Error, params.ErrorDescription))
	}

	if params.Code == "" {
		return c.reject(ctx, flow, Reject(CodeMissingCode, "callback carried no authorization code"))
	}

	cacheBlob, err := flow.TokenCache(ctx)
	if err != nil {
		return nil, err
	}
	cache := idp.LoadTokenCache(cacheBlob)

	exchangeCtx, cancel := idp.WithExchangeTimeout(ctx)
	defer cancel()

	start := time.Now()
	result := c.client.Exchange(exchangeCtx, params.Code, cache)
	if c.metrics != nil {
		c.metrics.TokenExchangeDuration.Observe(time.Since(start).Seconds())
	}

	if blob, changed := cache.Save(); changed {
		if err := flow.SetTokenCache(ctx, blob); err != nil {
			return nil, err
		}
	}

	if result.Err != nil {
		logger.WithError(result.Err).Warn("Token exchange failed")
		return c.reject(ctx, flow, Reject(result.Err.Code, result.Err.Description))
	}

	tenant, rejection, err := c.validator.Admit(ctx, result.Claims)
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return c.reject(ctx, flow, rejection)
	}

	subjectID, rejection := ValidateSubject(result.Claims)
	if rejection != nil {
		return c.reject(ctx, flow, rejection)
	}

	account, created, err := c.provisioner.Provision(ctx, subjectID, tenant, result.Claims)
	if err != nil {
		c.observe("error")
		return nil, err
	}

	if created && c.notifier != nil {
		c.notifier.AccountProvisioned(account)
	}

	if err := flow.SetAccountID(ctx, account.ID); err != nil {
		return nil, err
	}

	next, err := flow.PopNextURL(ctx)
	if err != nil {
		return nil, err
	}

	c.observe("authenticated")
	logger.WithFields(map[string]interface{}{
		"username": account.Username,
		"created":  created,
	}).Info("Sign-in completed")

	return &CallbackResult{Account: account, Created: created, NextURL: next}, nil
}

// reject stores the one-shot error payload and counts the outcome.
func (c *Coordinator) reject(ctx context.Context, flow *session.Flow, rejection *Rejection) (*CallbackResult, error) {
	if err := flow.SetAuthError(ctx, session.AuthError{
		Code:        rejection.Code,
		Description: rejection.Description,
	}); err != nil {
		return nil, err
	}
	c.observe(rejection.Code)
	return &CallbackResult{Rejection: rejection}, nil
}

func (c *Coordinator) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.ObserveLogin(outcome)
	}
}
