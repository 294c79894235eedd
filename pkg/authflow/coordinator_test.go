package authflow

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signonhq/signon/pkg/idp"
	"github.com/signonhq/signon/pkg/session"
)

type coordinatorHarness struct {
	coordinator *Coordinator
	dir         *fakeDirectory
	client      *fakeIDPClient
	notifier    *fakeNotifier
	flow        *session.Flow
}

func newCoordinatorHarness(t *testing.T, restrict bool) *coordinatorHarness {
	t.Helper()

	dir := newFakeDirectory()
	client := newFakeIDPClient()
	notifier := &fakeNotifier{}
	logger := testLogger()

	coordinator := NewCoordinator(
		client,
		NewTenantValidator(dir, restrict, nil, logger),
		NewProvisioner(dir, nil, logger),
		notifier,
		nil,
		logger,
	)

	return &coordinatorHarness{
		coordinator: coordinator,
		dir:         dir,
		client:      client,
		notifier:    notifier,
		flow:        session.NewFlow(session.NewMemoryStore(time.Hour), "sid-test"),
	}
}

// initiate runs Initiate and returns the state embedded in the auth URL.
func (h *coordinatorHarness) initiate(t *testing.T, next string) string {
	t.Helper()

	authURL, err := h.coordinator.Initiate(context.Background(), h.flow, next)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func okClaims() idp.Claims {
	return idp.Claims{
		"tid":                "tid-1",
		"oid":                "oid-1",
		"name":               "Jane Doe",
		"preferred_username": "jdoe@example.com",
	}
}

func TestInitiateStoresStateAndNext(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)

	state := h.initiate(t, "/reports/42")

	stored, err := h.flow.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, stored)

	next, err := h.flow.PopNextURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/reports/42", next)
}

func TestInitiateGeneratesFreshStatePerRequest(t *testing.T) {
	h := newCoordinatorHarness(t, false)

	first := h.initiate(t, "")
	second := h.initiate(t, "")
	assert.NotEqual(t, first, second)
}

func TestHandleCallbackSuccess(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)
	h.client.allow("code-1", idp.TokenResult{Claims: okClaims()})

	state := h.initiate(t, "/reports/42")

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "code-1"})
	require.NoError(t, err)
	require.Nil(t, result.Rejection)
	require.NotNil(t, result.Account)
	assert.True(t, result.Created)
	assert.Equal(t, "jdoe@example.com", result.Account.Username)
	assert.Equal(t, "/reports/42", result.NextURL)

	accountID, err := h.flow.AccountID(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Account.ID, accountID)

	provisioned := h.notifier.provisioned()
	require.Len(t, provisioned, 1)
	assert.Equal(t, result.Account.ID, provisioned[0].ID)
}

func TestHandleCallbackSecondSignInIsNotCreated(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)
	h.client.allow("code-1", idp.TokenResult{Claims: okClaims()})
	h.client.allow("code-2", idp.TokenResult{Claims: okClaims()})

	state := h.initiate(t, "")
	first, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "code-1"})
	require.NoError(t, err)
	require.NotNil(t, first.Account)

	state = h.initiate(t, "")
	second, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "code-2"})
	require.NoError(t, err)
	require.NotNil(t, second.Account)
	assert.False(t, second.Created)
	assert.Equal(t, first.Account.ID, second.Account.ID)
	assert.Len(t, h.notifier.provisioned(), 1)
}

func TestHandleCallbackStateMismatch(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)
	h.client.allow("code-1", idp.TokenResult{Claims: okClaims()})

	h.initiate(t, "")

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: "forged", Code: "code-1"})
	require.NoError(t, err)
	require.NotNil(t, result.Rejection)
	assert.Equal(t, CodeCSRFMismatch, result.Rejection.Code)

	authErr, found, err := h.flow.PopAuthError(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, CodeCSRFMismatch, authErr.Code)
}

func TestHandleCallbackStateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)
	h.client.allow("code-1", idp.TokenResult{Claims: okClaims()})

	state := h.initiate(t, "")

	first, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "code-1"})
	require.NoError(t, err)
	require.Nil(t, first.Rejection)

	// Replaying the same callback URL fails the state check before the
	// code is ever looked at.
	replay, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "code-1"})
	require.NoError(t, err)
	require.NotNil(t, replay.Rejection)
	assert.Equal(t, CodeCSRFMismatch, replay.Rejection.Code)
}

func TestHandleCallbackWithoutPendingState(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: "anything", Code: "code-1"})
	require.NoError(t, err)
	require.NotNil(t, result.Rejection)
	assert.Equal(t, CodeCSRFMismatch, result.Rejection.Code)
}

func TestHandleCallbackProviderError(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)

	state := h.initiate(t, "")

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{
		State:            state,
		Error:            "access_denied",
		ErrorDescription: "user declined consent",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Rejection)
	assert.Equal(t, "access_denied", result.Rejection.Code)
	assert.Equal(t, "user declined consent", result.Rejection.Description)
}

func TestHandleCallbackMissingCode(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)

	state := h.initiate(t, "")

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state})
	require.NoError(t, err)
	require.NotNil(t, result.Rejection)
	assert.Equal(t, CodeMissingCode, result.Rejection.Code)
}

func TestHandleCallbackExchangeFailure(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)

	state := h.initiate(t, "")

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "never-issued"})
	require.NoError(t, err)
	require.NotNil(t, result.Rejection)
	assert.Equal(t, "invalid_grant", result.Rejection.Code)
}

func TestHandleCallbackMissingTenantClaim(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)
	claims := okClaims()
	delete(claims, "tid")
	h.client.allow("code-1", idp.TokenResult{Claims: claims})

	state := h.initiate(t, "")

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "code-1"})
	require.NoError(t, err)
	require.NotNil(t, result.Rejection)
	assert.Equal(t, CodeMissingTenant, result.Rejection.Code)
}

func TestHandleCallbackRestrictedTenantRejected(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, true)
	h.client.allow("code-1", idp.TokenResult{Claims: okClaims()})

	state := h.initiate(t, "")

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "code-1"})
	require.NoError(t, err)
	require.NotNil(t, result.Rejection)
	assert.Equal(t, CodeInvalidTenant, result.Rejection.Code)
}

func TestHandleCallbackMissingSubjectClaim(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)
	claims := okClaims()
	delete(claims, "oid")
	h.client.allow("code-1", idp.TokenResult{Claims: claims})

	state := h.initiate(t, "")

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "code-1"})
	require.NoError(t, err)
	require.NotNil(t, result.Rejection)
	assert.Equal(t, CodeMissingSubject, result.Rejection.Code)
}

func TestHandleCallbackRecordsGuestTenant(t *testing.T) {
	ctx := context.Background()
	h := newCoordinatorHarness(t, false)
	h.client.allow("code-1", idp.TokenResult{Claims: okClaims()})

	state := h.initiate(t, "")

	result, err := h.coordinator.HandleCallback(ctx, h.flow, CallbackParams{State: state, Code: "code-1"})
	require.NoError(t, err)
	require.Nil(t, result.Rejection)

	tenant, err := h.dir.GetTenant(ctx, "tid-1")
	require.NoError(t, err)
	assert.Equal(t, "tid-1", tenant.Name)
}
