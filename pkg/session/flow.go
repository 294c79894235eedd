package session

import (
	"context"
	"encoding/json"
	"fmt"
)

// Session keys used by the login flow. Kept short; they are hash fields in
// Redis, not user-visible names.
const (
	keyFlowState  = "flow.state"
	keyNextURL    = "flow.next_url"
	keyAuthError  = "flow.auth_error"
	keyTokenCache = "flow.token_cache"
	keyAccountID  = "account_id"
)

// AuthError is the one-shot error payload handed from the callback handler
// to the login page. It is cleared on first read.
type AuthError struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// Flow is a typed view over one browser session's login-flow state.
type Flow struct {
	store Store
	sid   string
}

// NewFlow binds a session ID to a store.
func NewFlow(store Store, sid string) *Flow {
	return &Flow{store: store, sid: sid}
}

// SID returns the bound session ID.
func (f *Flow) SID() string {
	return f.sid
}

// SetState records the CSRF state for an in-flight authorization request.
func (f *Flow) SetState(ctx context.Context, state string) error {
	return f.store.Set(ctx, f.sid, keyFlowState, []byte(state))
}

// State returns the stored CSRF state, or "" when none is pending.
func (f *Flow) State(ctx context.Context) (string, error) {
	value, err := f.store.Get(ctx, f.sid, keyFlowState)
	if err == ErrNoValue {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// ClearState drops the pending CSRF state. Called once a callback has been
// processed so the state cannot be replayed.
func (f *Flow) ClearState(ctx context.Context) error {
	return f.store.Delete(ctx, f.sid, keyFlowState)
}

// SetNextURL records where the browser should land after authentication.
func (f *Flow) SetNextURL(ctx context.Context, next string) error {
	return f.store.Set(ctx, f.sid, keyNextURL, []byte(next))
}

// PopNextURL returns and clears the post-login destination.
func (f *Flow) PopNextURL(ctx context.Context) (string, error) {
	value, err := f.store.Get(ctx, f.sid, keyNextURL)
	if err == ErrNoValue {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := f.store.Delete(ctx, f.sid, keyNextURL); err != nil {
		return "", err
	}
	return string(value), nil
}

// SetAuthError stores the one-shot error payload.
func (f *Flow) SetAuthError(ctx context.Context, authErr AuthError) error {
	blob, err := json.Marshal(authErr)
	if err != nil {
		return fmt.Errorf("failed to encode auth error: %w", err)
	}
	return f.store.Set(ctx, f.sid, keyAuthError, blob)
}

// PopAuthError returns and clears the stored error payload. The second
// return is false when no error is pending.
func (f *Flow) PopAuthError(ctx context.Context) (AuthError, bool, error) {
	blob, err := f.store.Get(ctx, f.sid, keyAuthError)
	if err == ErrNoValue {
		return AuthError{}, false, nil
	}
	if err != nil {
		return AuthError{}, false, err
	}
	if err := f.store.Delete(ctx, f.sid, keyAuthError); err != nil {
		return AuthError{}, false, err
	}

	var authErr AuthError
	if err := json.Unmarshal(blob, &authErr); err != nil {
		return AuthError{}, false, fmt.Errorf("failed to decode auth error: %w", err)
	}
	return authErr, true, nil
}

// SetTokenCache persists the serialized provider token cache.
func (f *Flow) SetTokenCache(ctx context.Context, blob []byte) error {
	return f.store.Set(ctx, f.sid, keyTokenCache, blob)
}

// TokenCache returns the serialized token cache, or nil when absent.
func (f *Flow) TokenCache(ctx context.Context) ([]byte, error) {
	blob, err := f.store.Get(ctx, f.sid, keyTokenCache)
	if err == ErrNoValue {
		return nil, nil
	}
	return blob, err
}

// SetAccountID marks the session as authenticated for an account.
func (f *Flow) SetAccountID(ctx context.Context, accountID int64) error {
	return f.store.Set(ctx, f.sid, keyAccountID, []byte(fmt.Sprintf("%d", accountID)))
}

// AccountID returns the authenticated account ID, or 0 when the session is
// anonymous.
func (f *Flow) AccountID(ctx context.Context) (int64, error) {
	value, err := f.store.Get(ctx, f.sid, keyAccountID)
	if err == ErrNoValue {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var id int64
	if _, err := fmt.Sscanf(string(value), "%d", &id); err != nil {
		return 0, fmt.Errorf("failed to parse account ID: %w", err)
	}
	return id, nil
}

// Destroy drops the whole session. Used on logout.
func (f *Flow) Destroy(ctx context.Context) error {
	return f.store.Destroy(ctx, f.sid)
}
