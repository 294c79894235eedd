package idp

import (
	"encoding/json"

	"golang.org/x/oauth2"
)

// TokenCache holds the provider tokens acquired for one browser session and
// tracks whether the cached state changed since it was loaded. Callers
// serialize it back to the session only when Save reports a change.
type TokenCache struct {
	token   *oauth2.Token
	changed bool
}

// NewTokenCache returns an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

// LoadTokenCache restores a cache from a serialized blob. A nil, empty or
// corrupt blob yields an empty cache; a stale session must never block a
// fresh login.
func LoadTokenCache(blob []byte) *TokenCache {
	cache := &TokenCache{}
	if len(blob) == 0 {
		return cache
	}
	var tok oauth2.Token
	if err := json.Unmarshal(blob, &tok); err != nil {
		return cache
	}
	cache.token = &tok
	return cache
}

// Token returns the cached token, or nil when the cache is empty.
func (c *TokenCache) Token() *oauth2.Token {
	return c.token
}

// Put records a freshly acquired token and marks the cache changed.
func (c *TokenCache) Put(tok *oauth2.Token) {
	c.token = tok
	c.changed = true
}

// HasChanged reports whether the cache was modified since load.
func (c *TokenCache) HasChanged() bool {
	return c.changed
}

// Save serializes the cache. The blob is only returned when the cache
// changed since load; otherwise ok is false and nothing needs persisting.
func (c *TokenCache) Save() (blob []byte, ok bool) {
	if !c.changed || c.token == nil {
		return nil, false
	}
	blob, err := json.Marshal(c.token)
	if err != nil {
		return nil, false
	}
	return blob, true
}
