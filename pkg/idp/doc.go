// Package idp implements the relying-party side of the OpenID Connect
// authorization-code flow.
//
// # Overview
//
// OIDCClient discovers the provider's endpoints from its authority URL,
// builds authorization URLs, and exchanges authorization codes for tokens.
// The identity token is verified against the provider's signing keys and
// its claims returned as a Claims map. Failures, both transport-level and
// provider-reported, are carried in TokenResult.Err so the caller can map
// them to user-facing outcomes.
//
// TokenCache keeps the acquired tokens for a browser session and only
// reserializes when its contents changed, keeping session writes to a
// minimum.
//
// # Usage Example
//
//	client, err := idp.NewOIDCClient(ctx, idp.Config{
//		ClientID:     cfg.ClientID,
//		ClientSecret: cfg.ClientSecret,
//		Authority:    cfg.Authority,
//		RedirectURL:  cfg.AbsoluteRedirectURL(),
//		Scopes:       cfg.Scopes,
//	})
//	if err != nil {
//		return err
//	}
//	http.Redirect(w, r, client.AuthCodeURL(state), http.StatusFound)
//
// # Related Packages
//
//   - pkg/authflow: Drives the callback flow on top of Client
//   - pkg/session: Persists the serialized TokenCache
package idp
