// Package web exposes the sign-in flow over HTTP.
//
// # Overview
//
// Handler serves five routes: the login page, the authorize redirect that
// starts the provider round trip, the callback that finishes it, the
// signed-in landing page, and logout. Sessions ride an opaque HttpOnly
// cookie; all state lives server-side in pkg/session.
//
// RequireLogin is the middleware other applications mount in front of
// protected routes. Anonymous requests are bounced to the login page with
// the original URL preserved in the redirect field, and inactive or
// deleted accounts are treated as anonymous.
//
// # Related Packages
//
//   - pkg/authflow: The flow logic behind the endpoints
//   - pkg/observability: Request logging and HTTP metrics middleware
package web
