// Package authflow implements the server side of the browser sign-in flow.
//
// # Overview
//
// Coordinator owns the two ends of the authorization-code grant. Initiate
// stores a random CSRF state plus the post-login destination in the session
// and hands back the provider authorization URL. HandleCallback walks the
// provider redirect through a fixed sequence of checks:
//
//  1. the echoed state must match the session's pending state, which is
//     consumed either way so callbacks are single-use
//  2. a provider error parameter ends the flow with that error
//  3. a missing authorization code ends the flow
//  4. the code is exchanged and the identity token verified
//  5. the tid claim is resolved through TenantValidator
//  6. the oid claim must be present
//  7. Provisioner maps the subject to an account, creating one on first
//     sign-in
//  8. the session is marked authenticated
//
// Failures attributable to the user or provider come back as a Rejection
// and are parked in the session as a one-shot payload for the login page;
// infrastructure failures are returned as errors.
//
// # Usage Example
//
//	coordinator := authflow.NewCoordinator(client, validator, provisioner, notifier, metrics, logger)
//	authURL, err := coordinator.Initiate(ctx, flow, "/reports")
//	if err != nil {
//		return err
//	}
//	http.Redirect(w, r, authURL, http.StatusFound)
//
// # Related Packages
//
//   - pkg/idp: Performs the token exchange
//   - pkg/directory: Backs tenant admission and provisioning
//   - pkg/web: Exposes the flow over HTTP
package authflow
