// Package notify sends account lifecycle emails.
//
// # Overview
//
// Mailer abstracts delivery; SESMailer is the production backend and
// LogMailer the development fallback. Notifier composes the welcome email
// for a newly provisioned account and a notification to the configured
// admin addresses. Sends are asynchronous and best-effort so a mail outage
// never blocks a sign-in.
//
// # Related Packages
//
//   - pkg/authflow: Calls AccountProvisioned after creating an account
package notify
