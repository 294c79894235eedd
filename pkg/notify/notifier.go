package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/signonhq/signon/pkg/directory"
	"github.com/signonhq/signon/pkg/observability"
)

// Notifier sends the emails that follow a successful sign-in. Sends run in
// the background; a mail failure is logged and never fails the login.
type Notifier struct {
	mailer          Mailer
	logger          *observability.Logger
	appName         string
	adminRecipients []string
	sendTimeout     time.Duration
}

// NewNotifier wires a mailer with the application name used in subjects and
// the admin addresses notified about new accounts.
func NewNotifier(mailer Mailer, logger *observability.Logger, appName string, adminRecipients []string) *Notifier {
	return &Notifier{
		mailer:          mailer,
		logger:          logger,
		appName:         appName,
		adminRecipients: adminRecipients,
		sendTimeout:     30 * time.Second,
	}
}

// AccountProvisioned fires the welcome email and the admin notification for
// a freshly created account. It returns immediately.
func (n *Notifier) AccountProvisioned(account *directory.Account) {
	go n.send(account)
}

func (n *Notifier) send(account *directory.Account) {
	ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
	defer cancel()

	logger := n.logger.WithField("username", account.Username)

	if account.Email != "" {
		subject := fmt.Sprintf("Welcome to %s", n.appName)
		body := welcomeBody(n.appName, account)
		if err := n.mailer.Send(ctx, []string{account.Email}, subject, body); err != nil {
			logger.WithError(err).Error("Failed to send welcome email")
		}
	}

	if len(n.adminRecipients) > 0 {
		subject := fmt.Sprintf("[%s] New account provisioned", n.appName)
		body := adminBody(n.appName, account)
		if err := n.mailer.Send(ctx, n.adminRecipients, subject, body); err != nil {
			logger.WithError(err).Error("Failed to send admin notification")
		}
	}
}

func welcomeBody(appName string, account *directory.Account) string {
	name := account.FirstName
	if name == "" {
		name = account.Username
	}
	return fmt.Sprintf(
		"Hello %s,\n\nAn account was created for you on %s using your organization sign-in.\nYour username is %s.\n\nNo password is needed; sign in with your organization account.\n",
		name, appName, account.Username)
}

func adminBody(appName string, account *directory.Account) string {
	return fmt.Sprintf(
		"A new account was provisioned on %s.\n\nUsername: %s\nEmail: %s\nName: %s %s\nCreated: %s\n",
		appName, account.Username, account.Email,
		account.FirstName, account.LastName,
		account.CreatedAt.Format(time.RFC3339))
}
