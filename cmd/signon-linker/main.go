// Command signon-linker backfills federated identity links for accounts
// created before provider sign-in existed. It resolves each unlinked
// username against the provider's user directory with an application token
// and stores the subject ID, so those users keep their account on first
// federated login instead of getting a fresh one.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"os"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/signonhq/signon/pkg/config"
	"github.com/signonhq/signon/pkg/directory"
	"github.com/signonhq/signon/pkg/idp"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML config overlay (optional)")
	dryRun := flag.Bool("dry-run", false, "Report what would be linked without writing")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if cfg.Auth.DirectoryEndpoint == "" {
		log.Fatal("SIGNON_DIRECTORY_ENDPOINT is required to run the linker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := sql.Open(cfg.Directory.Driver, cfg.Directory.DSN)
	if err != nil {
		log.WithError(err).Fatal("Failed to open directory database")
	}
	defer db.Close()

	store := directory.NewStore(db, cfg.Directory.Driver)

	client, err := idp.NewOIDCClient(ctx, idp.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Authority:    cfg.Auth.Authority,
		RedirectURL:  cfg.Auth.AbsoluteRedirectURL(),
		Scopes:       cfg.Auth.Scopes,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to discover identity provider")
	}

	dirClient := idp.NewDirectoryClient(ctx, cfg.Auth.DirectoryEndpoint,
		client.AppTokenSource(ctx, "https://graph.microsoft.com/.default"))

	accounts, err := store.ListUnlinkedAccounts(ctx)
	if err != nil {
		log.WithError(err).Fatal("Failed to list unlinked accounts")
	}
	log.WithField("count", len(accounts)).Info("Found unlinked accounts")

	var linked, missing, failed int
	for _, account := range accounts {
		entry := log.WithField("username", account.Username)

		user, err := dirClient.FindSubjectByUsername(ctx, account.Username)
		if errors.Is(err, idp.ErrSubjectNotFound) {
			entry.Warn("No directory entry for account")
			missing++
			continue
		}
		if err != nil {
			entry.WithError(err).Error("Directory lookup failed")
			failed++
			continue
		}

		if *dryRun {
			entry.WithField("subject", user.ID).Info("Would link account")
			linked++
			continue
		}

		switch err := store.LinkAccount(ctx, account.ID, user.ID, user.DisplayName, user.UserPrincipalName); {
		case errors.Is(err, directory.ErrConflict):
			entry.WithField("subject", user.ID).Warn("Subject already linked to another account")
			failed++
		case err != nil:
			entry.WithError(err).Error("Failed to link account")
			failed++
		default:
			entry.WithField("subject", user.ID).Info("Linked account")
			linked++
		}
	}

	log.WithFields(logrus.Fields{
		"linked":  linked,
		"missing": missing,
		"failed":  failed,
		"dry_run": *dryRun,
	}).Info("Linker finished")

	if failed > 0 {
		os.Exit(1)
	}
}
