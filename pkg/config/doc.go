// Package config provides application configuration loaded from environment
// variables with an optional YAML overlay.
//
// # Overview
//
// Configuration is resolved once at startup into an immutable Config struct
// and validated eagerly: a missing required setting fails the process before
// it serves a single request.
//
// # Configuration Structure
//
// Identity provider settings (required):
//
//	SIGNON_CLIENT_ID="..."
//	SIGNON_CLIENT_SECRET="..."
//	SIGNON_REDIRECT_DOMAIN="https://app.example.com"
//	SIGNON_PRIMARY_TENANT_ID="..."
//	SIGNON_PRIMARY_TENANT_NAME="Example Corp"
//
// Auth flow settings:
//
//	SIGNON_AUTHORITY="https://login.microsoftonline.com/<tenant>/v2.0"
//	SIGNON_SCOPES="openid,profile,email"
//	SIGNON_RESTRICT_TENANTS="true"
//	SIGNON_LOGIN_PATH="login"
//	SIGNON_REDIRECT_PATH="authorize"
//
// Directory settings:
//
//	SIGNON_DB_DRIVER="postgres"  # postgres, sqlite3
//	SIGNON_DB_DSN="postgres://localhost/signon"
//
// Session settings:
//
//	SIGNON_SESSION_BACKEND="redis"  # redis, memory
//	SIGNON_SESSION_REDIS_URL="redis://localhost:6379"
//	SIGNON_SESSION_TTL="24h"
//
// Observability settings:
//
//	SIGNON_LOG_LEVEL="info"  # debug, info, warn, error
//	SIGNON_METRICS_ENABLED="true"
//	SIGNON_OTEL_ENABLED="false"
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Authority: %s\n", cfg.Auth.Authority)
//
// # Related Packages
//
//   - pkg/authflow: Consumes the Auth section
//   - pkg/observability: Consumes the Observability section
package config
