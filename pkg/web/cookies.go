package web

import (
	"net/http"

	"github.com/signonhq/signon/pkg/session"
)

// SessionCookieName is the default cookie carrying the opaque session ID.
const SessionCookieName = "signon_session"

// cookieName returns the configured cookie name, defaulting to
// SessionCookieName.
func (h *Handler) cookieName() string {
	if h.cfg.CookieName != "" {
		return h.cfg.CookieName
	}
	return SessionCookieName
}

// sessionID returns the request's session ID, minting one and setting the
// cookie when absent. The cookie itself holds no data; all state lives
// server-side.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(h.cookieName()); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	sid, err := session.NewSessionID()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, h.sessionCookie(sid, int(h.cfg.SessionTTL.Seconds())))
	return sid, nil
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// clearSessionCookie expires the cookie on logout.
func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, h.sessionCookie("", -1))
}
