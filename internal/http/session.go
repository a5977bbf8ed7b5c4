package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"spendly/internal/identity"
	"spendly/internal/log"
)

const (
	// sidCookie names the browser session; it outlives sign-in and sign-out.
	sidCookie = "spendly_sid"
	// tokenCookie carries the signed session token while someone is signed in.
	tokenCookie = "spendly_session"

	sidMaxAge = 365 * 24 * time.Hour
)

type sessionKey struct{}

// requestSession is the client session a request belongs to. User is nil
// when nobody is signed in.
type requestSession struct {
	SID  string
	User *identity.User
}

func sessionFrom(ctx context.Context) requestSession {
	if s, ok := ctx.Value(sessionKey{}).(requestSession); ok {
		return s
	}
	return requestSession{}
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientSID returns the browser session id, minting one on first visit.
func (s *Server) clientSID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sidCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	sid := uuid.NewString()
	s.setCookie(w, sidCookie, sid, sidMaxAge)
	return sid
}

// currentUser resolves the session token. A token issued to another browser
// session, an expired or revoked token, or a deleted account all count as
// signed out.
func (s *Server) currentUser(r *http.Request, sid string) *identity.User {
	c, err := r.Cookie(tokenCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	tokenSID, u, err := s.identity.ResolveSession(r.Context(), c.Value)
	if err != nil {
		log.FromContext(r.Context()).DebugContext(r.Context(), "Session token rejected", log.FieldError, err)
		return nil
	}
	if tokenSID != sid {
		return nil
	}
	return u
}

// withSession attaches the client session to the request context.
func (s *Server) withSession(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := s.clientSID(w, r)
		u := s.currentUser(r, sid)
		if u == nil {
			if _, err := r.Cookie(tokenCookie); err == nil {
				s.clearCookie(w, tokenCookie)
			}
		}

		logger := log.FromContext(r.Context()).With(log.FieldSessionID, sid)
		if u != nil {
			logger = logger.With(log.FieldOwnerID, u.ID)
		}
		ctx := log.NewContext(r.Context(), logger)
		ctx = context.WithValue(ctx, sessionKey{}, requestSession{SID: sid, User: u})
		next(w, r.WithContext(ctx))
	})
}

// requireUser is withSession for pages that only make sense signed in;
// anonymous visitors go to the login page.
func (s *Server) requireUser(next http.HandlerFunc) http.Handler {
	return s.withSession(func(w http.ResponseWriter, r *http.Request) {
		if sessionFrom(r.Context()).User == nil {
			redirect(w, r, "/login")
			return
		}
		next(w, r)
	})
}

// signIn binds u to the client session and stores the token cookie.
func (s *Server) signIn(w http.ResponseWriter, r *http.Request, u *identity.User) error {
	sid := sessionFrom(r.Context()).SID
	token, err := s.identity.IssueSession(sid, u)
	if err != nil {
		return err
	}
	s.setCookie(w, tokenCookie, token, s.opts.SessionTTL)
	return nil
}

// signOut revokes the client session's token and drops the cookie.
func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	s.identity.SignOut(r.Context(), sessionFrom(r.Context()).SID)
	s.clearCookie(w, tokenCookie)
}
