package http

import (
	"net/http"

	"spendly/internal/identity"
	"spendly/internal/log"
)

type authPage struct {
	page
	Error     string
	Email     string
	Providers []string
}

func (s *Server) newAuthPage(r *http.Request, title, email, errMsg string) authPage {
	return authPage{
		page:      s.basePage(r, title),
		Error:     errMsg,
		Email:     email,
		Providers: s.identity.Providers(),
	}
}

// signedIn sends visitors who already have a session to the dashboard.
func (s *Server) signedIn(w http.ResponseWriter, r *http.Request) bool {
	if sessionFrom(r.Context()).User == nil {
		return false
	}
	redirect(w, r, "/dashboard")
	return true
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if s.signedIn(w, r) {
		return
	}
	s.writePage(w, r, http.StatusOK, "login", s.newAuthPage(r, "Login", "", ""))
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	if s.signedIn(w, r) {
		return
	}
	s.writePage(w, r, http.StatusOK, "register", s.newAuthPage(r, "Register", "", ""))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.signedIn(w, r) {
		return
	}
	logger := log.FromContext(r.Context())

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		logger.WarnContext(r.Context(), "Failed to parse login form", log.FieldError, err)
		s.writePage(w, r, http.StatusBadRequest, "login", s.newAuthPage(r, "Login", "", identity.GenericLoginFailure))
		return
	}
	email, password := parser.Credentials()

	u, err := s.identity.SignInWithPassword(r.Context(), email, password)
	if err == nil {
		err = s.signIn(w, r, u)
	}
	if err != nil {
		logger.WarnContext(r.Context(), "Login failed",
			log.FieldError, err, log.FieldOperation, log.OpSignIn)
		s.writePage(w, r, http.StatusUnauthorized, "login",
			s.newAuthPage(r, "Login", email, identity.Message(err, identity.GenericLoginFailure)))
		return
	}
	redirect(w, r, "/dashboard")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.signedIn(w, r) {
		return
	}
	logger := log.FromContext(r.Context())

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		logger.WarnContext(r.Context(), "Failed to parse register form", log.FieldError, err)
		s.writePage(w, r, http.StatusBadRequest, "register", s.newAuthPage(r, "Register", "", identity.GenericRegisterFailure))
		return
	}
	email, password := parser.Credentials()

	u, err := s.identity.Register(r.Context(), email, password)
	if err == nil {
		err = s.signIn(w, r, u)
	}
	if err != nil {
		logger.WarnContext(r.Context(), "Registration failed",
			log.FieldError, err, log.FieldOperation, log.OpRegister)
		s.writePage(w, r, http.StatusUnprocessableEntity, "register",
			s.newAuthPage(r, "Register", email, identity.Message(err, identity.GenericRegisterFailure)))
		return
	}
	redirect(w, r, "/dashboard")
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.signOut(w, r)
	redirect(w, r, "/login")
}

func (s *Server) handleFederatedStart(w http.ResponseWriter, r *http.Request) {
	if s.signedIn(w, r) {
		return
	}
	provider := r.PathValue("provider")
	target, err := s.identity.BeginFederated(provider)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Federated sign-in unavailable",
			log.FieldProvider, provider, log.FieldError, err)
		s.writePage(w, r, http.StatusNotFound, "login", s.newAuthPage(r, "Login", "", identity.GenericLoginFailure))
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleFederatedCallback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	logger := log.FromContext(r.Context()).With(log.FieldProvider, provider)
	q := r.URL.Query()

	// The provider reports a cancelled consent screen as ?error=...
	if e := q.Get("error"); e != "" {
		logger.InfoContext(r.Context(), "Federated sign-in declined", "reason", e)
		s.writePage(w, r, http.StatusUnauthorized, "login", s.newAuthPage(r, "Login", "", identity.GenericLoginFailure))
		return
	}

	u, err := s.identity.CompleteFederated(r.Context(), provider, q.Get("state"), q.Get("code"))
	if err == nil {
		err = s.signIn(w, r, u)
	}
	if err != nil {
		logger.WarnContext(r.Context(), "Federated sign-in failed",
			log.FieldError, err, log.FieldOperation, log.OpSignIn)
		s.writePage(w, r, http.StatusUnauthorized, "login",
			s.newAuthPage(r, "Login", "", identity.Message(err, identity.GenericLoginFailure)))
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}
