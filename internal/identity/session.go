package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"spendly/internal/log"
)

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// IssueSession signs a token binding user to client session sid and tells
// the session's subscribers about the new identity.
func (p *Provider) IssueSession(sid string, u *User) (string, error) {
	if sid == "" || u == nil {
		return "", newError(CodeInvalidSession)
	}
	now := p.now()
	claims := sessionClaims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}

	// A new sign-in replaces whatever token the client held before.
	if prev, ok := p.active.Get(sid); ok {
		p.revoked.Set(prev, struct{}{})
	}
	p.active.Set(sid, claims.ID)

	p.logger.Info("Session issued", log.FieldOwnerID, u.ID, log.FieldSessionID, sid, log.FieldOperation, log.OpSignIn)
	p.notify(sid, u)
	return token, nil
}

// ResolveSession validates token and loads its user.
func (p *Provider) ResolveSession(ctx context.Context, token string) (string, *User, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(p.now))
	if err != nil {
		return "", nil, &Error{Code: CodeInvalidSession, Err: err}
	}
	if claims.SessionID == "" || claims.Subject == "" {
		return "", nil, newError(CodeInvalidSession)
	}
	if _, revoked := p.revoked.Get(claims.ID); revoked {
		return "", nil, &Error{Code: CodeInvalidSession, Err: errors.New("session revoked")}
	}

	u, err := p.User(ctx, claims.Subject)
	if err != nil {
		return "", nil, err
	}
	return claims.SessionID, u, nil
}

// SignOut revokes the token held by client session sid and notifies its
// subscribers with a nil identity.
func (p *Provider) SignOut(ctx context.Context, sid string) {
	if tokenID, ok := p.active.Take(sid); ok {
		p.revoked.Set(tokenID, struct{}{})
	}
	p.logger.InfoContext(ctx, "Session signed out", log.FieldSessionID, sid, log.FieldOperation, log.OpSignOut)
	p.notify(sid, nil)
}
