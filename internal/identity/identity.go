// Package identity signs users in and tracks their browser sessions.
//
// Accounts live in the "users" collection of the document store. Password
// accounts keep a bcrypt hash; federated accounts (Google, GitHub) are keyed by
// provider and subject. A signed-in browser holds an HS256 token naming the
// user and the client session id; sign-out revokes that session and tells
// every subscriber of the session that there is no identity anymore.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/badoux/checkmail"
	"golang.org/x/crypto/bcrypt"

	"spendly/internal/cache"
	"spendly/internal/log"
	"spendly/internal/store"
)

const usersCollection = "users"

// User is an authenticated identity.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Provider    string
}

const ProviderPassword = "password"

// Options configures a Provider.
type Options struct {
	Secret     []byte
	SessionTTL time.Duration
	BcryptCost int
	Federated  map[string]Federated
	// MaxSessions bounds the in-memory revocation and active-session tables.
	MaxSessions int
}

// Provider is the identity service used by the web layer.
type Provider struct {
	store     store.Store
	logger    *log.Logger
	secret    []byte
	ttl       time.Duration
	cost      int
	federated map[string]Federated
	now       func() time.Time

	active  *cache.LRUCache[string]   // sid -> token id
	revoked *cache.LRUCache[struct{}] // token id
	states  *cache.LRUCache[string]   // oauth state -> provider id

	mu     sync.Mutex
	subs   map[string]map[int]func(*User)
	nextID int
}

func NewProvider(s store.Store, opts Options, logger *log.Logger) (*Provider, error) {
	if len(opts.Secret) < 16 {
		return nil, errors.New("identity: session secret must be at least 16 bytes")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10000
	}
	if opts.Federated == nil {
		opts.Federated = map[string]Federated{}
	}
	return &Provider{
		store:     s,
		logger:    logger.WithComponent(log.ComponentIdentity),
		secret:    opts.Secret,
		ttl:       opts.SessionTTL,
		cost:      opts.BcryptCost,
		federated: opts.Federated,
		now:       time.Now,
		active:    cache.NewLRUCache[string](opts.MaxSessions, opts.SessionTTL),
		revoked:   cache.NewLRUCache[struct{}](opts.MaxSessions, opts.SessionTTL),
		states:    cache.NewLRUCache[string](opts.MaxSessions, 10*time.Minute),
		subs:      make(map[string]map[int]func(*User)),
	}, nil
}

// Caches returns the provider's expiring tables for periodic cleanup.
func (p *Provider) Caches() []cache.Cleaner {
	return []cache.Cleaner{p.active, p.revoked, p.states}
}

// Register creates a password account.
func (p *Provider) Register(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, newError(CodeMissingFields)
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return nil, &Error{Code: CodeInvalidEmail, Err: err}
	}
	if len(password) < MinPasswordLength {
		return nil, newError(CodeWeakPassword)
	}

	existing, err := p.findOne(ctx, store.Condition{Field: "email", Value: email})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, newError(CodeEmailAlreadyInUse)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{Email: email, DisplayName: displayNameFrom(email), Provider: ProviderPassword}
	id, err := p.store.Add(ctx, usersCollection, store.Fields{
		"email":        u.Email,
		"displayName":  u.DisplayName,
		"provider":     u.Provider,
		"passwordHash": string(hash),
		"createdAt":    p.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.ID = id

	p.logger.InfoContext(ctx, "User registered", log.FieldOwnerID, id, log.FieldOperation, log.OpRegister)
	return u, nil
}

// SignInWithPassword checks credentials of a password account.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, newError(CodeMissingFields)
	}
	if err := checkmail.ValidateFormat(email); err != nil {
		return nil, &Error{Code: CodeInvalidEmail, Err: err}
	}

	doc, err := p.findOne(ctx, store.Condition{Field: "email", Value: email})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, newError(CodeUserNotFound)
	}
	hash, _ := doc.Fields["passwordHash"].(string)
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, newError(CodeWrongPassword)
	}
	return userFromDocument(*doc), nil
}

// User loads an account by id.
func (p *Provider) User(ctx context.Context, id string) (*User, error) {
	doc, err := p.store.Get(ctx, usersCollection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(CodeUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return userFromDocument(doc), nil
}

func (p *Provider) findOne(ctx context.Context, conds ...store.Condition) (*store.Document, error) {
	docs, err := p.store.Query(ctx, store.Query{Collection: usersCollection, Where: conds})
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

func userFromDocument(doc store.Document) *User {
	str := func(k string) string {
		s, _ := doc.Fields[k].(string)
		return s
	}
	return &User{
		ID:          doc.ID,
		Email:       str("email"),
		DisplayName: str("displayName"),
		Provider:    str("provider"),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func displayNameFrom(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// Subscribe registers fn for identity changes on client session sid. fn runs
// with the new user after a sign-in and with nil after a sign-out.
func (p *Provider) Subscribe(sid string, fn func(*User)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	if p.subs[sid] == nil {
		p.subs[sid] = make(map[int]func(*User))
	}
	p.subs[sid][id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs[sid], id)
			if len(p.subs[sid]) == 0 {
				delete(p.subs, sid)
			}
		})
	}
}

func (p *Provider) notify(sid string, u *User) {
	p.mu.Lock()
	fns := make([]func(*User), 0, len(p.subs[sid]))
	for _, fn := range p.subs[sid] {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}
