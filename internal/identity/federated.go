package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"spendly/internal/log"
	"spendly/internal/store"
)

const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

// Profile is what a federated provider tells us about the signed-in account.
type Profile struct {
	Subject string
	Email   string
	Name    string
}

// Federated is an OAuth2 identity provider.
type Federated interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Profile, error)
}

// OAuthConfig builds the oauth2 config for a provider id. redirectURL is the
// absolute callback URL registered with the provider.
func OAuthConfig(provider, clientID, clientSecret, redirectURL string) (*oauth2.Config, error) {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
	}
	switch provider {
	case ProviderGoogle:
		cfg.Endpoint = google.Endpoint
		cfg.Scopes = []string{googleoauth.UserinfoEmailScope, googleoauth.UserinfoProfileScope}
	case ProviderGitHub:
		cfg.Endpoint = github.Endpoint
		cfg.Scopes = []string{"read:user", "user:email"}
	default:
		return nil, &Error{Code: CodeProviderNotConfigured, Err: fmt.Errorf("unknown provider %q", provider)}
	}
	return cfg, nil
}

// Google signs in through Google and reads the account from the userinfo API.
type Google struct {
	Config *oauth2.Config
}

func (g *Google) AuthCodeURL(state string) string {
	return g.Config.AuthCodeURL(state)
}

func (g *Google) Exchange(ctx context.Context, code string) (Profile, error) {
	tok, err := g.Config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("google token exchange: %w", err)
	}
	svc, err := googleoauth.NewService(ctx, option.WithTokenSource(g.Config.TokenSource(ctx, tok)))
	if err != nil {
		return Profile{}, fmt.Errorf("google userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return Profile{}, fmt.Errorf("google userinfo: %w", err)
	}
	return Profile{Subject: info.Id, Email: info.Email, Name: info.Name}, nil
}

// GitHub signs in through GitHub and reads the account from its REST API.
type GitHub struct {
	Config *oauth2.Config
	// APIBase defaults to https://api.github.com.
	APIBase string
}

func (g *GitHub) AuthCodeURL(state string) string {
	return g.Config.AuthCodeURL(state)
}

func (g *GitHub) Exchange(ctx context.Context, code string) (Profile, error) {
	tok, err := g.Config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("github token exchange: %w", err)
	}
	client := g.Config.Client(ctx, tok)
	base := g.APIBase
	if base == "" {
		base = "https://api.github.com"
	}

	var account struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := getJSON(ctx, client, base+"/user", &account); err != nil {
		return Profile{}, err
	}
	p := Profile{Subject: strconv.FormatInt(account.ID, 10), Email: account.Email, Name: account.Name}
	if p.Name == "" {
		p.Name = account.Login
	}

	// The profile email is empty when the user keeps it private.
	if p.Email == "" {
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, base+"/user/emails", &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					p.Email = e.Email
					break
				}
			}
		}
	}
	return p, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Providers lists the configured federated provider ids.
func (p *Provider) Providers() []string {
	var ids []string
	for _, id := range []string{ProviderGoogle, ProviderGitHub} {
		if _, ok := p.federated[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// BeginFederated returns the URL that starts a sign-in with provider.
func (p *Provider) BeginFederated(provider string) (string, error) {
	f, ok := p.federated[provider]
	if !ok {
		return "", newError(CodeProviderNotConfigured)
	}
	state := uuid.NewString()
	p.states.Set(state, provider)
	return f.AuthCodeURL(state), nil
}

// CompleteFederated finishes a sign-in started by BeginFederated. The state is
// single use. Accounts are matched on provider and subject and created on
// first sign-in.
func (p *Provider) CompleteFederated(ctx context.Context, provider, state, code string) (*User, error) {
	f, ok := p.federated[provider]
	if !ok {
		return nil, newError(CodeProviderNotConfigured)
	}
	if want, ok := p.states.Take(state); !ok || want != provider {
		return nil, newError(CodeInvalidState)
	}
	if code == "" {
		return nil, newError(CodeMissingFields)
	}

	profile, err := f.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if profile.Subject == "" {
		return nil, fmt.Errorf("%s returned no account id", provider)
	}

	doc, err := p.findOne(ctx,
		store.Condition{Field: "provider", Value: provider},
		store.Condition{Field: "federatedId", Value: profile.Subject})
	if err != nil {
		return nil, err
	}
	if doc != nil {
		return userFromDocument(*doc), nil
	}

	email := normalizeEmail(profile.Email)
	if email != "" {
		existing, err := p.findOne(ctx, store.Condition{Field: "email", Value: email})
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, newError(CodeEmailAlreadyInUse)
		}
	}

	u := &User{Email: email, DisplayName: profile.Name, Provider: provider}
	if u.DisplayName == "" {
		u.DisplayName = displayNameFrom(email)
	}
	id, err := p.store.Add(ctx, usersCollection, store.Fields{
		"email":       u.Email,
		"displayName": u.DisplayName,
		"provider":    provider,
		"federatedId": profile.Subject,
		"createdAt":   p.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.ID = id

	p.logger.InfoContext(ctx, "Federated user registered",
		log.FieldOwnerID, id, log.FieldProvider, provider, log.FieldOperation, log.OpRegister)
	return u, nil
}
