package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"spendly/internal/cache"
	"spendly/internal/cli"
	"spendly/internal/config"
	"spendly/internal/feed"
	"spendly/internal/gateway"
	apphttp "spendly/internal/http"
	"spendly/internal/identity"
	"spendly/internal/log"
)

func main() {
	cfg, logger := cli.Bootstrap(log.ComponentApp)

	be := cli.OpenBackend(context.Background(), logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	federated, err := federatedProviders(cfg)
	if err != nil {
		logger.Error("Invalid federated sign-in configuration", log.FieldError, err)
		os.Exit(1)
	}
	idp, err := identity.NewProvider(be.Live, identity.Options{
		Secret:     []byte(cfg.SessionSecret),
		SessionTTL: cfg.SessionTTL,
		Federated:  federated,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize identity provider", log.FieldError, err)
		os.Exit(1)
	}

	caches := cache.NewManager(logger)
	for _, c := range idp.Caches() {
		caches.Register(c)
	}

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		SecureCookies:      strings.HasPrefix(cfg.BaseURL, "https://"),
		SessionTTL:         cfg.SessionTTL,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, apphttp.Deps{
		Identity: idp,
		Expenses: feed.New(be.Live, logger),
		Gateway:  gateway.New(be.Live, cfg.NoticeDuration, logger),
		Ready:    be.Ready,
		Caches:   caches,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("Failed to initialize HTTP server", log.FieldError, err)
		os.Exit(1)
	}
	caches.StartCleanup(5 * time.Minute)
	defer caches.Stop()

	ctx, shutdown := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Changes written by other instances reach this instance's feeds here.
		if err := be.Live.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting spendly server",
			"port", cfg.Port, "store", cfg.DataBackend, "bus", cfg.EventBus,
			"providers", idp.Providers(), log.FieldOperation, log.OpStartup)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown.Stop()
		return nil
	})

	err = g.Wait()
	<-shutdown.Done
	if err != nil {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

// federatedProviders configures the sign-in providers that have credentials.
// Callback URLs are BASE_URL/auth/{provider}/callback.
func federatedProviders(cfg *config.Config) (map[string]identity.Federated, error) {
	providers := make(map[string]identity.Federated)
	creds := []struct {
		id, clientID, secret string
	}{
		{identity.ProviderGoogle, cfg.GoogleClientID, cfg.GoogleClientSecret},
		{identity.ProviderGitHub, cfg.GitHubClientID, cfg.GitHubClientSecret},
	}
	for _, c := range creds {
		if c.clientID == "" {
			continue
		}
		callback, err := url.JoinPath(cfg.BaseURL, "auth", c.id, "callback")
		if err != nil {
			return nil, err
		}
		oc, err := identity.OAuthConfig(c.id, c.clientID, c.secret, callback)
		if err != nil {
			return nil, err
		}
		switch c.id {
		case identity.ProviderGoogle:
			providers[c.id] = &identity.Google{Config: oc}
		case identity.ProviderGitHub:
			providers[c.id] = &identity.GitHub{Config: oc}
		}
	}
	return providers, nil
}
