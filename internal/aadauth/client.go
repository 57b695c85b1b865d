// Package aadauth builds HTTP clients that authenticate to Microsoft APIs
// with the Azure AD client-credentials grant.
package aadauth

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

// Scopes for the APIs this repository calls.
const (
	GraphScope        = "https://graph.microsoft.com/.default"
	BotFrameworkScope = "https://api.botframework.com/.default"

	// BotFrameworkTenant is the token authority for multi-tenant bots.
	BotFrameworkTenant = "botframework.com"
)

// expiryLeeway refreshes tokens this long before Azure AD says they expire.
const expiryLeeway = 60 * time.Second

// Config describes one client-credentials application registration.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// TokenURL overrides the tenant's v2.0 token endpoint.
	TokenURL string

	// Base is the transport used for both token and API calls.
	// Defaults to an otelhttp-instrumented http.DefaultTransport.
	Base http.RoundTripper
}

// TokenSource returns a cached token source for cfg.
func TokenSource(ctx context.Context, cfg Config) oauth2.TokenSource {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = microsoft.AzureADEndpoint(cfg.TenantID).TokenURL
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: baseTransport(cfg),
		Timeout:   30 * time.Second,
	})

	return oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(tokenCtx), expiryLeeway)
}

// NewHTTPClient returns a client that attaches a bearer token to every request.
func NewHTTPClient(ctx context.Context, cfg Config) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: TokenSource(ctx, cfg),
			Base:   baseTransport(cfg),
		},
		Timeout: 60 * time.Second,
	}
}

func baseTransport(cfg Config) http.RoundTripper {
	if cfg.Base != nil {
		return cfg.Base
	}
	return otelhttp.NewTransport(http.DefaultTransport)
}
