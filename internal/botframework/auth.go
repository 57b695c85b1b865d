package botframework

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
)

// Bot Framework token issuer and signing-key discovery document.
const (
	TokenIssuer       = "https://api.botframework.com"
	OpenIDMetadataURL = "https://login.botframework.com/v1/.well-known/openidconfiguration"
)

// ErrUnauthorized is returned for any inbound token that fails validation.
var ErrUnauthorized = errors.New("unauthorized")

const signingKeysCacheKey = "signing-keys"

// Validator checks the bearer token the Bot Connector sends with each activity.
type Validator struct {
	appID       string
	metadataURL string
	httpClient  HTTPDoer
	keys        *cache.Cache
	now         func() time.Time
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithMetadataURL overrides the OpenID metadata location.
func WithMetadataURL(u string) ValidatorOption {
	return func(v *Validator) { v.metadataURL = u }
}

// WithValidatorClock replaces time.Now.
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a Validator for tokens addressed to appID.
// Signing keys are cached for a day.
func NewValidator(appID string, httpClient HTTPDoer, opts ...ValidatorOption) *Validator {
	v := &Validator{
		appID:       appID,
		metadataURL: OpenIDMetadataURL,
		httpClient:  httpClient,
		keys:        cache.New(24*time.Hour, time.Hour),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks an Authorization header value and, when the token carries a
// serviceurl claim, that it matches the activity's serviceUrl.
func (v *Validator) Validate(ctx context.Context, authorization, serviceURL string) error {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	keys, err := v.signingKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to load signing keys: %w", err)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		key, found := keys[kid]
		if !found {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(v.appID),
		jwt.WithLeeway(5*time.Minute),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if claimed, _ := claims["serviceurl"].(string); claimed != "" && serviceURL != "" {
		if !strings.EqualFold(strings.TrimRight(claimed, "/"), strings.TrimRight(serviceURL, "/")) {
			return fmt.Errorf("%w: serviceurl claim does not match activity", ErrUnauthorized)
		}
	}

	return nil
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Validator) signingKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	if cached, found := v.keys.Get(signingKeysCacheKey); found {
		return cached.(map[string]*rsa.PublicKey), nil
	}

	var metadata struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := v.getJSON(ctx, v.metadataURL, &metadata); err != nil {
		return nil, err
	}
	if metadata.JWKSURI == "" {
		return nil, fmt.Errorf("openid metadata has no jwks_uri")
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := v.getJSON(ctx, metadata.JWKSURI, &set); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no usable signing keys")
	}

	v.keys.Set(signingKeysCacheKey, keys, cache.DefaultExpiration)
	return keys, nil
}

func (v *Validator) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %d", u, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func rsaKey(k jsonWebKey) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}
