package auth

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/xrce-agent-go/internal/jwtauth"
)

// TokenAuthOption configures optional aspects of the admission token
// authenticator (scopes, algorithms, leeway, etc.). Issuer and audience are
// formal arguments of the constructors.
type TokenAuthOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) TokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = false
	}
}

// WithAnyRequiredScope requires at least one of the provided scopes to be present.
func WithAnyRequiredScope(scopes ...string) TokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = true
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
// Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) TokenAuthOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) TokenAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAcceptedTypes restricts the JOSE "typ" header, e.g. "at+jwt".
func WithAcceptedTypes(types ...string) TokenAuthOption {
	return func(c *jwtauth.Config) {
		c.AcceptedTypes = append([]string(nil), types...)
	}
}

// WithAdditionalAudiences accepts tokens minted for any of the given
// audiences besides the primary one.
func WithAdditionalAudiences(auds ...string) TokenAuthOption {
	return func(c *jwtauth.Config) {
		c.ExpectedAudiences = append(c.ExpectedAudiences, auds...)
	}
}

// NewFromDiscovery returns an Authenticator that verifies JWTs whose keys are
// located through OpenID Connect discovery on issuer.
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...TokenAuthOption) (Authenticator, error) {
	cfg, err := buildConfig(issuer, audience, opts)
	if err != nil {
		return nil, err
	}
	internal, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal}, nil
}

// NewStatic returns an Authenticator that verifies JWTs issued by issuer
// against the key set served at jwksURI, without discovery.
func NewStatic(ctx context.Context, issuer, audience, jwksURI string, opts ...TokenAuthOption) (Authenticator, error) {
	cfg, err := buildConfig(issuer, audience, opts)
	if err != nil {
		return nil, err
	}
	internal, err := jwtauth.NewStatic(ctx, cfg, jwksURI)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal}, nil
}

func buildConfig(issuer, audience string, opts []TokenAuthOption) (*jwtauth.Config, error) {
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := jwtauth.DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{audience}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

// adapter wraps the internal authenticator to satisfy the public interface.
type adapter struct {
	a jwtauth.Authenticator
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := ad.a.CheckAuthentication(ctx, tok)
	if err != nil {
		// Map internal sentinel errors to public errors.
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return userInfoAdapter{ui: ui}, nil
}

type userInfoAdapter struct{ ui jwtauth.UserInfo }

func (u userInfoAdapter) UserID() string       { return u.ui.UserID() }
func (u userInfoAdapter) Claims(ref any) error { return u.ui.Claims(ref) }
