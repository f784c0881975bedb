package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"

	"github.com/terraconstructs/grid/cmd/gridauth/internal/config"
	"github.com/terraconstructs/grid/cmd/gridauth/internal/identity"
)

var (
	// ErrIdPUnreachable means the token endpoint could not be reached in time
	// or failed on its side (5xx).
	ErrIdPUnreachable = errors.New("identity provider unreachable")
	// ErrIdPRejected means the IdP answered and refused the exchange, or
	// returned tokens that failed verification.
	ErrIdPRejected = errors.New("identity provider rejected the exchange")
)

const defaultExchangeTimeout = 10 * time.Second

// ProviderTokens are the tokens returned by the IdP for one login.
type ProviderTokens struct {
	IDToken               string
	IDTokenExpiresAt      *time.Time
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt *time.Time
}

// IdPExchanger redeems authorization codes at the external IdP by wrapping
// the zitadel/oidc RelyingParty implementation.
type IdPExchanger struct {
	rp      rp.RelyingParty
	timeout time.Duration
}

// NewIdPExchanger creates an exchanger for the configured IdP.
//
// With an issuer, discovery runs now and id tokens are verified on every
// exchange. With only a token URL the exchange is plain OAuth2.
func NewIdPExchanger(ctx context.Context, cfg config.IdPConfig, httpClient *http.Client) (*IdPExchanger, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("external IdP is not configured")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	timeout := cfg.ExchangeTimeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}

	options := []rp.Option{
		rp.WithHTTPClient(httpClient),
		rp.WithVerifierOpts(rp.WithIssuedAtMaxAge(5 * time.Minute)),
	}

	var (
		relyingParty rp.RelyingParty
		err          error
	)
	if cfg.Issuer != "" {
		discoveryCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		relyingParty, err = rp.NewRelyingPartyOIDC(discoveryCtx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret,
			cfg.RedirectURI, cfg.Scopes, options...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
		}
	} else {
		relyingParty, err = rp.NewRelyingPartyOAuth(&oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}, options...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OAuth relying party: %w", err)
		}
	}

	return &IdPExchanger{rp: relyingParty, timeout: timeout}, nil
}

// Exchange redeems code with its PKCE verifier. Failures wrap either
// ErrIdPUnreachable or ErrIdPRejected.
func (e *IdPExchanger) Exchange(ctx context.Context, code, codeVerifier string) (*ProviderTokens, error) {
	if code == "" || codeVerifier == "" {
		return nil, fmt.Errorf("%w: code and code verifier are required", ErrIdPRejected)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tokens, err := rp.CodeExchange[*oidc.IDTokenClaims](ctx, code, e.rp, rp.WithCodeVerifier(codeVerifier))
	if err != nil {
		return nil, classifyExchangeError(ctx, err)
	}
	if tokens == nil || tokens.Token == nil {
		return nil, fmt.Errorf("%w: empty token response", ErrIdPRejected)
	}

	idToken := tokens.IDToken
	if idToken == "" {
		idToken, _ = tokens.Token.Extra("id_token").(string)
	}
	if idToken == "" {
		return nil, fmt.Errorf("%w: token response carries no id_token", ErrIdPRejected)
	}

	out := &ProviderTokens{
		IDToken:          idToken,
		IDTokenExpiresAt: tokenExpiry(idToken),
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
	}
	if secs := extraSeconds(tokens.Token, "refresh_token_expires_in"); secs > 0 && out.RefreshToken != "" {
		exp := time.Now().Add(time.Duration(secs) * time.Second).UTC()
		out.RefreshTokenExpiresAt = &exp
	}
	return out, nil
}

// classifyExchangeError maps exchange failures onto the two IdP sentinels.
func classifyExchangeError(ctx context.Context, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: token endpoint returned %d", ErrIdPUnreachable, retrieveErr.Response.StatusCode)
		}
		if retrieveErr.ErrorCode != "" {
			return fmt.Errorf("%w: %s", ErrIdPRejected, retrieveErr.ErrorCode)
		}
		return fmt.Errorf("%w: %v", ErrIdPRejected, err)
	}

	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrIdPUnreachable, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrIdPUnreachable, err)
	}

	// Anything else happened after the IdP answered: bad JSON, id token
	// signature, audience or nonce failures.
	return fmt.Errorf("%w: %v", ErrIdPRejected, err)
}

// tokenExpiry reads exp from a JWT without verifying it.
func tokenExpiry(token string) *time.Time {
	decoded, err := identity.DecodeClaims(token)
	if err != nil {
		return nil
	}
	exp, err := jwt.MapClaims(decoded).GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.UTC()
	return &t
}

func extraSeconds(token *oauth2.Token, key string) int64 {
	switch v := token.Extra(key).(type) {
	case float64:
		return int64(v)
	case string:
		var n int64
		if _, err := fmt.Sscan(strings.TrimSpace(v), &n); err == nil {
			return n
		}
	}
	return 0
}
