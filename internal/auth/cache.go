package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/busclient/internal/httpclient"
	"github.com/sungwon/busclient/internal/metrics"
)

const (
	// DefaultOAuthEndpoint is the Azure AD authority.
	DefaultOAuthEndpoint = "https://login.microsoftonline.com"
	// ServiceBusResource is the resource identifier for Service Bus tokens.
	ServiceBusResource = "https://servicebus.azure.net"
)

// TokenCache exchanges Credentials for bearer tokens using the OAuth2 client
// credentials grant and shares one cached token between all callers.
//
// The slot is held across the validity check and any exchange it triggers.
// Concurrent callers that find the token expired therefore wait for the one
// exchange in progress instead of issuing their own.
type TokenCache struct {
	creds    Credentials
	resource string
	tokenURL string
	margin   time.Duration
	client   httpclient.Doer
	log      zerolog.Logger
	now      func() time.Time

	// slot is a one-element semaphore guarding token.
	slot  chan struct{}
	token *Token
}

// CacheOption configures a TokenCache.
type CacheOption func(*TokenCache)

// WithOAuthEndpoint overrides the authority the token is requested from.
func WithOAuthEndpoint(endpoint string) CacheOption {
	return func(tc *TokenCache) {
		if endpoint != "" {
			tc.tokenURL = tokenURL(endpoint, tc.creds.TenantID)
		}
	}
}

// WithResource overrides the resource the token is issued for.
func WithResource(resource string) CacheOption {
	return func(tc *TokenCache) {
		if resource != "" {
			tc.resource = resource
		}
	}
}

// WithExpiryMargin treats tokens as expired margin before their stated expiry.
func WithExpiryMargin(margin time.Duration) CacheOption {
	return func(tc *TokenCache) { tc.margin = margin }
}

// WithLogger sets the logger used for exchange diagnostics.
func WithLogger(log zerolog.Logger) CacheOption {
	return func(tc *TokenCache) { tc.log = log }
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) CacheOption {
	return func(tc *TokenCache) { tc.now = now }
}

// NewTokenCache creates a token cache for the given credentials.
func NewTokenCache(creds Credentials, client httpclient.Doer, opts ...CacheOption) *TokenCache {
	tc := &TokenCache{
		creds:    creds,
		resource: ServiceBusResource,
		tokenURL: tokenURL(DefaultOAuthEndpoint, creds.TenantID),
		client:   client,
		log:      zerolog.Nop(),
		now:      time.Now,
		slot:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

func tokenURL(endpoint, tenantID string) string {
	return strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(tenantID) + "/oauth2/token"
}

// Token returns the cached token if it is still valid, otherwise it performs
// a fresh exchange and caches the result. A ctx that is already done fails
// with KindConcurrency even when a valid token is cached.
func (tc *TokenCache) Token(ctx context.Context) (Token, error) {
	// select picks randomly among ready cases; a done ctx must always lose.
	if err := ctx.Err(); err != nil {
		return Token{}, newError(KindConcurrency, err, "acquire token slot")
	}

	select {
	case tc.slot <- struct{}{}:
	case <-ctx.Done():
		return Token{}, newError(KindConcurrency, ctx.Err(), "acquire token slot")
	}
	defer func() { <-tc.slot }()

	if tc.token != nil && tc.token.Valid(tc.now(), tc.margin) {
		metrics.TokenCacheHitsTotal.Inc()
		return *tc.token, nil
	}

	token, err := tc.exchange(ctx)
	if err != nil {
		metrics.TokenExchangesTotal.WithLabelValues("failure").Inc()
		return Token{}, err
	}
	metrics.TokenExchangesTotal.WithLabelValues("success").Inc()

	tc.token = &token
	return token, nil
}

// Invalidate clears the cached token, forcing an exchange on the next call.
func (tc *TokenCache) Invalidate() {
	tc.slot <- struct{}{}
	tc.token = nil
	<-tc.slot
}

// exchange performs one client credentials grant against the token endpoint.
func (tc *TokenCache) exchange(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", tc.creds.ClientID)
	form.Set("client_secret", tc.creds.Secret)
	form.Set("resource", tc.resource)

	req := httpclient.NewRequest(http.MethodPost, tc.tokenURL, []byte(form.Encode()))
	req.SetHeader("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.client.Do(ctx, req)
	if err != nil {
		return Token{}, newError(KindCommunication, err, "token request")
	}

	if resp.StatusCode != http.StatusOK {
		ae := newError(KindAcquisition, nil, "token endpoint returned status %d", resp.StatusCode)
		ae.Status = resp.StatusCode
		return Token{}, ae
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(resp.Body, &tokenResp); err != nil {
		return Token{}, newError(KindFormat, err, "parse token response")
	}

	expiresOn, err := strconv.ParseInt(tokenResp.ExpiresOn.String(), 10, 64)
	if err != nil {
		return Token{}, newError(KindFormat, err, "parse expires_on %q", tokenResp.ExpiresOn)
	}

	if tokenResp.AccessToken == "" {
		return Token{}, newError(KindFormat, nil, "empty access token in response")
	}

	token := Token{Value: tokenResp.AccessToken, ExpiresAt: time.Unix(expiresOn, 0)}
	tc.logIssued(token)

	return token, nil
}

func (tc *TokenCache) logIssued(token Token) {
	if tc.log.GetLevel() > zerolog.DebugLevel {
		return
	}

	ev := tc.log.Debug().
		Str("client_id", tc.creds.ClientID).
		Str("resource", tc.resource).
		Time("expires_at", token.ExpiresAt)

	if claims, err := inspectClaims(token.Value); err == nil {
		ev = ev.Str("audience", claims.Audience).
			Str("token_tenant_id", claims.TenantID).
			Str("app_id", claims.AppID)
	}

	ev.Str("tenant_id", tc.creds.TenantID).Msg("token issued")
}
