package auth

import (
	"context"

	"github.com/sungwon/busclient/internal/httpclient"
)

// Authenticator decorates an outgoing request with credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, req *httpclient.Request) (*httpclient.Request, error)
}

// TokenSource yields bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (Token, error)
}

// ClientCredentials authenticates requests with tokens from a TokenSource,
// normally a *TokenCache.
type ClientCredentials struct {
	source TokenSource
}

// NewClientCredentials creates an Authenticator backed by source.
func NewClientCredentials(source TokenSource) *ClientCredentials {
	return &ClientCredentials{source: source}
}

// Authenticate sets the Authorization header to the current bearer token.
func (c *ClientCredentials) Authenticate(ctx context.Context, req *httpclient.Request) (*httpclient.Request, error) {
	token, err := c.source.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.SetHeader("Authorization", "Bearer "+token.Value)
	return req, nil
}

// Static authenticates every request with the same token and never touches
// the network.
type Static string

// Authenticate sets the Authorization header to the fixed token.
func (s Static) Authenticate(_ context.Context, req *httpclient.Request) (*httpclient.Request, error) {
	req.SetHeader("Authorization", "Bearer "+string(s))
	return req, nil
}
