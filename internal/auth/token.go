package auth

import (
	"encoding/json"
	"time"
)

// Token is a bearer token and the instant it stops being accepted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be presented at now, leaving
// margin before the expiry.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	if t.Value == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}

// tokenResponse is the token endpoint's JSON body. expires_on is unix
// seconds, usually encoded as a string.
type tokenResponse struct {
	TokenType   string      `json:"token_type"`
	ExpiresOn   json.Number `json:"expires_on"`
	AccessToken string      `json:"access_token"`
}
