package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims are the identifying claims of an Azure AD access token.
type tokenClaims struct {
	Audience string
	TenantID string
	AppID    string
}

// inspectClaims reads claims from an access token without verifying its
// signature. The result is only used for diagnostics.
func inspectClaims(raw string) (tokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return tokenClaims{}, err
	}

	var out tokenClaims
	if aud, err := claims.GetAudience(); err == nil {
		out.Audience = strings.Join(aud, ",")
	}
	out.TenantID, _ = claims["tid"].(string)
	out.AppID, _ = claims["appid"].(string)
	return out, nil
}
