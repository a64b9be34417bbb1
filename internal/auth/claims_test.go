package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestInspectClaims(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"aud":   "https://servicebus.azure.net",
		"tid":   "tenant-1",
		"appid": "client-1",
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	claims, err := inspectClaims(signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Audience != "https://servicebus.azure.net" {
		t.Errorf("unexpected audience: %s", claims.Audience)
	}
	if claims.TenantID != "tenant-1" || claims.AppID != "client-1" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestInspectClaims_Opaque(t *testing.T) {
	if _, err := inspectClaims("not-a-jwt"); err == nil {
		t.Error("expected error for opaque token")
	}
}
