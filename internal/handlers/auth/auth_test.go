package auth

import (
	"testing"
	"time"

	"github.com/mycoool/tongbu/internal/types"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash := HashPassword("secret")
	if len(hash) != 64 {
		t.Fatalf("sha256 hex must be 64 chars, got %d", len(hash))
	}
	if !VerifyPassword("secret", hash) {
		t.Fatal("correct password must verify")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatal("wrong password must not verify")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	types.TongbuAppConfig = &types.AppConfig{
		JWTSecret:         "test-secret",
		JWTExpiryDuration: 1,
	}
	defer func() { types.TongbuAppConfig = nil }()

	token, err := GenerateToken("alice", "admin")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Username != "alice" || claims.Role != "admin" {
		t.Fatalf("claims: %+v", claims)
	}
	if time.Until(claims.ExpiresAt.Time) > time.Hour {
		t.Fatal("expiry must honor configured duration")
	}
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	if _, err := ValidateToken("not-a-token"); err == nil {
		t.Fatal("garbage token must fail validation")
	}
}

func TestFindUser(t *testing.T) {
	types.TongbuAppConfig = &types.AppConfig{
		Users: []types.UserConfig{
			{Username: "admin", Password: HashPassword("admin"), Role: "admin"},
		},
	}
	defer func() { types.TongbuAppConfig = nil }()

	if u := FindUser("admin"); u == nil || u.Role != "admin" {
		t.Fatalf("known user lookup failed: %+v", u)
	}
	if u := FindUser("nobody"); u != nil {
		t.Fatal("unknown user must return nil")
	}
}
