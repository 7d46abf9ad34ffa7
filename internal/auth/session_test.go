package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuerIssuesSessionTokens(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		TokenTTL:      30 * time.Minute,
	})

	tokenString, expiresIn, err := issuer.IssueSessionToken(context.Background(), "user-123")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Issuer != DefaultIssuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != DefaultAudience {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{})
	if _, _, err := issuer.IssueSessionToken(context.Background(), "user-123"); err == nil {
		t.Fatal("expected issuance to fail without a signing secret")
	}
}

func TestTokenIssuerRejectsMissingSubject(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("super-secret")})
	if _, _, err := issuer.IssueSessionToken(context.Background(), ""); err == nil {
		t.Fatal("expected issuance to fail without a subject")
	}
}

func TestValidateTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("super-secret")})
	tokenString, _, err := issuer.IssueSessionToken(context.Background(), "user-42")
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}

	subject, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected token to validate: %v", err)
	}
	if subject != "user-42" {
		t.Fatalf("unexpected subject %s", subject)
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	minting := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("one-secret")})
	validating := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("another-secret")})

	tokenString, _, err := minting.IssueSessionToken(context.Background(), "user-42")
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}
	if _, err := validating.ValidateToken(tokenString); err == nil {
		t.Fatal("expected validation to fail with a different secret")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	minting := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		TokenTTL:      time.Hour,
		Clock:         func() time.Time { return past },
	})
	tokenString, _, err := minting.IssueSessionToken(context.Background(), "user-42")
	if err != nil {
		t.Fatalf("unexpected issuance error: %v", err)
	}

	validating := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("super-secret")})
	if _, err := validating.ValidateToken(tokenString); err == nil {
		t.Fatal("expected validation to fail for an expired token")
	}
}
