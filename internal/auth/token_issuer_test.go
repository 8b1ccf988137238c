package auth

import (
	"context"
	"testing"
	"time"
)

func TestTokenIssuerRoundTripsThroughValidator(t *testing.T) {
	clockNow := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		TokenTTL:      15 * time.Minute,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	token, expiresAt, err := issuer.Issue(context.Background(), Identity{UserID: "user-42", DisplayName: "Ada"})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	validator := newTestValidator(t, func() time.Time { return clockNow.Add(time.Minute) })
	identity, err := validator.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("issued token must validate: %v", err)
	}
	if identity.UserID != "user-42" || identity.DisplayName != "Ada" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	late := newTestValidator(t, func() time.Time { return clockNow.Add(time.Hour) })
	if _, err := late.Verify(context.Background(), token); err == nil {
		t.Fatalf("expected token to expire after its ttl")
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{}); err == nil {
		t.Fatalf("expected missing signing secret error")
	}
}

func TestTokenIssuerRejectsMissingSubject(t *testing.T) {
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s")})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if _, _, err := issuer.Issue(context.Background(), Identity{}); err == nil {
		t.Fatalf("expected missing subject error")
	}
}
