package selfhosted

import (
	"context"
	"testing"

	"github.com/pathwaybio/claire-core/internal/apierr"
)

func testConfig() Config {
	return Config{
		Secret:      "test-secret-at-least-32-bytes-long!",
		Issuer:      "claire-core",
		Audience:    "claire-clients",
		Environment: "dev",
		Groups: map[string][]string{
			"RESEARCHERS": {"submit:*", "view:group"},
		},
	}
}

func TestAuthenticateThenVerifyRoundTrip(t *testing.T) {
	p, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	tokens, principal, err := p.Authenticate(ctx, "alice", "anything")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.Username != "alice" {
		t.Fatalf("Username = %q, want alice", principal.Username)
	}

	verified, err := p.Verify(ctx, tokens.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.Subject != principal.Subject {
		t.Fatalf("Subject mismatch: %q vs %q", verified.Subject, principal.Subject)
	}
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	p, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Verify(context.Background(), "not-a-jwt")
	if apierr.KindOf(err) != apierr.KindAuthInvalid {
		t.Fatalf("kind = %v, want AuthInvalid", apierr.KindOf(err))
	}
}

func TestVerifyRejectsDevTokenInProd(t *testing.T) {
	cfg := testConfig()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tokens, _, err := p.Authenticate(context.Background(), "alice", "anything")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	cfg.Environment = "prod"
	prodProvider, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prodProvider.signingKey = p.signingKey

	_, err = prodProvider.Verify(context.Background(), tokens.Token)
	if apierr.KindOf(err) != apierr.KindAuthInvalid {
		t.Fatalf("expected dev-token rejection in prod, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	p, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	tokens, _, err := p.Authenticate(ctx, "alice", "anything")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	refreshed, err := p.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.Token == tokens.Token {
		t.Fatal("Refresh returned the same access token")
	}

	if _, err := p.Refresh(ctx, tokens.RefreshToken); apierr.KindOf(err) != apierr.KindAuthInvalid {
		t.Fatalf("expected reused refresh token to be rejected, got %v", err)
	}
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
