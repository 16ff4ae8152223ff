// Package selfhosted implements the Auth Provider backed by signed
// JWTs the service itself issues and verifies, for development and
// deployments with no managed identity pool.
package selfhosted

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/model"
)

// Config carries the settings a self-hosted provider needs, lifted out
// of internal/config to avoid an import cycle.
type Config struct {
	Secret      string
	Algorithm   string // only HS256 is implemented; anything else is rejected by New
	Issuer      string
	Audience    string
	Environment string
	Groups      map[string][]string
}

type claims struct {
	jwt.RegisteredClaims
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Groups   []string `json:"groups"`
	Dev      bool     `json:"dev,omitempty"`
	Admin    bool     `json:"admin,omitempty"`
}

// Provider is the self-hosted JWT Auth Provider. Issued refresh tokens
// are tracked in-process, mirroring the teacher's TokenManager
// random-token-plus-expiry-map bookkeeping.
type Provider struct {
	cfg          Config
	signingKey   []byte
	mu           sync.RWMutex
	refreshTable map[string]refreshEntry
}

type refreshEntry struct {
	subject   string
	username  string
	email     string
	groups    []string
	expiresAt time.Time
}

// New validates cfg and constructs a self-hosted Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("selfhosted auth: secret is required")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	if cfg.Algorithm != "HS256" {
		return nil, fmt.Errorf("selfhosted auth: algorithm %q is not supported, only HS256 is implemented", cfg.Algorithm)
	}
	return &Provider{
		cfg:          cfg,
		signingKey:   []byte(cfg.Secret),
		refreshTable: make(map[string]refreshEntry),
	}, nil
}

func (p *Provider) keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("selfhosted auth: unexpected signing method %v", token.Header["alg"])
	}
	return p.signingKey, nil
}

// Verify validates signature, iss, aud, exp, nbf, and rejects a token
// flagged as dev-mode (a dev field in its header, or the dev claim this
// provider mints) outside dev/test environments.
func (p *Provider) Verify(ctx context.Context, rawToken string) (model.Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(rawToken, &c, p.keyfunc,
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithAudience(p.cfg.Audience),
		jwt.WithLeeway(60*time.Second),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if isExpired(err) {
			return model.Principal{}, apierr.New(apierr.KindAuthExpired, "token expired")
		}
		return model.Principal{}, apierr.Wrap(apierr.KindAuthInvalid, "token verification failed", err)
	}
	if !token.Valid {
		return model.Principal{}, apierr.New(apierr.KindAuthInvalid, "token invalid")
	}

	devHeader, _ := token.Header["dev"].(bool)
	if (c.Dev || devHeader) && p.cfg.Environment != "dev" && p.cfg.Environment != "test" {
		return model.Principal{}, apierr.New(apierr.KindAuthInvalid, "dev-mode tokens are rejected outside dev/test")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return model.Principal{}, apierr.New(apierr.KindAuthInvalid, "token missing subject")
	}

	return model.Principal{
		Subject:     subject,
		Username:    c.Username,
		Email:       c.Email,
		Groups:      c.Groups,
		Permissions: permissionsForGroups(p.cfg.Groups, c.Groups),
		IsAdmin:     c.Admin,
	}, nil
}

func isExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

func permissionsForGroups(catalog map[string][]string, groups []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range groups {
		for _, perm := range catalog[g] {
			if !seen[perm] {
				seen[perm] = true
				out = append(out, perm)
			}
		}
	}
	return out
}

// Authenticate issues a token pair for a username/password pair.
// The password is not checked against any credential store, only
// required to be non-empty; the provider only mints tokens. The issued
// principal's subject is "user:"+username and it carries no groups, so
// it holds no group-derived permissions.
func (p *Provider) Authenticate(ctx context.Context, username, password string) (model.Tokens, model.Principal, error) {
	if username == "" || password == "" {
		return model.Tokens{}, model.Principal{}, apierr.New(apierr.KindAuthInvalid, "username and password are required")
	}
	subject := "user:" + username
	groups := []string{}
	principal := model.Principal{
		Subject:     subject,
		Username:    username,
		Groups:      groups,
		Permissions: permissionsForGroups(p.cfg.Groups, groups),
	}
	tokens, err := p.mint(principal)
	if err != nil {
		return model.Tokens{}, model.Principal{}, err
	}
	return tokens, principal, nil
}

// Refresh exchanges a previously issued refresh token for a new pair.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	p.mu.Lock()
	entry, ok := p.refreshTable[refreshToken]
	if ok {
		delete(p.refreshTable, refreshToken)
	}
	p.mu.Unlock()

	if !ok {
		return model.Tokens{}, apierr.New(apierr.KindAuthInvalid, "unknown refresh token")
	}
	if time.Now().After(entry.expiresAt) {
		return model.Tokens{}, apierr.New(apierr.KindAuthExpired, "refresh token expired")
	}

	principal := model.Principal{
		Subject:     entry.subject,
		Username:    entry.username,
		Email:       entry.email,
		Groups:      entry.groups,
		Permissions: permissionsForGroups(p.cfg.Groups, entry.groups),
	}
	return p.mint(principal)
}

func (p *Provider) mint(principal model.Principal) (model.Tokens, error) {
	now := time.Now()
	expiresAt := now.Add(1 * time.Hour)

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.Subject,
			Issuer:    p.cfg.Issuer,
			Audience:  jwt.ClaimStrings{p.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Username: principal.Username,
		Email:    principal.Email,
		Groups:   principal.Groups,
		Dev:      p.cfg.Environment == "dev",
		Admin:    principal.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(p.signingKey)
	if err != nil {
		return model.Tokens{}, fmt.Errorf("selfhosted auth: signing token: %w", err)
	}

	refreshToken, err := randomToken()
	if err != nil {
		return model.Tokens{}, fmt.Errorf("selfhosted auth: generating refresh token: %w", err)
	}

	p.mu.Lock()
	p.refreshTable[refreshToken] = refreshEntry{
		subject:   principal.Subject,
		username:  principal.Username,
		email:     principal.Email,
		groups:    principal.Groups,
		expiresAt: now.Add(30 * 24 * time.Hour),
	}
	p.mu.Unlock()

	return model.Tokens{Token: signed, RefreshToken: refreshToken, ExpiresAt: expiresAt.Unix()}, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Ping reports the provider's liveness. The self-hosted provider has
// no external dependency to check.
func (p *Provider) Ping(ctx context.Context) error {
	return nil
}
