// Package cognito implements the Auth Provider against an AWS Cognito
// user pool: Authenticate/Refresh go through the management API;
// Verify checks the pool's signed ID tokens locally against its JWKS
// so every request is not a network round trip.
package cognito

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	cogtypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/golang-jwt/jwt/v5"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/model"
)

// Config carries the settings a Cognito provider needs, lifted out of
// internal/config to avoid an import cycle.
type Config struct {
	Region   string
	PoolID   string
	ClientID string
	Groups   map[string][]string
}

// API is the subset of the Cognito identity provider client used here,
// narrowed for testability.
type API interface {
	InitiateAuth(ctx context.Context, in *cognitoidentityprovider.InitiateAuthInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
	DescribeUserPool(ctx context.Context, in *cognitoidentityprovider.DescribeUserPoolInput, opts ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.DescribeUserPoolOutput, error)
}

// Provider is the Cognito-backed Auth Provider.
type Provider struct {
	cfg       Config
	client    API
	jwksURL   string
	mu        sync.RWMutex
	jwks      map[string]*rsaPublicKey
	jwksFetch func(ctx context.Context, url string) (map[string]*rsaPublicKey, error)
}

type rsaPublicKey struct {
	N *big.Int
	E int
}

// New constructs a Cognito Provider against the process's ambient AWS
// configuration.
func New(cfg Config) (*Provider, error) {
	if cfg.PoolID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("cognito auth: pool_id and region are required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("cognito auth: loading aws config: %w", err)
	}
	client := cognitoidentityprovider.NewFromConfig(awsCfg)
	jwksURL := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s/.well-known/jwks.json", cfg.Region, cfg.PoolID)
	return newProvider(cfg, client, jwksURL), nil
}

func newProvider(cfg Config, client API, jwksURL string) *Provider {
	return &Provider{
		cfg:       cfg,
		client:    client,
		jwksURL:   jwksURL,
		jwks:      map[string]*rsaPublicKey{},
		jwksFetch: fetchJWKS,
	}
}

// Verify checks the ID token's signature against the pool's JWKS and
// extracts the standard Cognito claims. Clock skew tolerance is ±60s.
func (p *Provider) Verify(ctx context.Context, rawToken string) (model.Principal, error) {
	keys, err := p.loadKeys(ctx)
	if err != nil {
		return model.Principal{}, apierr.Wrap(apierr.KindAuthInvalid, "unable to load verification keys", err)
	}

	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[kid]
		if !ok {
			return nil, fmt.Errorf("cognito auth: unknown key id %q", kid)
		}
		return key.toRSAPublicKey(), nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithLeeway(60*time.Second), jwt.WithExpirationRequired())
	if err != nil {
		if isExpired(err) {
			return model.Principal{}, apierr.New(apierr.KindAuthExpired, "token expired")
		}
		return model.Principal{}, apierr.Wrap(apierr.KindAuthInvalid, "token verification failed", err)
	}
	if !token.Valid {
		return model.Principal{}, apierr.New(apierr.KindAuthInvalid, "token invalid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return model.Principal{}, apierr.New(apierr.KindAuthInvalid, "unexpected claims shape")
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return model.Principal{}, apierr.New(apierr.KindAuthInvalid, "token missing sub")
	}
	username, _ := claims["cognito:username"].(string)
	email, _ := claims["email"].(string)
	groups := stringSliceClaim(claims["cognito:groups"])

	return model.Principal{
		Subject:     subject,
		Username:    username,
		Email:       email,
		Groups:      groups,
		Permissions: permissionsForGroups(p.cfg.Groups, groups),
	}, nil
}

func isExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

func stringSliceClaim(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
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

// Authenticate exchanges a username/password for a Cognito token triple
// via USER_PASSWORD_AUTH.
func (p *Provider) Authenticate(ctx context.Context, username, password string) (model.Tokens, model.Principal, error) {
	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: cogtypes.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(p.cfg.ClientID),
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return model.Tokens{}, model.Principal{}, apierr.Wrap(apierr.KindAuthInvalid, "authentication failed", err)
	}
	if out.AuthenticationResult == nil || out.AuthenticationResult.IdToken == nil {
		return model.Tokens{}, model.Principal{}, apierr.New(apierr.KindAuthInvalid, "cognito did not return tokens (challenge required?)")
	}

	principal, err := p.Verify(ctx, *out.AuthenticationResult.IdToken)
	if err != nil {
		return model.Tokens{}, model.Principal{}, err
	}

	tokens := model.Tokens{Token: *out.AuthenticationResult.IdToken}
	if out.AuthenticationResult.RefreshToken != nil {
		tokens.RefreshToken = *out.AuthenticationResult.RefreshToken
	}
	if out.AuthenticationResult.ExpiresIn != 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(out.AuthenticationResult.ExpiresIn) * time.Second).Unix()
	}
	return tokens, principal, nil
}

// Refresh exchanges a Cognito refresh token for a new ID token.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	out, err := p.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: cogtypes.AuthFlowTypeRefreshTokenAuth,
		ClientId: aws.String(p.cfg.ClientID),
		AuthParameters: map[string]string{
			"REFRESH_TOKEN": refreshToken,
		},
	})
	if err != nil {
		return model.Tokens{}, apierr.Wrap(apierr.KindAuthExpired, "refresh failed", err)
	}
	if out.AuthenticationResult == nil || out.AuthenticationResult.IdToken == nil {
		return model.Tokens{}, apierr.New(apierr.KindAuthInvalid, "cognito did not return a refreshed token")
	}
	tokens := model.Tokens{Token: *out.AuthenticationResult.IdToken, RefreshToken: refreshToken}
	if out.AuthenticationResult.ExpiresIn != 0 {
		tokens.ExpiresAt = time.Now().Add(time.Duration(out.AuthenticationResult.ExpiresIn) * time.Second).Unix()
	}
	return tokens, nil
}

// Ping verifies the configured pool is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.client.DescribeUserPool(ctx, &cognitoidentityprovider.DescribeUserPoolInput{
		UserPoolId: aws.String(p.cfg.PoolID),
	})
	if err != nil {
		return fmt.Errorf("cognito auth: pool %s unreachable: %w", p.cfg.PoolID, err)
	}
	return nil
}

func (p *Provider) loadKeys(ctx context.Context) (map[string]*rsaPublicKey, error) {
	p.mu.RLock()
	if len(p.jwks) > 0 {
		defer p.mu.RUnlock()
		return p.jwks, nil
	}
	p.mu.RUnlock()

	keys, err := p.jwksFetch(ctx, p.jwksURL)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.jwks = keys
	p.mu.Unlock()
	return keys, nil
}

type jwksDocument struct {
	Keys []struct {
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func fetchJWKS(ctx context.Context, url string) (map[string]*rsaPublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching jwks: %w", err)
	}
	defer resp.Body.Close()

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding jwks: %w", err)
	}

	out := make(map[string]*rsaPublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		key, err := decodeRSAKey(k.N, k.E)
		if err != nil {
			continue
		}
		out[k.Kid] = key
	}
	return out, nil
}
