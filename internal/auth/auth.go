// Package auth defines the Auth Provider contract and the factory that
// selects between the managed-pool and self-hosted implementations. Per
// the provider-polymorphism design note, this is a tagged-union style
// factory, not a class hierarchy: auth.New inspects the config's
// provider kind and constructs the matching verifier handle.
package auth

import (
	"context"
	"fmt"

	"github.com/pathwaybio/claire-core/internal/auth/cognito"
	"github.com/pathwaybio/claire-core/internal/auth/selfhosted"
	"github.com/pathwaybio/claire-core/internal/config"
	"github.com/pathwaybio/claire-core/internal/model"
)

// Provider validates caller identity and yields principals.
type Provider interface {
	Verify(ctx context.Context, token string) (model.Principal, error)
	Authenticate(ctx context.Context, username, password string) (model.Tokens, model.Principal, error)
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
	Ping(ctx context.Context) error
}

// New constructs the Provider selected by cfg.Auth.Provider.
func New(cfg *config.Config) (Provider, error) {
	switch cfg.Auth.Provider {
	case config.AuthProviderCognito:
		return cognito.New(cognito.Config{
			Region:   cfg.Auth.Region,
			PoolID:   cfg.Auth.PoolID,
			ClientID: cfg.Auth.ClientID,
			Groups:   toGroupPermissions(cfg.Auth.Groups),
		})
	case config.AuthProviderSelfHosted:
		return selfhosted.New(selfhosted.Config{
			Secret:      cfg.Auth.Secret,
			Algorithm:   cfg.Auth.Algorithm,
			Issuer:      cfg.Auth.Issuer,
			Audience:    cfg.Auth.Audience,
			Environment: string(cfg.Environment),
			Groups:      toGroupPermissions(cfg.Auth.Groups),
		})
	default:
		return nil, fmt.Errorf("auth: unrecognized provider %q", cfg.Auth.Provider)
	}
}

func toGroupPermissions(groups map[string]config.GroupPermissions) map[string][]string {
	out := make(map[string][]string, len(groups))
	for name, g := range groups {
		out[name] = g.Permissions
	}
	return out
}
