package config

import "testing"

func TestValidateRequiresOrganization(t *testing.T) {
	cfg := &Config{Environment: EnvDev, Auth: AuthConfig{Provider: AuthProviderSelfHosted}, Storage: StorageConfig{Backend: StorageBackendLocal}}
	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing organization")
	}
}

func TestValidateRejectsUnknownEnvironment(t *testing.T) {
	cfg := &Config{
		Organization: "acme",
		Environment:  "staging-ish",
		Auth:         AuthConfig{Provider: AuthProviderSelfHosted},
		Storage:      StorageConfig{Backend: StorageBackendLocal},
	}
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for unrecognized environment")
	}
}

func TestValidateEnforcesCognitoOnManagedProdDeployment(t *testing.T) {
	cfg := &Config{
		Organization: "acme",
		Environment:  EnvProd,
		LambdaTarget: true,
		Auth:         AuthConfig{Provider: AuthProviderSelfHosted},
		Storage:      StorageConfig{Backend: StorageBackendObject},
	}
	err := validate(cfg)
	if err == nil {
		t.Fatal("expected ConfigProviderMismatch")
	}
}

func TestValidateAllowsSelfHostedInDev(t *testing.T) {
	cfg := &Config{
		Organization: "acme",
		Environment:  EnvDev,
		Auth:         AuthConfig{Provider: AuthProviderSelfHosted},
		Storage:      StorageConfig{Backend: StorageBackendLocal},
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateAllowsCognitoOnManagedProdDeployment(t *testing.T) {
	cfg := &Config{
		Organization: "acme",
		Environment:  EnvProd,
		LambdaTarget: true,
		Auth:         AuthConfig{Provider: AuthProviderCognito},
		Storage:      StorageConfig{Backend: StorageBackendObject},
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
