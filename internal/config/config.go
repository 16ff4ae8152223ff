// Package config resolves the single frozen configuration document that
// every other component is constructed from. Precedence is: a document
// fetched from object storage, then a local file, then built-in defaults.
// The returned Config is never mutated after Load returns; pass it
// explicitly to component constructors rather than reaching for package
// globals.
package config

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/viper"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/log"
	"github.com/pathwaybio/claire-core/internal/secrets"
)

// Environment is a deployment environment tier.
type Environment string

const (
	EnvDev   Environment = "dev"
	EnvTest  Environment = "test"
	EnvStage Environment = "stage"
	EnvProd  Environment = "prod"
)

// AuthProviderKind selects which Auth Provider implementation to construct.
type AuthProviderKind string

const (
	AuthProviderCognito    AuthProviderKind = "cognito"
	AuthProviderSelfHosted AuthProviderKind = "jwt"
)

// StorageBackendKind selects which Storage Backend implementation to
// construct.
type StorageBackendKind string

const (
	StorageBackendLocal  StorageBackendKind = "local"
	StorageBackendObject StorageBackendKind = "object"
)

// GroupPermissions is the permission set granted to members of one group.
type GroupPermissions struct {
	Description string   `mapstructure:"description"`
	Permissions []string `mapstructure:"permissions"`
}

// AuthConfig holds settings for both Auth Provider variants. Only the
// fields relevant to the selected Provider are required.
type AuthConfig struct {
	Provider  AuthProviderKind            `mapstructure:"provider"`
	PoolID    string                      `mapstructure:"pool_id"`
	ClientID  string                      `mapstructure:"client_id"`
	Region    string                      `mapstructure:"region"`
	Secret    string                      `mapstructure:"secret"`
	Algorithm string                      `mapstructure:"algorithm"`
	Issuer    string                      `mapstructure:"issuer"`
	Audience  string                      `mapstructure:"audience"`
	Groups    map[string]GroupPermissions `mapstructure:"groups"`
}

// StorageConfig holds the Storage Backend selection and the four
// well-known buckets.
type StorageConfig struct {
	Backend StorageBackendKind `mapstructure:"backend"`
	Root    string             `mapstructure:"root"` // local backend only
	Region  string             `mapstructure:"region"`
	Buckets struct {
		Forms  string `mapstructure:"forms"`
		Drafts string `mapstructure:"drafts"`
		ELN    string `mapstructure:"eln"`
		Lambda string `mapstructure:"lambda"`
	} `mapstructure:"buckets"`
}

// FilesConfig bounds the File Service.
type FilesConfig struct {
	MaxSizeBytes        int64    `mapstructure:"max_size_bytes"`
	MaxSizeBytesInline  int64    `mapstructure:"max_size_bytes_inline"`
	AllowedMediaTypes   []string `mapstructure:"allowed_media_types"`
	UploadPartSize      int64    `mapstructure:"upload_part_size"`
	SweepAgeSeconds     int64    `mapstructure:"sweep_age_seconds"`
	SweepIntervalSeconds int64   `mapstructure:"sweep_interval_seconds"`
}

// DraftsConfig bounds the Draft Store.
type DraftsConfig struct {
	TTLSeconds int64 `mapstructure:"ttl_seconds"`
	MaxPerUser int   `mapstructure:"max_per_user"`
}

// Config is the frozen, process-wide configuration document.
type Config struct {
	Environment  Environment   `mapstructure:"environment"`
	Organization string        `mapstructure:"organization"`
	EagerInit    bool          `mapstructure:"eager_init"`
	LambdaTarget bool          `mapstructure:"lambda_target"`
	Auth         AuthConfig    `mapstructure:"auth"`
	Storage      StorageConfig `mapstructure:"storage"`
	Files        FilesConfig   `mapstructure:"files"`
	Drafts       DraftsConfig  `mapstructure:"drafts"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(EnvDev))
	v.SetDefault("auth.provider", string(AuthProviderSelfHosted))
	v.SetDefault("auth.algorithm", "HS256")
	v.SetDefault("storage.backend", string(StorageBackendLocal))
	v.SetDefault("storage.root", "/tmp/claire-core")
	v.SetDefault("storage.buckets.forms", "forms")
	v.SetDefault("storage.buckets.drafts", "drafts")
	v.SetDefault("storage.buckets.eln", "eln")
	v.SetDefault("storage.buckets.lambda", "lambda")
	v.SetDefault("files.max_size_bytes", int64(5*1024*1024*1024))
	v.SetDefault("files.max_size_bytes_inline", int64(6*1024*1024))
	v.SetDefault("files.allowed_media_types", []string{
		"image/png", "image/jpeg", "application/pdf",
		"text/csv", "text/plain",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	})
	v.SetDefault("files.upload_part_size", int64(8*1024*1024))
	v.SetDefault("files.sweep_age_seconds", int64(24*60*60))
	v.SetDefault("files.sweep_interval_seconds", int64(15*60))
	v.SetDefault("drafts.ttl_seconds", int64(7*24*60*60))
	v.SetDefault("drafts.max_per_user", 25)
}

// Load resolves the configuration document: object storage key, then local
// file, then defaults. ctx bounds the object-storage fetch.
func Load(ctx context.Context) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	org := os.Getenv("ORG")
	if org != "" {
		v.Set("organization", org)
	}
	if env := os.Getenv("ENV"); env != "" {
		v.Set("environment", env)
	}
	if bucket := os.Getenv("FORMS_BUCKET"); bucket != "" {
		v.Set("storage.buckets.forms", bucket)
	}
	if bucket := os.Getenv("ELN_BUCKET"); bucket != "" {
		v.Set("storage.buckets.eln", bucket)
	}
	if bucket := os.Getenv("DRAFTS_BUCKET"); bucket != "" {
		v.Set("storage.buckets.drafts", bucket)
	}
	if region := os.Getenv("COGNITO_REGION"); region != "" {
		v.Set("auth.region", region)
	}
	if poolID := os.Getenv("COGNITO_USER_POOL_ID"); poolID != "" {
		v.Set("auth.pool_id", poolID)
	}
	if clientID := os.Getenv("COGNITO_CLIENT_ID"); clientID != "" {
		v.Set("auth.client_id", clientID)
	}

	loaded := false
	if body, err := fetchRemoteDocument(ctx); err != nil {
		log.Warn(fmt.Sprintf("config: remote document unavailable, falling back: %v", err))
	} else if body != nil {
		v.SetConfigType("json")
		if err := v.MergeConfig(body); err != nil {
			return nil, apierr.Wrap(apierr.KindConfigInvalid, "malformed remote config document", err)
		}
		loaded = true
	}

	if !loaded {
		if path := localConfigPath(); path != "" {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				log.Warn(fmt.Sprintf("config: local file %s unreadable, falling back to defaults: %v", path, err))
			} else {
				loaded = true
			}
		}
	}

	if !loaded {
		log.Warn("config: no remote document or local file found, using built-in defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apierr.Wrap(apierr.KindConfigInvalid, "could not decode configuration", err)
	}

	if err := decryptAuthSecret(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// decryptAuthSecret resolves an auth.secret stored as ciphertext in the
// config document (prefixed secrets.EncryptedPrefix) using the key in
// CONFIG_ENCRYPTION_KEY. A plaintext secret is left untouched, so
// operators without a remote document can still set auth.secret directly.
func decryptAuthSecret(cfg *Config) error {
	if !secrets.IsEncrypted(cfg.Auth.Secret) {
		return nil
	}

	passphrase := os.Getenv("CONFIG_ENCRYPTION_KEY")
	if passphrase == "" {
		return apierr.New(apierr.KindConfigInvalid, "auth.secret is encrypted but CONFIG_ENCRYPTION_KEY is not set")
	}

	manager, err := secrets.NewFromPassphrase(passphrase)
	if err != nil {
		return apierr.Wrap(apierr.KindConfigInvalid, "invalid CONFIG_ENCRYPTION_KEY", err)
	}

	plain, err := manager.Decrypt(cfg.Auth.Secret)
	if err != nil {
		return apierr.Wrap(apierr.KindConfigInvalid, "could not decrypt auth.secret", err)
	}
	cfg.Auth.Secret = plain
	return nil
}

func localConfigPath() string {
	if path := os.Getenv("CLAIRE_CONFIG_FILE"); path != "" {
		return path
	}
	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml"
	}
	return ""
}

// fetchRemoteDocument fetches the merged config document from object
// storage when CONFIG_S3_BUCKET/CONFIG_S3_KEY are set. It returns nil,
// nil when either of them is unset — this is the "no remote source"
// case, not an error.
func fetchRemoteDocument(ctx context.Context) (io.Reader, error) {
	bucket := os.Getenv("CONFIG_S3_BUCKET")
	key := os.Getenv("CONFIG_S3_KEY")
	if bucket == "" || key == "" {
		return nil, nil
	}

	region := os.Getenv("COGNITO_REGION")
	if region == "" {
		region = "us-east-1"
	}

	client, err := s3Client(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("building bootstrap s3 client: %w", err)
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading config body: %w", err)
	}
	return bytes.NewReader(data), nil
}

func validate(cfg *Config) error {
	if cfg.Organization == "" {
		return apierr.New(apierr.KindConfigInvalid, "organization is required")
	}

	switch cfg.Environment {
	case EnvDev, EnvTest, EnvStage, EnvProd:
	default:
		return apierr.New(apierr.KindConfigInvalid, fmt.Sprintf("unrecognized environment %q", cfg.Environment))
	}

	switch cfg.Auth.Provider {
	case AuthProviderCognito, AuthProviderSelfHosted:
	default:
		return apierr.New(apierr.KindConfigInvalid, fmt.Sprintf("unrecognized auth provider %q", cfg.Auth.Provider))
	}

	// The self-hosted provider only implements HMAC verification today.
	// Surface a configured RS256 (or any other algorithm) as invalid
	// rather than silently verifying with HMAC regardless of what was
	// asked for.
	if cfg.Auth.Provider == AuthProviderSelfHosted {
		algorithm := cfg.Auth.Algorithm
		if algorithm == "" {
			algorithm = "HS256"
		}
		if algorithm != "HS256" {
			return apierr.New(apierr.KindConfigInvalid, fmt.Sprintf("auth.algorithm %q is not supported, the self-hosted provider only verifies HS256", cfg.Auth.Algorithm))
		}
	}

	switch cfg.Storage.Backend {
	case StorageBackendLocal, StorageBackendObject:
	default:
		return apierr.New(apierr.KindConfigInvalid, fmt.Sprintf("unrecognized storage backend %q", cfg.Storage.Backend))
	}

	// Environment enforcement: managed-function deployments in stage/prod
	// must use the managed identity pool, never a self-signed token.
	if (cfg.Environment == EnvStage || cfg.Environment == EnvProd) && cfg.LambdaTarget {
		if cfg.Auth.Provider != AuthProviderCognito {
			return apierr.New(apierr.KindConfigProviderMismatch,
				"stage/prod managed-function deployments require auth.provider=cognito")
		}
	}

	return nil
}

// s3Client is kept as a package-level constructor indirection so tests can
// substitute a fake without touching real AWS config resolution.
var s3Client = func(ctx context.Context, region string) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}
