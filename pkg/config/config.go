package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Deployment convention: configuration arrives as Section__Key environment
// variables. Every recognized key is bound explicitly so lookups stay
// case-sensitive; an optional YAML file supplies dev defaults underneath.

// PostgresConfig holds truth store connection settings
type PostgresConfig struct {
	DSN string `validate:"required"`
}

// ObjectStorageConfig holds S3-compatible object store settings
type ObjectStorageConfig struct {
	Endpoint              string `validate:"required,url"`
	AccessKey             string `validate:"required"`
	SecretKey             string `validate:"required"`
	Bucket                string `validate:"required"`
	Region                string
	UsePathStyle          bool
	PresignPartTTLSeconds int
}

const (
	minPresignPartTTL     = 60 * time.Second
	maxPresignPartTTL     = 3600 * time.Second
	defaultPresignPartTTL = 900 * time.Second
)

// PresignPartTTL returns the part URL lifetime clamped to [60s, 3600s],
// defaulting to 900s when absent or out of range.
func (c ObjectStorageConfig) PresignPartTTL() time.Duration {
	ttl := time.Duration(c.PresignPartTTLSeconds) * time.Second
	if ttl < minPresignPartTTL || ttl > maxPresignPartTTL {
		return defaultPresignPartTTL
	}
	return ttl
}

// OIDCConfig holds JWT validation settings
type OIDCConfig struct {
	Enabled                   bool
	Issuer                    string `validate:"required_if=Enabled true"`
	Audience                  string `validate:"required_if=Enabled true"`
	HS256SharedSecret         string
	JwksJSON                  string
	JwksURL                   string
	JwksRefreshSeconds        int    `validate:"min=0"`
	JwksRefreshTimeoutSeconds int    `validate:"min=0"`
	RoleMappings              string
}

// SAMLConfig holds assertion validation settings
type SAMLConfig struct {
	Enabled                 bool
	IdpMetadataURL          string
	ExpectedIssuer          string `validate:"required_if=Enabled true"`
	ServiceProviderEntityID string `validate:"required_if=Enabled true"`
	RoleMappings            string
	IssuedTokenTTLSeconds   int    `validate:"min=1"`
}

// AuthConfig aggregates all credential settings
type AuthConfig struct {
	BootstrapToken string
	OIDC           OIDCConfig
	SAML           SAMLConfig
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Listen               string `validate:"required"`
	ShutdownGraceSeconds int    `validate:"min=0"`
}

// TenantConfig selects the deployment's tenant
type TenantConfig struct {
	DefaultSlug string `validate:"required"`
}

// SweepsConfig tunes the outbox and job sweepers
type SweepsConfig struct {
	OutboxIntervalSeconds int `validate:"min=0"`
	JobsIntervalSeconds   int `validate:"min=0"`
	BatchSize             int `validate:"min=1"`
	JobMaxAttempts        int `validate:"min=1"`
	JobBaseDelaySeconds   int `validate:"min=1"`
	JobMaxExponent        int `validate:"min=0"`
}

// PolicyConfig bounds policy evaluation
type PolicyConfig struct {
	TimeoutMs int `validate:"min=1"`
}

// GCConfig tunes garbage collection defaults
type GCConfig struct {
	DefaultBatchSize int `validate:"min=1"`
}

// LogConfig selects log level and format
type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
	JSON  bool
}

// Config is the complete runtime configuration
type Config struct {
	Postgres      PostgresConfig
	ObjectStorage ObjectStorageConfig
	Auth          AuthConfig
	Server        ServerConfig
	Tenant        TenantConfig
	Sweeps        SweepsConfig
	Policy        PolicyConfig
	GC            GCConfig
	Log           LogConfig
}

// bindings maps internal viper keys to their exact environment variables
var bindings = map[string]string{
	"postgres.dsn":                        "ConnectionStrings__Postgres",
	"objectstorage.endpoint":              "ObjectStorage__Endpoint",
	"objectstorage.accesskey":             "ObjectStorage__AccessKey",
	"objectstorage.secretkey":             "ObjectStorage__SecretKey",
	"objectstorage.bucket":                "ObjectStorage__Bucket",
	"objectstorage.region":                "ObjectStorage__Region",
	"objectstorage.usepathstyle":          "ObjectStorage__UsePathStyle",
	"objectstorage.presignpartttlseconds": "ObjectStorage__PresignPartTtlSeconds",
	"auth.bootstraptoken":                 "Auth__BootstrapToken",
	"auth.oidc.enabled":                   "Auth__Oidc__Enabled",
	"auth.oidc.issuer":                    "Auth__Oidc__Issuer",
	"auth.oidc.audience":                  "Auth__Oidc__Audience",
	"auth.oidc.hs256sharedsecret":         "Auth__Oidc__Hs256SharedSecret",
	"auth.oidc.jwksjson":                  "Auth__Oidc__JwksJson",
	"auth.oidc.jwksurl":                   "Auth__Oidc__JwksUrl",
	"auth.oidc.jwksrefreshseconds":        "Auth__Oidc__JwksRefreshSeconds",
	"auth.oidc.jwksrefreshtimeoutseconds": "Auth__Oidc__JwksRefreshTimeoutSeconds",
	"auth.oidc.rolemappings":              "Auth__Oidc__RoleMappings",
	"auth.saml.enabled":                   "Auth__Saml__Enabled",
	"auth.saml.idpmetadataurl":            "Auth__Saml__IdpMetadataUrl",
	"auth.saml.expectedissuer":            "Auth__Saml__ExpectedIssuer",
	"auth.saml.serviceproviderentityid":   "Auth__Saml__ServiceProviderEntityId",
	"auth.saml.rolemappings":              "Auth__Saml__RoleMappings",
	"auth.saml.issuedtokenttlseconds":     "Auth__Saml__IssuedTokenTtlSeconds",
	"server.listen":                       "Server__Listen",
	"server.shutdowngraceseconds":         "Server__ShutdownGraceSeconds",
	"tenant.defaultslug":                  "Tenant__DefaultSlug",
	"sweeps.outboxintervalseconds":        "Sweeps__OutboxIntervalSeconds",
	"sweeps.jobsintervalseconds":          "Sweeps__JobsIntervalSeconds",
	"sweeps.batchsize":                    "Sweeps__BatchSize",
	"sweeps.jobmaxattempts":               "Sweeps__JobMaxAttempts",
	"sweeps.jobbasedelayseconds":          "Sweeps__JobBaseDelaySeconds",
	"sweeps.jobmaxexponent":               "Sweeps__JobMaxExponent",
	"policy.timeoutms":                    "Policy__TimeoutMs",
	"gc.defaultbatchsize":                 "Gc__DefaultBatchSize",
	"log.level":                           "Log__Level",
	"log.json":                            "Log__Json",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("objectstorage.region", "us-east-1")
	v.SetDefault("objectstorage.usepathstyle", true)
	v.SetDefault("objectstorage.presignpartttlseconds", 900)
	v.SetDefault("auth.oidc.jwksrefreshseconds", 300)
	v.SetDefault("auth.oidc.jwksrefreshtimeoutseconds", 5)
	v.SetDefault("auth.saml.issuedtokenttlseconds", 3600)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.shutdowngraceseconds", 15)
	v.SetDefault("tenant.defaultslug", "default")
	v.SetDefault("sweeps.outboxintervalseconds", 5)
	v.SetDefault("sweeps.jobsintervalseconds", 5)
	v.SetDefault("sweeps.batchsize", 50)
	v.SetDefault("sweeps.jobmaxattempts", 5)
	v.SetDefault("sweeps.jobbasedelayseconds", 30)
	v.SetDefault("sweeps.jobmaxexponent", 5)
	v.SetDefault("policy.timeoutms", 2000)
	v.SetDefault("gc.defaultbatchsize", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)
}

// Load reads configuration from the environment, optionally layered over a
// YAML file, and validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Postgres: PostgresConfig{
			DSN: v.GetString("postgres.dsn"),
		},
		ObjectStorage: ObjectStorageConfig{
			Endpoint:              v.GetString("objectstorage.endpoint"),
			AccessKey:             v.GetString("objectstorage.accesskey"),
			SecretKey:             v.GetString("objectstorage.secretkey"),
			Bucket:                v.GetString("objectstorage.bucket"),
			Region:                v.GetString("objectstorage.region"),
			UsePathStyle:          v.GetBool("objectstorage.usepathstyle"),
			PresignPartTTLSeconds: v.GetInt("objectstorage.presignpartttlseconds"),
		},
		Auth: AuthConfig{
			BootstrapToken: v.GetString("auth.bootstraptoken"),
			OIDC: OIDCConfig{
				Enabled:                   v.GetBool("auth.oidc.enabled"),
				Issuer:                    v.GetString("auth.oidc.issuer"),
				Audience:                  v.GetString("auth.oidc.audience"),
				HS256SharedSecret:         v.GetString("auth.oidc.hs256sharedsecret"),
				JwksJSON:                  v.GetString("auth.oidc.jwksjson"),
				JwksURL:                   v.GetString("auth.oidc.jwksurl"),
				JwksRefreshSeconds:        v.GetInt("auth.oidc.jwksrefreshseconds"),
				JwksRefreshTimeoutSeconds: v.GetInt("auth.oidc.jwksrefreshtimeoutseconds"),
				RoleMappings:              v.GetString("auth.oidc.rolemappings"),
			},
			SAML: SAMLConfig{
				Enabled:                 v.GetBool("auth.saml.enabled"),
				IdpMetadataURL:          v.GetString("auth.saml.idpmetadataurl"),
				ExpectedIssuer:          v.GetString("auth.saml.expectedissuer"),
				ServiceProviderEntityID: v.GetString("auth.saml.serviceproviderentityid"),
				RoleMappings:            v.GetString("auth.saml.rolemappings"),
				IssuedTokenTTLSeconds:   v.GetInt("auth.saml.issuedtokenttlseconds"),
			},
		},
		Server: ServerConfig{
			Listen:               v.GetString("server.listen"),
			ShutdownGraceSeconds: v.GetInt("server.shutdowngraceseconds"),
		},
		Tenant: TenantConfig{
			DefaultSlug: v.GetString("tenant.defaultslug"),
		},
		Sweeps: SweepsConfig{
			OutboxIntervalSeconds: v.GetInt("sweeps.outboxintervalseconds"),
			JobsIntervalSeconds:   v.GetInt("sweeps.jobsintervalseconds"),
			BatchSize:             v.GetInt("sweeps.batchsize"),
			JobMaxAttempts:        v.GetInt("sweeps.jobmaxattempts"),
			JobBaseDelaySeconds:   v.GetInt("sweeps.jobbasedelayseconds"),
			JobMaxExponent:        v.GetInt("sweeps.jobmaxexponent"),
		},
		Policy: PolicyConfig{
			TimeoutMs: v.GetInt("policy.timeoutms"),
		},
		GC: GCConfig{
			DefaultBatchSize: v.GetInt("gc.defaultbatchsize"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the assembled configuration
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
