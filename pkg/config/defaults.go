// Package config defines the todoslash settings and their defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/DrSkyle/todoslash/pkg/engine/policy"
	"github.com/DrSkyle/todoslash/pkg/engine/provenance"
	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
	"github.com/DrSkyle/todoslash/pkg/lark"
	"github.com/spf13/viper"
)

// Config is the full set of settings, decoded from .todoslash.yaml, TODOSLASH_* env vars and flags.
type Config struct {
	Marker          string `mapstructure:"marker"`
	Backend         string `mapstructure:"backend"`
	RepoRoot        string `mapstructure:"repo_root"`
	MaxConcurrency  int    `mapstructure:"max_concurrency"`
	IsolateFailures bool   `mapstructure:"isolate_failures"`

	LogFormat    string `mapstructure:"log_format"`
	OtelEndpoint string `mapstructure:"otel_endpoint"`

	Lark   LarkConfig   `mapstructure:"lark"`
	Remind RemindConfig `mapstructure:"remind"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Export ExportConfig `mapstructure:"export"`
}

// LarkConfig holds the app credentials and recipient directory.
type LarkConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	AppID       string `mapstructure:"app_id"`
	AppSecret   string `mapstructure:"app_secret"`
	TenantToken string `mapstructure:"tenant_token"`
	DestKind    string `mapstructure:"dest_kind"`
	// ResolveEmails looks unmapped authors up in the Lark contact directory.
	ResolveEmails bool   `mapstructure:"resolve_emails"`
	IdentityDir   string `mapstructure:"identity_dir"`
	// Users is a list rather than a map because viper lowercases map keys.
	Users []UserMapping `mapstructure:"users"`
}

// UserMapping pairs an author email with a Lark destination id.
type UserMapping struct {
	Email string `mapstructure:"email"`
	ID    string `mapstructure:"id"`
}

type RemindConfig struct {
	Grace  string `mapstructure:"grace"`
	Filter string `mapstructure:"filter"`
	DryRun bool   `mapstructure:"dry_run"`
}

type SyncConfig struct {
	Store       string `mapstructure:"store"`
	AppToken    string `mapstructure:"app_token"`
	TableID     string `mapstructure:"table_id"`
	PageSize    int    `mapstructure:"page_size"`
	DedupField  string `mapstructure:"dedup_field"`
	DynamoTable string `mapstructure:"dynamo_table"`
}

type ExportConfig struct {
	Out    string `mapstructure:"out"`
	Format string `mapstructure:"format"`
}

// Store names.
const (
	StoreBitable  = "bitable"
	StoreDynamoDB = "dynamodb"
)

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Marker:    scanner.DefaultMarker,
		Backend:   string(provenance.BackendGitCLI),
		LogFormat: "json",
		Lark: LarkConfig{
			BaseURL:  lark.DefaultBaseURL,
			DestKind: string(lark.KindUserID),
		},
		Remind: RemindConfig{
			Grace: "0",
		},
		Sync: SyncConfig{
			Store:      StoreBitable,
			PageSize:   100,
			DedupField: "Path",
		},
		Export: ExportConfig{
			Format: "json",
		},
	}
}

// SetDefaults registers Default() with v so that env vars bind to every key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("marker", d.Marker)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("repo_root", d.RepoRoot)
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("isolate_failures", d.IsolateFailures)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("otel_endpoint", d.OtelEndpoint)

	v.SetDefault("lark.base_url", d.Lark.BaseURL)
	v.SetDefault("lark.app_id", "")
	v.SetDefault("lark.app_secret", "")
	v.SetDefault("lark.tenant_token", "")
	v.SetDefault("lark.dest_kind", d.Lark.DestKind)
	v.SetDefault("lark.resolve_emails", false)
	v.SetDefault("lark.identity_dir", "")

	v.SetDefault("remind.grace", d.Remind.Grace)
	v.SetDefault("remind.filter", "")
	v.SetDefault("remind.dry_run", false)

	v.SetDefault("sync.store", d.Sync.Store)
	v.SetDefault("sync.app_token", "")
	v.SetDefault("sync.table_id", "")
	v.SetDefault("sync.page_size", d.Sync.PageSize)
	v.SetDefault("sync.dedup_field", d.Sync.DedupField)
	v.SetDefault("sync.dynamo_table", "")

	v.SetDefault("export.out", "")
	v.SetDefault("export.format", d.Export.Format)
}

// Load decodes v into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings and parses the grace period.
func (c *Config) Validate() error {
	var problems []string

	switch provenance.Backend(c.Backend) {
	case "", provenance.BackendGitCLI, provenance.BackendGoGit:
	default:
		problems = append(problems, fmt.Sprintf("backend %q (want git or go-git)", c.Backend))
	}
	if _, err := lark.ParseDestinationKind(c.Lark.DestKind); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := policy.ParseGracePeriod(c.Remind.Grace); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Sync.Store {
	case StoreBitable, StoreDynamoDB:
	default:
		problems = append(problems, fmt.Sprintf("sync.store %q (want bitable or dynamodb)", c.Sync.Store))
	}
	switch c.Export.Format {
	case "json", "yaml":
	default:
		problems = append(problems, fmt.Sprintf("export.format %q (want json or yaml)", c.Export.Format))
	}
	if c.MaxConcurrency < 0 {
		problems = append(problems, "max_concurrency must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Destinations returns the author email to destination id map. Emails are kept verbatim.
func (c *Config) Destinations() map[string]string {
	out := make(map[string]string, len(c.Lark.Users))
	for _, u := range c.Lark.Users {
		if u.Email != "" && u.ID != "" {
			out[u.Email] = u.ID
		}
	}
	return out
}
