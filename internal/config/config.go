// Package config loads the server configuration from flags, environment,
// an optional config file and a .env file, and validates it once at start.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Configuration keys. Each key is also the flag name.
const (
	KeyConfigFile     = "config"
	KeyBackend        = "backend"
	KeyURL            = "url"
	KeyAnonKey        = "anon-key"
	KeyServiceRoleKey = "service-role-key"
	KeyProject        = "project"
	KeyDriver         = "driver"
	KeyDBURL          = "db-url"
	KeyDBAdminURL     = "db-admin-url"

	KeyAllowCreate = "allow-create-with-standard"
	KeyAllowUpdate = "allow-update-with-standard"
	KeyAllowDelete = "allow-delete-with-standard"

	KeyRPCQuery       = "rpc-query"
	KeyRPCWrite       = "rpc-write"
	KeyRPCTransaction = "rpc-transaction"

	KeyTransport = "transport"
	KeyAddr      = "addr"
	KeyLogLevel  = "log-level"
	KeyLogFormat = "log-format"
	KeyTimeout   = "timeout"
	KeyRateLimit = "rate-limit"
	KeyMaxRows   = "max-rows"
)

// envPrefix is used for every key that has no well-known variable name.
const envPrefix = "SUPABASE_MCP_"

// wellKnownEnv maps keys to the variable names used by Supabase tooling.
var wellKnownEnv = map[string][]string{
	KeyURL:            {"SUPABASE_URL"},
	KeyAnonKey:        {"SUPABASE_ANON_KEY", "SUPABASE_KEY"},
	KeyServiceRoleKey: {"SUPABASE_SERVICE_ROLE_KEY"},
	KeyProject:        {"SUPABASE_PROJECT"},
	KeyDBURL:          {"SUPABASE_DB_URL"},
	KeyDBAdminURL:     {"SUPABASE_DB_ADMIN_URL"},
}

// Defaults.
const (
	DefaultRPCQuery       = "exec_sql"
	DefaultRPCWrite       = "exec_sql_write"
	DefaultRPCTransaction = "execute_transaction"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRows        = 10000
	DefaultAddr           = "127.0.0.1:8484"
)

// Policy states which privileged operations may run with the standard
// credential. It is loaded once and never mutated.
type Policy struct {
	AllowCreateWithStandard bool
	AllowUpdateWithStandard bool
	AllowDeleteWithStandard bool
}

// Procedures names the server-side remote procedures.
type Procedures struct {
	Query       string `validate:"required"`
	Write       string `validate:"required"`
	Transaction string `validate:"required"`
}

// Config is the complete server configuration.
type Config struct {
	Backend        string `validate:"oneof=rest sql"`
	URL            string `validate:"required_if=Backend rest,omitempty,url"`
	AnonKey        string `validate:"required_if=Backend rest"`
	ServiceRoleKey string
	Project        string

	Driver     string `validate:"required_if=Backend sql,omitempty,oneof=postgres mysql sqlite"`
	DBURL      string `validate:"required_if=Backend sql"`
	DBAdminURL string

	Policy     Policy
	Procedures Procedures

	Transport string `validate:"oneof=stdio http"`
	Addr      string `validate:"required_if=Transport http"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	Timeout   time.Duration `validate:"gte=0"`
	RateLimit float64       `validate:"gte=0"`
	MaxRows   int           `validate:"gt=0"`
}

// ErrInvalid is returned by Load when validation fails.
var ErrInvalid = errors.New("invalid configuration")

// RegisterFlags adds every configuration flag to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(KeyConfigFile, "", "config `file` (yaml, toml or json)")
	fs.String(KeyBackend, "rest", "backend: rest (HTTP API) or sql (direct database connection)")
	fs.String(KeyURL, "", "project API `url` (env SUPABASE_URL)")
	fs.String(KeyAnonKey, "", "standard API key (env SUPABASE_ANON_KEY)")
	fs.String(KeyServiceRoleKey, "", "privileged API key (env SUPABASE_SERVICE_ROLE_KEY)")
	fs.String(KeyProject, "", "project name used in resource URIs (default: derived from the url)")
	fs.String(KeyDriver, "postgres", "sql backend driver: postgres, mysql or sqlite")
	fs.String(KeyDBURL, "", "sql backend standard `dsn` (env SUPABASE_DB_URL)")
	fs.String(KeyDBAdminURL, "", "sql backend privileged `dsn` (env SUPABASE_DB_ADMIN_URL)")

	fs.Bool(KeyAllowCreate, false, "allow table creation and inserts with the standard credential")
	fs.Bool(KeyAllowUpdate, false, "allow updates with the standard credential")
	fs.Bool(KeyAllowDelete, false, "allow deletes with the standard credential")

	fs.String(KeyRPCQuery, DefaultRPCQuery, "remote procedure that runs read-only SQL")
	fs.String(KeyRPCWrite, DefaultRPCWrite, "remote procedure that runs privileged SQL")
	fs.String(KeyRPCTransaction, DefaultRPCTransaction, "remote procedure that runs a batch in one transaction")

	fs.String(KeyTransport, "stdio", "MCP transport: stdio or http")
	fs.String(KeyAddr, DefaultAddr, "listen `address` for the http transport")
	fs.String(KeyLogLevel, "info", "log level: debug, info, warn or error")
	fs.String(KeyLogFormat, "text", "log format: text or json")
	fs.Duration(KeyTimeout, DefaultTimeout, "backend request timeout (0 disables)")
	fs.Float64(KeyRateLimit, 0, "maximum backend requests per second (0 disables)")
	fs.Int(KeyMaxRows, DefaultMaxRows, "maximum rows returned by the sql backend")
}

// NewViper returns a viper instance bound to the flags in fs and to the
// environment.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		names, ok := wellKnownEnv[f.Name]
		if !ok {
			names = []string{envName(f.Name)}
		}
		if err := v.BindEnv(append([]string{f.Name}, names...)...); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	return v, bindErr
}

func envName(key string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// LoadDotEnv loads variables from the given .env files. Missing files are
// ignored and variables already present in the environment are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the configuration from v, including the config file if one is
// named, and validates it.
func Load(v *viper.Viper) (Config, error) {
	if file := v.GetString(KeyConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Backend:        strings.ToLower(v.GetString(KeyBackend)),
		URL:            strings.TrimRight(v.GetString(KeyURL), "/"),
		AnonKey:        v.GetString(KeyAnonKey),
		ServiceRoleKey: v.GetString(KeyServiceRoleKey),
		Project:        v.GetString(KeyProject),
		Driver:         strings.ToLower(v.GetString(KeyDriver)),
		DBURL:          v.GetString(KeyDBURL),
		DBAdminURL:     v.GetString(KeyDBAdminURL),
		Policy: Policy{
			AllowCreateWithStandard: v.GetBool(KeyAllowCreate),
			AllowUpdateWithStandard: v.GetBool(KeyAllowUpdate),
			AllowDeleteWithStandard: v.GetBool(KeyAllowDelete),
		},
		Procedures: Procedures{
			Query:       v.GetString(KeyRPCQuery),
			Write:       v.GetString(KeyRPCWrite),
			Transaction: v.GetString(KeyRPCTransaction),
		},
		Transport: strings.ToLower(v.GetString(KeyTransport)),
		Addr:      v.GetString(KeyAddr),
		LogLevel:  strings.ToLower(v.GetString(KeyLogLevel)),
		LogFormat: strings.ToLower(v.GetString(KeyLogFormat)),
		Timeout:   v.GetDuration(KeyTimeout),
		RateLimit: v.GetFloat64(KeyRateLimit),
		MaxRows:   v.GetInt(KeyMaxRows),
	}
	if cfg.Project == "" {
		cfg.Project = projectFromURL(cfg.URL)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and returns an error listing every
// offending field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var vErr validator.ValidationErrors
	if !errors.As(err, &vErr) {
		return err
	}
	msgs := make([]string, 0, len(vErr))
	for _, fe := range vErr {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	name := fe.StructNamespace()
	switch fe.Tag() {
	case "required", "required_if":
		return name + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", name, fe.Value())
	}
	return fmt.Sprintf("%s failed %s=%s", name, fe.Tag(), fe.Param())
}

// projectFromURL returns the first host label of the API url, which for
// hosted projects is the project reference.
func projectFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := u.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}

// HasPrivilegedCredential reports whether the privileged tier is configured.
func (c Config) HasPrivilegedCredential() bool {
	if c.Backend == "sql" {
		return c.DBAdminURL != ""
	}
	return c.ServiceRoleKey != ""
}
