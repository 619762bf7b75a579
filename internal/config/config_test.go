package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	v, err := NewViper(newTestViper(t, args...))
	require.NoError(t, err)
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://abcd1234.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, "rest", cfg.Backend)
	assert.Equal(t, "https://abcd1234.supabase.co", cfg.URL)
	assert.Equal(t, "anon", cfg.AnonKey)
	assert.Equal(t, "abcd1234", cfg.Project)
	assert.Equal(t, Policy{}, cfg.Policy)
	assert.Equal(t, Procedures{Query: DefaultRPCQuery, Write: DefaultRPCWrite, Transaction: DefaultRPCTransaction}, cfg.Procedures)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultMaxRows, cfg.MaxRows)
	assert.False(t, cfg.HasPrivilegedCredential())
}

func TestLoad_EnvAndFlags(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://abcd1234.supabase.co")
	t.Setenv("SUPABASE_ANON_KEY", "anon")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service")
	t.Setenv("SUPABASE_MCP_ALLOW_DELETE_WITH_STANDARD", "true")
	t.Setenv("SUPABASE_MCP_TIMEOUT", "5s")

	cfg, err := load(t, "--allow-create-with-standard", "--project", "demo", "--log-level", "DEBUG")
	require.NoError(t, err)
	assert.Equal(t, Policy{AllowCreateWithStandard: true, AllowDeleteWithStandard: true}, cfg.Policy)
	assert.Equal(t, "demo", cfg.Project)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.HasPrivilegedCredential())
}

func TestLoad_Missing(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")
	t.Setenv("SUPABASE_KEY", "")

	_, err := load(t)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "Config.URL is required")
	assert.Contains(t, err.Error(), "Config.AnonKey is required")
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("SUPABASE_URL", "not a url")
	t.Setenv("SUPABASE_ANON_KEY", "anon")

	_, err := load(t, "--transport", "carrier-pigeon")
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "Config.URL must be a URL")
	assert.Contains(t, err.Error(), "Config.Transport must be one of")
}

func TestLoad_SQLBackend(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")
	t.Setenv("SUPABASE_KEY", "")

	cfg, err := load(t, "--backend", "sql", "--driver", "sqlite", "--db-url", "file::memory:")
	require.NoError(t, err)
	assert.Equal(t, "sql", cfg.Backend)
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.False(t, cfg.HasPrivilegedCredential())

	_, err = load(t, "--backend", "sql", "--driver", "oracle", "--db-url", "x")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")
	t.Setenv("SUPABASE_KEY", "")

	dir := t.TempDir()
	file := filepath.Join(dir, "mcp.yaml")
	require.NoError(t, os.WriteFile(file, []byte("url: https://xyz.supabase.co\nanon-key: from-file\nallow-update-with-standard: true\n"), 0o600))

	cfg, err := load(t, "--config", file)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AnonKey)
	assert.Equal(t, "xyz", cfg.Project)
	assert.True(t, cfg.Policy.AllowUpdateWithStandard)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("SUPABASE_MCP_TEST_DOTENV=from-dotenv\n"), 0o600))
	t.Setenv("SUPABASE_MCP_TEST_DOTENV", "")
	os.Unsetenv("SUPABASE_MCP_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(file, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-dotenv", os.Getenv("SUPABASE_MCP_TEST_DOTENV"))
}

func TestProjectFromURL(t *testing.T) {
	assert.Equal(t, "abc", projectFromURL("https://abc.supabase.co"))
	assert.Equal(t, "localhost", projectFromURL("http://localhost:54321"))
	assert.Equal(t, "", projectFromURL(""))
}
