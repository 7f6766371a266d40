// Package config handles loading and managing leasevault configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Mail providers accepted in [mail] provider.
const (
	ProviderNone  = ""
	ProviderIMAP  = "imap"
	ProviderGraph = "graph"
)

// Config represents the leasevault configuration.
type Config struct {
	Data    DataConfig    `toml:"data"`
	Mail    MailConfig    `toml:"mail"`
	Server  ServerConfig  `toml:"server"`
	Refresh RefreshConfig `toml:"refresh"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	ConfigPath string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"` // postgres:// URL; empty uses SQLite in DataDir
}

// MailConfig selects the remote source documents are fetched from.
type MailConfig struct {
	Provider string      `toml:"provider"` // "imap", "graph", or empty for offline
	Mailbox  string      `toml:"mailbox"`  // Sending mailbox whose Sent folder is searched
	IMAP     IMAPConfig  `toml:"imap"`
	Graph    GraphConfig `toml:"graph"`
}

// IMAPConfig holds IMAP connection settings. The password is never stored in
// the file; it is read from the environment variable named by PasswordEnv.
type IMAPConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	TLS         bool   `toml:"tls"`
	STARTTLS    bool   `toml:"starttls"`
	Username    string `toml:"username"`
	PasswordEnv string `toml:"password_env"`
	SentFolder  string `toml:"sent_folder"` // Overrides Sent folder discovery
}

// GraphConfig holds Microsoft Graph settings. Either a client-credentials
// app registration or a token file with a pre-issued access token is used.
type GraphConfig struct {
	TenantID        string  `toml:"tenant_id"`
	ClientID        string  `toml:"client_id"`
	ClientSecretEnv string  `toml:"client_secret_env"`
	TokenFile       string  `toml:"token_file"`
	BaseURL         string  `toml:"base_url"`
	RateLimitQPS    float64 `toml:"rate_limit_qps"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort      int      `toml:"api_port"`       // HTTP server port (default: 8080)
	BindAddr     string   `toml:"bind_addr"`      // Listen address (default: 127.0.0.1)
	APIKey       string   `toml:"api_key"`        // API authentication key
	CORSOrigins  []string `toml:"cors_origins"`   // Allowed browser origins
	RateLimitQPS float64  `toml:"rate_limit_qps"` // Per-client request rate
}

// IsLoopback reports whether the server binds only to the local host.
func (s ServerConfig) IsLoopback() bool {
	switch s.BindAddr {
	case "", "localhost":
		return true
	}
	ip := net.ParseIP(s.BindAddr)
	return ip != nil && ip.IsLoopback()
}

// ValidateSecure refuses to expose the API beyond the local host without an
// API key.
func (s ServerConfig) ValidateSecure() error {
	if !s.IsLoopback() && s.APIKey == "" {
		return fmt.Errorf("config: [server] api_key is required when bind_addr is %q", s.BindAddr)
	}
	return nil
}

// RefreshConfig controls scheduled document refresh.
type RefreshConfig struct {
	Enabled  bool            `toml:"enabled"`
	Schedule string          `toml:"schedule"` // Cron expression for refreshing every tenant
	Tenants  []TenantRefresh `toml:"tenant"`
}

// TenantRefresh schedules refresh of a single tenant's documents in addition
// to the full refresh.
type TenantRefresh struct {
	Email    string `toml:"email"`
	Schedule string `toml:"schedule"`
}

// DefaultHome returns the default leasevault home directory.
// Respects LEASEVAULT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("LEASEVAULT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leasevault"
	}
	return filepath.Join(home, ".leasevault")
}

// NewDefaultConfig returns a configuration with default values rooted at
// DefaultHome.
func NewDefaultConfig() *Config {
	return newDefaultConfig(DefaultHome())
}

func newDefaultConfig(homeDir string) *Config {
	return &Config{
		HomeDir:    homeDir,
		ConfigPath: filepath.Join(homeDir, "config.toml"),
		Data: DataConfig{
			DataDir: homeDir,
		},
		Mail: MailConfig{
			IMAP: IMAPConfig{TLS: true},
			Graph: GraphConfig{
				RateLimitQPS: 4,
			},
		},
		Server: ServerConfig{
			APIPort:      8080,
			BindAddr:     "127.0.0.1",
			RateLimitQPS: 10,
		},
		Refresh: RefreshConfig{
			Schedule: "0 * * * *",
		},
	}
}

// Load reads the configuration from path. An empty path uses config.toml in
// the home directory, which is homeDir when set and DefaultHome otherwise;
// a missing default file yields the defaults. An explicit path must exist,
// and when homeDir is empty the file's directory becomes the home directory.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	switch {
	case homeDir != "":
		homeDir = expandPath(homeDir)
	case explicit:
		homeDir = filepath.Dir(expandPath(path))
	default:
		homeDir = DefaultHome()
	}
	if !explicit {
		path = filepath.Join(homeDir, "config.toml")
	}
	path = expandPath(path)

	cfg := newDefaultConfig(homeDir)
	cfg.ConfigPath = path

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if msg := err.Error(); strings.Contains(msg, "escape") || strings.Contains(msg, "hexadecimal") {
			return nil, fmt.Errorf("decode config: %w (hint: use forward slashes or single quotes for Windows paths)", err)
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = resolvePath(cfg.Data.DataDir, homeDir)
	cfg.Mail.Graph.TokenFile = resolvePath(cfg.Mail.Graph.TokenFile, homeDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Mail.Provider {
	case ProviderNone:
	case ProviderIMAP:
		if c.Mail.IMAP.Host == "" || c.Mail.IMAP.Username == "" {
			return fmt.Errorf("config: [mail.imap] requires host and username")
		}
	case ProviderGraph:
		if c.Mail.Mailbox == "" {
			return fmt.Errorf("config: [mail] mailbox is required for the graph provider")
		}
		if c.Mail.Graph.TokenFile == "" && (c.Mail.Graph.TenantID == "" || c.Mail.Graph.ClientID == "") {
			return fmt.Errorf("config: [mail.graph] requires token_file or tenant_id and client_id")
		}
	default:
		return fmt.Errorf("config: unknown mail provider %q", c.Mail.Provider)
	}
	for _, t := range c.Refresh.Tenants {
		if t.Email == "" || t.Schedule == "" {
			return fmt.Errorf("config: [[refresh.tenant]] requires email and schedule")
		}
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL URL when configured, else the path to
// the SQLite database.
func (c *Config) DatabaseDSN() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "leasevault.db")
}

// ScheduledRefreshes returns refresh schedules keyed by target: the empty
// target refreshes every tenant, any other target is a tenant email.
// Nothing is scheduled when refresh is disabled.
func (c *Config) ScheduledRefreshes() map[string]string {
	scheduled := map[string]string{}
	if !c.Refresh.Enabled {
		return scheduled
	}
	if c.Refresh.Schedule != "" {
		scheduled[""] = c.Refresh.Schedule
	}
	for _, t := range c.Refresh.Tenants {
		scheduled[strings.ToLower(strings.TrimSpace(t.Email))] = t.Schedule
	}
	return scheduled
}

// EnsureHomeDir creates the home and data directories.
func (c *Config) EnsureHomeDir() error {
	for _, dir := range []string{c.HomeDir, c.Data.DataDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// resolvePath expands ~ and makes relative paths relative to base.
func resolvePath(path, base string) string {
	if path == "" {
		return path
	}
	path = expandPath(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return path
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
