// Package config provides configuration management for streamgate using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultWindow           = 5
	defaultMaxExtra         = 6
	defaultFragmentPrefix   = "fragment"
	defaultFilenameExt      = "webm"
	defaultStreamBitrate    = 300000
	defaultSessionTimeout   = 15 * time.Minute
	defaultKeepaliveEvery   = 20 * time.Minute
	defaultKeepaliveRetry   = time.Minute
	defaultRequestTimeout   = 30 * time.Second
	defaultPorterPort       = 8800
	defaultPorterSocketMode = 0o666

	minSecretBytes = 16
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	HLS          HLSConfig          `mapstructure:"hls"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Porter       PorterConfig       `mapstructure:"porter"`
	PorterClient PorterClientConfig `mapstructure:"porter_client"`
}

// ServerConfig holds HTTP server configuration for the standalone streamer.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// HLSConfig holds fragment ring and playlist configuration.
type HLSConfig struct {
	// MountPoint is the URL path prefix served by this streamer.
	// Normalized to begin and end with "/".
	MountPoint string `mapstructure:"mount_point"`

	// Hostname is the public host used to build absolute playlist URLs.
	// "http://" is prepended when no scheme is given.
	Hostname string `mapstructure:"hostname"`

	FragmentPrefix string `mapstructure:"fragment_prefix"`
	FilenameExt    string `mapstructure:"filename_ext"` // webm or ts

	// Window is the number of fragments advertised in the playlist.
	Window int `mapstructure:"window"`

	// MaxExtra is the number of fragments retained beyond the window for
	// clients still downloading scrolled-out entries. Must be >= window+1.
	MaxExtra int `mapstructure:"max_extra"`

	// NewFragmentTolerance enables playlist auto-fill: when > 0, a dummy
	// fragment is appended if the next sequence does not arrive within
	// duration*(1+tolerance) seconds. 0 disables auto-fill.
	NewFragmentTolerance float64 `mapstructure:"new_fragment_tolerance"`

	// KeyInterval is the number of fragments sharing one AES key.
	// 0 disables encryption.
	KeyInterval int    `mapstructure:"key_interval"`
	KeysURI     string `mapstructure:"keys_uri"`

	StreamBitrate int    `mapstructure:"stream_bitrate"`
	Title         string `mapstructure:"title"`
	AllowCache    bool   `mapstructure:"allow_cache"`

	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// Secret signs session tokens. Required; at least 16 bytes.
	Secret string `mapstructure:"secret"`

	// MaxClients and MaxBandwidth cap concurrent sessions and sent
	// bytes/sec. 0 means unlimited.
	MaxClients   int   `mapstructure:"max_clients"`
	MaxBandwidth int64 `mapstructure:"max_bandwidth"`

	// RedirectOnFull, when set, turns the 503 on reaching caps into a
	// 302 to this URL.
	RedirectOnFull string `mapstructure:"redirect_on_full"`

	// RequestTimeout closes on-demand clients after this much write
	// inactivity.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig holds keycard issuance and bouncer configuration.
type AuthConfig struct {
	// Issuer selects how keycards are built from requests:
	// generic, basic, or token.
	Issuer string `mapstructure:"issuer"`

	// Domain is used for the WWW-Authenticate realm and stamped on
	// issued keycards. Empty disables the challenge header.
	Domain string `mapstructure:"domain"`

	// DefaultDuration is applied when the bouncer grants a keycard
	// without its own duration. 0 means unlimited.
	DefaultDuration time.Duration `mapstructure:"default_duration"`

	// KeepaliveInterval is how often keycard TTLs are refreshed with the
	// bouncer; KeepaliveRetry is the retry cadence after a failure.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	KeepaliveRetry    time.Duration `mapstructure:"keepalive_retry"`

	Bouncer BouncerConfig `mapstructure:"bouncer"`
}

// BouncerConfig selects and configures the authentication bouncer.
type BouncerConfig struct {
	// Kind is one of: none, htpasswd, saltsha256, ip, ical, token, multi.
	Kind string `mapstructure:"kind"`

	// HtpasswdFile / HtpasswdData provide user:hash lines for the
	// htpasswd and saltsha256 bouncers.
	HtpasswdFile string `mapstructure:"htpasswd_file"`
	HtpasswdData string `mapstructure:"htpasswd_data"`

	// Allow/Deny are CIDR lists for the IP bouncer.
	Allow       []string `mapstructure:"allow"`
	Deny        []string `mapstructure:"deny"`
	DenyDefault bool     `mapstructure:"deny_default"`

	// ICalFile holds the calendar consulted by the ical bouncer.
	ICalFile string `mapstructure:"ical_file"`

	// Token is the constant expected by the token bouncer.
	Token string `mapstructure:"token"`

	// Expression combines named sub-bouncers with and/or/not for the
	// multi bouncer, e.g. "lan and (users or guests)".
	Expression string `mapstructure:"expression"`

	// Bouncers names the sub-bouncers referenced by Expression.
	Bouncers map[string]BouncerConfig `mapstructure:"bouncers"`
}

// PorterConfig holds the porter's public listener and control socket
// configuration.
type PorterConfig struct {
	Port      int    `mapstructure:"port"`
	Interface string `mapstructure:"interface"`

	// Protocol is the wire protocol of the public listener: http or rtsp.
	Protocol string `mapstructure:"protocol"`

	// SocketPath is the Unix control socket. Empty means a random path
	// is generated under the system temp directory.
	SocketPath string `mapstructure:"socket_path"`
	SocketMode uint32 `mapstructure:"socket_mode"`

	// Username/Password authenticate backend logins. Empty means random
	// credentials are generated at startup.
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	RequirePassword bool   `mapstructure:"require_password"`
}

// PorterClientConfig configures a streamer slaved to a porter.
type PorterClientConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	SocketPath string `mapstructure:"socket_path"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with STREAMGATE, using underscores for nesting.
// Example: STREAMGATE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/streamgate")
		v.AddConfigPath("$HOME/.streamgate")
	}

	v.SetEnvPrefix("STREAMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// HLS defaults
	v.SetDefault("hls.mount_point", "/")
	v.SetDefault("hls.hostname", "localhost:8080")
	v.SetDefault("hls.fragment_prefix", defaultFragmentPrefix)
	v.SetDefault("hls.filename_ext", defaultFilenameExt)
	v.SetDefault("hls.window", defaultWindow)
	v.SetDefault("hls.max_extra", defaultMaxExtra)
	v.SetDefault("hls.new_fragment_tolerance", 0.0)
	v.SetDefault("hls.key_interval", 0)
	v.SetDefault("hls.stream_bitrate", defaultStreamBitrate)
	v.SetDefault("hls.title", "")
	v.SetDefault("hls.allow_cache", true)
	v.SetDefault("hls.session_timeout", defaultSessionTimeout)
	v.SetDefault("hls.max_clients", 0)
	v.SetDefault("hls.max_bandwidth", 0)
	v.SetDefault("hls.request_timeout", defaultRequestTimeout)

	// Auth defaults
	v.SetDefault("auth.issuer", "generic")
	v.SetDefault("auth.default_duration", time.Duration(0))
	v.SetDefault("auth.keepalive_interval", defaultKeepaliveEvery)
	v.SetDefault("auth.keepalive_retry", defaultKeepaliveRetry)
	v.SetDefault("auth.bouncer.kind", "none")
	v.SetDefault("auth.bouncer.deny_default", true)

	// Porter defaults
	v.SetDefault("porter.port", defaultPorterPort)
	v.SetDefault("porter.interface", "")
	v.SetDefault("porter.protocol", "http")
	v.SetDefault("porter.socket_path", "")
	v.SetDefault("porter.socket_mode", defaultPorterSocketMode)
	v.SetDefault("porter.require_password", true)

	// Porter client defaults
	v.SetDefault("porter_client.enabled", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Porter.Port < 1 || c.Porter.Port > maxPort {
		return fmt.Errorf("porter.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.HLS.Window < 1 {
		return fmt.Errorf("hls.window must be at least 1")
	}
	if c.HLS.MaxExtra < c.HLS.Window+1 {
		return fmt.Errorf("hls.max_extra must be at least hls.window+1")
	}
	if c.HLS.Secret != "" && len(c.HLS.Secret) < minSecretBytes {
		return fmt.Errorf("hls.secret must be at least %d bytes", minSecretBytes)
	}

	validIssuers := map[string]bool{"generic": true, "basic": true, "token": true}
	if !validIssuers[c.Auth.Issuer] {
		return fmt.Errorf("auth.issuer must be one of: generic, basic, token")
	}
	validBouncers := map[string]bool{
		"none": true, "htpasswd": true, "saltsha256": true,
		"ip": true, "ical": true, "token": true, "multi": true,
	}
	if !validBouncers[c.Auth.Bouncer.Kind] {
		return fmt.Errorf("auth.bouncer.kind %q is not supported", c.Auth.Bouncer.Kind)
	}

	validProtocols := map[string]bool{"http": true, "rtsp": true}
	if !validProtocols[c.Porter.Protocol] {
		return fmt.Errorf("porter.protocol must be http or rtsp")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
