// Package options provides typed configuration for the engine, loaded with
// Viper from defaults, environment variables (NETENGINE_* prefix), and an
// optional config file, plus a closed-enumeration JSON-patch adapter for
// experimental knobs (see experimental.go).
//
// Environment variables use the NETENGINE_ prefix and underscore-separated
// keys:
//   - NETENGINE_DNS_ENABLE_STALE -> dns.enable_stale
//   - NETENGINE_CACHE_MODE -> cache.mode
//   - NETENGINE_MIGRATION_DEFAULT_NETWORK_MIGRATION -> migration.default_network_migration
package options

import (
	"strings"
	"time"
)

// CacheMode selects the HTTP cache backend.
type CacheMode int

const (
	CacheDisabled CacheMode = iota
	CacheInMemory
	CacheDisk
	CacheDiskNoHTTP
)

func (m CacheMode) String() string {
	switch m {
	case CacheInMemory:
		return "IN_MEMORY"
	case CacheDisk:
		return "DISK"
	case CacheDiskNoHTTP:
		return "DISK_NO_HTTP"
	default:
		return "DISABLED"
	}
}

// ParseCacheMode parses the string forms accepted in config files and env
// vars ("disabled", "in_memory", "disk", "disk_no_http", case-insensitive).
func ParseCacheMode(s string) CacheMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_MEMORY", "MEMORY":
		return CacheInMemory
	case "DISK":
		return CacheDisk
	case "DISK_NO_HTTP", "DISK_NO_HTTP_METADATA":
		return CacheDiskNoHTTP
	default:
		return CacheDisabled
	}
}

// QUICHint is a server-advertised (or user-supplied) hint that a host speaks
// QUIC/HTTP3 on altPort, letting the session pool race or prefer QUIC
// without waiting on an Alt-Svc response first.
type QUICHint struct {
	Host    string `yaml:"host"     mapstructure:"host"     json:"host"`
	Port    int    `yaml:"port"     mapstructure:"port"     json:"port"`
	AltPort int    `yaml:"alt_port" mapstructure:"alt_port" json:"alt_port"`
}

// TransportOptions control which protocols the engine is willing to use.
type TransportOptions struct {
	EnableHTTP2    bool       `yaml:"enable_http2"       mapstructure:"enable_http2"`
	EnableQUIC     bool       `yaml:"enable_quic"        mapstructure:"enable_quic"`
	EnableBrotli   bool       `yaml:"enable_brotli"      mapstructure:"enable_brotli"`
	QUICHints      []QUICHint `yaml:"quic_hints"         mapstructure:"quic_hints"`
	MaxH1PerOrigin int        `yaml:"max_h1_per_origin"  mapstructure:"max_h1_per_origin"`
}

// QUICOptions tune the QUIC/HTTP3 transport and its 0-RTT resumption cache.
type QUICOptions struct {
	Versions                    []string      `yaml:"versions"                        mapstructure:"versions"`
	ConnectionOptions           []string      `yaml:"connection_options"              mapstructure:"connection_options"`
	ClientConnectionOptions     []string      `yaml:"client_connection_options"       mapstructure:"client_connection_options"`
	HandshakeUserAgent          string        `yaml:"handshake_user_agent"            mapstructure:"handshake_user_agent"`
	ServerConfigCacheSize       int           `yaml:"server_config_cache_size"        mapstructure:"server_config_cache_size"`
	IdleConnectionTimeout       time.Duration `yaml:"idle_connection_timeout"         mapstructure:"idle_connection_timeout"`
	CryptoHandshakeTimeout      time.Duration `yaml:"crypto_handshake_timeout"        mapstructure:"crypto_handshake_timeout"`
	Enable0RTT                  bool          `yaml:"enable_0rtt"                     mapstructure:"enable_0rtt"`
	BrokenServiceBackoffInitial time.Duration `yaml:"broken_service_backoff_initial"  mapstructure:"broken_service_backoff_initial"`
	BrokenServiceBackoffMax     time.Duration `yaml:"broken_service_backoff_max"      mapstructure:"broken_service_backoff_max"`
}

// DNSOptions configure the built-in resolver's stale-while-revalidate
// policy and on-disk persistence.
type DNSOptions struct {
	UseBuiltinResolver                       bool          `yaml:"use_builtin_resolver"                          mapstructure:"use_builtin_resolver"`
	EnableStale                              bool          `yaml:"enable_stale"                                  mapstructure:"enable_stale"`
	FreshLookupTimeout                       time.Duration `yaml:"fresh_lookup_timeout"                          mapstructure:"fresh_lookup_timeout"`
	MaxExpiredDelay                          time.Duration `yaml:"max_expired_delay"                             mapstructure:"max_expired_delay"`
	AllowCrossNetworkUsage                   bool          `yaml:"allow_cross_network_usage"                     mapstructure:"allow_cross_network_usage"`
	UseStaleOnNameNotResolved                bool          `yaml:"use_stale_on_name_not_resolved"                mapstructure:"use_stale_on_name_not_resolved"`
	PersistHostCache                         bool          `yaml:"persist_host_cache"                            mapstructure:"persist_host_cache"`
	PersistDelay                             time.Duration `yaml:"persist_delay"                                 mapstructure:"persist_delay"`
	PreestablishConnectionsToStaleDNSResults bool          `yaml:"preestablish_connections_to_stale_dns_results" mapstructure:"preestablish_connections_to_stale_dns_results"`
}

// MigrationOptions configure the QUIC connection-migration state machine.
type MigrationOptions struct {
	DefaultNetworkMigration                       bool          `yaml:"default_network_migration"                             mapstructure:"default_network_migration"`
	PathDegradationMigration                      bool          `yaml:"path_degradation_migration"                            mapstructure:"path_degradation_migration"`
	AllowNonDefaultNetworkUsage                   bool          `yaml:"allow_non_default_network_usage"                       mapstructure:"allow_non_default_network_usage"`
	AllowServerMigration                          bool          `yaml:"allow_server_migration"                                mapstructure:"allow_server_migration"`
	MigrateIdleConnections                        bool          `yaml:"migrate_idle_connections"                              mapstructure:"migrate_idle_connections"`
	IdleMigrationPeriod                           time.Duration `yaml:"idle_migration_period"                                 mapstructure:"idle_migration_period"`
	MaxTimeOnNonDefaultNetwork                    time.Duration `yaml:"max_time_on_non_default_network"                       mapstructure:"max_time_on_non_default_network"`
	MaxPathDegradingNonDefaultMigrationsCount     int           `yaml:"max_path_degrading_non_default_migrations_count"       mapstructure:"max_path_degrading_non_default_migrations_count"`
	MaxWriteErrorNonDefaultNetworkMigrationsCount int           `yaml:"max_write_error_non_default_network_migrations_count"  mapstructure:"max_write_error_non_default_network_migrations_count"`
	RetryPreHandshakeErrorsOnNonDefaultNetwork    bool          `yaml:"retry_pre_handshake_errors_on_non_default_network"     mapstructure:"retry_pre_handshake_errors_on_non_default_network"`
	CloseSessionsOnIPChange                       bool          `yaml:"close_sessions_on_ip_change"                           mapstructure:"close_sessions_on_ip_change"`
	GoAwaySessionsOnIPChange                      bool          `yaml:"goaway_sessions_on_ip_change"                          mapstructure:"goaway_sessions_on_ip_change"`
}

// CacheOptions configure the HTTP cache.
type CacheOptions struct {
	Mode        CacheMode `yaml:"-"            mapstructure:"-"`
	ModeRaw     string    `yaml:"mode"         mapstructure:"mode"`
	MaxSize     int64     `yaml:"max_size"     mapstructure:"max_size"`
	StoragePath string    `yaml:"storage_path" mapstructure:"storage_path"`
}

// PinSetOption is a public-key-pinning entry supplied at build time.
type PinSetOption struct {
	Hostname          string   `yaml:"hostname"           mapstructure:"hostname"`
	SPKIHashes        []string `yaml:"spki_hashes"        mapstructure:"spki_hashes"`
	IncludeSubdomains bool     `yaml:"include_subdomains" mapstructure:"include_subdomains"`
	ExpirationRaw     string   `yaml:"expiration"         mapstructure:"expiration"`
}

// SecurityOptions configure certificate pinning.
type SecurityOptions struct {
	PublicKeyPins                     []PinSetOption `yaml:"public_key_pins"                         mapstructure:"public_key_pins"`
	PinningBypassForLocalTrustAnchors bool           `yaml:"pinning_bypass_for_local_trust_anchors"  mapstructure:"pinning_bypass_for_local_trust_anchors"`
}

// NetLogOptions optionally start NetLog capture as soon as the engine is
// built, equivalent to calling startNetLogToFile immediately after build.
type NetLogOptions struct {
	StartPath        string `yaml:"start_path"        mapstructure:"start_path"`
	IncludeSensitive bool   `yaml:"include_sensitive" mapstructure:"include_sensitive"`
}

// LoggingOptions controls the engine's process-wide structured logger.
type LoggingOptions struct {
	Level            string            `yaml:"level"             mapstructure:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"`
}

// Options is the root, typed configuration structure passed to Engine
// build(). It is the ground truth; the JSON experimental-options surface
// (experimental.go) only ever writes into it.
type Options struct {
	Transport TransportOptions `yaml:"transport" mapstructure:"transport"`
	QUIC      QUICOptions      `yaml:"quic"      mapstructure:"quic"`
	DNS       DNSOptions       `yaml:"dns"       mapstructure:"dns"`
	Migration MigrationOptions `yaml:"migration" mapstructure:"migration"`
	Cache     CacheOptions     `yaml:"cache"     mapstructure:"cache"`
	Security  SecurityOptions  `yaml:"security"  mapstructure:"security"`
	NetLog    NetLogOptions    `yaml:"netlog"    mapstructure:"netlog"`
	Logging   LoggingOptions   `yaml:"logging"   mapstructure:"logging"`
}

// ResolveConfigPath determines the config file path from flag or
// environment, mirroring the CLI-flag/env precedence used across the
// rest of the engine's entry points.
func ResolveConfigPath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	return strings.TrimSpace(envConfigPath())
}
