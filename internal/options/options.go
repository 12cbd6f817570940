package options

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/meridian-net/netengine/internal/netutil"
)

func envConfigPath() string {
	return os.Getenv("NETENGINE_CONFIG")
}

// initViper sets up the loader with defaults, env binding, and config file.
func initViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// NETENGINE_DNS_ENABLE_STALE -> dns.enable_stale, etc.
	v.SetEnvPrefix("NETENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("options: reading config file: %w", err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	// Transport defaults.
	v.SetDefault("transport.enable_http2", true)
	v.SetDefault("transport.enable_quic", true)
	v.SetDefault("transport.enable_brotli", false)
	v.SetDefault("transport.quic_hints", []QUICHint{})
	v.SetDefault("transport.max_h1_per_origin", 6)

	// QUIC defaults.
	v.SetDefault("quic.versions", []string{"h3"})
	v.SetDefault("quic.connection_options", []string{})
	v.SetDefault("quic.client_connection_options", []string{})
	v.SetDefault("quic.handshake_user_agent", "")
	v.SetDefault("quic.server_config_cache_size", 100)
	v.SetDefault("quic.idle_connection_timeout", "30s")
	v.SetDefault("quic.crypto_handshake_timeout", "10s")
	v.SetDefault("quic.enable_0rtt", true)
	v.SetDefault("quic.broken_service_backoff_initial", "1s")
	v.SetDefault("quic.broken_service_backoff_max", "10m")

	// DNS defaults.
	v.SetDefault("dns.use_builtin_resolver", true)
	v.SetDefault("dns.enable_stale", true)
	v.SetDefault("dns.fresh_lookup_timeout", "0s")
	v.SetDefault("dns.max_expired_delay", "0s")
	v.SetDefault("dns.allow_cross_network_usage", false)
	v.SetDefault("dns.use_stale_on_name_not_resolved", true)
	v.SetDefault("dns.persist_host_cache", false)
	v.SetDefault("dns.persist_delay", "1m")
	v.SetDefault("dns.preestablish_connections_to_stale_dns_results", false)

	// Migration defaults.
	v.SetDefault("migration.default_network_migration", true)
	v.SetDefault("migration.path_degradation_migration", false)
	v.SetDefault("migration.allow_non_default_network_usage", false)
	v.SetDefault("migration.allow_server_migration", false)
	v.SetDefault("migration.migrate_idle_connections", false)
	v.SetDefault("migration.idle_migration_period", "30s")
	v.SetDefault("migration.max_time_on_non_default_network", "2m")
	v.SetDefault("migration.max_path_degrading_non_default_migrations_count", 4)
	v.SetDefault("migration.max_write_error_non_default_network_migrations_count", 4)
	v.SetDefault("migration.retry_pre_handshake_errors_on_non_default_network", false)
	v.SetDefault("migration.close_sessions_on_ip_change", false)
	v.SetDefault("migration.goaway_sessions_on_ip_change", false)

	// Cache defaults.
	v.SetDefault("cache.mode", "DISABLED")
	v.SetDefault("cache.max_size", int64(10<<20))
	v.SetDefault("cache.storage_path", "")

	// Security defaults.
	v.SetDefault("security.public_key_pins", []PinSetOption{})
	v.SetDefault("security.pinning_bypass_for_local_trust_anchors", false)

	// NetLog defaults.
	v.SetDefault("netlog.start_path", "")
	v.SetDefault("netlog.include_sensitive", false)

	// Logging defaults.
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})
}

// Load loads Options from a config file with environment variable and
// default overlays, then validates the result.
//
// Priority (highest to lowest): environment variables (NETENGINE_*), config
// file values, hardcoded defaults.
func Load(path string) (*Options, error) {
	v, err := initViper(path)
	if err != nil {
		return nil, err
	}

	opts := &Options{}
	loadTransport(v, opts)
	loadQUIC(v, opts)
	loadDNS(v, opts)
	loadMigration(v, opts)
	loadCache(v, opts)
	loadSecurity(v, opts)
	loadNetLog(v, opts)
	loadLogging(v, opts)

	if err := Validate(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func loadTransport(v *viper.Viper, o *Options) {
	o.Transport.EnableHTTP2 = v.GetBool("transport.enable_http2")
	o.Transport.EnableQUIC = v.GetBool("transport.enable_quic")
	o.Transport.EnableBrotli = v.GetBool("transport.enable_brotli")
	o.Transport.MaxH1PerOrigin = v.GetInt("transport.max_h1_per_origin")
	if err := v.UnmarshalKey("transport.quic_hints", &o.Transport.QUICHints); err != nil {
		o.Transport.QUICHints = nil
	}
}

func loadQUIC(v *viper.Viper, o *Options) {
	o.QUIC.Versions = v.GetStringSlice("quic.versions")
	o.QUIC.ConnectionOptions = v.GetStringSlice("quic.connection_options")
	o.QUIC.ClientConnectionOptions = v.GetStringSlice("quic.client_connection_options")
	o.QUIC.HandshakeUserAgent = v.GetString("quic.handshake_user_agent")
	o.QUIC.ServerConfigCacheSize = v.GetInt("quic.server_config_cache_size")
	o.QUIC.IdleConnectionTimeout = v.GetDuration("quic.idle_connection_timeout")
	o.QUIC.CryptoHandshakeTimeout = v.GetDuration("quic.crypto_handshake_timeout")
	o.QUIC.Enable0RTT = v.GetBool("quic.enable_0rtt")
	o.QUIC.BrokenServiceBackoffInitial = v.GetDuration("quic.broken_service_backoff_initial")
	o.QUIC.BrokenServiceBackoffMax = v.GetDuration("quic.broken_service_backoff_max")
}

func loadDNS(v *viper.Viper, o *Options) {
	o.DNS.UseBuiltinResolver = v.GetBool("dns.use_builtin_resolver")
	o.DNS.EnableStale = v.GetBool("dns.enable_stale")
	o.DNS.FreshLookupTimeout = v.GetDuration("dns.fresh_lookup_timeout")
	o.DNS.MaxExpiredDelay = v.GetDuration("dns.max_expired_delay")
	o.DNS.AllowCrossNetworkUsage = v.GetBool("dns.allow_cross_network_usage")
	o.DNS.UseStaleOnNameNotResolved = v.GetBool("dns.use_stale_on_name_not_resolved")
	o.DNS.PersistHostCache = v.GetBool("dns.persist_host_cache")
	o.DNS.PersistDelay = v.GetDuration("dns.persist_delay")
	o.DNS.PreestablishConnectionsToStaleDNSResults = v.GetBool("dns.preestablish_connections_to_stale_dns_results")
}

func loadMigration(v *viper.Viper, o *Options) {
	o.Migration.DefaultNetworkMigration = v.GetBool("migration.default_network_migration")
	o.Migration.PathDegradationMigration = v.GetBool("migration.path_degradation_migration")
	o.Migration.AllowNonDefaultNetworkUsage = v.GetBool("migration.allow_non_default_network_usage")
	o.Migration.AllowServerMigration = v.GetBool("migration.allow_server_migration")
	o.Migration.MigrateIdleConnections = v.GetBool("migration.migrate_idle_connections")
	o.Migration.IdleMigrationPeriod = v.GetDuration("migration.idle_migration_period")
	o.Migration.MaxTimeOnNonDefaultNetwork = v.GetDuration("migration.max_time_on_non_default_network")
	o.Migration.MaxPathDegradingNonDefaultMigrationsCount = v.GetInt("migration.max_path_degrading_non_default_migrations_count")
	o.Migration.MaxWriteErrorNonDefaultNetworkMigrationsCount = v.GetInt("migration.max_write_error_non_default_network_migrations_count")
	o.Migration.RetryPreHandshakeErrorsOnNonDefaultNetwork = v.GetBool("migration.retry_pre_handshake_errors_on_non_default_network")
	o.Migration.CloseSessionsOnIPChange = v.GetBool("migration.close_sessions_on_ip_change")
	o.Migration.GoAwaySessionsOnIPChange = v.GetBool("migration.goaway_sessions_on_ip_change")
}

func loadCache(v *viper.Viper, o *Options) {
	o.Cache.ModeRaw = v.GetString("cache.mode")
	o.Cache.Mode = ParseCacheMode(o.Cache.ModeRaw)
	o.Cache.MaxSize = v.GetInt64("cache.max_size")
	o.Cache.StoragePath = v.GetString("cache.storage_path")
}

func loadSecurity(v *viper.Viper, o *Options) {
	if err := v.UnmarshalKey("security.public_key_pins", &o.Security.PublicKeyPins); err != nil {
		o.Security.PublicKeyPins = nil
	}
	o.Security.PinningBypassForLocalTrustAnchors = v.GetBool("security.pinning_bypass_for_local_trust_anchors")
}

func loadNetLog(v *viper.Viper, o *Options) {
	o.NetLog.StartPath = v.GetString("netlog.start_path")
	o.NetLog.IncludeSensitive = v.GetBool("netlog.include_sensitive")
}

func loadLogging(v *viper.Viper, o *Options) {
	o.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	o.Logging.Structured = v.GetBool("logging.structured")
	o.Logging.StructuredFormat = v.GetString("logging.structured_format")
	o.Logging.IncludePID = v.GetBool("logging.include_pid")
	o.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

// ErrMisconfigured is returned by Validate for combinations the engine
// refuses to build with, matching the source's build-time rejection of
// pathDegradationMigration=false with allowNonDefaultNetworkUsage=true:
// non-default-network usage with no trigger that ever moves a session
// there is always a configuration mistake, never a transient state, so
// it is rejected rather than silently downgraded.
var ErrMisconfigured = errors.New("options: misconfigured")

// Validate checks cross-field invariants and normalizes defaults that
// depend on more than one field (e.g. cache storage path requirements).
func Validate(o *Options) error {
	if !o.Migration.PathDegradationMigration && o.Migration.AllowNonDefaultNetworkUsage {
		return fmt.Errorf("%w: allow_non_default_network_usage requires path_degradation_migration", ErrMisconfigured)
	}

	if o.Transport.MaxH1PerOrigin <= 0 {
		o.Transport.MaxH1PerOrigin = 6
	}

	// Migration timers come from user config/env and feed directly into the
	// quic.Migrator's idle and AfterFunc timers; clamp them into sane bounds
	// so a zero or absurdly large value from a config file can't leave a
	// session migrating every tick or never at all. 0 still disables the
	// idle-migration check entirely (see quic.Migrator), since ClampDuration's
	// lower bound only applies when the period is positive.
	if o.Migration.IdleMigrationPeriod > 0 {
		o.Migration.IdleMigrationPeriod = netutil.ClampDuration(o.Migration.IdleMigrationPeriod, time.Second, 30*time.Minute)
	}
	if o.Migration.MaxTimeOnNonDefaultNetwork > 0 {
		o.Migration.MaxTimeOnNonDefaultNetwork = netutil.ClampDuration(o.Migration.MaxTimeOnNonDefaultNetwork, time.Second, 30*time.Minute)
	}

	o.DNS.PersistDelay = netutil.DurationOrDefault(o.DNS.PersistDelay, time.Minute)

	switch o.Cache.Mode {
	case CacheDisk, CacheDiskNoHTTP:
		if strings.TrimSpace(o.Cache.StoragePath) == "" {
			return fmt.Errorf("%w: cache.storage_path is required for mode %s", ErrMisconfigured, o.Cache.Mode)
		}
	}

	for i, p := range o.Security.PublicKeyPins {
		if strings.TrimSpace(p.Hostname) == "" {
			return fmt.Errorf("%w: public_key_pins[%d] has no hostname", ErrMisconfigured, i)
		}
		if len(p.SPKIHashes) == 0 {
			return fmt.Errorf("%w: public_key_pins[%d] (%s) has no spki_hashes", ErrMisconfigured, i, p.Hostname)
		}
	}

	if o.Logging.Level == "" {
		o.Logging.Level = "INFO"
	}
	if o.Logging.StructuredFormat == "" {
		o.Logging.StructuredFormat = "json"
	}
	if o.Logging.ExtraFields == nil {
		o.Logging.ExtraFields = map[string]string{}
	}

	return nil
}

// PinSetExpiration parses PinSetOption.ExpirationRaw, returning the zero
// time (never expires) when unset.
func PinSetExpiration(p PinSetOption) (time.Time, error) {
	if strings.TrimSpace(p.ExpirationRaw) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, p.ExpirationRaw)
}
