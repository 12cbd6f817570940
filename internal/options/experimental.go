package options

import (
	"log/slog"
	"time"
)

// experimentalKey names one leaf of the JSON "experimental options" surface
// that legacy callers patch into an already-built Options. This is a closed
// enumeration: ApplyExperimental only ever writes into the typed Options
// struct through these, and any key not listed here is logged and dropped
// rather than reinterpreted.
type experimentalKey string

const (
	expQuicEnable0RTT                experimentalKey = "QUIC.enable_0rtt"
	expQuicServerConfigCacheSize     experimentalKey = "QUIC.server_config_cache_size"
	expQuicIdleConnectionTimeoutSecs experimentalKey = "QUIC.idle_connection_timeout_seconds"
	expMigrationIdleMigrationPeriod  experimentalKey = "connection_migration.idle_migration_period_seconds"
	expMigrationMaxTimeOnNonDefault  experimentalKey = "connection_migration.max_time_on_non_default_network_seconds"
	expDNSPreestablishToStaleResults experimentalKey = "AsyncDNS.preestablish_connections_to_stale_dns_results"
	expDNSMaxExpiredDelaySecs        experimentalKey = "AsyncDNS.max_expired_delay_seconds"
)

// ApplyExperimental merges a JSON "experimental options" patch into opts in
// place. Unknown top-level or leaf keys are logged via slog at Warn and
// ignored; this function never invents new fields on Options, it only
// assigns into the ones already declared in types.go.
//
// patch is the parsed form of the experimental-options JSON blob, e.g.
// {"QUIC": {"enable_0rtt": false}, "connection_migration": {...}}.
func ApplyExperimental(opts *Options, patch map[string]any) {
	for group, rawFields := range patch {
		fields, ok := rawFields.(map[string]any)
		if !ok {
			slog.Warn("experimental options: group value is not an object, ignoring", "group", group)
			continue
		}
		for field, value := range fields {
			key := experimentalKey(group + "." + field)
			if !applyExperimentalField(opts, key, value) {
				slog.Warn("experimental options: unrecognized key, ignoring", "key", string(key))
			}
		}
	}
}

func applyExperimentalField(opts *Options, key experimentalKey, value any) bool {
	switch key {
	case expQuicEnable0RTT:
		if b, ok := value.(bool); ok {
			opts.QUIC.Enable0RTT = b
			return true
		}
	case expQuicServerConfigCacheSize:
		if n, ok := asInt(value); ok {
			opts.QUIC.ServerConfigCacheSize = n
			return true
		}
	case expQuicIdleConnectionTimeoutSecs:
		if n, ok := asInt(value); ok {
			opts.QUIC.IdleConnectionTimeout = time.Duration(n) * time.Second
			return true
		}
	case expMigrationIdleMigrationPeriod:
		if n, ok := asInt(value); ok {
			opts.Migration.IdleMigrationPeriod = time.Duration(n) * time.Second
			return true
		}
	case expMigrationMaxTimeOnNonDefault:
		if n, ok := asInt(value); ok {
			opts.Migration.MaxTimeOnNonDefaultNetwork = time.Duration(n) * time.Second
			return true
		}
	case expDNSPreestablishToStaleResults:
		if b, ok := value.(bool); ok {
			opts.DNS.PreestablishConnectionsToStaleDNSResults = b
			return true
		}
	case expDNSMaxExpiredDelaySecs:
		if n, ok := asInt(value); ok {
			opts.DNS.MaxExpiredDelay = time.Duration(n) * time.Second
			return true
		}
	}
	return false
}

// asInt accepts the numeric shapes encoding/json produces for map[string]any
// values (float64 from json.Unmarshal, or int/int64 when the caller built
// the patch programmatically).
func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
