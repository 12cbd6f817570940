package session

import "github.com/meridian-net/netengine/internal/engine"

// MigrationAction mirrors the decision a transport's connection-migration
// state machine reaches in response to a default-network change. It is
// defined here, rather than reused from the quic package, because quic
// already imports session for the Transport contract; a session type
// naming a quic type back would be a cycle.
type MigrationAction int

const (
	MigrationActionNone MigrationAction = iota
	MigrationActionClose
	MigrationActionDrain
	MigrationActionMigrate
)

// NetworkMigrator is implemented by transports capable of moving a live
// connection to a new network path without tearing it down (QUIC, via
// its Migrator). Pool.NotifyDefaultNetworkChanged type-asserts each
// session's Transport against this interface and leaves transports that
// don't implement it (HTTP/1.1, HTTP/2) alone; those are handled by
// FlushNetwork instead.
type NetworkMigrator interface {
	NotifyDefaultNetworkChanged(newDefault engine.NetworkBinding) MigrationAction
	MigratedBinding() engine.NetworkBinding
}
