package types

// PriceAggregator defines the interface for price aggregation
type PriceAggregator interface {
	// SetTickLevel updates the tick level for aggregation
	SetTickLevel(tick TickLevel)

	// GetTickLevel returns the current tick level
	GetTickLevel() TickLevel

	// AggregateBids merges bid levels into tick buckets, best price first
	AggregateBids(levels []OrderLevel) []OrderLevel

	// AggregateAsks merges ask levels into tick buckets, best price first
	AggregateAsks(levels []OrderLevel) []OrderLevel
}

// SnapshotHandler consumes published book snapshots.
// Implementations must not mutate the snapshot.
type SnapshotHandler interface {
	HandleSnapshot(snapshot BookSnapshot)
}
