package constants

import "time"

// Credential cache TTLs. Entries older than their TTL are treated as absent,
// never as stale-but-usable; resolution falls through to the next source.
const (
	// BearerCacheTTL bounds the in-process cache of a resolved bearer token.
	BearerCacheTTL = 5 * time.Minute
	// ManualKeyCacheTTL bounds the in-process cache of a user-entered key.
	// Separate from BearerCacheTTL because its source and invalidation
	// triggers differ.
	ManualKeyCacheTTL = 5 * time.Minute
)

// Snapshot staleness buckets, derived from now - fetchedAt on every read.
const (
	StalenessFreshBound  = 2 * time.Minute
	StalenessRecentBound = 10 * time.Minute
	StalenessStaleBound  = 60 * time.Minute
)

// History retention.
const (
	// HistoryRetentionDefault is how long recorded snapshots are kept.
	HistoryRetentionDefault = 30 * 24 * time.Hour
	// HistorySweepInterval is how often expired rows are deleted.
	HistorySweepInterval = 6 * time.Hour
	// HistoryQueryMaxRows caps a single history read.
	HistoryQueryMaxRows = 1000
	// HistoryQueueDepth buffers snapshot events awaiting recording.
	HistoryQueueDepth = 16
)
