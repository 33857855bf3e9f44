package constants

import "time"

const (
	INITIAL_CHUNK_VERSION = 1
	FIRST_CHUNK_HANDLE    = 1
	REPLICATION_FACTOR    = 3
	CHUNK_SIZE_BYTES      = 64 * 1024

	LEASE_DURATION      = 60 * time.Second
	HEARTBEAT_INTERVAL  = 10 * time.Second
	TRANSACTION_TIMEOUT = 60 * time.Second
	CACHE_TTL           = 60 * time.Second

	// PROCESSED_REQUESTS_WINDOW bounds the number of append request and
	// transaction ids a chunk server remembers.
	PROCESSED_REQUESTS_WINDOW = 10000
)
