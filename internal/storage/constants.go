package db

import "time"

// Database connection constants
const (
	// ConnectionRetrySleep is the sleep duration between connection retries
	ConnectionRetrySleep = 2 * time.Second
	// maxConnectionRetries is the number of retries for initial connection
	maxConnectionRetries = 10
)

// Database pool default constants
const (
	defaultMaxConns          int32         = 25
	defaultMinConns          int32         = 5
	defaultMaxConnIdleTime   time.Duration = 30 * time.Minute
	defaultMaxConnLifetime   time.Duration = time.Hour
	defaultHealthCheckPeriod time.Duration = time.Minute
)

// pushGateID is the primary key of the single push_gate row.
const pushGateID = 1

// supersededMessage is recorded on pending push items replaced by a newer report.
const supersededMessage = "superseded by newer report"

const errBeginTx = "begin transaction: %w"

const errCommitTx = "commit transaction: %w"
