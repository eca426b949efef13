package domain

import "time"

// Signal inbox states.
const (
	SignalStatusPending    = "pending"
	SignalStatusProcessing = "processing"
	SignalStatusDone       = "done"
)

// RawSignal is an inbound trending-topic signal awaiting ingestion.
type RawSignal struct {
	ID       string
	Keyword  string
	Platform string
	Rank     int
	// Heat and SeenAt are kept as received; platforms report "3.2万" or
	// local date strings.
	Heat        string
	SeenAt      string
	Judgment    *Judgment
	Attempts    int
	Status      string
	NextRetryAt *time.Time
	ClaimedAt   *time.Time
	HotspotID   string
	Action      string
	LastError   string
	CreatedAt   time.Time
}
