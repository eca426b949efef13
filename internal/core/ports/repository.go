// Package ports provides domain-centric interfaces for external dependencies.
// These interfaces follow the ports and adapters (hexagonal) architecture pattern,
// allowing the engine to remain independent of the store and of remote collaborators.
//
// Every write that decides a race is a conditional update: methods return
// false (not an error) when the row no longer satisfies the condition.
package ports

import (
	"context"
	"time"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
)

// SimilarHotspot is the nearest existing hotspot for an embedding.
type SimilarHotspot struct {
	HotspotID  string
	ClusterID  string
	Keyword    string
	Similarity float64
	LastSeenAt time.Time
}

// HotspotOrder selects the ordering of ListHotspots.
type HotspotOrder int

// Orderings.
const (
	OrderFirstSeenAsc HotspotOrder = iota
	OrderLastSeenDesc
)

// HotspotFilter narrows ListHotspots. Zero fields do not filter.
type HotspotFilter struct {
	Statuses              []domain.Status
	Screened              *bool
	MinAppearances        int
	LastSeenBefore        time.Time
	FirstSeenBefore       time.Time
	CrawlStartedBefore    time.Time
	AnalysisStartedBefore time.Time
	Order                 HotspotOrder
	Limit                 int
}

// CrawlEligibility selects validated hotspots ready for a crawl, at most one
// per cluster.
type CrawlEligibility struct {
	// CooledBefore: last_crawled_at must be null or strictly before it.
	CooledBefore time.Time
	Day          time.Time
	DailyCap     int
	Limit        int
}

// HotspotRepository stores hotspots and applies lifecycle transitions.
type HotspotRepository interface {
	// CreateHotspot inserts h. It returns false when the keyword already exists.
	CreateHotspot(ctx context.Context, h *domain.Hotspot) (bool, error)
	GetHotspot(ctx context.Context, id string) (*domain.Hotspot, error)
	GetHotspotByKeyword(ctx context.Context, keyword string) (*domain.Hotspot, error)
	// FindNearestHotspot returns nil when no embedded hotspot was seen since seenSince.
	// Ties are broken by the most recent last_seen_at.
	FindNearestHotspot(ctx context.Context, embedding []float32, seenSince time.Time) (*SimilarHotspot, error)
	// MergeObservation records a reappearance. It returns false when obs.Key was already merged.
	MergeObservation(ctx context.Context, id string, obs domain.PlatformObservation) (bool, error)
	TransitionStatus(ctx context.Context, t domain.Transition) (bool, error)
	// MarkScreened records a first-stage keep judgment on a pending, unscreened hotspot.
	MarkScreened(ctx context.Context, id string, at time.Time) (bool, error)
	ListHotspots(ctx context.Context, f HotspotFilter) ([]domain.Hotspot, error)
	ListCrawlEligible(ctx context.Context, q CrawlEligibility) ([]domain.Hotspot, error)
	// ReclaimAnalysis restamps analysis_started_at of an analyzing hotspot whose
	// previous dispatch started before startedBefore.
	ReclaimAnalysis(ctx context.Context, id string, startedBefore, now time.Time) (bool, error)
	// ListArchivable returns analyzed hotspots whose newest push item is sent or failed.
	ListArchivable(ctx context.Context, limit int) ([]domain.Hotspot, error)
}

// MergePlan is a validated cluster merge.
type MergePlan struct {
	TargetID         string
	AbsorbedIDs      []string
	Name             string
	RepresentativeID string
	// Versions holds the version read for every source cluster.
	Versions map[string]int64
}

// SplitPlan is a validated cluster split.
type SplitPlan struct {
	ClusterID string
	Version   int64
	RemoveIDs []string
	// RepresentativeID is the origin cluster's representative after the split.
	RepresentativeID string
	// NewCluster receives the removed hotspots; nil when a single hotspot
	// becomes clusterless.
	NewCluster *domain.Cluster
}

// ClusterRepository stores clusters. Implementations keep Keywords derived
// from the current members and bump Version on every membership change.
type ClusterRepository interface {
	// CreateCluster groups currently clusterless hotspots. ErrConflict when any is already clustered.
	CreateCluster(ctx context.Context, c *domain.Cluster, memberIDs []string) error
	// AttachToCluster adds a clusterless hotspot to an existing cluster.
	AttachToCluster(ctx context.Context, clusterID, hotspotID string) (bool, error)
	GetCluster(ctx context.Context, id string) (*domain.Cluster, error)
	ListClusterMembers(ctx context.Context, id string) ([]domain.Hotspot, error)
	// MergeClusters and SplitCluster return ErrConflict when a version changed.
	MergeClusters(ctx context.Context, plan MergePlan) error
	SplitCluster(ctx context.Context, plan SplitPlan) error
	// SetRepresentative returns false when hotspotID is not a member.
	SetRepresentative(ctx context.Context, clusterID, hotspotID string) (bool, error)
	DeleteCluster(ctx context.Context, id string) (bool, error)
	RenameCluster(ctx context.Context, id, name string) (bool, error)
}

// AnalysisCompletion is applied atomically: the transition, the report and
// the push item are written together or not at all.
type AnalysisCompletion struct {
	Transition domain.Transition
	Report     domain.BusinessReport
	Push       domain.PushQueueItem
}

// ReportRepository stores business reports.
type ReportRepository interface {
	// CompleteAnalysis returns false when the hotspot is no longer analyzing.
	CompleteAnalysis(ctx context.Context, c AnalysisCompletion) (bool, error)
	GetReport(ctx context.Context, id string) (*domain.BusinessReport, error)
	GetLatestReport(ctx context.Context, hotspotID string) (*domain.BusinessReport, error)
}

// ClaimedPush is a push item whose send slot was reserved.
type ClaimedPush struct {
	Item           domain.PushQueueItem
	SentAt         time.Time
	PreviousSentAt *time.Time
}

// PushFailure reverts a claimed push after a failed delivery.
type PushFailure struct {
	ItemID         string
	SentAt         time.Time
	PreviousSentAt *time.Time
	Error          string
	MaxRetries     int
	RetryAt        time.Time
}

// PushRepository stores the push queue and the global send slot.
type PushRepository interface {
	// EnqueuePush inserts a pending item and fails older pending items of the
	// same hotspot, so only the newest report feeds the queue.
	EnqueuePush(ctx context.Context, item *domain.PushQueueItem) error
	LastSentAt(ctx context.Context) (*time.Time, error)
	// ClaimNextPush reserves the global send slot and marks the best pending
	// item sent in one atomic step. It returns nil when the slot is taken or
	// no item is due.
	ClaimNextPush(ctx context.Context, now time.Time, minInterval time.Duration) (*ClaimedPush, error)
	// ReleasePush puts a claimed item back to pending (or failed once retries
	// are exhausted) and returns the send slot. It returns the resulting status.
	ReleasePush(ctx context.Context, f PushFailure) (domain.PushStatus, error)
	GetPushItem(ctx context.Context, id string) (*domain.PushQueueItem, error)
	CountPendingPushes(ctx context.Context) (int, error)
}

// SignalRepository stores the inbound signal inbox.
type SignalRepository interface {
	SaveSignal(ctx context.Context, s *domain.RawSignal) error
	// ClaimSignals moves up to limit due pending signals to processing.
	ClaimSignals(ctx context.Context, limit int, now time.Time) ([]domain.RawSignal, error)
	CompleteSignal(ctx context.Context, id, hotspotID, action string) error
	ReleaseSignal(ctx context.Context, id string, retryAt time.Time, errMsg string) error
	RecoverStuckSignals(ctx context.Context, claimedBefore time.Time) (int64, error)
}

// Store is the single shared persistent store handle.
type Store interface {
	HotspotRepository
	ClusterRepository
	ReportRepository
	PushRepository
	SignalRepository

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
