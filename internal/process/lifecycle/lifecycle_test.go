package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports/mocks"
)

var testStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestMachine(t *testing.T, opts ...Option) (*Machine, *mocks.Store, *mocks.Clock) {
	t.Helper()

	logger := zerolog.Nop()
	clock := mocks.NewClock(testStart)
	store := mocks.NewStore()
	store.Now = clock.Now

	opts = append([]Option{WithClock(clock.Now)}, opts...)

	return New(store, Config{}, &logger, opts...), store, clock
}

func pendingHotspot(id string, firstSeen time.Time, second *time.Time, screened bool) *domain.Hotspot {
	h := &domain.Hotspot{
		ID:              id,
		Keyword:         "keyword-" + id,
		FirstSeenAt:     firstSeen,
		LastSeenAt:      firstSeen,
		SecondSeenAt:    second,
		AppearanceCount: 1,
		Status:          domain.StatusPendingValidation,
	}

	if second != nil {
		h.AppearanceCount = 2
		h.LastSeenAt = *second
	}

	if screened {
		at := firstSeen
		h.ScreenedAt = &at
	}

	return h
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestCanValidate(t *testing.T) {
	m, _, _ := newTestMachine(t)

	tests := []struct {
		name string
		h    *domain.Hotspot
		want bool
	}{
		{"second appearance after 3h", pendingHotspot("a", testStart, timePtr(testStart.Add(3*time.Hour)), true), true},
		{"second appearance exactly at window", pendingHotspot("b", testStart, timePtr(testStart.Add(6*time.Hour)), true), true},
		{"second appearance after 7h", pendingHotspot("c", testStart, timePtr(testStart.Add(7*time.Hour)), true), false},
		{"single appearance", pendingHotspot("d", testStart, nil, true), false},
		{"not screened", pendingHotspot("e", testStart, timePtr(testStart.Add(time.Hour)), false), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.CanValidate(tt.h))
		})
	}
}

func TestTryValidate(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	store.PutHotspot(pendingHotspot("quick", testStart, timePtr(testStart.Add(3*time.Hour)), true))
	store.PutHotspot(pendingHotspot("slow", testStart, timePtr(testStart.Add(7*time.Hour)), true))

	ok, err := m.TryValidate(ctx, "quick")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.StatusValidated, store.Hotspot("quick").Status)

	ok, err = m.TryValidate(ctx, "slow")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.StatusPendingValidation, store.Hotspot("slow").Status)

	// Already validated: a second attempt is a no-op.
	ok, err = m.TryValidate(ctx, "quick")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApply_RejectsEventsOutsideGraph(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	store.PutHotspot(pendingHotspot("h1", testStart, nil, true))

	ok, err := m.Apply(ctx, domain.EventArchive, domain.Transition{HotspotID: "h1", From: domain.StatusPendingValidation})
	require.ErrorIs(t, err, coreerrors.ErrInvalidTransition)
	assert.False(t, ok)
	assert.Equal(t, domain.StatusPendingValidation, store.Hotspot("h1").Status)
}

func TestApply_LostRace(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	h := pendingHotspot("h1", testStart, nil, true)
	h.Status = domain.StatusValidated
	store.PutHotspot(h)

	ok, err := m.Apply(ctx, domain.EventValidate, domain.Transition{HotspotID: "h1", From: domain.StatusPendingValidation})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.StatusValidated, store.Hotspot("h1").Status)
}

func TestReject_RecordsFirstStage(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	store.PutHotspot(pendingHotspot("h1", testStart, nil, false))

	ok, err := m.Reject(ctx, "h1", "celebrity gossip")
	require.NoError(t, err)
	require.True(t, ok)

	got := store.Hotspot("h1")
	assert.Equal(t, domain.StatusRejected, got.Status)
	assert.True(t, got.IsFiltered)
	assert.Equal(t, "celebrity gossip", got.FilterReason)
	require.NotNil(t, got.FilteredAt)
	require.NotNil(t, got.ScreenedAt)
	assert.Empty(t, got.SecondStageRejectionReason)
}

func TestReject_TerminalHotspot(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	h := pendingHotspot("h1", testStart, nil, true)
	h.Status = domain.StatusArchived
	store.PutHotspot(h)

	_, err := m.Reject(ctx, "h1", "late")
	require.ErrorIs(t, err, coreerrors.ErrInvalidTransition)
}

func TestRejectSecondStage_KeepsFirstStage(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	h := pendingHotspot("h1", testStart, nil, true)
	h.Status = domain.StatusAnalyzing
	h.AnalysisStartedAt = timePtr(testStart)
	store.PutHotspot(h)

	ok, err := m.RejectSecondStage(ctx, "h1", "no commercial angle")
	require.NoError(t, err)
	require.True(t, ok)

	got := store.Hotspot("h1")
	assert.Equal(t, domain.StatusSecondStageRejected, got.Status)
	assert.Equal(t, "no commercial angle", got.SecondStageRejectionReason)
	assert.NotNil(t, got.SecondStageRejectedAt)
	assert.Nil(t, got.AnalysisStartedAt)
	assert.False(t, got.IsFiltered)
	assert.Empty(t, got.FilterReason)
}

func TestValidationSweep(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	store.PutHotspot(pendingHotspot("ok", testStart, timePtr(testStart.Add(2*time.Hour)), true))
	store.PutHotspot(pendingHotspot("late", testStart, timePtr(testStart.Add(8*time.Hour)), true))
	store.PutHotspot(pendingHotspot("unscreened", testStart, timePtr(testStart.Add(time.Hour)), false))

	n, err := m.ValidationSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusValidated, store.Hotspot("ok").Status)
	assert.Equal(t, domain.StatusPendingValidation, store.Hotspot("late").Status)
	assert.Equal(t, domain.StatusPendingValidation, store.Hotspot("unscreened").Status)
}

func TestScreeningSweep(t *testing.T) {
	ctx := context.Background()
	classifier := mocks.NewClassifier()
	classifier.Reject("keyword-bad", "spam")

	m, store, _ := newTestMachine(t, WithClassifier(classifier))

	store.PutHotspot(pendingHotspot("good", testStart, timePtr(testStart.Add(time.Hour)), false))
	store.PutHotspot(pendingHotspot("bad", testStart, nil, false))

	n, err := m.ScreeningSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	good := store.Hotspot("good")
	assert.NotNil(t, good.ScreenedAt)
	assert.Equal(t, domain.StatusValidated, good.Status, "screening completes the persistence check")

	bad := store.Hotspot("bad")
	assert.Equal(t, domain.StatusRejected, bad.Status)
	assert.Equal(t, "spam", bad.FilterReason)
}

func TestScreeningSweep_ValidatesUnscreenedRepeat(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newTestMachine(t, WithClassifier(mocks.NewClassifier()))

	store.PutHotspot(pendingHotspot("h1", testStart, nil, false))

	clock.Advance(3 * time.Hour)

	merged, err := store.MergeObservation(ctx, "h1", domain.PlatformObservation{
		Platform: "weibo",
		Rank:     3,
		SeenAt:   clock.Now(),
		Key:      "second",
	})
	require.NoError(t, err)
	require.True(t, merged)

	ok, err := m.TryValidate(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, ok, "validation waits for the first-stage judgment")

	n, err := m.ValidationSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.ScreeningSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h := store.Hotspot("h1")
	assert.Equal(t, domain.StatusValidated, h.Status)
	assert.Equal(t, 2, h.AppearanceCount)
	require.NotNil(t, h.SecondSeenAt)
	assert.Equal(t, testStart.Add(3*time.Hour), *h.SecondSeenAt)
}

func TestScreeningSweep_ClassifierFailureLeavesHotspot(t *testing.T) {
	ctx := context.Background()
	classifier := mocks.NewClassifier()
	classifier.ClassifyFn = func(context.Context, string, string) (domain.Judgment, error) {
		return domain.Judgment{}, mocks.ErrInjected
	}

	m, store, _ := newTestMachine(t, WithClassifier(classifier))
	store.PutHotspot(pendingHotspot("h1", testStart, nil, false))

	n, err := m.ScreeningSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Nil(t, store.Hotspot("h1").ScreenedAt)
}

func TestOutdatedSweep(t *testing.T) {
	ctx := context.Background()
	m, store, clock := newTestMachine(t)

	clock.Set(testStart.Add(100 * time.Hour))
	now := clock.Now()

	stale := pendingHotspot("validated-old", now.Add(-60*time.Hour), nil, true)
	stale.Status = domain.StatusValidated
	stale.LastSeenAt = now.Add(-49 * time.Hour)
	store.PutHotspot(stale)

	crawling := pendingHotspot("crawling-old", now.Add(-60*time.Hour), nil, true)
	crawling.Status = domain.StatusCrawling
	crawling.LastSeenAt = now.Add(-50 * time.Hour)
	crawling.CrawlStartedAt = timePtr(now.Add(-time.Hour))
	store.PutHotspot(crawling)

	fresh := pendingHotspot("validated-fresh", now.Add(-60*time.Hour), nil, true)
	fresh.Status = domain.StatusValidated
	fresh.LastSeenAt = now.Add(-time.Hour)
	store.PutHotspot(fresh)

	pendingStale := pendingHotspot("pending-stale", now.Add(-73*time.Hour), nil, false)
	pendingStale.LastSeenAt = now.Add(-time.Hour)
	store.PutHotspot(pendingStale)

	rejected := pendingHotspot("rejected", now.Add(-90*time.Hour), nil, true)
	rejected.Status = domain.StatusRejected
	store.PutHotspot(rejected)

	n, err := m.OutdatedSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, domain.StatusOutdated, store.Hotspot("validated-old").Status)
	assert.Equal(t, domain.StatusOutdated, store.Hotspot("crawling-old").Status)
	assert.Nil(t, store.Hotspot("crawling-old").CrawlStartedAt)
	assert.Equal(t, domain.StatusOutdated, store.Hotspot("pending-stale").Status)
	assert.Equal(t, domain.StatusValidated, store.Hotspot("validated-fresh").Status)
	assert.Equal(t, domain.StatusRejected, store.Hotspot("rejected").Status)
}

func TestArchiveSweep(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMachine(t)

	for _, id := range []string{"sent", "waiting", "no-push"} {
		h := pendingHotspot(id, testStart, nil, true)
		h.Status = domain.StatusAnalyzed
		store.PutHotspot(h)
	}

	require.NoError(t, store.EnqueuePush(ctx, &domain.PushQueueItem{ID: "p-sent", HotspotID: "sent", Priority: domain.PriorityLow}))
	require.NoError(t, store.EnqueuePush(ctx, &domain.PushQueueItem{ID: "p-wait", HotspotID: "waiting", Priority: domain.PriorityLow}))

	claimed, err := store.ClaimNextPush(ctx, testStart, 0)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	sentID := claimed.Item.HotspotID
	waitingID := "waiting"

	if sentID == "waiting" {
		waitingID = "sent"
	}

	n, err := m.ArchiveSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusArchived, store.Hotspot(sentID).Status)
	assert.Equal(t, domain.StatusAnalyzed, store.Hotspot(waitingID).Status)
	assert.Equal(t, domain.StatusAnalyzed, store.Hotspot("no-push").Status)
}
