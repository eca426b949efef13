package push

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/core/ports/mocks"
)

var testStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	scheduler *Scheduler
	store     *mocks.Store
	channel   *mocks.Channel
	clock     *mocks.Clock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	clock := mocks.NewClock(testStart)
	store := mocks.NewStore()
	store.Now = clock.Now
	channel := mocks.NewChannel("telegram")

	if cfg.DefaultChannels == nil {
		cfg.DefaultChannels = []string{"telegram"}
	}

	return &fixture{
		scheduler: New(store, []ports.Channel{channel}, cfg, &logger, WithClock(clock.Now)),
		store:     store,
		channel:   channel,
		clock:     clock,
	}
}

// addReport stores an analyzed hotspot with its report and pending push item.
func (f *fixture) addReport(t *testing.T, hotspotID string, priority domain.Priority, score float64) string {
	t.Helper()

	started := f.clock.Now()
	f.store.PutHotspot(&domain.Hotspot{
		ID:                hotspotID,
		Keyword:           "kw " + hotspotID,
		Status:            domain.StatusAnalyzing,
		AnalysisStartedAt: &started,
	})

	ok, err := f.store.CompleteAnalysis(context.Background(), ports.AnalysisCompletion{
		Transition: domain.Transition{HotspotID: hotspotID, From: domain.StatusAnalyzing, To: domain.StatusAnalyzed},
		Report: domain.BusinessReport{
			HotspotID: hotspotID,
			Report:    json.RawMessage(`{"summary":"` + hotspotID + `"}`),
			Score:     score,
			Priority:  priority,
		},
		Push: domain.PushQueueItem{HotspotID: hotspotID, Keyword: "kw " + hotspotID, Priority: priority, Score: score},
	})
	require.NoError(t, err)
	require.True(t, ok)

	items := f.store.PushItems()

	return items[len(items)-1].ID
}

func TestDispatchNext_Empty(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.scheduler.DispatchNext(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Equal(t, ReasonEmpty, res.Reason)
}

func TestDispatchNext_GlobalInterval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MinInterval: 2 * time.Hour})

	last := testStart.Add(2*time.Hour + 30*time.Minute)
	f.store.SetLastSentAt(&last)

	f.addReport(t, "h1", domain.PriorityHigh, 90)
	f.addReport(t, "h2", domain.PriorityLow, 10)
	f.addReport(t, "h3", domain.PriorityLow, 5)

	steps := []struct {
		at     time.Duration
		sent   bool
		reason string
	}{
		{4*time.Hour + 31*time.Minute, true, ReasonSent},
		{5 * time.Hour, false, ReasonRateLimited},
		{6*time.Hour + 31*time.Minute, true, ReasonSent},
		{7 * time.Hour, false, ReasonRateLimited},
	}

	for _, step := range steps {
		f.clock.Set(testStart.Add(step.at))

		res, err := f.scheduler.DispatchNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, step.sent, res.Sent, "at T+%s", step.at)
		assert.Equal(t, step.reason, res.Reason, "at T+%s", step.at)
	}

	sent := f.channel.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "h1", sent[0].HotspotID)
	assert.Equal(t, "h2", sent[1].HotspotID)
	assert.JSONEq(t, `{"summary":"h1"}`, string(sent[0].Report))

	last2, err := f.store.LastSentAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, last2)
	assert.True(t, last2.Equal(testStart.Add(6*time.Hour+31*time.Minute)))
}

func TestDispatchNext_Ordering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MinInterval: time.Minute})

	f.addReport(t, "low", domain.PriorityLow, 99)
	f.clock.Advance(time.Second)
	f.addReport(t, "medium-older", domain.PriorityMedium, 50)
	f.clock.Advance(time.Second)
	f.addReport(t, "medium-newer", domain.PriorityMedium, 50)
	f.clock.Advance(time.Second)
	f.addReport(t, "medium-best", domain.PriorityMedium, 80)
	f.clock.Advance(time.Second)
	f.addReport(t, "high", domain.PriorityHigh, 1)

	var order []string

	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Minute)

		res, err := f.scheduler.DispatchNext(ctx)
		require.NoError(t, err)
		require.True(t, res.Sent)

		order = append(order, res.Item.HotspotID)
	}

	assert.Equal(t, []string{"high", "medium-best", "medium-older", "medium-newer", "low"}, order)
}

func TestDispatchNext_ConcurrentWorkersSendOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MinInterval: time.Hour})

	f.addReport(t, "h1", domain.PriorityHigh, 90)
	f.addReport(t, "h2", domain.PriorityHigh, 80)

	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.scheduler.DispatchNext(ctx)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Len(t, f.channel.Sent(), 1)

	pending, err := f.store.CountPendingPushes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestDispatchNext_DeliveryFailureRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MinInterval: 2 * time.Hour, MaxRetries: 1, RetryBackoff: 10 * time.Minute})

	id := f.addReport(t, "h1", domain.PriorityHigh, 90)

	f.channel.SendFn = func(context.Context, ports.PushPayload) error {
		return mocks.ErrInjected
	}

	res, err := f.scheduler.DispatchNext(ctx)
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Equal(t, ReasonDeliveryFailed, res.Reason)
	assert.Equal(t, domain.PushStatusPending, res.Status)

	item, err := f.store.GetPushItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, item.RetryCount)
	assert.Nil(t, item.SentAt)
	assert.True(t, item.ScheduledAt.Equal(testStart.Add(10*time.Minute)))
	assert.Contains(t, item.ErrorMessage, "injected failure")

	// The send slot was returned, but the item is not due yet.
	last, err := f.store.LastSentAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	res, err = f.scheduler.DispatchNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonEmpty, res.Reason)

	f.clock.Advance(10 * time.Minute)

	res, err = f.scheduler.DispatchNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PushStatusFailed, res.Status, "retries exhausted")

	item, err = f.store.GetPushItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PushStatusFailed, item.Status)
	assert.Equal(t, 2, item.RetryCount)
}

func TestDispatchNext_RecoversAfterFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{MinInterval: 2 * time.Hour, MaxRetries: 3, RetryBackoff: time.Minute})

	f.addReport(t, "h1", domain.PriorityHigh, 90)

	fail := true
	f.channel.SendFn = func(context.Context, ports.PushPayload) error {
		if fail {
			return mocks.ErrInjected
		}

		return nil
	}

	_, err := f.scheduler.DispatchNext(ctx)
	require.NoError(t, err)

	fail = false

	f.clock.Advance(time.Minute)

	res, err := f.scheduler.DispatchNext(ctx)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Len(t, f.channel.Sent(), 1)
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	item, err := f.scheduler.Enqueue(ctx, EnqueueRequest{HotspotID: "h1", ReportID: "r1", Priority: domain.PriorityMedium, Score: 40})
	require.NoError(t, err)
	assert.Equal(t, domain.PushStatusPending, item.Status)
	assert.Equal(t, []string{"telegram"}, item.Channels)

	tests := []struct {
		name string
		req  EnqueueRequest
		want error
	}{
		{"missing report", EnqueueRequest{HotspotID: "h1", Priority: domain.PriorityLow}, coreerrors.ErrInvalidArgument},
		{"bad priority", EnqueueRequest{HotspotID: "h1", ReportID: "r1", Priority: "urgent"}, coreerrors.ErrInvalidArgument},
		{"score out of range", EnqueueRequest{HotspotID: "h1", ReportID: "r1", Priority: domain.PriorityLow, Score: 120}, coreerrors.ErrInvalidArgument},
		{"unknown channel", EnqueueRequest{HotspotID: "h1", ReportID: "r1", Priority: domain.PriorityLow, Channels: []string{"fax"}}, coreerrors.ErrUnknownChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.scheduler.Enqueue(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
}
