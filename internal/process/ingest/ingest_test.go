package ingest

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
	"github.com/lueurxax/hotspot-engine/internal/process/lifecycle"
	"github.com/lueurxax/hotspot-engine/internal/process/similarity"
)

var testStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	worker   *Worker
	store    *mocks.Store
	embedder *mocks.Embedder
	clock    *mocks.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	clock := mocks.NewClock(testStart)
	store := mocks.NewStore()
	store.Now = clock.Now
	embedder := mocks.NewEmbedder()

	machine := lifecycle.New(store, lifecycle.Config{}, &logger, lifecycle.WithClock(clock.Now))
	matcher := similarity.New(store, embedder, machine, similarity.Config{}, &logger, similarity.WithClock(clock.Now))

	cfg := Config{RetryBase: 30 * time.Second, RetryMax: 5 * time.Minute, StuckAfter: 10 * time.Minute}

	return &fixture{
		worker:   New(store, matcher, cfg, &logger, WithClock(clock.Now)),
		store:    store,
		embedder: embedder,
		clock:    clock,
	}
}

func TestSubmit_Validates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name string
		sig  domain.RawSignal
	}{
		{"empty keyword", domain.RawSignal{Keyword: "  ", Platform: "wb"}},
		{"missing platform", domain.RawSignal{Keyword: "phone"}},
		{"negative rank", domain.RawSignal{Keyword: "phone", Platform: "wb", Rank: -1}},
		{"bad heat", domain.RawSignal{Keyword: "phone", Platform: "wb", Heat: "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.sig
			require.ErrorIs(t, f.worker.Submit(ctx, &sig), coreerrors.ErrInvalidArgument)
		})
	}

	assert.Empty(t, f.store.Signals())
}

func TestProcessBatch_IngestsSignals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.worker.Submit(ctx, &domain.RawSignal{Keyword: "new phone", Platform: " WB ", Rank: 2, Heat: "3.2万"}))
	f.clock.Advance(time.Second)
	require.NoError(t, f.worker.Submit(ctx, &domain.RawSignal{Keyword: "new phone", Platform: "dy", Rank: 7, Heat: "1200"}))

	n, err := f.worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	signals := f.store.Signals()
	require.Len(t, signals, 2)

	actions := []string{signals[0].Action, signals[1].Action}
	assert.ElementsMatch(t, []string{string(similarity.ActionCreated), string(similarity.ActionMerged)}, actions)

	for _, s := range signals {
		assert.Equal(t, domain.SignalStatusDone, s.Status)
		assert.Equal(t, signals[0].HotspotID, s.HotspotID)
	}

	h := f.store.Hotspot(signals[0].HotspotID)
	require.NotNil(t, h)
	assert.Equal(t, 2, h.AppearanceCount)
	assert.Equal(t, "wb", h.Platforms[0].Platform)
	assert.Equal(t, int64(32000), h.Platforms[0].HeatScore)

	n, err = f.worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessBatch_EmbeddingFailureRetriesLater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.embedder.GetEmbeddingFn = func(context.Context, string) ([]float32, error) {
		return nil, mocks.ErrInjected
	}

	require.NoError(t, f.worker.Submit(ctx, &domain.RawSignal{Keyword: "new phone", Platform: "wb"}))

	_, err := f.worker.ProcessBatch(ctx)
	require.NoError(t, err)

	sig := f.store.Signals()[0]
	assert.Equal(t, domain.SignalStatusPending, sig.Status)
	require.NotNil(t, sig.NextRetryAt)
	assert.True(t, sig.NextRetryAt.Equal(testStart.Add(30*time.Second)))
	assert.Contains(t, sig.LastError, coreerrors.ErrEmbeddingUnavailable.Error())
	assert.Zero(t, f.store.HotspotCount())

	// Not due yet.
	n, err := f.worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.embedder.GetEmbeddingFn = nil
	f.clock.Advance(30 * time.Second)

	n, err = f.worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.SignalStatusDone, f.store.Signals()[0].Status)
	assert.Equal(t, 1, f.store.HotspotCount())
}

func TestBackoff(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, 30*time.Second, f.worker.Backoff(0))
	assert.Equal(t, 30*time.Second, f.worker.Backoff(1))
	assert.Equal(t, time.Minute, f.worker.Backoff(2))
	assert.Equal(t, 2*time.Minute, f.worker.Backoff(3))
	assert.Equal(t, 5*time.Minute, f.worker.Backoff(5))
	assert.Equal(t, 5*time.Minute, f.worker.Backoff(40))
}

func TestRecoverStuck(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.SaveSignal(ctx, &domain.RawSignal{Keyword: "phone", Platform: "wb"}))

	claimed, err := f.store.ClaimSignals(ctx, 10, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	f.clock.Advance(11 * time.Minute)
	f.worker.recoverStuck(ctx)

	assert.Equal(t, domain.SignalStatusPending, f.store.Signals()[0].Status)
}
