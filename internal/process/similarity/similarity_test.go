package similarity

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
	"github.com/lueurxax/hotspot-engine/internal/process/cluster"
	"github.com/lueurxax/hotspot-engine/internal/process/lifecycle"
)

var testStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	matcher  *Matcher
	store    *mocks.Store
	embedder *mocks.Embedder
	clock    *mocks.Clock
}

func newFixture(t *testing.T, repo Repository) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	clock := mocks.NewClock(testStart)
	store := mocks.NewStore()
	store.Now = clock.Now

	if repo == nil {
		repo = store
	}

	embedder := mocks.NewEmbedder()
	machine := lifecycle.New(store, lifecycle.Config{}, &logger, lifecycle.WithClock(clock.Now))
	grouper := cluster.New(store, &logger)

	return &fixture{
		matcher:  New(repo, embedder, machine, Config{}, &logger, WithClock(clock.Now), WithGrouper(grouper)),
		store:    store,
		embedder: embedder,
		clock:    clock,
	}
}

func keep() *domain.Judgment {
	return &domain.Judgment{Keep: true, Reason: "relevant"}
}

func signal(keyword, platform string, rank int, seenAt time.Time) Signal {
	return Signal{
		Keyword:     keyword,
		Observation: domain.PlatformObservation{Platform: platform, Rank: rank, HeatScore: 1000, SeenAt: seenAt},
	}
}

func TestIngest_CreatesPendingHotspot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.matcher.Ingest(ctx, signal("  new phone  ", "wb", 1, testStart))
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)

	h := f.store.Hotspot(res.HotspotID)
	require.NotNil(t, h)
	assert.Equal(t, "new phone", h.Keyword)
	assert.Equal(t, domain.StatusPendingValidation, h.Status)
	assert.Equal(t, 1, h.AppearanceCount)
	assert.NotEmpty(t, h.Embedding)
	assert.Nil(t, h.ScreenedAt)
	require.Len(t, h.Platforms, 1)
	assert.NotEmpty(t, h.Platforms[0].Key)
}

func TestIngest_SameObservationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	sig := signal("new phone", "wb", 1, testStart)

	first, err := f.matcher.Ingest(ctx, sig)
	require.NoError(t, err)

	again, err := f.matcher.Ingest(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, ActionDuplicate, again.Action)
	assert.Equal(t, first.HotspotID, again.HotspotID)

	h := f.store.Hotspot(first.HotspotID)
	assert.Equal(t, 1, h.AppearanceCount)
	assert.Len(t, h.Platforms, 1)
	assert.Equal(t, 1, f.store.HotspotCount())
}

func TestIngest_ExactKeywordSkipsEmbedding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.matcher.Ingest(ctx, signal("new phone", "wb", 1, testStart))
	require.NoError(t, err)
	require.Equal(t, 1, f.embedder.Calls())

	res, err := f.matcher.Ingest(ctx, signal("new phone", "dy", 4, testStart.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, ActionMerged, res.Action)
	assert.Equal(t, 1, f.embedder.Calls())
}

func TestIngest_ValidationWindow(t *testing.T) {
	tests := []struct {
		name string
		gap  time.Duration
		want domain.Status
	}{
		{"reappears after 3h", 3 * time.Hour, domain.StatusValidated},
		{"reappears after 7h", 7 * time.Hour, domain.StatusPendingValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, nil)

			f.embedder.Set("new phone", []float32{1, 0, 0})
			f.embedder.Set("new phone launch", []float32{0.9, 0.1, 0})

			first := signal("new phone", "wb", 1, testStart)
			first.Judgment = keep()

			created, err := f.matcher.Ingest(ctx, first)
			require.NoError(t, err)

			f.clock.Advance(tt.gap)

			res, err := f.matcher.Ingest(ctx, signal("new phone launch", "dy", 2, testStart.Add(tt.gap)))
			require.NoError(t, err)
			assert.Equal(t, ActionMerged, res.Action)
			assert.Equal(t, created.HotspotID, res.HotspotID)
			assert.Greater(t, res.Similarity, DefaultThreshold)

			h := f.store.Hotspot(created.HotspotID)
			assert.Equal(t, 2, h.AppearanceCount)
			assert.Equal(t, tt.want, h.Status)
			assert.Equal(t, 1, f.store.HotspotCount())
		})
	}
}

func TestIngest_RelatedKeywordJoinsCluster(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.embedder.Set("new phone", []float32{1, 0, 0})
	f.embedder.Set("phone case", []float32{0.8, 0.6, 0})

	first, err := f.matcher.Ingest(ctx, signal("new phone", "wb", 1, testStart))
	require.NoError(t, err)

	res, err := f.matcher.Ingest(ctx, signal("phone case", "wb", 5, testStart.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.NotEqual(t, first.HotspotID, res.HotspotID)
	require.NotEmpty(t, res.ClusterID)

	c := f.store.Cluster(res.ClusterID)
	require.NotNil(t, c)
	assert.Equal(t, first.HotspotID, c.SelectedHotspotID)
	assert.Equal(t, []string{"new phone", "phone case"}, c.Keywords)
}

func TestIngest_UnrelatedKeywordStaysAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.embedder.Set("new phone", []float32{1, 0, 0})
	f.embedder.Set("weather", []float32{0, 1, 0})

	_, err := f.matcher.Ingest(ctx, signal("new phone", "wb", 1, testStart))
	require.NoError(t, err)

	res, err := f.matcher.Ingest(ctx, signal("weather", "wb", 2, testStart))
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Empty(t, res.ClusterID)
	assert.Zero(t, f.store.ClusterCount())
}

func TestIngest_EmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.embedder.GetEmbeddingFn = func(context.Context, string) ([]float32, error) {
		return nil, mocks.ErrInjected
	}

	_, err := f.matcher.Ingest(ctx, signal("new phone", "wb", 1, testStart))
	require.ErrorIs(t, err, coreerrors.ErrEmbeddingUnavailable)
	assert.Zero(t, f.store.HotspotCount())
}

func TestIngest_RejectedJudgment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	sig := signal("gossip", "wb", 1, testStart)
	sig.Judgment = &domain.Judgment{Keep: false, Reason: "celebrity gossip"}

	res, err := f.matcher.Ingest(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, ActionRejected, res.Action)

	h := f.store.Hotspot(res.HotspotID)
	assert.Equal(t, domain.StatusRejected, h.Status)
	assert.Equal(t, "celebrity gossip", h.FilterReason)
}

func TestIngest_EmptyKeyword(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.matcher.Ingest(context.Background(), signal(" \t ", "wb", 1, testStart))
	require.ErrorIs(t, err, coreerrors.ErrInvalidArgument)
}

// racingRepo inserts a competing hotspot right before the first create.
type racingRepo struct {
	*mocks.Store
	raced bool
}

func (r *racingRepo) CreateHotspot(ctx context.Context, h *domain.Hotspot) (bool, error) {
	if !r.raced {
		r.raced = true

		competitor := h.Clone()
		competitor.ID = "competitor"
		competitor.Platforms = nil

		if _, err := r.Store.CreateHotspot(ctx, competitor); err != nil {
			return false, err
		}
	}

	return r.Store.CreateHotspot(ctx, h)
}

func TestIngest_LostCreateRaceMerges(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{}
	f := newFixture(t, repo)
	repo.Store = f.store

	res, err := f.matcher.Ingest(ctx, signal("new phone", "wb", 1, testStart))
	require.NoError(t, err)
	assert.Equal(t, ActionMerged, res.Action)
	assert.Equal(t, "competitor", res.HotspotID)
	assert.Equal(t, 1, f.store.HotspotCount())
}
