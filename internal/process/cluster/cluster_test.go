package cluster

import (
	"context"
	"fmt"
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

func newTestManager(t *testing.T) (*Manager, *mocks.Store) {
	t.Helper()

	logger := zerolog.Nop()
	store := mocks.NewStore()

	return New(store, &logger), store
}

// seedCluster stores a cluster with members named <id>-0..n-1, the first one representative.
func seedCluster(store *mocks.Store, id string, n int) []string {
	ids := make([]string, n)

	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("%s-%d", id, i)
		store.PutHotspot(&domain.Hotspot{
			ID:          ids[i],
			Keyword:     "kw " + ids[i],
			ClusterID:   id,
			FirstSeenAt: testStart.Add(time.Duration(i) * time.Minute),
			Status:      domain.StatusValidated,
		})
	}

	store.PutCluster(&domain.Cluster{ID: id, Name: "cluster " + id, SelectedHotspotID: ids[0], Version: 1})

	return ids
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	a := seedCluster(store, "a", 2)
	b := seedCluster(store, "b", 2)

	target, err := m.Merge(ctx, []string{"a", "b", "a"}, "merged", b[1])
	require.NoError(t, err)
	assert.Equal(t, "a", target)

	assert.Nil(t, store.Cluster("b"))

	c := store.Cluster("a")
	require.NotNil(t, c)
	assert.Equal(t, "merged", c.Name)
	assert.Equal(t, b[1], c.SelectedHotspotID)
	assert.Len(t, c.Keywords, 4)

	for _, id := range append(a, b...) {
		assert.Equal(t, "a", store.Hotspot(id).ClusterID)
	}
}

func TestMerge_KeepsTargetDefaults(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	a := seedCluster(store, "a", 1)
	seedCluster(store, "b", 1)

	_, err := m.Merge(ctx, []string{"a", "b"}, "", "")
	require.NoError(t, err)

	c := store.Cluster("a")
	assert.Equal(t, "cluster a", c.Name)
	assert.Equal(t, a[0], c.SelectedHotspotID)
}

func TestMerge_Rejections(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	seedCluster(store, "a", 1)
	seedCluster(store, "b", 1)
	c := seedCluster(store, "c", 1)

	_, err := m.Merge(ctx, []string{"a", "a"}, "", "")
	require.ErrorIs(t, err, coreerrors.ErrInvalidArgument)

	_, err = m.Merge(ctx, []string{"a", "b"}, "", c[0])
	require.ErrorIs(t, err, coreerrors.ErrNotClusterMember)

	_, err = m.Merge(ctx, []string{"a", "missing"}, "", "")
	require.ErrorIs(t, err, coreerrors.ErrNotFound)

	assert.Equal(t, 3, store.ClusterCount())
}

func TestMerge_RetriesConflict(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	seedCluster(store, "a", 1)
	seedCluster(store, "b", 1)

	calls := 0
	store.MergeClustersFn = func(ctx context.Context, plan ports.MergePlan) error {
		calls++
		if calls == 1 {
			return coreerrors.ErrConflict
		}

		store.MergeClustersFn = nil

		return store.MergeClusters(ctx, plan)
	}

	_, err := m.Merge(ctx, []string{"a", "b"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, store.ClusterCount())
}

func TestSplit_SingleHotspotBecomesClusterless(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	ids := seedCluster(store, "a", 3)

	res, err := m.Split(ctx, "a", []string{ids[0]}, "")
	require.NoError(t, err)
	assert.Empty(t, res.NewClusterID)
	assert.Equal(t, []string{ids[0]}, res.Ungrouped)

	assert.Empty(t, store.Hotspot(ids[0]).ClusterID)

	c := store.Cluster("a")
	assert.Equal(t, ids[1], c.SelectedHotspotID, "removed representative is replaced")
	assert.Equal(t, []string{"kw a-1", "kw a-2"}, c.Keywords)
}

func TestSplit_SeveralFormNewCluster(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	ids := seedCluster(store, "a", 4)

	res, err := m.Split(ctx, "a", []string{ids[3], ids[2]}, "")
	require.NoError(t, err)
	require.NotEmpty(t, res.NewClusterID)

	nc := store.Cluster(res.NewClusterID)
	require.NotNil(t, nc)
	assert.Equal(t, "kw a-2", nc.Name)
	assert.Equal(t, ids[2], nc.SelectedHotspotID)
	assert.Equal(t, []string{"kw a-2", "kw a-3"}, nc.Keywords)

	origin := store.Cluster("a")
	assert.Equal(t, ids[0], origin.SelectedHotspotID)
	assert.Equal(t, []string{"kw a-0", "kw a-1"}, origin.Keywords)
}

func TestSplit_NeverEmptiesCluster(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	ids := seedCluster(store, "a", 2)
	before := store.Cluster("a")

	_, err := m.Split(ctx, "a", ids, "all")
	require.ErrorIs(t, err, coreerrors.ErrWouldEmptyCluster)

	after := store.Cluster("a")
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Keywords, after.Keywords)
	assert.Equal(t, 1, store.ClusterCount())

	for _, id := range ids {
		assert.Equal(t, "a", store.Hotspot(id).ClusterID)
	}
}

func TestSplit_NonMember(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	seedCluster(store, "a", 2)
	b := seedCluster(store, "b", 1)

	_, err := m.Split(ctx, "a", []string{b[0]}, "")
	require.ErrorIs(t, err, coreerrors.ErrNotClusterMember)
	assert.Equal(t, "b", store.Hotspot(b[0]).ClusterID)
}

func TestSetRepresentative(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	a := seedCluster(store, "a", 2)
	b := seedCluster(store, "b", 1)

	require.NoError(t, m.SetRepresentative(ctx, "a", a[1]))
	assert.Equal(t, a[1], store.Cluster("a").SelectedHotspotID)

	err := m.SetRepresentative(ctx, "a", b[0])
	require.ErrorIs(t, err, coreerrors.ErrNotClusterMember)
}

func TestDeleteAndRename(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	ids := seedCluster(store, "a", 2)

	require.NoError(t, m.Rename(ctx, "a", "renamed"))
	assert.Equal(t, "renamed", store.Cluster("a").Name)
	require.ErrorIs(t, m.Rename(ctx, "a", ""), coreerrors.ErrInvalidArgument)
	require.ErrorIs(t, m.Rename(ctx, "missing", "x"), coreerrors.ErrNotFound)

	require.NoError(t, m.Delete(ctx, "a"))
	assert.Zero(t, store.ClusterCount())
	assert.Empty(t, store.Hotspot(ids[0]).ClusterID)
	require.ErrorIs(t, m.Delete(ctx, "a"), coreerrors.ErrNotFound)
}

func TestAutoAttach(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	a := seedCluster(store, "a", 1)
	store.PutHotspot(&domain.Hotspot{ID: "new", Keyword: "new kw", FirstSeenAt: testStart.Add(time.Hour)})

	got, err := m.AutoAttach(ctx, "new", ports.SimilarHotspot{HotspotID: a[0], ClusterID: "a", Keyword: "kw a-0"})
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	assert.Equal(t, "a", store.Hotspot("new").ClusterID)
}

func TestAutoAttach_FormsCluster(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	store.PutHotspot(&domain.Hotspot{ID: "old", Keyword: "old kw", FirstSeenAt: testStart})
	store.PutHotspot(&domain.Hotspot{ID: "new", Keyword: "new kw", FirstSeenAt: testStart.Add(time.Hour)})

	got, err := m.AutoAttach(ctx, "new", ports.SimilarHotspot{HotspotID: "old", Keyword: "old kw"})
	require.NoError(t, err)
	require.NotEmpty(t, got)

	c := store.Cluster(got)
	require.NotNil(t, c)
	assert.Equal(t, "old kw", c.Name)
	assert.Equal(t, "old", c.SelectedHotspotID)
	assert.Equal(t, []string{"old kw", "new kw"}, c.Keywords)
}

func TestAutoAttach_NeighbourGroupedConcurrently(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)

	a := seedCluster(store, "a", 1)
	store.PutHotspot(&domain.Hotspot{ID: "new", Keyword: "new kw", FirstSeenAt: testStart.Add(time.Hour)})

	// The snapshot says the neighbour is clusterless, but it already joined "a".
	got, err := m.AutoAttach(ctx, "new", ports.SimilarHotspot{HotspotID: a[0], Keyword: "kw a-0"})
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	assert.Equal(t, 1, store.ClusterCount())
}
