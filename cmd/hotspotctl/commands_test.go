package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	"github.com/lueurxax/hotspot-engine/internal/core/ports/mocks"
	"github.com/lueurxax/hotspot-engine/internal/process/cluster"
	"github.com/lueurxax/hotspot-engine/internal/process/lifecycle"
)

var testStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func seed(store *mocks.Store) {
	for _, h := range []domain.Hotspot{
		{ID: "a-0", Keyword: "露营", ClusterID: "a", Status: domain.StatusValidated},
		{ID: "a-1", Keyword: "露营装备", ClusterID: "a", Status: domain.StatusValidated},
		{ID: "b-0", Keyword: "帐篷", ClusterID: "b", Status: domain.StatusValidated},
		{ID: "p-0", Keyword: "八卦", Status: domain.StatusPendingValidation},
	} {
		h := h
		h.FirstSeenAt = testStart
		h.LastSeenAt = testStart
		h.AppearanceCount = 1
		store.PutHotspot(&h)
	}

	store.PutCluster(&domain.Cluster{ID: "a", Name: "camping", SelectedHotspotID: "a-0", Version: 1})
	store.PutCluster(&domain.Cluster{ID: "b", Name: "tents", SelectedHotspotID: "b-0", Version: 1})
}

func run(t *testing.T, store *mocks.Store, args ...string) (map[string]interface{}, error) {
	t.Helper()

	logger := zerolog.Nop()
	closed := false
	open := func(context.Context, bool) (*operator, error) {
		return &operator{
			clusters:  cluster.New(store, &logger),
			lifecycle: lifecycle.New(store, lifecycle.Config{}, &logger, lifecycle.WithClock(func() time.Time { return testStart })),
			embedder:  mocks.NewEmbedder(),
			close:     func() { closed = true },
		}, nil
	}

	var out bytes.Buffer

	root := newRootCmd(open)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	if err != nil {
		return nil, err
	}

	assert.True(t, closed)

	var res map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))

	return res, nil
}

func TestMergeCmd(t *testing.T) {
	store := mocks.NewStore()
	seed(store)

	res, err := run(t, store, "merge", "a", "b", "--name", "outdoor", "--rep", "b-0")
	require.NoError(t, err)
	assert.Equal(t, "a", res["cluster_id"])

	assert.Equal(t, "a", store.Hotspot("b-0").ClusterID)
	assert.Equal(t, "outdoor", store.Cluster("a").Name)
	assert.Nil(t, store.Cluster("b"))
}

func TestMergeCmd_NeedsTwoClusters(t *testing.T) {
	_, err := run(t, mocks.NewStore(), "merge", "a")
	require.Error(t, err)
}

func TestSplitCmd_SingleHotspotUngrouped(t *testing.T) {
	store := mocks.NewStore()
	seed(store)

	res, err := run(t, store, "split", "a", "a-1")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a-1"}, res["ungrouped"])
	assert.Empty(t, store.Hotspot("a-1").ClusterID)
}

func TestRenameAndRepCmd(t *testing.T) {
	store := mocks.NewStore()
	seed(store)

	_, err := run(t, store, "rename", "a", "glamping")
	require.NoError(t, err)
	assert.Equal(t, "glamping", store.Cluster("a").Name)

	_, err = run(t, store, "rep", "a", "a-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", store.Cluster("a").SelectedHotspotID)
}

func TestDeleteCmd(t *testing.T) {
	store := mocks.NewStore()
	seed(store)

	_, err := run(t, store, "delete", "b")
	require.NoError(t, err)
	assert.Nil(t, store.Cluster("b"))
	assert.Empty(t, store.Hotspot("b-0").ClusterID)
}

func TestRelinkCmd(t *testing.T) {
	store := mocks.NewStore()
	seed(store)

	res, err := run(t, store, "relink", "a-0", "  露营  灯 ")
	require.NoError(t, err)
	assert.Equal(t, "a", res["cluster_id"])
	assert.Equal(t, string(domain.StatusPendingValidation), res["status"])

	id, ok := res["hotspot_id"].(string)
	require.True(t, ok)
	require.NotNil(t, store.Hotspot(id))
	assert.Equal(t, 1, store.Hotspot(id).AppearanceCount)
}

func TestRejectCmd(t *testing.T) {
	store := mocks.NewStore()
	seed(store)

	res, err := run(t, store, "reject", "p-0", "gossip")
	require.NoError(t, err)
	assert.Equal(t, true, res["rejected"])
	assert.Equal(t, domain.StatusRejected, store.Hotspot("p-0").Status)
	assert.Equal(t, "gossip", store.Hotspot("p-0").FilterReason)
}
