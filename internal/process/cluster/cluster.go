// Package cluster groups semantically related hotspots. Multi-row changes
// are planned here from a snapshot and written by the store in one
// transaction that re-checks the cluster versions the plan was built from.
package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
	"github.com/lueurxax/hotspot-engine/internal/platform/observability"
)

const (
	maxConflictRetries = 3

	opMerge     = "merge"
	opSplit     = "split"
	opAttach    = "attach"
	opCreate    = "create"
	opDelete    = "delete"
	opRename    = "rename"
	opSelectRep = "set_representative"

	resultOK       = "ok"
	resultRejected = "rejected"
	resultConflict = "conflict"
	resultError    = "error"

	logKeyClusterID = "cluster_id"
	logKeyHotspotID = "hotspot_id"
)

// Repository is the storage the manager needs.
type Repository interface {
	GetHotspot(ctx context.Context, id string) (*domain.Hotspot, error)
	CreateCluster(ctx context.Context, c *domain.Cluster, memberIDs []string) error
	AttachToCluster(ctx context.Context, clusterID, hotspotID string) (bool, error)
	GetCluster(ctx context.Context, id string) (*domain.Cluster, error)
	ListClusterMembers(ctx context.Context, id string) ([]domain.Hotspot, error)
	MergeClusters(ctx context.Context, plan ports.MergePlan) error
	SplitCluster(ctx context.Context, plan ports.SplitPlan) error
	SetRepresentative(ctx context.Context, clusterID, hotspotID string) (bool, error)
	DeleteCluster(ctx context.Context, id string) (bool, error)
	RenameCluster(ctx context.Context, id, name string) (bool, error)
}

// Manager owns cluster membership.
type Manager struct {
	repo   Repository
	logger *zerolog.Logger
}

// New creates a Manager.
func New(repo Repository, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Manager{repo: repo, logger: logger}
}

// SplitResult describes where the removed hotspots went.
type SplitResult struct {
	// NewClusterID is set when more than one hotspot was removed.
	NewClusterID string
	// Ungrouped holds the hotspot left without a cluster when exactly one was removed.
	Ungrouped []string
}

func record(op string, err error) {
	result := resultOK

	switch {
	case err == nil:
	case errors.Is(err, coreerrors.ErrConflict):
		result = resultConflict
	case errors.Is(err, coreerrors.ErrInvalidArgument),
		errors.Is(err, coreerrors.ErrWouldEmptyCluster),
		errors.Is(err, coreerrors.ErrNotClusterMember),
		errors.Is(err, coreerrors.ErrNotFound):
		result = resultRejected
	default:
		result = resultError
	}

	observability.ClusterOperations.WithLabelValues(op, result).Inc()
}

// retryOnConflict reruns fn while the store reports the snapshot went stale.
func retryOnConflict(fn func() error) error {
	var err error

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, coreerrors.ErrConflict) {
			return err
		}
	}

	return err
}

// Merge folds every source cluster into the first one. targetName and
// representativeID are optional; the representative defaults to the first
// source's representative and must belong to one of the sources.
func (m *Manager) Merge(ctx context.Context, sourceIDs []string, targetName, representativeID string) (string, error) {
	ids := dedupe(sourceIDs)
	if len(ids) < 2 {
		err := fmt.Errorf("%w: merge needs at least 2 distinct clusters, got %d", coreerrors.ErrInvalidArgument, len(ids))
		record(opMerge, err)

		return "", err
	}

	err := retryOnConflict(func() error {
		plan, err := m.planMerge(ctx, ids, targetName, representativeID)
		if err != nil {
			return err
		}

		return m.repo.MergeClusters(ctx, plan)
	})
	record(opMerge, err)

	if err != nil {
		return "", fmt.Errorf("merge clusters: %w", err)
	}

	m.logger.Info().Str(logKeyClusterID, ids[0]).Strs("absorbed", ids[1:]).Msg("clusters merged")

	return ids[0], nil
}

func (m *Manager) planMerge(ctx context.Context, ids []string, targetName, representativeID string) (ports.MergePlan, error) {
	plan := ports.MergePlan{
		TargetID:    ids[0],
		AbsorbedIDs: ids[1:],
		Versions:    make(map[string]int64, len(ids)),
	}

	for i, id := range ids {
		c, err := m.repo.GetCluster(ctx, id)
		if err != nil {
			return plan, err
		}

		plan.Versions[id] = c.Version

		if i == 0 {
			plan.Name = c.Name
			plan.RepresentativeID = c.SelectedHotspotID
		}
	}

	if targetName != "" {
		plan.Name = targetName
	}

	if representativeID != "" {
		h, err := m.repo.GetHotspot(ctx, representativeID)
		if err != nil {
			return plan, err
		}

		if _, ok := plan.Versions[h.ClusterID]; !ok || h.ClusterID == "" {
			return plan, fmt.Errorf("%w: %s", coreerrors.ErrNotClusterMember, representativeID)
		}

		plan.RepresentativeID = representativeID
	}

	return plan, nil
}

// Split removes hotspots from a cluster. Removing every member is rejected
// with ErrWouldEmptyCluster; one removed hotspot becomes clusterless, several
// form a new cluster named newName (or after the first removed keyword).
func (m *Manager) Split(ctx context.Context, clusterID string, removeIDs []string, newName string) (SplitResult, error) {
	remove := dedupe(removeIDs)
	if len(remove) == 0 {
		err := fmt.Errorf("%w: nothing to remove", coreerrors.ErrInvalidArgument)
		record(opSplit, err)

		return SplitResult{}, err
	}

	var res SplitResult

	err := retryOnConflict(func() error {
		plan, err := m.planSplit(ctx, clusterID, remove, newName)
		if err != nil {
			return err
		}

		if err := m.repo.SplitCluster(ctx, plan); err != nil {
			return err
		}

		res = SplitResult{}
		if plan.NewCluster != nil {
			res.NewClusterID = plan.NewCluster.ID
		} else {
			res.Ungrouped = append([]string(nil), plan.RemoveIDs...)
		}

		return nil
	})
	record(opSplit, err)

	if err != nil {
		return SplitResult{}, fmt.Errorf("split cluster: %w", err)
	}

	m.logger.Info().
		Str(logKeyClusterID, clusterID).
		Str("new_cluster_id", res.NewClusterID).
		Int("removed", len(remove)).
		Msg("cluster split")

	return res, nil
}

func (m *Manager) planSplit(ctx context.Context, clusterID string, remove []string, newName string) (ports.SplitPlan, error) {
	c, err := m.repo.GetCluster(ctx, clusterID)
	if err != nil {
		return ports.SplitPlan{}, err
	}

	members, err := m.repo.ListClusterMembers(ctx, clusterID)
	if err != nil {
		return ports.SplitPlan{}, err
	}

	removeSet := make(map[string]bool, len(remove))
	for _, id := range remove {
		removeSet[id] = true
	}

	var removed, kept []domain.Hotspot

	for _, h := range members {
		if removeSet[h.ID] {
			removed = append(removed, h)
		} else {
			kept = append(kept, h)
		}
	}

	if len(removed) != len(remove) {
		for _, id := range remove {
			if !containsID(removed, id) {
				return ports.SplitPlan{}, fmt.Errorf("%w: %s not in %s", coreerrors.ErrNotClusterMember, id, clusterID)
			}
		}
	}

	if len(kept) == 0 {
		return ports.SplitPlan{}, fmt.Errorf("%w: %s has %d members", coreerrors.ErrWouldEmptyCluster, clusterID, len(members))
	}

	plan := ports.SplitPlan{
		ClusterID:        clusterID,
		Version:          c.Version,
		RepresentativeID: c.SelectedHotspotID,
	}

	// Member order keeps the new cluster's name and representative stable.
	for _, h := range removed {
		plan.RemoveIDs = append(plan.RemoveIDs, h.ID)
	}

	if plan.RepresentativeID == "" || removeSet[plan.RepresentativeID] {
		plan.RepresentativeID = kept[0].ID
	}

	if len(removed) > 1 {
		name := newName
		if name == "" {
			name = removed[0].Keyword
		}

		plan.NewCluster = &domain.Cluster{Name: name, SelectedHotspotID: removed[0].ID}
	}

	return plan, nil
}

// SetRepresentative selects hotspotID as the cluster representative.
func (m *Manager) SetRepresentative(ctx context.Context, clusterID, hotspotID string) error {
	ok, err := m.repo.SetRepresentative(ctx, clusterID, hotspotID)
	if err == nil && !ok {
		err = fmt.Errorf("%w: %s not in %s", coreerrors.ErrNotClusterMember, hotspotID, clusterID)
	}

	record(opSelectRep, err)

	if err != nil {
		return fmt.Errorf("set representative: %w", err)
	}

	return nil
}

// Delete removes a cluster; its members become clusterless.
func (m *Manager) Delete(ctx context.Context, clusterID string) error {
	ok, err := m.repo.DeleteCluster(ctx, clusterID)
	if err == nil && !ok {
		err = fmt.Errorf("cluster %s: %w", clusterID, coreerrors.ErrNotFound)
	}

	record(opDelete, err)

	if err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}

	m.logger.Info().Str(logKeyClusterID, clusterID).Msg("cluster deleted")

	return nil
}

// Rename changes the cluster name.
func (m *Manager) Rename(ctx context.Context, clusterID, name string) error {
	var err error

	if name == "" {
		err = fmt.Errorf("%w: empty cluster name", coreerrors.ErrInvalidArgument)
	} else {
		var ok bool

		ok, err = m.repo.RenameCluster(ctx, clusterID, name)
		if err == nil && !ok {
			err = fmt.Errorf("cluster %s: %w", clusterID, coreerrors.ErrNotFound)
		}
	}

	record(opRename, err)

	if err != nil {
		return fmt.Errorf("rename cluster: %w", err)
	}

	return nil
}

// AutoAttach groups a new hotspot with a related neighbour: it joins the
// neighbour's cluster, or the two form a new cluster represented by the
// neighbour. It returns the resulting cluster id, empty when nothing changed.
func (m *Manager) AutoAttach(ctx context.Context, hotspotID string, neighbor ports.SimilarHotspot) (string, error) {
	clusterID := neighbor.ClusterID

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if clusterID != "" {
			ok, err := m.repo.AttachToCluster(ctx, clusterID, hotspotID)
			record(opAttach, err)

			if err != nil {
				return "", fmt.Errorf("attach to cluster: %w", err)
			}

			if !ok {
				return "", nil
			}

			return clusterID, nil
		}

		c := &domain.Cluster{Name: neighbor.Keyword, SelectedHotspotID: neighbor.HotspotID}
		err := m.repo.CreateCluster(ctx, c, []string{neighbor.HotspotID, hotspotID})
		record(opCreate, err)

		if err == nil {
			m.logger.Info().
				Str(logKeyClusterID, c.ID).
				Str(logKeyHotspotID, hotspotID).
				Msg("cluster formed")

			return c.ID, nil
		}

		if !errors.Is(err, coreerrors.ErrConflict) {
			return "", fmt.Errorf("create cluster: %w", err)
		}

		// The neighbour was grouped concurrently; join its cluster instead.
		n, err := m.repo.GetHotspot(ctx, neighbor.HotspotID)
		if err != nil {
			return "", fmt.Errorf("reload neighbour: %w", err)
		}

		if n.ClusterID == "" {
			return "", nil
		}

		clusterID = n.ClusterID
	}

	return "", nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}

		seen[id] = true
		out = append(out, id)
	}

	return out
}

func containsID(hs []domain.Hotspot, id string) bool {
	for i := range hs {
		if hs[i].ID == id {
			return true
		}
	}

	return false
}
