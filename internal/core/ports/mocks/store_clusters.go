package mocks

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

// Cluster returns a copy of the stored cluster, or nil.
func (s *Store) Cluster(id string) *domain.Cluster {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[id]
	if !ok {
		return nil
	}

	return cloneCluster(c)
}

// ClusterCount returns the number of stored clusters.
func (s *Store) ClusterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.clusters)
}

// CreateCluster groups clusterless hotspots under c.
func (s *Store) CreateCluster(_ context.Context, c *domain.Cluster, memberIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range memberIDs {
		h, ok := s.hotspots[id]
		if !ok {
			return fmt.Errorf("hotspot %s: %w", id, coreerrors.ErrNotFound)
		}

		if h.ClusterID != "" {
			return fmt.Errorf("hotspot %s already clustered: %w", id, coreerrors.ErrConflict)
		}
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	now := s.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Version = 1

	cp := cloneCluster(c)
	s.clusters[c.ID] = cp

	for _, id := range memberIDs {
		s.hotspots[id].ClusterID = c.ID
	}

	s.refreshKeywordsLocked(c.ID)
	c.Keywords = append([]string(nil), cp.Keywords...)

	return nil
}

// AttachToCluster adds a clusterless hotspot to an existing cluster.
func (s *Store) AttachToCluster(_ context.Context, clusterID, hotspotID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clusters[clusterID]; !ok {
		return false, nil
	}

	h, ok := s.hotspots[hotspotID]
	if !ok {
		return false, fmt.Errorf("hotspot %s: %w", hotspotID, coreerrors.ErrNotFound)
	}

	if h.ClusterID != "" {
		return false, nil
	}

	h.ClusterID = clusterID
	s.touchClusterLocked(clusterID)

	return true, nil
}

// GetCluster returns the cluster with id.
func (s *Store) GetCluster(_ context.Context, id string) (*domain.Cluster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[id]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", id, coreerrors.ErrNotFound)
	}

	return cloneCluster(c), nil
}

// ListClusterMembers returns the members of cluster id, oldest first.
func (s *Store) ListClusterMembers(_ context.Context, id string) ([]domain.Hotspot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clusters[id]; !ok {
		return nil, fmt.Errorf("cluster %s: %w", id, coreerrors.ErrNotFound)
	}

	members := s.membersLocked(id)
	out := make([]domain.Hotspot, 0, len(members))

	for _, h := range members {
		out = append(out, *h.Clone())
	}

	return out, nil
}

// MergeClusters moves every member of the absorbed clusters into the target.
func (s *Store) MergeClusters(ctx context.Context, plan ports.MergePlan) error {
	if s.MergeClustersFn != nil {
		return s.MergeClustersFn(ctx, plan)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := append([]string{plan.TargetID}, plan.AbsorbedIDs...)
	for _, id := range ids {
		c, ok := s.clusters[id]
		if !ok {
			return fmt.Errorf("cluster %s: %w", id, coreerrors.ErrNotFound)
		}

		if want, ok := plan.Versions[id]; ok && want != c.Version {
			return fmt.Errorf("cluster %s: %w", id, coreerrors.ErrConflict)
		}
	}

	for _, id := range plan.AbsorbedIDs {
		for _, h := range s.membersLocked(id) {
			h.ClusterID = plan.TargetID
		}

		delete(s.clusters, id)
	}

	target := s.clusters[plan.TargetID]
	target.Name = plan.Name
	target.SelectedHotspotID = plan.RepresentativeID
	s.touchClusterLocked(plan.TargetID)

	return nil
}

// SplitCluster moves plan.RemoveIDs out of the cluster.
func (s *Store) SplitCluster(ctx context.Context, plan ports.SplitPlan) error {
	if s.SplitClusterFn != nil {
		return s.SplitClusterFn(ctx, plan)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[plan.ClusterID]
	if !ok {
		return fmt.Errorf("cluster %s: %w", plan.ClusterID, coreerrors.ErrNotFound)
	}

	if c.Version != plan.Version {
		return fmt.Errorf("cluster %s: %w", plan.ClusterID, coreerrors.ErrConflict)
	}

	for _, id := range plan.RemoveIDs {
		h, ok := s.hotspots[id]
		if !ok || h.ClusterID != plan.ClusterID {
			return fmt.Errorf("hotspot %s left cluster: %w", id, coreerrors.ErrConflict)
		}
	}

	newID := ""

	if plan.NewCluster != nil {
		nc := cloneCluster(plan.NewCluster)
		if nc.ID == "" {
			nc.ID = uuid.NewString()
			plan.NewCluster.ID = nc.ID
		}

		now := s.Now()
		nc.CreatedAt = now
		nc.UpdatedAt = now
		nc.Version = 0
		s.clusters[nc.ID] = nc
		newID = nc.ID
	}

	for _, id := range plan.RemoveIDs {
		s.hotspots[id].ClusterID = newID
	}

	c.SelectedHotspotID = plan.RepresentativeID
	s.touchClusterLocked(plan.ClusterID)

	if newID != "" {
		s.touchClusterLocked(newID)
	}

	return nil
}

// SetRepresentative selects a member as the cluster representative.
func (s *Store) SetRepresentative(_ context.Context, clusterID, hotspotID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[clusterID]
	if !ok {
		return false, fmt.Errorf("cluster %s: %w", clusterID, coreerrors.ErrNotFound)
	}

	h, ok := s.hotspots[hotspotID]
	if !ok || h.ClusterID != clusterID {
		return false, nil
	}

	c.SelectedHotspotID = hotspotID
	c.UpdatedAt = s.Now()

	return true, nil
}

// DeleteCluster removes a cluster and leaves its members clusterless.
func (s *Store) DeleteCluster(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clusters[id]; !ok {
		return false, nil
	}

	for _, h := range s.membersLocked(id) {
		h.ClusterID = ""
	}

	delete(s.clusters, id)

	return true, nil
}

// RenameCluster changes the cluster name.
func (s *Store) RenameCluster(_ context.Context, id, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[id]
	if !ok {
		return false, nil
	}

	c.Name = name
	c.UpdatedAt = s.Now()

	return true, nil
}

func (s *Store) membersLocked(clusterID string) []*domain.Hotspot {
	var out []*domain.Hotspot

	for _, h := range s.hotspots {
		if h.ClusterID == clusterID {
			out = append(out, h)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].FirstSeenAt.Equal(out[j].FirstSeenAt) {
			return out[i].FirstSeenAt.Before(out[j].FirstSeenAt)
		}

		return out[i].Keyword < out[j].Keyword
	})

	return out
}

func (s *Store) refreshKeywordsLocked(clusterID string) {
	c, ok := s.clusters[clusterID]
	if !ok {
		return
	}

	members := s.membersLocked(clusterID)
	c.Keywords = make([]string, 0, len(members))

	for _, h := range members {
		c.Keywords = append(c.Keywords, h.Keyword)
	}
}

// touchClusterLocked records a membership change.
func (s *Store) touchClusterLocked(clusterID string) {
	c, ok := s.clusters[clusterID]
	if !ok {
		return
	}

	c.Version++
	c.UpdatedAt = s.Now()
	s.refreshKeywordsLocked(clusterID)
}

func cloneCluster(c *domain.Cluster) *domain.Cluster {
	cp := *c
	cp.Keywords = append([]string(nil), c.Keywords...)

	return &cp
}
