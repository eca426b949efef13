package lifecycle

import (
	"context"
	"fmt"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/textnorm"
)

// RelinkRequest asks for a fresh hotspot derived from an existing one.
type RelinkRequest struct {
	SourceID  string
	Keyword   string
	Embedding []float32
}

// Relink creates a new pending hotspot for req.Keyword that inherits the
// source's observations and cluster. The source row is never modified, so
// terminal hotspots can be revived this way. A clusterless source is grouped
// with the new hotspot under a new cluster.
func (m *Machine) Relink(ctx context.Context, req RelinkRequest) (*domain.Hotspot, error) {
	keyword := textnorm.Clean(req.Keyword)
	if keyword == "" {
		return nil, fmt.Errorf("%w: empty keyword", coreerrors.ErrInvalidArgument)
	}

	src, err := m.repo.GetHotspot(ctx, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("load relink source: %w", err)
	}

	if _, err := m.repo.GetHotspotByKeyword(ctx, keyword); err == nil {
		return nil, fmt.Errorf("%w: %q", coreerrors.ErrDuplicateKeyword, keyword)
	} else if !coreerrors.Is(err, coreerrors.ErrNotFound) {
		return nil, fmt.Errorf("check keyword: %w", err)
	}

	now := m.now()
	h := &domain.Hotspot{
		Keyword:           keyword,
		NormalizedKeyword: textnorm.Normalize(keyword),
		Embedding:         req.Embedding,
		ClusterID:         src.ClusterID,
		FirstSeenAt:       now,
		LastSeenAt:        now,
		AppearanceCount:   1,
		Platforms:         append([]domain.PlatformObservation(nil), src.Platforms...),
		Status:            domain.StatusPendingValidation,
		ScreenedAt:        &now,
	}

	created, err := m.repo.CreateHotspot(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("create relinked hotspot: %w", err)
	}

	if !created {
		return nil, fmt.Errorf("%w: %q", coreerrors.ErrDuplicateKeyword, keyword)
	}

	if src.ClusterID == "" {
		c := &domain.Cluster{Name: src.Keyword, SelectedHotspotID: src.ID}
		if err := m.repo.CreateCluster(ctx, c, []string{src.ID, h.ID}); err != nil {
			return h, fmt.Errorf("group relinked hotspot: %w", err)
		}

		h.ClusterID = c.ID
	}

	m.logger.Info().
		Str(logKeyHotspotID, h.ID).
		Str("source_id", src.ID).
		Str("cluster_id", h.ClusterID).
		Msg("hotspot relinked")

	return h, nil
}
