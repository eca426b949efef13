package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

const clusterColumns = "id, cluster_name, keywords, selected_hotspot_id, version, created_at, updated_at"

func scanCluster(row rowScanner) (*domain.Cluster, error) {
	var (
		id, selected pgtype.UUID
		c            domain.Cluster
	)

	if err := row.Scan(&id, &c.Name, &c.Keywords, &selected, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with the query name
	}

	c.ID = fromUUID(id)
	c.SelectedHotspotID = fromUUID(selected)

	return &c, nil
}

// lockCluster takes a row lock on the cluster and checks its version when
// want is set.
func lockCluster(ctx context.Context, tx pgx.Tx, id string, want *int64) error {
	var version int64

	err := tx.QueryRow(ctx, `SELECT version FROM clusters WHERE id = $1 FOR UPDATE`, toUUID(id)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("cluster %s: %w", id, coreerrors.ErrNotFound)
	}

	if err != nil {
		return fmt.Errorf("lock cluster: %w", err)
	}

	if want != nil && *want != version {
		return fmt.Errorf("cluster %s at version %d, expected %d: %w", id, version, *want, coreerrors.ErrConflict)
	}

	return nil
}

// syncClusterKeywords recomputes the denormalized keyword list from the
// members and, when bump is set, records a membership change.
func syncClusterKeywords(ctx context.Context, q querier, id string, bump bool) error {
	if _, err := q.Exec(ctx, `
		UPDATE clusters SET
			keywords = COALESCE((
				SELECT array_agg(h.keyword ORDER BY h.first_seen_at, h.keyword)
				FROM hotspots h WHERE h.cluster_id = $1
			), '{}'),
			version = version + CASE WHEN $2 THEN 1 ELSE 0 END,
			updated_at = now()
		WHERE id = $1
	`, toUUID(id), bump); err != nil {
		return fmt.Errorf("sync cluster keywords: %w", err)
	}

	return nil
}

func insertCluster(ctx context.Context, tx pgx.Tx, c *domain.Cluster) error {
	c.ID = newID(c.ID)

	if err := tx.QueryRow(ctx, `
		INSERT INTO clusters (id, cluster_name, selected_hotspot_id, version)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, toUUID(c.ID), SanitizeUTF8(c.Name), toUUID(c.SelectedHotspotID), c.Version).Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		return fmt.Errorf("insert cluster: %w", err)
	}

	return nil
}

// moveMembers reassigns hotspots to clusterID (empty means clusterless) when
// they currently belong to from; an empty from requires them to be clusterless.
func moveMembers(ctx context.Context, tx pgx.Tx, ids []string, from, to string) error {
	fromCond := "cluster_id IS NULL"
	args := []any{toUUIDs(ids), toUUID(to)}

	if from != "" {
		fromCond = "cluster_id = $3"
		args = append(args, toUUID(from))
	}

	tag, err := tx.Exec(ctx, `UPDATE hotspots SET cluster_id = $2, updated_at = now() WHERE id = ANY($1) AND `+fromCond, args...)
	if err != nil {
		return fmt.Errorf("move cluster members: %w", err)
	}

	if int(tag.RowsAffected()) == len(ids) {
		return nil
	}

	var found int

	if err := tx.QueryRow(ctx, `SELECT count(*) FROM hotspots WHERE id = ANY($1)`, toUUIDs(ids)).Scan(&found); err != nil {
		return fmt.Errorf("count cluster members: %w", err)
	}

	if found < len(ids) {
		return fmt.Errorf("hotspot: %w", coreerrors.ErrNotFound)
	}

	return fmt.Errorf("hotspot membership changed: %w", coreerrors.ErrConflict)
}

// CreateCluster groups clusterless hotspots under c.
func (db *DB) CreateCluster(ctx context.Context, c *domain.Cluster, memberIDs []string) error {
	c.Version = 1

	return db.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertCluster(ctx, tx, c); err != nil {
			return err
		}

		if err := moveMembers(ctx, tx, memberIDs, "", c.ID); err != nil {
			return err
		}

		if err := syncClusterKeywords(ctx, tx, c.ID, false); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `SELECT keywords FROM clusters WHERE id = $1`, toUUID(c.ID)).Scan(&c.Keywords); err != nil {
			return fmt.Errorf("read cluster keywords: %w", err)
		}

		return nil
	})
}

// AttachToCluster adds a clusterless hotspot to an existing cluster.
func (db *DB) AttachToCluster(ctx context.Context, clusterID, hotspotID string) (bool, error) {
	attached := false

	err := db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockCluster(ctx, tx, clusterID, nil); err != nil {
			if errors.Is(err, coreerrors.ErrNotFound) {
				return nil
			}

			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE hotspots SET cluster_id = $1, updated_at = now()
			WHERE id = $2 AND cluster_id IS NULL
		`, toUUID(clusterID), toUUID(hotspotID))
		if err != nil {
			return fmt.Errorf("attach to cluster: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return requireHotspotRow(ctx, tx, hotspotID)
		}

		attached = true

		return syncClusterKeywords(ctx, tx, clusterID, true)
	})
	if err != nil {
		return false, err
	}

	return attached, nil
}

// GetCluster returns the cluster with id.
func (db *DB) GetCluster(ctx context.Context, id string) (*domain.Cluster, error) {
	c, err := scanCluster(db.Pool.QueryRow(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = $1`, toUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cluster %s: %w", id, coreerrors.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get cluster: %w", err)
	}

	return c, nil
}

// ListClusterMembers returns the members of cluster id, oldest first.
func (db *DB) ListClusterMembers(ctx context.Context, id string) ([]domain.Hotspot, error) {
	if _, err := db.GetCluster(ctx, id); err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT `+hotspotColumns("")+`
		FROM hotspots WHERE cluster_id = $1
		ORDER BY first_seen_at, keyword
	`, toUUID(id))
	if err != nil {
		return nil, fmt.Errorf("list cluster members: %w", err)
	}

	return collectHotspots(rows)
}

// MergeClusters moves every member of the absorbed clusters into the target
// and deletes them. Every cluster is locked in id order first.
func (db *DB) MergeClusters(ctx context.Context, plan ports.MergePlan) error {
	all := append([]string{plan.TargetID}, plan.AbsorbedIDs...)

	return db.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, version FROM clusters WHERE id = ANY($1) ORDER BY id FOR UPDATE`, toUUIDs(all))
		if err != nil {
			return fmt.Errorf("lock clusters: %w", err)
		}

		versions := make(map[string]int64, len(all))

		for rows.Next() {
			var (
				id      pgtype.UUID
				version int64
			)

			if err := rows.Scan(&id, &version); err != nil {
				rows.Close()

				return fmt.Errorf("scan cluster version: %w", err)
			}

			versions[fromUUID(id)] = version
		}

		rows.Close()

		if err := rows.Err(); err != nil {
			return fmt.Errorf("lock clusters: %w", err)
		}

		for _, id := range all {
			got, ok := versions[id]
			if !ok {
				return fmt.Errorf("cluster %s: %w", id, coreerrors.ErrNotFound)
			}

			if want, ok := plan.Versions[id]; ok && want != got {
				return fmt.Errorf("cluster %s: %w", id, coreerrors.ErrConflict)
			}
		}

		if _, err := tx.Exec(ctx, `
			UPDATE hotspots SET cluster_id = $1, updated_at = now() WHERE cluster_id = ANY($2)
		`, toUUID(plan.TargetID), toUUIDs(plan.AbsorbedIDs)); err != nil {
			return fmt.Errorf("move merged members: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM clusters WHERE id = ANY($1)`, toUUIDs(plan.AbsorbedIDs)); err != nil {
			return fmt.Errorf("delete merged clusters: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE clusters SET cluster_name = $2, selected_hotspot_id = $3 WHERE id = $1
		`, toUUID(plan.TargetID), SanitizeUTF8(plan.Name), toUUID(plan.RepresentativeID)); err != nil {
			return fmt.Errorf("update merged cluster: %w", err)
		}

		return syncClusterKeywords(ctx, tx, plan.TargetID, true)
	})
}

// SplitCluster moves plan.RemoveIDs out of the cluster, into plan.NewCluster
// when set.
func (db *DB) SplitCluster(ctx context.Context, plan ports.SplitPlan) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		version := plan.Version
		if err := lockCluster(ctx, tx, plan.ClusterID, &version); err != nil {
			return err
		}

		var members int

		if err := tx.QueryRow(ctx, `
			SELECT count(*) FROM hotspots WHERE id = ANY($1) AND cluster_id = $2
		`, toUUIDs(plan.RemoveIDs), toUUID(plan.ClusterID)).Scan(&members); err != nil {
			return fmt.Errorf("check split members: %w", err)
		}

		if members != len(plan.RemoveIDs) {
			return fmt.Errorf("hotspot left cluster %s: %w", plan.ClusterID, coreerrors.ErrConflict)
		}

		target := ""

		if plan.NewCluster != nil {
			plan.NewCluster.Version = 0
			if err := insertCluster(ctx, tx, plan.NewCluster); err != nil {
				return err
			}

			target = plan.NewCluster.ID
		}

		if err := moveMembers(ctx, tx, plan.RemoveIDs, plan.ClusterID, target); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE clusters SET selected_hotspot_id = $2 WHERE id = $1`,
			toUUID(plan.ClusterID), toUUID(plan.RepresentativeID)); err != nil {
			return fmt.Errorf("update split representative: %w", err)
		}

		if err := syncClusterKeywords(ctx, tx, plan.ClusterID, true); err != nil {
			return err
		}

		if target != "" {
			return syncClusterKeywords(ctx, tx, target, true)
		}

		return nil
	})
}

// SetRepresentative selects a member as the cluster representative. The
// membership check and the write are one statement.
func (db *DB) SetRepresentative(ctx context.Context, clusterID, hotspotID string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE clusters c SET selected_hotspot_id = $2, updated_at = now()
		WHERE c.id = $1
		  AND EXISTS (SELECT 1 FROM hotspots h WHERE h.id = $2 AND h.cluster_id = $1)
	`, toUUID(clusterID), toUUID(hotspotID))
	if err != nil {
		return false, fmt.Errorf("set representative: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, err := db.GetCluster(ctx, clusterID); err != nil {
			return false, err
		}

		return false, nil
	}

	return true, nil
}

// DeleteCluster removes a cluster and leaves its members clusterless.
func (db *DB) DeleteCluster(ctx context.Context, id string) (bool, error) {
	deleted := false

	err := db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockCluster(ctx, tx, id, nil); err != nil {
			if errors.Is(err, coreerrors.ErrNotFound) {
				return nil
			}

			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE hotspots SET cluster_id = NULL, updated_at = now() WHERE cluster_id = $1`, toUUID(id)); err != nil {
			return fmt.Errorf("ungroup cluster members: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM clusters WHERE id = $1`, toUUID(id)); err != nil {
			return fmt.Errorf("delete cluster: %w", err)
		}

		deleted = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return deleted, nil
}

// RenameCluster changes the cluster name.
func (db *DB) RenameCluster(ctx context.Context, id, name string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `UPDATE clusters SET cluster_name = $2, updated_at = now() WHERE id = $1`, toUUID(id), SanitizeUTF8(name))
	if err != nil {
		return false, fmt.Errorf("rename cluster: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
