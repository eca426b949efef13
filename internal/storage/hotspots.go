package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

// hotspotFields excludes embedding; vectors are written once and only read
// through the similarity query.
var hotspotFields = []string{
	"id", "keyword", "normalized_keyword", "cluster_id",
	"first_seen_at", "second_seen_at", "last_seen_at", "appearance_count",
	"platforms", "status", "screened_at",
	"is_filtered", "filter_reason", "filtered_at",
	"second_stage_rejection_reason", "second_stage_rejected_at",
	"last_crawled_at", "crawl_count", "crawl_count_day", "crawl_started_at",
	"crawl_failed_count", "crawl_data", "analysis_started_at",
	"created_at", "updated_at",
}

func hotspotColumns(alias string) string {
	cols := strings.Join(hotspotFields, ", ")
	if alias == "" {
		return cols
	}

	return prefixed(alias, cols)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHotspot(row rowScanner) (*domain.Hotspot, error) {
	var (
		id, clusterID                          pgtype.UUID
		secondSeen, screened, filtered         pgtype.Timestamptz
		secondRejected, lastCrawled, crawlStar pgtype.Timestamptz
		analysisStarted                        pgtype.Timestamptz
		filterReason, secondReason             pgtype.Text
		crawlDay                               pgtype.Date
		appearances, crawlCount, crawlFailed   int32
		platforms, crawlData                   []byte
		status                                 string
		h                                      domain.Hotspot
	)

	err := row.Scan(
		&id, &h.Keyword, &h.NormalizedKeyword, &clusterID,
		&h.FirstSeenAt, &secondSeen, &h.LastSeenAt, &appearances,
		&platforms, &status, &screened,
		&h.IsFiltered, &filterReason, &filtered,
		&secondReason, &secondRejected,
		&lastCrawled, &crawlCount, &crawlDay, &crawlStar,
		&crawlFailed, &crawlData, &analysisStarted,
		&h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with the query name
	}

	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	if len(platforms) > 0 {
		if err := json.Unmarshal(platforms, &h.Platforms); err != nil {
			return nil, fmt.Errorf("decode platforms: %w", err)
		}
	}

	h.ID = fromUUID(id)
	h.ClusterID = fromUUID(clusterID)
	h.SecondSeenAt = fromTimestamptzPtr(secondSeen)
	h.AppearanceCount = int(appearances)
	h.Status = st
	h.ScreenedAt = fromTimestamptzPtr(screened)
	h.FilterReason = fromText(filterReason)
	h.FilteredAt = fromTimestamptzPtr(filtered)
	h.SecondStageRejectionReason = fromText(secondReason)
	h.SecondStageRejectedAt = fromTimestamptzPtr(secondRejected)
	h.LastCrawledAt = fromTimestamptzPtr(lastCrawled)
	h.CrawlCount = int(crawlCount)
	h.CrawlCountDay = fromDate(crawlDay)
	h.CrawlStartedAt = fromTimestamptzPtr(crawlStar)
	h.CrawlFailedCount = int(crawlFailed)
	h.AnalysisStartedAt = fromTimestamptzPtr(analysisStarted)

	if len(crawlData) > 0 {
		h.CrawlData = json.RawMessage(crawlData)
	}

	return &h, nil
}

func collectHotspots(rows pgx.Rows) ([]domain.Hotspot, error) {
	defer rows.Close()

	var out []domain.Hotspot

	for rows.Next() {
		h, err := scanHotspot(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hotspots: %w", err)
	}

	return out, nil
}

func embeddingArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}

	return pgvector.NewVector(v)
}

func limitArg(n int) pgtype.Int4 {
	return pgtype.Int4{Int32: safeIntToInt32(n), Valid: n > 0}
}

// CreateHotspot inserts h. A keyword that already exists returns false.
func (db *DB) CreateHotspot(ctx context.Context, h *domain.Hotspot) (bool, error) {
	platforms, err := json.Marshal(h.Platforms)
	if err != nil {
		return false, fmt.Errorf("encode platforms: %w", err)
	}

	if h.Platforms == nil {
		platforms = []byte("[]")
	}

	h.ID = newID(h.ID)
	created := false

	err = db.inTx(ctx, func(tx pgx.Tx) error {
		if h.ClusterID != "" {
			if err := lockCluster(ctx, tx, h.ClusterID, nil); err != nil {
				return err
			}
		}

		var createdAt time.Time

		err := tx.QueryRow(ctx, `
			INSERT INTO hotspots (
				id, keyword, normalized_keyword, embedding, cluster_id,
				first_seen_at, second_seen_at, last_seen_at, appearance_count, platforms, status,
				screened_at, is_filtered, filter_reason, filtered_at
			) VALUES ($1, $2, $3, $4::vector, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13, $14, $15)
			ON CONFLICT (keyword) DO NOTHING
			RETURNING created_at
		`,
			toUUID(h.ID), SanitizeUTF8(h.Keyword), SanitizeUTF8(h.NormalizedKeyword), embeddingArg(h.Embedding), toUUID(h.ClusterID),
			h.FirstSeenAt, toTimestamptzPtr(h.SecondSeenAt), h.LastSeenAt, toInt4(h.AppearanceCount), string(platforms), string(h.Status),
			toTimestamptzPtr(h.ScreenedAt), h.IsFiltered, toText(h.FilterReason), toTimestamptzPtr(h.FilteredAt),
		).Scan(&createdAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("insert hotspot: %w", err)
		}

		created = true
		h.CreatedAt = createdAt
		h.UpdatedAt = createdAt

		if h.ClusterID != "" {
			return syncClusterKeywords(ctx, tx, h.ClusterID, true)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return created, nil
}

// GetHotspot returns the hotspot with id.
func (db *DB) GetHotspot(ctx context.Context, id string) (*domain.Hotspot, error) {
	h, err := scanHotspot(db.Pool.QueryRow(ctx, `SELECT `+hotspotColumns("")+` FROM hotspots WHERE id = $1`, toUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("hotspot %s: %w", id, coreerrors.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get hotspot: %w", err)
	}

	return h, nil
}

// GetHotspotByKeyword returns the hotspot with the exact keyword.
func (db *DB) GetHotspotByKeyword(ctx context.Context, keyword string) (*domain.Hotspot, error) {
	h, err := scanHotspot(db.Pool.QueryRow(ctx, `SELECT `+hotspotColumns("")+` FROM hotspots WHERE keyword = $1`, keyword))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("keyword %q: %w", keyword, coreerrors.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get hotspot by keyword: %w", err)
	}

	return h, nil
}

// FindNearestHotspot returns the closest embedded hotspot seen since
// seenSince, or nil when none exists. Equal distances prefer the most
// recently seen row.
func (db *DB) FindNearestHotspot(ctx context.Context, embedding []float32, seenSince time.Time) (*ports.SimilarHotspot, error) {
	var (
		id, clusterID pgtype.UUID
		res           ports.SimilarHotspot
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT id, cluster_id, keyword, 1 - (embedding <=> $1::vector) AS similarity, last_seen_at
		FROM hotspots
		WHERE embedding IS NOT NULL
		  AND ($2::timestamptz IS NULL OR last_seen_at >= $2)
		ORDER BY embedding <=> $1::vector, last_seen_at DESC
		LIMIT 1
	`, pgvector.NewVector(embedding), toTimestamptz(seenSince)).Scan(&id, &clusterID, &res.Keyword, &res.Similarity, &res.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // intentional: no neighbour is not an error
		}

		return nil, fmt.Errorf("find nearest hotspot: %w", err)
	}

	res.HotspotID = fromUUID(id)
	res.ClusterID = fromUUID(clusterID)

	return &res, nil
}

// MergeObservation appends obs unless an observation with the same key is
// already present. The key check and the append are one statement.
func (db *DB) MergeObservation(ctx context.Context, id string, obs domain.PlatformObservation) (bool, error) {
	appended, err := json.Marshal([]domain.PlatformObservation{obs})
	if err != nil {
		return false, fmt.Errorf("encode observation: %w", err)
	}

	probe, err := json.Marshal([]map[string]string{{"key": obs.Key}})
	if err != nil {
		return false, fmt.Errorf("encode observation key: %w", err)
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE hotspots SET
			platforms = platforms || $2::jsonb,
			appearance_count = appearance_count + 1,
			second_seen_at = CASE WHEN appearance_count = 1 AND second_seen_at IS NULL THEN $3::timestamptz ELSE second_seen_at END,
			last_seen_at = GREATEST(last_seen_at, $3::timestamptz),
			updated_at = now()
		WHERE id = $1 AND NOT platforms @> $4::jsonb
	`, toUUID(id), string(appended), obs.SeenAt, string(probe))
	if err != nil {
		return false, fmt.Errorf("merge observation: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return false, requireHotspotRow(ctx, db.Pool, id)
	}

	return true, nil
}

// TransitionStatus applies t in a single conditional update.
func (db *DB) TransitionStatus(ctx context.Context, t domain.Transition) (bool, error) {
	return transitionStatus(ctx, db.Pool, t)
}

func transitionStatus(ctx context.Context, q querier, t domain.Transition) (bool, error) {
	sql, args := buildTransition(t)

	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", t.From, t.To, err)
	}

	if tag.RowsAffected() == 0 {
		return false, requireHotspotRow(ctx, q, t.HotspotID)
	}

	return true, nil
}

func buildTransition(t domain.Transition) (string, []any) {
	var p placeholders

	set := []string{"status = " + p.add(string(t.To)), "updated_at = now()"}
	patch := t.Patch

	if patch.ScreenedAt != nil {
		set = append(set, "screened_at = "+p.add(*patch.ScreenedAt))
	}

	if patch.FilteredAt != nil {
		set = append(set,
			"is_filtered = true",
			"filter_reason = "+p.add(toText(patch.FilterReason)),
			"filtered_at = "+p.add(*patch.FilteredAt),
		)
	}

	if patch.SecondStageRejectedAt != nil {
		set = append(set,
			"second_stage_rejection_reason = "+p.add(toText(patch.SecondStageReason)),
			"second_stage_rejected_at = "+p.add(*patch.SecondStageRejectedAt),
		)
	}

	switch {
	case patch.ClearCrawlStartedAt:
		set = append(set, "crawl_started_at = NULL")
	case patch.CrawlStartedAt != nil:
		set = append(set, "crawl_started_at = "+p.add(*patch.CrawlStartedAt))
	}

	if patch.CountCrawlOn != nil {
		day := p.add(toDate(*patch.CountCrawlOn))
		set = append(set,
			"crawl_count = CASE WHEN crawl_count_day = "+day+"::date THEN crawl_count + 1 ELSE 1 END",
			"crawl_count_day = "+day+"::date",
		)
	}

	if patch.LastCrawledAt != nil {
		set = append(set, "last_crawled_at = "+p.add(*patch.LastCrawledAt))
	}

	if patch.IncrementCrawlFailed {
		set = append(set, "crawl_failed_count = crawl_failed_count + 1")
	}

	if patch.CrawlData != nil {
		set = append(set, "crawl_data = "+p.add(string(patch.CrawlData))+"::jsonb")
	}

	switch {
	case patch.ClearAnalysisStartedAt:
		set = append(set, "analysis_started_at = NULL")
	case patch.AnalysisStartedAt != nil:
		set = append(set, "analysis_started_at = "+p.add(*patch.AnalysisStartedAt))
	}

	where := []string{"id = " + p.add(toUUID(t.HotspotID)), "status = " + p.add(string(t.From))}

	if !t.LastSeenBefore.IsZero() {
		where = append(where, "last_seen_at < "+p.add(t.LastSeenBefore))
	}

	if !t.FirstSeenBefore.IsZero() {
		where = append(where, "first_seen_at < "+p.add(t.FirstSeenBefore))
	}

	if !t.CrawlStartedBefore.IsZero() {
		where = append(where, "crawl_started_at < "+p.add(t.CrawlStartedBefore))
	}

	if !t.AnalysisStartedBefore.IsZero() {
		where = append(where, "analysis_started_at < "+p.add(t.AnalysisStartedBefore))
	}

	if t.CrawlCap > 0 {
		where = append(where, "(crawl_count_day IS DISTINCT FROM "+p.add(toDate(t.CrawlCapDay))+
			"::date OR crawl_count < "+p.add(toInt4(t.CrawlCap))+")")
	}

	if !t.CooledBefore.IsZero() {
		where = append(where, "(last_crawled_at IS NULL OR last_crawled_at < "+p.add(t.CooledBefore)+")")
	}

	sql := "UPDATE hotspots SET " + strings.Join(set, ", ") + " WHERE " + strings.Join(where, " AND ")

	return sql, p.args
}

// MarkScreened records a keep judgment on an unscreened pending hotspot.
func (db *DB) MarkScreened(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE hotspots SET screened_at = $2, updated_at = now()
		WHERE id = $1 AND status = $3 AND screened_at IS NULL
	`, toUUID(id), at, string(domain.StatusPendingValidation))
	if err != nil {
		return false, fmt.Errorf("mark screened: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return false, requireHotspotRow(ctx, db.Pool, id)
	}

	return true, nil
}

// ListHotspots returns hotspots matching f.
func (db *DB) ListHotspots(ctx context.Context, f ports.HotspotFilter) ([]domain.Hotspot, error) {
	var (
		p     placeholders
		where []string
	)

	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+p.add(statusStrings(f.Statuses))+")")
	}

	if f.Screened != nil {
		if *f.Screened {
			where = append(where, "screened_at IS NOT NULL")
		} else {
			where = append(where, "screened_at IS NULL")
		}
	}

	if f.MinAppearances > 0 {
		where = append(where, "appearance_count >= "+p.add(toInt4(f.MinAppearances)))
	}

	if !f.LastSeenBefore.IsZero() {
		where = append(where, "last_seen_at < "+p.add(f.LastSeenBefore))
	}

	if !f.FirstSeenBefore.IsZero() {
		where = append(where, "first_seen_at < "+p.add(f.FirstSeenBefore))
	}

	if !f.CrawlStartedBefore.IsZero() {
		where = append(where, "crawl_started_at < "+p.add(f.CrawlStartedBefore))
	}

	if !f.AnalysisStartedBefore.IsZero() {
		where = append(where, "analysis_started_at < "+p.add(f.AnalysisStartedBefore))
	}

	sql := "SELECT " + hotspotColumns("") + " FROM hotspots"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	if f.Order == ports.OrderLastSeenDesc {
		sql += " ORDER BY last_seen_at DESC"
	} else {
		sql += " ORDER BY first_seen_at ASC"
	}

	sql += " LIMIT " + p.add(limitArg(f.Limit))

	rows, err := db.Pool.Query(ctx, sql, p.args...)
	if err != nil {
		return nil, fmt.Errorf("list hotspots: %w", err)
	}

	return collectHotspots(rows)
}

// ListCrawlEligible returns validated hotspots past the cooldown and under
// the daily cap, freshest first, one per cluster. A cluster with a live
// representative offers only that hotspot; otherwise its freshest eligible
// member is picked and recorded as the representative.
func (db *DB) ListCrawlEligible(ctx context.Context, q ports.CrawlEligibility) ([]domain.Hotspot, error) {
	rows, err := db.Pool.Query(ctx, `
		WITH live_rep AS (
			SELECT c.id AS cluster_id, c.selected_hotspot_id AS rep_id
			FROM clusters c
			JOIN hotspots r ON r.id = c.selected_hotspot_id AND r.cluster_id = c.id
			WHERE r.status <> ALL($6::text[])
		),
		picked AS (
			SELECT DISTINCT ON (COALESCE(h.cluster_id, h.id)) h.*
			FROM hotspots h
			LEFT JOIN live_rep lr ON lr.cluster_id = h.cluster_id
			WHERE h.status = $1
			  AND (h.last_crawled_at IS NULL OR h.last_crawled_at < $2)
			  AND (h.crawl_count_day IS DISTINCT FROM $3::date OR h.crawl_count < $4)
			  AND (lr.rep_id IS NULL OR lr.rep_id = h.id)
			ORDER BY COALESCE(h.cluster_id, h.id), h.last_seen_at DESC, h.id
		),
		adopted AS (
			UPDATE clusters c SET selected_hotspot_id = p.id, updated_at = now()
			FROM picked p
			WHERE c.id = p.cluster_id AND c.selected_hotspot_id IS DISTINCT FROM p.id
		)
		SELECT `+hotspotColumns("")+`
		FROM picked
		ORDER BY last_seen_at DESC
		LIMIT $5
	`, string(domain.StatusValidated), q.CooledBefore, toDate(q.Day), toInt4(q.DailyCap), limitArg(q.Limit),
		statusStrings(domain.RetiringStatuses()))
	if err != nil {
		return nil, fmt.Errorf("list crawl eligible: %w", err)
	}

	return collectHotspots(rows)
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}

	return out
}

// ReclaimAnalysis restamps analysis_started_at of a timed-out dispatch.
func (db *DB) ReclaimAnalysis(ctx context.Context, id string, startedBefore, now time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE hotspots SET analysis_started_at = $3, updated_at = now()
		WHERE id = $1 AND status = $4 AND analysis_started_at < $2
	`, toUUID(id), startedBefore, now, string(domain.StatusAnalyzing))
	if err != nil {
		return false, fmt.Errorf("reclaim analysis: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return false, requireHotspotRow(ctx, db.Pool, id)
	}

	return true, nil
}

// ListArchivable returns analyzed hotspots whose newest push item is settled.
func (db *DB) ListArchivable(ctx context.Context, n int) ([]domain.Hotspot, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+hotspotColumns("h")+`
		FROM hotspots h
		JOIN LATERAL (
			SELECT p.status FROM push_queue p
			WHERE p.hotspot_id = h.id
			ORDER BY p.created_at DESC
			LIMIT 1
		) latest ON true
		WHERE h.status = $1 AND latest.status <> $2
		ORDER BY h.first_seen_at
		LIMIT $3
	`, string(domain.StatusAnalyzed), string(domain.PushStatusPending), limitArg(n))
	if err != nil {
		return nil, fmt.Errorf("list archivable: %w", err)
	}

	return collectHotspots(rows)
}

// requireHotspotRow distinguishes a failed condition from a missing row.
func requireHotspotRow(ctx context.Context, q querier, id string) error {
	var exists bool

	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM hotspots WHERE id = $1)`, toUUID(id)).Scan(&exists); err != nil {
		return fmt.Errorf("check hotspot: %w", err)
	}

	if !exists {
		return fmt.Errorf("hotspot %s: %w", id, coreerrors.ErrNotFound)
	}

	return nil
}
