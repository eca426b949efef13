package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
)

const signalColumns = `id, keyword, platform, rank, heat, seen_at, keep, reason, status, attempts,
	next_retry_at, claimed_at, hotspot_id, action, last_error, created_at`

func scanSignal(row rowScanner) (*domain.RawSignal, error) {
	var (
		id, hotspotID                         pgtype.UUID
		rank, attempts                        int32
		heat, seenAt, reason, action, lastErr pgtype.Text
		keep                                  pgtype.Bool
		nextRetry, claimed                    pgtype.Timestamptz
		s                                     domain.RawSignal
	)

	if err := row.Scan(&id, &s.Keyword, &s.Platform, &rank, &heat, &seenAt, &keep, &reason, &s.Status, &attempts,
		&nextRetry, &claimed, &hotspotID, &action, &lastErr, &s.CreatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with the query name
	}

	s.ID = fromUUID(id)
	s.Rank = int(rank)
	s.Heat = fromText(heat)
	s.SeenAt = fromText(seenAt)
	s.Attempts = int(attempts)
	s.NextRetryAt = fromTimestamptzPtr(nextRetry)
	s.ClaimedAt = fromTimestamptzPtr(claimed)
	s.HotspotID = fromUUID(hotspotID)
	s.Action = fromText(action)
	s.LastError = fromText(lastErr)

	if keep.Valid {
		s.Judgment = &domain.Judgment{Keep: keep.Bool, Reason: fromText(reason)}
	}

	return &s, nil
}

// SaveSignal inserts a pending signal into the inbox.
func (db *DB) SaveSignal(ctx context.Context, sig *domain.RawSignal) error {
	sig.ID = newID(sig.ID)
	sig.Status = domain.SignalStatusPending

	var (
		keep   pgtype.Bool
		reason pgtype.Text
	)

	if sig.Judgment != nil {
		keep = pgtype.Bool{Bool: sig.Judgment.Keep, Valid: true}
		reason = toText(sig.Judgment.Reason)
	}

	if err := db.Pool.QueryRow(ctx, `
		INSERT INTO raw_signals (id, keyword, platform, rank, heat, seen_at, keep, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, toUUID(sig.ID), SanitizeUTF8(sig.Keyword), SanitizeUTF8(sig.Platform), toInt4(sig.Rank),
		toText(sig.Heat), toText(sig.SeenAt), keep, reason, sig.Status,
	).Scan(&sig.CreatedAt); err != nil {
		return fmt.Errorf("save signal: %w", err)
	}

	return nil
}

// ClaimSignals moves up to n due pending signals to processing, oldest first.
// Rows locked by another claimer are skipped.
func (db *DB) ClaimSignals(ctx context.Context, n int, now time.Time) ([]domain.RawSignal, error) {
	rows, err := db.Pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM raw_signals
			WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= $2)
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE raw_signals s SET
			status = $4, claimed_at = $2, attempts = s.attempts + 1, updated_at = now()
		FROM due
		WHERE s.id = due.id
		RETURNING `+prefixed("s", signalColumns),
		domain.SignalStatusPending, now, limitArg(n), domain.SignalStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("claim signals: %w", err)
	}
	defer rows.Close()

	var out []domain.RawSignal

	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}

		out = append(out, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

// CompleteSignal marks a signal done with the ingestion result.
func (db *DB) CompleteSignal(ctx context.Context, id, hotspotID, action string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE raw_signals SET status = $2, hotspot_id = $3, action = $4, last_error = NULL, updated_at = now()
		WHERE id = $1
	`, toUUID(id), domain.SignalStatusDone, toUUID(hotspotID), toText(action))
	if err != nil {
		return fmt.Errorf("complete signal: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("signal %s: %w", id, coreerrors.ErrNotFound)
	}

	return nil
}

// ReleaseSignal returns a signal to pending for a retry after retryAt.
func (db *DB) ReleaseSignal(ctx context.Context, id string, retryAt time.Time, errMsg string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE raw_signals SET status = $2, next_retry_at = $3, claimed_at = NULL, last_error = $4, updated_at = now()
		WHERE id = $1
	`, toUUID(id), domain.SignalStatusPending, retryAt, toText(SanitizeUTF8(errMsg)))
	if err != nil {
		return fmt.Errorf("release signal: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("signal %s: %w", id, coreerrors.ErrNotFound)
	}

	return nil
}

// RecoverStuckSignals returns processing signals claimed before claimedBefore
// to pending.
func (db *DB) RecoverStuckSignals(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE raw_signals SET status = $1, claimed_at = NULL, updated_at = now()
		WHERE status = $2 AND claimed_at < $3
	`, domain.SignalStatusPending, domain.SignalStatusProcessing, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("recover stuck signals: %w", err)
	}

	return tag.RowsAffected(), nil
}
