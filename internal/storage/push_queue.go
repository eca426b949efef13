package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
	coreerrors "github.com/lueurxax/hotspot-engine/internal/core/errors"
	"github.com/lueurxax/hotspot-engine/internal/core/ports"
)

const pushColumns = `id, hotspot_id, report_id, keyword, priority, score, status, channels,
	scheduled_at, sent_at, retry_count, error_message, created_at, updated_at`

func scanPush(row rowScanner) (*domain.PushQueueItem, error) {
	var (
		id, hotspotID, reportID pgtype.UUID
		priority, status        string
		sentAt                  pgtype.Timestamptz
		retries                 int32
		errMsg                  pgtype.Text
		p                       domain.PushQueueItem
	)

	if err := row.Scan(&id, &hotspotID, &reportID, &p.Keyword, &priority, &p.Score, &status, &p.Channels,
		&p.ScheduledAt, &sentAt, &retries, &errMsg, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with the query name
	}

	pr, err := domain.ParsePriority(priority)
	if err != nil {
		return nil, err
	}

	p.ID = fromUUID(id)
	p.HotspotID = fromUUID(hotspotID)
	p.ReportID = fromUUID(reportID)
	p.Priority = pr
	p.Status = domain.PushStatus(status)
	p.SentAt = fromTimestamptzPtr(sentAt)
	p.RetryCount = int(retries)
	p.ErrorMessage = fromText(errMsg)

	return &p, nil
}

// gateTime truncates to the precision PostgreSQL stores, so claim times can
// be compared for equality after a round trip.
func gateTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// EnqueuePush inserts a pending item and supersedes older pending items of
// the same hotspot.
func (db *DB) EnqueuePush(ctx context.Context, item *domain.PushQueueItem) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		return enqueuePush(ctx, tx, item)
	})
}

func enqueuePush(ctx context.Context, tx pgx.Tx, item *domain.PushQueueItem) error {
	if _, err := tx.Exec(ctx, `
		UPDATE push_queue SET status = $2, error_message = $3, updated_at = now()
		WHERE hotspot_id = $1 AND status = $4
	`, toUUID(item.HotspotID), string(domain.PushStatusSuperseded), supersededMessage, string(domain.PushStatusPending)); err != nil {
		return fmt.Errorf("supersede pending pushes: %w", err)
	}

	item.ID = newID(item.ID)
	item.Status = domain.PushStatusPending

	channels := item.Channels
	if channels == nil {
		channels = []string{}
	}

	var scheduled pgtype.Timestamptz
	if !item.ScheduledAt.IsZero() {
		scheduled = toTimestamptz(item.ScheduledAt)
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO push_queue (id, hotspot_id, report_id, keyword, priority, priority_rank, score, status, channels, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10::timestamptz, now()))
		RETURNING scheduled_at, created_at, updated_at
	`, toUUID(item.ID), toUUID(item.HotspotID), toUUID(item.ReportID), SanitizeUTF8(item.Keyword),
		string(item.Priority), int16(item.Priority.Rank()), item.Score, string(item.Status), channels, scheduled,
	).Scan(&item.ScheduledAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return fmt.Errorf("insert push item: %w", err)
	}

	return nil
}

// LastSentAt returns the time of the most recent claimed send.
func (db *DB) LastSentAt(ctx context.Context) (*time.Time, error) {
	var last pgtype.Timestamptz

	if err := db.Pool.QueryRow(ctx, `SELECT last_sent_at FROM push_gate WHERE id = $1`, pushGateID).Scan(&last); err != nil {
		return nil, fmt.Errorf("read push gate: %w", err)
	}

	return fromTimestamptzPtr(last), nil
}

// ClaimNextPush reserves the global send slot and marks the best due item
// sent. The gate row lock serializes claimers across processes; nil means
// the interval has not elapsed or nothing is due.
func (db *DB) ClaimNextPush(ctx context.Context, now time.Time, minInterval time.Duration) (*ports.ClaimedPush, error) {
	var claimed *ports.ClaimedPush

	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var last pgtype.Timestamptz

		if err := tx.QueryRow(ctx, `SELECT last_sent_at FROM push_gate WHERE id = $1 FOR UPDATE`, pushGateID).Scan(&last); err != nil {
			return fmt.Errorf("lock push gate: %w", err)
		}

		prev := fromTimestamptzPtr(last)
		if prev != nil && now.Sub(*prev) < minInterval {
			return nil
		}

		item, err := scanPush(tx.QueryRow(ctx, `
			SELECT `+pushColumns+`
			FROM push_queue
			WHERE status = $1 AND scheduled_at <= $2
			ORDER BY priority_rank, score DESC, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, string(domain.PushStatusPending), now))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("select next push: %w", err)
		}

		sentAt := gateTime(now)

		if _, err := tx.Exec(ctx, `
			UPDATE push_queue SET status = $2, sent_at = $3, updated_at = now() WHERE id = $1
		`, toUUID(item.ID), string(domain.PushStatusSent), sentAt); err != nil {
			return fmt.Errorf("mark push sent: %w", err)
		}

		if _, err := tx.Exec(ctx, `UPDATE push_gate SET last_sent_at = $2 WHERE id = $1`, pushGateID, sentAt); err != nil {
			return fmt.Errorf("advance push gate: %w", err)
		}

		item.Status = domain.PushStatusSent
		item.SentAt = &sentAt
		claimed = &ports.ClaimedPush{Item: *item, SentAt: sentAt, PreviousSentAt: prev}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// ReleasePush reverts a claimed item after a failed delivery and hands the
// send slot back when no later claim took it.
func (db *DB) ReleasePush(ctx context.Context, f ports.PushFailure) (domain.PushStatus, error) {
	var status domain.PushStatus

	sentAt := gateTime(f.SentAt)

	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var st string

		err := tx.QueryRow(ctx, `
			UPDATE push_queue SET
				retry_count = retry_count + 1,
				error_message = $2,
				sent_at = NULL,
				status = CASE WHEN retry_count + 1 > $3 THEN $6 ELSE $7 END,
				scheduled_at = CASE WHEN retry_count + 1 > $3 THEN scheduled_at ELSE $4::timestamptz END,
				updated_at = now()
			WHERE id = $1 AND status = $8 AND sent_at = $5
			RETURNING status
		`, toUUID(f.ItemID), toText(f.Error), toInt4(f.MaxRetries), f.RetryAt, sentAt,
			string(domain.PushStatusFailed), string(domain.PushStatusPending), string(domain.PushStatusSent),
		).Scan(&st)
		if errors.Is(err, pgx.ErrNoRows) {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM push_queue WHERE id = $1)`, toUUID(f.ItemID)).Scan(&exists); err != nil {
				return fmt.Errorf("check push item: %w", err)
			}

			if !exists {
				return fmt.Errorf("push %s: %w", f.ItemID, coreerrors.ErrNotFound)
			}

			return fmt.Errorf("push %s: %w", f.ItemID, coreerrors.ErrConflict)
		}

		if err != nil {
			return fmt.Errorf("release push: %w", err)
		}

		status = domain.PushStatus(st)

		if _, err := tx.Exec(ctx, `
			UPDATE push_gate SET last_sent_at = $2 WHERE id = $1 AND last_sent_at = $3
		`, pushGateID, toTimestamptzPtr(f.PreviousSentAt), sentAt); err != nil {
			return fmt.Errorf("restore push gate: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return status, nil
}

// GetPushItem returns the push item with id.
func (db *DB) GetPushItem(ctx context.Context, id string) (*domain.PushQueueItem, error) {
	p, err := scanPush(db.Pool.QueryRow(ctx, `SELECT `+pushColumns+` FROM push_queue WHERE id = $1`, toUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("push %s: %w", id, coreerrors.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get push item: %w", err)
	}

	return p, nil
}

// CountPendingPushes returns the number of pending push items.
func (db *DB) CountPendingPushes(ctx context.Context) (int, error) {
	var n int

	if err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM push_queue WHERE status = $1`, string(domain.PushStatusPending)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending pushes: %w", err)
	}

	return n, nil
}
