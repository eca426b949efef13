package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
)

const (
	pushStatusCheck = "push_queue_status_check"
	// supersededMessage matches the error the store records on replaced items.
	supersededMessage = "superseded by newer report"
)

func init() {
	goose.AddMigrationContext(upPushSuperseded, downPushSuperseded)
}

// upPushSuperseded refreshes the push status constraint so it admits
// superseded, then relabels items that were superseded before the status
// existed.
func upPushSuperseded(ctx context.Context, tx *sql.Tx) error {
	if err := replacePushStatusCheck(ctx, tx, domain.AllPushStatuses()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE push_queue SET status = $1 WHERE status = $2 AND error_message = $3`,
		string(domain.PushStatusSuperseded), string(domain.PushStatusFailed), supersededMessage); err != nil {
		return fmt.Errorf("relabel superseded pushes: %w", err)
	}

	return nil
}

func downPushSuperseded(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `UPDATE push_queue SET status = $1 WHERE status = $2`,
		string(domain.PushStatusFailed), string(domain.PushStatusSuperseded)); err != nil {
		return fmt.Errorf("fold superseded pushes: %w", err)
	}

	var legacy []domain.PushStatus

	for _, s := range domain.AllPushStatuses() {
		if s != domain.PushStatusSuperseded {
			legacy = append(legacy, s)
		}
	}

	return replacePushStatusCheck(ctx, tx, legacy)
}

func replacePushStatusCheck(ctx context.Context, tx *sql.Tx, statuses []domain.PushStatus) error {
	for _, stmt := range pushStatusCheckStatements(statuses) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("replace %s: %w", pushStatusCheck, err)
		}
	}

	return nil
}

func pushStatusCheckStatements(statuses []domain.PushStatus) []string {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	return []string{
		"ALTER TABLE push_queue DROP CONSTRAINT IF EXISTS " + pushStatusCheck,
		fmt.Sprintf("ALTER TABLE push_queue ADD CONSTRAINT %s CHECK (%s)", pushStatusCheck, inList("status", values)),
	}
}
