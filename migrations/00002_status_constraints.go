package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/lueurxax/hotspot-engine/internal/core/domain"
)

func init() {
	goose.AddMigrationContext(upStatusConstraints, downStatusConstraints)
}

type checkConstraint struct {
	table string
	name  string
	expr  string
}

// statusConstraints derives every enumerated CHECK from the domain types, so
// the allowed values are defined once.
func statusConstraints() []checkConstraint {
	statuses := make([]string, 0, len(domain.AllStatuses()))
	for _, s := range domain.AllStatuses() {
		statuses = append(statuses, string(s))
	}

	pushStatuses := make([]string, 0, len(domain.AllPushStatuses()))
	for _, s := range domain.AllPushStatuses() {
		pushStatuses = append(pushStatuses, string(s))
	}

	priorities := make([]string, 0, len(domain.AllPriorities()))
	for _, p := range domain.AllPriorities() {
		priorities = append(priorities, string(p))
	}

	signalStatuses := []string{domain.SignalStatusPending, domain.SignalStatusProcessing, domain.SignalStatusDone}

	return []checkConstraint{
		{table: "hotspots", name: "hotspots_status_check", expr: inList("status", statuses)},
		{
			table: "hotspots",
			name:  "hotspots_crawl_started_check",
			expr:  fmt.Sprintf("crawl_started_at IS NULL OR status = %s", quote(string(domain.StatusCrawling))),
		},
		{table: "business_reports", name: "business_reports_priority_check", expr: inList("priority", priorities)},
		{table: "push_queue", name: pushStatusCheck, expr: inList("status", pushStatuses)},
		{table: "push_queue", name: "push_queue_priority_check", expr: inList("priority", priorities)},
		{table: "raw_signals", name: "raw_signals_status_check", expr: inList("status", signalStatuses)},
	}
}

func upStatusConstraints(ctx context.Context, tx *sql.Tx) error {
	for _, c := range statusConstraints() {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s)", c.table, c.name, c.expr)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add constraint %s: %w", c.name, err)
		}
	}

	return nil
}

func downStatusConstraints(ctx context.Context, tx *sql.Tx) error {
	for _, c := range statusConstraints() {
		stmt := fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s", c.table, c.name)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop constraint %s: %w", c.name, err)
		}
	}

	return nil
}

func inList(column string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}

	return fmt.Sprintf("%s IN (%s)", column, strings.Join(quoted, ", "))
}

func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
