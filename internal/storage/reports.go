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

const reportColumns = "id, hotspot_id, report, score, priority, product_types, created_at"

func scanReport(row rowScanner) (*domain.BusinessReport, error) {
	var (
		id, hotspotID pgtype.UUID
		report        []byte
		priority      string
		r             domain.BusinessReport
	)

	if err := row.Scan(&id, &hotspotID, &report, &r.Score, &priority, &r.ProductTypes, &r.CreatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with the query name
	}

	p, err := domain.ParsePriority(priority)
	if err != nil {
		return nil, err
	}

	r.ID = fromUUID(id)
	r.HotspotID = fromUUID(hotspotID)
	r.Report = report
	r.Priority = p

	return &r, nil
}

// CompleteAnalysis applies the completion transition, stores the report and
// enqueues its push item in one transaction. A transition that no longer
// matches writes nothing and returns false.
func (db *DB) CompleteAnalysis(ctx context.Context, c ports.AnalysisCompletion) (bool, error) {
	applied := false

	err := db.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := transitionStatus(ctx, tx, c.Transition)
		if err != nil || !ok {
			return err
		}

		report := c.Report
		if err := insertReport(ctx, tx, &report); err != nil {
			return err
		}

		item := c.Push
		item.ReportID = report.ID

		if err := enqueuePush(ctx, tx, &item); err != nil {
			return err
		}

		applied = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

func insertReport(ctx context.Context, tx pgx.Tx, r *domain.BusinessReport) error {
	r.ID = newID(r.ID)

	productTypes := r.ProductTypes
	if productTypes == nil {
		productTypes = []string{}
	}

	body := string(r.Report)
	if body == "" {
		body = "{}"
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO business_reports (id, hotspot_id, report, score, priority, product_types)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6)
		RETURNING created_at
	`, toUUID(r.ID), toUUID(r.HotspotID), body, r.Score, string(r.Priority), productTypes).Scan(&r.CreatedAt); err != nil {
		return fmt.Errorf("insert business report: %w", err)
	}

	return nil
}

// GetReport returns the report with id.
func (db *DB) GetReport(ctx context.Context, id string) (*domain.BusinessReport, error) {
	r, err := scanReport(db.Pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM business_reports WHERE id = $1`, toUUID(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, coreerrors.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}

	return r, nil
}

// GetLatestReport returns the newest report of a hotspot.
func (db *DB) GetLatestReport(ctx context.Context, hotspotID string) (*domain.BusinessReport, error) {
	r, err := scanReport(db.Pool.QueryRow(ctx, `
		SELECT `+reportColumns+` FROM business_reports
		WHERE hotspot_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, toUUID(hotspotID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("report for %s: %w", hotspotID, coreerrors.ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get latest report: %w", err)
	}

	return r, nil
}
