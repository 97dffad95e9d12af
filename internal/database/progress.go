package database

import (
	"context"
	"fmt"

	"sar/internal/model"
)

var progressColumns = []string{
	"period", "division_id", "division_name", "system_id", "system_name", "total", "completed",
}

func (db *DB) ListProgress(ctx context.Context, f model.ProgressFilter) ([]model.UARProgress, error) {
	rows, err := db.query(ctx, "database.ListProgress", progressListQuery(f))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.UARProgress{}
	for rows.Next() {
		var p model.UARProgress
		if err := rows.Scan(&p.Period, &p.DivisionID, &p.DivisionName, &p.SystemID, &p.SystemName,
			&p.Total, &p.Completed); err != nil {
			return nil, fmt.Errorf("database.ListProgress scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertProgress writes rows keyed by period, division and system.
func (db *DB) UpsertProgress(ctx context.Context, rows []model.UARProgress) error {
	if len(rows) == 0 {
		return nil
	}
	q := psql.Insert("uar_progress").Columns(progressColumns...)
	for _, p := range rows {
		q = q.Values(p.Period, p.DivisionID, p.DivisionName, p.SystemID, p.SystemName, p.Total, p.Completed)
	}
	q = q.Suffix(`ON CONFLICT (period, division_id, system_id) DO UPDATE SET
		division_name = EXCLUDED.division_name,
		system_name = EXCLUDED.system_name,
		total = EXCLUDED.total,
		completed = EXCLUDED.completed`)
	_, err := db.exec(ctx, "database.UpsertProgress", q)
	return err
}
