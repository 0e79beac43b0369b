package queue

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"curator/internal/status"
)

// CostRow is one aggregated line of the cost report.
type CostRow struct {
	Key    string
	Tokens float64
	Calls  int
}

const tokenMetricName = "tokens_total"

// CostByDay aggregates token usage per calendar day since the given time.
func (s *Store) CostByDay(ctx context.Context, since time.Time) ([]CostRow, error) {
	return s.costBy(ctx, "date(created_at)", since)
}

// CostByAgent aggregates token usage per agent since the given time.
func (s *Store) CostByAgent(ctx context.Context, since time.Time) ([]CostRow, error) {
	return s.costBy(ctx, "COALESCE(agent, 'unknown')", since)
}

// CostByModel aggregates token usage per model since the given time.
func (s *Store) CostByModel(ctx context.Context, since time.Time) ([]CostRow, error) {
	return s.costBy(ctx, "COALESCE(model, 'unknown')", since)
}

func (s *Store) costBy(ctx context.Context, keyExpr string, since time.Time) ([]CostRow, error) {
	query, args, err := sq.Select(keyExpr+" AS k", "SUM(value)", "COUNT(1)").
		From("run_metric").
		Where(sq.Eq{"name": tokenMetricName}).
		Where(sq.GtOrEq{"created_at": since.UTC().Format(time.RFC3339Nano)}).
		GroupBy("k").
		OrderBy("k").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cost query: %w", err)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cost: %w", err)
	}
	defer rows.Close()

	var out []CostRow
	for rows.Next() {
		var row CostRow
		if err := rows.Scan(&row.Key, &row.Tokens, &row.Calls); err != nil {
			return nil, fmt.Errorf("scan cost row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for code, count := range stats {
		health.Total += count
		switch {
		case status.IsTerminal(code):
			health.Terminal += count
		case status.IsWorking(code):
			health.Working += count
		case code >= 300 && code < 400:
			health.Review += count
		case status.IsReady(code):
			health.Ready += count
		}
	}
	return health, nil
}

// RecentTransitions counts audit rows recorded since the given time.
func (s *Store) RecentTransitions(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT COUNT(1) FROM transition_log WHERE created_at >= ?`,
		since.UTC().Format(time.RFC3339Nano),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent transitions: %w", err)
	}
	return count, nil
}
