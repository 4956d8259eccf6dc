package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is consistent.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_open_window",
			SQL: `SELECT case_id, COUNT(*) FROM deadline_windows
                  WHERE closed_at IS NULL
                  GROUP BY case_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_single_active_arbitration",
			SQL: `SELECT case_id, COUNT(*) FROM arbitration_requests
                  WHERE status IN ('REQUESTED','IN_PROGRESS')
                  GROUP BY case_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_event_seq_contiguous",
			SQL: `WITH seqs AS (
                      SELECT case_id, seq,
                             LAG(seq) OVER (PARTITION BY case_id ORDER BY seq) AS prev
                      FROM case_events)
                  SELECT * FROM seqs WHERE (prev IS NULL AND seq <> 1) OR (prev IS NOT NULL AND seq <> prev + 1)`,
		},
		{
			Name: "O4_event_version_monotonic",
			SQL: `WITH v AS (
                      SELECT case_id, seq, version,
                             LAG(version) OVER (PARTITION BY case_id ORDER BY seq) AS prev
                      FROM case_events)
                  SELECT * FROM v WHERE prev IS NOT NULL AND version < prev`,
		},
		{
			Name: "O5_case_version_covers_events",
			SQL: `SELECT c.id, c.version, MAX(e.version) FROM dispute_cases c
                  JOIN case_events e ON e.case_id = c.id
                  GROUP BY c.id, c.version HAVING MAX(e.version) <> c.version`,
		},
		{
			Name: "O6_finalized_is_closed",
			SQL: `SELECT c.id FROM dispute_cases c
                  WHERE c.phase = 'FINALIZED' AND (
                      EXISTS (SELECT 1 FROM deadline_windows w WHERE w.case_id = c.id AND w.closed_at IS NULL)
                   OR EXISTS (SELECT 1 FROM arbitration_requests a WHERE a.case_id = c.id AND a.status IN ('REQUESTED','IN_PROGRESS')))`,
		},
		{
			Name: "O7_open_window_matches_phase",
			SQL: `SELECT c.id, c.phase, w.phase FROM dispute_cases c
                  JOIN deadline_windows w ON w.case_id = c.id AND w.closed_at IS NULL
                  WHERE w.phase <> c.phase`,
		},
		{
			Name: "O8_decided_has_appeal_deadline",
			SQL: `SELECT id FROM arbitration_requests
                  WHERE status = 'DECIDED' AND (appeal_deadline IS NULL OR fee_rule IS NULL)`,
		},
		{
			Name: "O9_events_append_only_guard",
			SQL: `SELECT 'missing_append_only_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='case_events_no_update')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
