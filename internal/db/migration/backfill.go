package migration

func init() {
	register("20260901_backfill_task_closure", backfillTaskClosure)
	register("20260915_backfill_time_rollups", backfillTimeRollups)
}

// backfillTaskClosure derives closure pairs from stored task paths for rows
// written before the closure index existed.
func backfillTaskClosure(m *Migration) error {
	res := m.DB.Exec(`
INSERT OR IGNORE INTO task_closure(ancestor_id, descendant_id, distance)
SELECT j.value, t.id, json_array_length(t.path) - 1 - j.key
FROM tasks t, json_each(t.path) j
WHERE t.path IS NOT NULL AND json_valid(t.path)
`)
	if res.Error != nil {
		return res.Error
	}
	m.Log("closure pairs inserted: ", res.RowsAffected)
	return nil
}

// backfillTimeRollups creates the rollup row of every time-bearing item that
// lacks one, seeded from its closed intervals.
func backfillTimeRollups(m *Migration) error {
	res := m.DB.Exec(`
INSERT INTO time_rollups(item_id, minutes_total, segments_count)
SELECT ti.id,
       COALESCE(SUM(CASE WHEN iv.end_at IS NOT NULL THEN iv.duration_minutes ELSE 0 END), 0),
       COALESCE(SUM(CASE WHEN iv.end_at IS NOT NULL THEN 1 ELSE 0 END), 0)
FROM timeline_items ti
LEFT JOIN time_intervals iv ON iv.item_id = ti.id
WHERE ti.kind <> 'memory'
  AND NOT EXISTS (SELECT 1 FROM time_rollups r WHERE r.item_id = ti.id)
GROUP BY ti.id
`)
	if res.Error != nil {
		return res.Error
	}
	m.Log("rollups created: ", res.RowsAffected)
	return nil
}
