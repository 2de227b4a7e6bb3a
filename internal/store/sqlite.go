package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    auto_declare_winner INTEGER NOT NULL DEFAULT 0,
    test_type TEXT NOT NULL DEFAULT 'ab',
    start_date INTEGER,
    winner_variant TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_eligible ON experiments(status, auto_declare_winner, start_date);

CREATE TABLE IF NOT EXISTS variants (
    experiment_id TEXT NOT NULL,
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    is_control INTEGER NOT NULL DEFAULT 0,
    traffic_allocation REAL NOT NULL DEFAULT 0,
    impressions INTEGER NOT NULL DEFAULT 0,
    clicks INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    revenue REAL NOT NULL DEFAULT 0,
    bounce_rate REAL,
    time_on_page REAL,
    engagement_rate REAL,
    start_date INTEGER,
    PRIMARY KEY (experiment_id, id),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS conclusions (
    id TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL,
    action TEXT NOT NULL,
    status TEXT NOT NULL,
    winner_variant TEXT,
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_conclusions_experiment ON conclusions(experiment_id, created_at);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const experimentColumns = `id, name, status, auto_declare_winner, test_type, start_date, winner_variant, created_at, updated_at`

func (s *SQLiteStore) CreateExperiment(ctx context.Context, exp *Experiment) error {
	if exp.Status == "" {
		exp.Status = StatusDraft
	}
	if exp.TestType == "" {
		exp.TestType = "ab"
	}

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (`+experimentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.Name, string(exp.Status), exp.AutoDeclareWinner, exp.TestType,
		nullableUnix(exp.StartDate), nullableString(exp.WinnerVariant), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	exp.CreatedAt = time.Unix(now, 0)
	exp.UpdatedAt = exp.CreatedAt
	return nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id,
	)

	exp, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	return collectExperiments(rows)
}

// ListEligible returns running experiments that auto-declare winners and
// started at least minAge before now, oldest first.
func (s *SQLiteStore) ListEligible(ctx context.Context, minAge time.Duration, now time.Time) ([]*Experiment, error) {
	cutoff := now.Add(-minAge).Unix()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE status = ? AND auto_declare_winner = 1
		   AND start_date IS NOT NULL AND start_date <= ?
		 ORDER BY start_date, id`,
		string(StatusRunning), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible experiments: %w", err)
	}
	defer rows.Close()

	return collectExperiments(rows)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status ExperimentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid experiment status %q", status)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update experiment status: %w", err)
	}
	return requireRow(result)
}

// SetWinner records the winning variant and marks the experiment completed.
func (s *SQLiteStore) SetWinner(ctx context.Context, id, variantID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = ?, winner_variant = ?, updated_at = ? WHERE id = ?`,
		string(StatusCompleted), variantID, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set winner: %w", err)
	}
	return requireRow(result)
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	return requireRow(result)
}

// UpsertVariant inserts a variant or replaces its metrics.
func (s *SQLiteStore) UpsertVariant(ctx context.Context, v *Variant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variants (experiment_id, id, name, is_control, traffic_allocation,
			impressions, clicks, conversions, revenue, bounce_rate, time_on_page, engagement_rate, start_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (experiment_id, id) DO UPDATE SET
			name = excluded.name,
			is_control = excluded.is_control,
			traffic_allocation = excluded.traffic_allocation,
			impressions = excluded.impressions,
			clicks = excluded.clicks,
			conversions = excluded.conversions,
			revenue = excluded.revenue,
			bounce_rate = excluded.bounce_rate,
			time_on_page = excluded.time_on_page,
			engagement_rate = excluded.engagement_rate,
			start_date = excluded.start_date`,
		v.ExperimentID, v.ID, v.Name, v.IsControl, v.TrafficAllocation,
		v.Impressions, v.Clicks, v.Conversions, v.Revenue,
		nullableFloat(v.BounceRate), nullableFloat(v.TimeOnPage), nullableFloat(v.EngagementRate),
		nullableUnix(v.StartDate),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert variant: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetVariants(ctx context.Context, experimentID string) ([]*Variant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT experiment_id, id, name, is_control, traffic_allocation,
			impressions, clicks, conversions, revenue, bounce_rate, time_on_page, engagement_rate, start_date
		FROM variants
		WHERE experiment_id = ?
		ORDER BY is_control DESC, id`, experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get variants: %w", err)
	}
	defer rows.Close()

	var variants []*Variant
	for rows.Next() {
		var v Variant
		var bounce, timeOnPage, engagement sql.NullFloat64
		var startDate sql.NullInt64

		err := rows.Scan(&v.ExperimentID, &v.ID, &v.Name, &v.IsControl, &v.TrafficAllocation,
			&v.Impressions, &v.Clicks, &v.Conversions, &v.Revenue,
			&bounce, &timeOnPage, &engagement, &startDate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}

		v.BounceRate = floatPtr(bounce)
		v.TimeOnPage = floatPtr(timeOnPage)
		v.EngagementRate = floatPtr(engagement)
		v.StartDate = timePtr(startDate)
		variants = append(variants, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate variants: %w", err)
	}

	return variants, nil
}

func (s *SQLiteStore) SaveConclusion(ctx context.Context, c *Conclusion) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conclusions (id, experiment_id, action, status, winner_variant, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ExperimentID, c.Action, c.Status, nullableString(c.WinnerVariant),
		string(c.Payload), c.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conclusion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestConclusion(ctx context.Context, experimentID string) (*Conclusion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, experiment_id, action, status, winner_variant, payload, created_at
		 FROM conclusions WHERE experiment_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, experimentID,
	)

	c, err := scanConclusion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conclusion: %w", err)
	}
	return c, nil
}

// ListConclusions returns every conclusion for an experiment, newest first.
// An empty experimentID lists all conclusions.
func (s *SQLiteStore) ListConclusions(ctx context.Context, experimentID string) ([]*Conclusion, error) {
	query := `SELECT id, experiment_id, action, status, winner_variant, payload, created_at FROM conclusions`
	var args []any
	if experimentID != "" {
		query += ` WHERE experiment_id = ?`
		args = append(args, experimentID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conclusions: %w", err)
	}
	defer rows.Close()

	var out []*Conclusion
	for rows.Next() {
		c, err := scanConclusion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conclusion: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conclusions: %w", err)
	}
	return out, nil
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row scanner) (*Experiment, error) {
	var exp Experiment
	var startDate sql.NullInt64
	var winner sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&exp.ID, &exp.Name, &exp.Status, &exp.AutoDeclareWinner, &exp.TestType,
		&startDate, &winner, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	exp.StartDate = timePtr(startDate)
	exp.WinnerVariant = winner.String
	exp.CreatedAt = time.Unix(createdAt, 0)
	exp.UpdatedAt = time.Unix(updatedAt, 0)
	return &exp, nil
}

func collectExperiments(rows *sql.Rows) ([]*Experiment, error) {
	var out []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate experiments: %w", err)
	}
	return out, nil
}

func scanConclusion(row scanner) (*Conclusion, error) {
	var c Conclusion
	var winner sql.NullString
	var payload string
	var createdAt int64

	if err := row.Scan(&c.ID, &c.ExperimentID, &c.Action, &c.Status, &winner, &payload, &createdAt); err != nil {
		return nil, err
	}
	c.WinnerVariant = winner.String
	c.Payload = []byte(payload)
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0)
	return &t
}
