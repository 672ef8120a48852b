package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// defaultListLimit caps ListRuns when no limit is given.
const defaultListLimit = 50

// Repository defines the interface for run-history persistence.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, outcome, errMsg string, totals Totals) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	RecordCycle(ctx context.Context, c Cycle) error
	ListCycles(ctx context.Context, runID uuid.UUID) ([]Cycle, error)

	RecordCrash(ctx context.Context, c Crash) error
	ListCrashes(ctx context.Context, runID uuid.UUID) ([]Crash, error)

	RecordSearch(ctx context.Context, s Search) error
	CountSearches(ctx context.Context, runID uuid.UUID) (total, found int, err error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed history repository.
// The schema comes from the migrations package.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// CreateRun inserts a run that has just started.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	const query = `INSERT INTO runs (id, bot, script, device_serial, started_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		run.ID.String(), run.Bot, run.Script, run.DeviceSerial, formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun records a run's outcome and final counters.
func (r *SQLiteRepository) FinishRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, outcome, errMsg string, totals Totals) error {
	const query = `UPDATE runs SET finished_at = ?, outcome = ?, error = ?,
		cycles = ?, actions = ?, clicks = ?, swipes = ?, images_found = ?,
		images_not_found = ?, errors = ?, crashes = ?, recoveries = ?, recoveries_dropped = ?
		WHERE id = ? AND finished_at IS NULL`
	res, err := r.db.ExecContext(ctx, query,
		formatTime(finishedAt), outcome, nullString(errMsg),
		totals.Cycles, totals.Actions, totals.Clicks, totals.Swipes, totals.ImagesFound,
		totals.ImagesNotFound, totals.Errors, totals.Crashes, totals.Recoveries, totals.RecoveriesDropped,
		id.String())
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", id, err)
	}
	if n == 0 {
		if _, err := r.GetRun(ctx, id); err != nil {
			return err
		}
		return ErrRunFinished
	}
	return nil
}

const runColumns = `id, bot, script, device_serial, started_at, finished_at, outcome, error,
	cycles, actions, clicks, swipes, images_found, images_not_found, errors,
	crashes, recoveries, recoveries_dropped`

// GetRun returns a single run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if filter.Bot != "" {
		query += ` WHERE bot = ?`
		args = append(args, filter.Bot)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}
	return runs, nil
}

// RecordCycle inserts a completed cycle.
func (r *SQLiteRepository) RecordCycle(ctx context.Context, c Cycle) error {
	const query = `INSERT INTO cycles (run_id, cycle, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		c.RunID.String(), c.Cycle, formatTime(c.StartedAt), c.Duration.Milliseconds(), nullString(c.Error))
	if err != nil {
		return fmt.Errorf("inserting cycle %d of run %s: %w", c.Cycle, c.RunID, err)
	}
	return nil
}

// ListCycles returns a run's cycles in order.
func (r *SQLiteRepository) ListCycles(ctx context.Context, runID uuid.UUID) ([]Cycle, error) {
	const query = `SELECT cycle, started_at, duration_ms, error
		FROM cycles WHERE run_id = ? ORDER BY cycle`
	rows, err := r.db.QueryContext(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		c := Cycle{RunID: runID}
		var startedAt string
		var durationMS int64
		var errMsg sql.NullString
		if err := rows.Scan(&c.Cycle, &startedAt, &durationMS, &errMsg); err != nil {
			return nil, fmt.Errorf("scanning cycle row: %w", err)
		}
		c.StartedAt = parseTime(startedAt)
		c.Duration = time.Duration(durationMS) * time.Millisecond
		c.Error = errMsg.String
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cycle rows: %w", err)
	}
	return cycles, nil
}

// RecordCrash inserts a crash detection.
func (r *SQLiteRepository) RecordCrash(ctx context.Context, c Crash) error {
	const query = `INSERT INTO crash_events (run_id, package, line, action, dropped, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		c.RunID.String(), c.Package, c.Line, c.Action, c.Dropped, formatTime(c.DetectedAt))
	if err != nil {
		return fmt.Errorf("inserting crash event for run %s: %w", c.RunID, err)
	}
	return nil
}

// ListCrashes returns a run's crash detections oldest first.
func (r *SQLiteRepository) ListCrashes(ctx context.Context, runID uuid.UUID) ([]Crash, error) {
	const query = `SELECT package, line, action, dropped, detected_at
		FROM crash_events WHERE run_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, runID.String())
	if err != nil {
		return nil, fmt.Errorf("querying crash events: %w", err)
	}
	defer rows.Close()

	var crashes []Crash
	for rows.Next() {
		c := Crash{RunID: runID}
		var detectedAt string
		if err := rows.Scan(&c.Package, &c.Line, &c.Action, &c.Dropped, &detectedAt); err != nil {
			return nil, fmt.Errorf("scanning crash row: %w", err)
		}
		c.DetectedAt = parseTime(detectedAt)
		crashes = append(crashes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating crash rows: %w", err)
	}
	return crashes, nil
}

// RecordSearch inserts an image-search result.
func (r *SQLiteRepository) RecordSearch(ctx context.Context, s Search) error {
	const query = `INSERT INTO searches (run_id, module, image, found, confidence, x, y,
		polls, duration_ms, searched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		s.RunID.String(), s.Module, nullString(s.Image), s.Found, s.Confidence,
		nullInt(s.X), nullInt(s.Y), s.Polls, s.Duration.Milliseconds(), formatTime(s.SearchedAt))
	if err != nil {
		return fmt.Errorf("inserting search for run %s: %w", s.RunID, err)
	}
	return nil
}

// CountSearches returns how many searches a run made and how many found
// an image.
func (r *SQLiteRepository) CountSearches(ctx context.Context, runID uuid.UUID) (total, found int, err error) {
	const query = `SELECT COUNT(*), COALESCE(SUM(found), 0) FROM searches WHERE run_id = ?`
	if err := r.db.QueryRowContext(ctx, query, runID.String()).Scan(&total, &found); err != nil {
		return 0, 0, fmt.Errorf("counting searches: %w", err)
	}
	return total, found, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var id, startedAt string
	var finishedAt, outcome, errMsg sql.NullString
	t := &run.Totals

	err := row.Scan(&id, &run.Bot, &run.Script, &run.DeviceSerial, &startedAt,
		&finishedAt, &outcome, &errMsg,
		&t.Cycles, &t.Actions, &t.Clicks, &t.Swipes, &t.ImagesFound, &t.ImagesNotFound,
		&t.Errors, &t.Crashes, &t.Recoveries, &t.RecoveriesDropped)
	if err != nil {
		return nil, err
	}

	run.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing run id %q: %w", id, err)
	}
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		ft := parseTime(finishedAt.String)
		run.FinishedAt = &ft
	}
	run.Outcome = outcome.String
	run.Error = errMsg.String
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime returns the zero time for values not written by formatTime.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
