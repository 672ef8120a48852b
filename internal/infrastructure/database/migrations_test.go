package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

// testMigrations is a two-step schema used across the migration tests.
func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"sql/20261001_120000_create_runs.up.sql": {
			Data: []byte("CREATE TABLE test_runs (id TEXT PRIMARY KEY, bot TEXT NOT NULL);"),
		},
		"sql/20261001_120000_create_runs.down.sql": {
			Data: []byte("DROP TABLE test_runs;"),
		},
		"sql/20261002_090000_add_outcome.up.sql": {
			Data: []byte("ALTER TABLE test_runs ADD COLUMN outcome TEXT;"),
		},
		"sql/README.md": {Data: []byte("ignored")},
	}
}

func TestMigrate(t *testing.T) {
	t.Cleanup(RegisterMigrations(testMigrations(), "sql"))

	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if _, err := db.ExecContext(ctx,
		"INSERT INTO test_runs (id, bot, outcome) VALUES (?, ?, ?)", "r1", "farm", "completed",
	); err != nil {
		t.Fatalf("insert after migrate: %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	// Running again should be idempotent
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "20261002_090000" {
		t.Errorf("SchemaVersion() = %q, want 20261002_090000", version)
	}
}

func TestMigrateDown(t *testing.T) {
	t.Cleanup(RegisterMigrations(testMigrations(), "sql"))

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// The newest migration has no down file.
	if err := db.MigrateDown(ctx); err == nil {
		t.Fatal("MigrateDown() expected error for migration without down SQL")
	}

	// Roll back to a state where the newest applied step is reversible.
	if _, err := db.ExecContext(ctx,
		"DELETE FROM schema_migrations WHERE version = ?", "20261002_090000",
	); err != nil {
		t.Fatalf("removing record: %v", err)
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='test_runs'",
	).Scan(&count); err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 0 {
		t.Error("table test_runs should have been dropped")
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "" {
		t.Errorf("SchemaVersion() = %q after rollback, want empty", version)
	}
}

func TestMigrateDown_NothingApplied(t *testing.T) {
	t.Cleanup(RegisterMigrations(testMigrations(), "sql"))

	db := openTestDB(t)
	if err := db.MigrateDown(context.Background()); err != nil {
		t.Errorf("MigrateDown() on empty schema error = %v", err)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	t.Cleanup(RegisterMigrations(nil, ""))

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrate_MissingDirectory(t *testing.T) {
	t.Cleanup(RegisterMigrations(testMigrations(), "nope"))

	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err == nil {
		t.Error("Migrate() expected error for missing migrations directory")
	}
}

func TestMigrate_FailingStepRollsBack(t *testing.T) {
	fsys := testMigrations()
	fsys["sql/20261003_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE oops (")}
	t.Cleanup(RegisterMigrations(fsys, "sql"))

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 2 and 1", len(applied), len(pending))
	}
}

func TestGetMigrationStatus(t *testing.T) {
	t.Cleanup(RegisterMigrations(testMigrations(), "sql"))

	db := openTestDB(t)

	applied, pending, err := db.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("expected 0 applied, got %d", len(applied))
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].Name != "create_runs" || pending[0].DownSQL == "" {
		t.Errorf("pending[0] = %+v, want create_runs with down SQL", pending[0])
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{
			name:        "valid up migration",
			filename:    "20261001_120000_run_history.up.sql",
			wantVersion: "20261001_120000",
			wantIsUp:    true,
			wantOk:      true,
		},
		{
			name:        "valid down migration",
			filename:    "20261001_120000_run_history.down.sql",
			wantVersion: "20261001_120000",
			wantIsUp:    false,
			wantOk:      true,
		},
		{
			name:     "not sql file",
			filename: "readme.txt",
			wantOk:   false,
		},
		{
			name:     "missing direction",
			filename: "20261001_120000_run_history.sql",
			wantOk:   false,
		},
		{
			name:     "invalid format",
			filename: "invalid.up.sql",
			wantOk:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Errorf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok {
				if version != tt.wantVersion {
					t.Errorf("version = %v, want %v", version, tt.wantVersion)
				}
				if isUp != tt.wantIsUp {
					t.Errorf("isUp = %v, want %v", isUp, tt.wantIsUp)
				}
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20261001_120000_run_history.up.sql", "run_history"},
		{"20261001_120000_run_history.down.sql", "run_history"},
		{"20261005_080000_add_search_scale.up.sql", "add_search_scale"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := extractMigrationName(tt.filename); got != tt.want {
				t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
