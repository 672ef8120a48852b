package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/nerrad567/droidpilot/internal/history"
	"github.com/nerrad567/droidpilot/internal/infrastructure/database"
	"github.com/nerrad567/droidpilot/internal/infrastructure/logging"
)

// historyCommand prints recent runs from the history database, or with
// -schema / -rollback reports or downgrades its schema.
func historyCommand(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.StringVar(&env.configPath, "config", env.configPath, "path to config.yaml")
	bot := fs.String("bot", "", "only runs of this bot")
	limit := fs.Int("limit", 20, "number of runs to show")
	schema := fs.Bool("schema", false, "show applied and pending schema migrations")
	rollback := fs.Bool("rollback", false, "roll back the most recent schema migration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *schema && *rollback {
		return fmt.Errorf("-schema and -rollback cannot be combined")
	}

	cfg, _, err := env.loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("run history is disabled (database.enabled is false)")
	}

	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Nothing useful to do on exit

	if *schema || *rollback {
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck // Nothing useful to do on exit

		if *rollback {
			if err := db.MigrateDown(ctx); err != nil {
				return fmt.Errorf("rolling back schema: %w", err)
			}
			log.Info("schema rolled back", "path", cfg.Database.Path)
		}
		return printSchema(ctx, env, db)
	}

	db, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // Read-only use

	runs, err := history.NewSQLiteRepository(db.DB).ListRuns(ctx, history.RunFilter{Bot: *bot, Limit: *limit})
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	return printRuns(env, runs)
}

func printRuns(env *cliEnv, runs []history.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(env.stdout, "no runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tBOT\tOUTCOME\tCYCLES\tCRASHES\tDURATION\tRUN ID")
	for _, r := range runs {
		outcome, duration := "running", "-"
		if r.FinishedAt != nil {
			outcome = r.Outcome
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Bot,
			outcome,
			r.Totals.Cycles,
			r.Totals.Crashes,
			duration,
			r.ID,
		)
	}
	return tw.Flush()
}

// printSchema lists applied and pending migrations and the current schema
// version. It does not migrate.
func printSchema(ctx context.Context, env *cliEnv, db *database.DB) error {
	if err := db.HealthCheck(ctx); err != nil {
		return err
	}
	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version == "" {
		version = "none"
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tDETAIL")
	for _, m := range applied {
		fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Local().Format(time.DateTime))
	}
	for _, m := range pending {
		fmt.Fprintf(tw, "%s\tpending\t%s\n", m.Version, m.Name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "schema version: %s\n", version)
	return nil
}
