package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/nerrad567/droidpilot/internal/control"
	"github.com/nerrad567/droidpilot/internal/device"
	"github.com/nerrad567/droidpilot/internal/engine"
	"github.com/nerrad567/droidpilot/internal/history"
	"github.com/nerrad567/droidpilot/internal/infrastructure/config"
	"github.com/nerrad567/droidpilot/internal/infrastructure/database"
	"github.com/nerrad567/droidpilot/internal/infrastructure/influxdb"
	"github.com/nerrad567/droidpilot/internal/infrastructure/logging"
	"github.com/nerrad567/droidpilot/internal/infrastructure/mqtt"
	"github.com/nerrad567/droidpilot/internal/monitor"
	"github.com/nerrad567/droidpilot/internal/reporting"
	"github.com/nerrad567/droidpilot/internal/runstate"
	"github.com/nerrad567/droidpilot/internal/script"
	"github.com/nerrad567/droidpilot/internal/vision"

	_ "github.com/nerrad567/droidpilot/migrations"
)

// errNoScript is returned when neither the flag nor the config names a script.
var errNoScript = errors.New("no bot script: set bot.script or pass -script")

// runFlags are the overrides accepted by the run command.
type runFlags struct {
	script    string
	name      string
	serial    string
	maxCycles int
	maxTime   int
}

func parseRunFlags(env *cliEnv, args []string) (runFlags, error) {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.StringVar(&env.configPath, "config", env.configPath, "path to config.yaml")
	fs.StringVar(&f.script, "script", "", "bot script (overrides bot.script)")
	fs.StringVar(&f.name, "name", "", "bot name for logs, topics and history")
	fs.StringVar(&f.serial, "serial", "", "device serial (overrides device.serial)")
	fs.IntVar(&f.maxCycles, "max-cycles", -1, "stop after n cycles, 0 for unlimited")
	fs.IntVar(&f.maxTime, "max-time", -1, "stop after m minutes, 0 for unlimited")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// apply copies the set flags over cfg.
func (f runFlags) apply(cfg *config.Config) {
	if f.script != "" {
		cfg.Bot.Script = f.script
	}
	if f.name != "" {
		cfg.Bot.Name = f.name
	}
	if f.serial != "" {
		cfg.Device.Serial = f.serial
	}
	if f.maxCycles >= 0 {
		cfg.Bot.MaxCycles = f.maxCycles
	}
	if f.maxTime >= 0 {
		cfg.Bot.MaxTime = f.maxTime
	}
}

// runCommand runs one bot script to completion and returns its outcome.
func runCommand(ctx context.Context, env *cliEnv, args []string) (runstate.Outcome, error) {
	flags, err := parseRunFlags(env, args)
	if err != nil {
		return runstate.OutcomeNone, err
	}

	cfg, path, err := env.loadConfig()
	if err != nil {
		return runstate.OutcomeNone, err
	}
	flags.apply(cfg)
	if cfg.Bot.Script == "" {
		return runstate.OutcomeNone, errNoScript
	}

	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Nothing useful to do on exit
	log.Info("starting droidpilot run",
		"version", version,
		"commit", commit,
		"config", path,
		"script", cfg.Bot.Script,
	)

	s, err := script.Load(cfg.Bot.Script)
	if err != nil {
		return runstate.OutcomeNone, fmt.Errorf("loading script: %w", err)
	}
	for _, w := range s.Warnings {
		log.Warn("script warning", "script", cfg.Bot.Script, "warning", w)
	}
	bot := cfg.Bot.Name
	if bot == "" {
		bot = s.Name
	}
	log = log.With("bot", bot)

	ctrl, err := openDevice(ctx, cfg, log)
	if err != nil {
		return runstate.OutcomeNone, err
	}

	imagesDir := cfg.Bot.ImagesDir
	if imagesDir == "" {
		imagesDir = s.ImagesDir
	}
	matcher, err := vision.NewMatcher(vision.Config{
		ImagesDir: imagesDir,
		Threshold: cfg.Matcher.Threshold,
		CacheSize: cfg.Matcher.CacheSize,
		Stride:    cfg.Matcher.Stride,
		Refine:    cfg.Matcher.Refine,
		UseRGB:    cfg.Matcher.UseRGB,
		Scales:    cfg.Matcher.Scales,
	}, log.With("component", "vision"))
	if err != nil {
		return runstate.OutcomeNone, fmt.Errorf("creating matcher: %w", err)
	}

	in := engine.New(ctrl, matcher, engine.Config{
		Bot:       bot,
		Serial:    ctrl.Serial(),
		MaxCycles: cfg.Bot.MaxCycles,
		MaxTime:   cfg.GetMaxTime(),
		Monitor: monitor.Config{
			CheckInterval: cfg.GetCheckInterval(),
			JoinTimeout:   cfg.GetJoinTimeout(),
		},
	})
	in.SetLogger(log)

	observers, closeReporting, err := startReporting(ctx, cfg, bot, in, log)
	if err != nil {
		return runstate.OutcomeNone, err
	}
	defer closeReporting()
	in.SetObserver(observers)

	res, err := in.Run(ctx, s)
	if err != nil {
		return res.Outcome, fmt.Errorf("running %s: %w", bot, err)
	}

	log.Info("droidpilot run finished",
		"outcome", res.Outcome.String(),
		"cycles", res.Cycles,
		"duration", res.Duration.Round(time.Second),
	)
	return res.Outcome, nil
}

// openDevice connects to the configured adb device.
func openDevice(ctx context.Context, cfg *config.Config, log *logging.Logger) (*device.Controller, error) {
	ctrl, err := device.NewController(ctx, device.NewADBTransport(cfg.Device.ADBPath), device.Config{
		Serial:         cfg.Device.Serial,
		CommandTimeout: cfg.GetCommandTimeout(),
		SwipeDuration:  cfg.GetSwipeDuration(),
		RebootTimeout:  cfg.GetRebootTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to device: %w", err)
	}
	ctrl.SetLogger(log.With("component", "device"))
	log.Info("device connected", "serial", ctrl.Serial())
	return ctrl, nil
}

// startReporting wires the enabled reporting backends into one observer
// and starts the remote control listener. The returned func releases
// everything in reverse order.
//
// The history database is local and explicitly enabled, so failing to
// open it fails the run. MQTT and InfluxDB outages only cost telemetry
// and are logged.
func startReporting(ctx context.Context, cfg *config.Config, bot string, in *engine.Interpreter, log *logging.Logger) (engine.Observers, func(), error) {
	var (
		observers engine.Observers
		closers   []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Database.Enabled {
		db, err := openHistory(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		})
		hr := reporting.NewHistoryReporter(history.NewSQLiteRepository(db.DB))
		hr.SetLogger(log)
		observers = append(observers, hr)
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, bot)
		if err != nil {
			log.Warn("MQTT unavailable, continuing without status or remote control", "error", err)
		} else {
			client.SetLogger(log)
			closers = append(closers, func() {
				if closeErr := client.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			})

			mr := reporting.NewMQTTReporter(client)
			mr.SetLogger(log)
			observers = append(observers, mr)

			listener := control.NewListener(client, bot, in)
			listener.SetLogger(log)
			if err := listener.Start(); err != nil {
				log.Warn("remote control unavailable", "error", err)
			} else {
				closers = append(closers, func() {
					if stopErr := listener.Stop(); stopErr != nil {
						log.Warn("error stopping remote control", "error", stopErr)
					}
				})
			}
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"session", client.Name(),
			)
		}
	}

	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(ctx, cfg.InfluxDB, bot)
		if err != nil {
			log.Warn("InfluxDB unavailable, continuing without metrics", "error", err)
		} else {
			influx.SetLogger(log)
			closers = append(closers, func() {
				if closeErr := influx.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			})
			observers = append(observers, reporting.NewInfluxReporter(influx))
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	return observers, closeAll, nil
}

// openDatabase opens the run-history database without migrating it.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// openHistory opens and migrates the run-history database.
func openHistory(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Debug("history database ready", "path", cfg.Database.Path)
	return db, nil
}
