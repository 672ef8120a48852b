package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nerrad567/droidpilot/internal/infrastructure/config"
	"github.com/nerrad567/droidpilot/internal/infrastructure/influxdb"
	"github.com/nerrad567/droidpilot/internal/infrastructure/logging"
	"github.com/nerrad567/droidpilot/internal/infrastructure/mqtt"
	"github.com/nerrad567/droidpilot/internal/queue"
)

// queueCommand runs the configured bot queue. Each job is a child
// "droidpilot run" process of this same binary.
func queueCommand(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.StringVar(&env.configPath, "config", env.configPath, "path to config.yaml")
	repeat := fs.Bool("repeat", false, "loop the queue (overrides queue.repeat)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := env.loadConfig()
	if err != nil {
		return err
	}
	if *repeat {
		cfg.Queue.Repeat = true
	}

	log := logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Nothing useful to do on exit
	log = log.With("component", "queue")

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating droidpilot binary: %w", err)
	}

	qcfg := queueConfig(cfg, binary, path)
	qcfg.Output = env.stdout

	if cfg.Queue.HealthCheckInterval > 0 {
		ctrl, err := openDevice(ctx, cfg, log)
		if err != nil {
			return err
		}
		qcfg.HealthCheck = ctrl.Ping
	}

	runner := queue.New(qcfg)
	runner.SetLogger(log)

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT, "queue")
		if err != nil {
			log.Warn("MQTT unavailable, queue status will not be published", "error", err)
		} else {
			client.SetLogger(log)
			defer func() {
				if closeErr := client.Close(); closeErr != nil {
					log.Error("error closing MQTT", "error", closeErr)
				}
			}()
			runner.SetPublisher(client)
		}
	}

	if cfg.InfluxDB.Enabled {
		influx, err := influxdb.Connect(ctx, cfg.InfluxDB, "queue")
		if err != nil {
			log.Warn("InfluxDB unavailable, queue metrics disabled", "error", err)
		} else {
			influx.SetLogger(log)
			defer func() {
				if closeErr := influx.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			runner.SetPointWriter(influx)
		}
	}

	sum, err := runner.Run(ctx)
	log.Info("queue done", "passes", sum.Passes, "jobs_run", len(sum.Jobs))
	return err
}

// queueConfig translates the queue section of cfg. Workers inherit the
// config file so they see the same device, matcher and reporting setup.
func queueConfig(cfg *config.Config, binary, configPath string) queue.Config {
	qcfg := queue.Config{
		Repeat:              cfg.Queue.Repeat,
		StopOnFailure:       cfg.Queue.StopOnFailure,
		Binary:              binary,
		GracefulTimeout:     time.Duration(cfg.Queue.GracefulTimeout) * time.Second,
		HealthCheckInterval: time.Duration(cfg.Queue.HealthCheckInterval) * time.Second,
		RepeatDelay:         time.Duration(cfg.Queue.RepeatDelay) * time.Second,
		Retries:             cfg.Queue.Retries,
		RetryDelay:          time.Duration(cfg.Queue.RetryDelay) * time.Second,
		StatusInterval:      time.Duration(cfg.Queue.StatusInterval) * time.Second,
	}
	if configPath != "" {
		qcfg.BaseArgs = []string{"-config", configPath}
	}
	for _, j := range cfg.Queue.Jobs {
		qcfg.Jobs = append(qcfg.Jobs, queue.Job{
			Name:      j.Name,
			Script:    j.Script,
			MaxCycles: j.MaxCycles,
			MaxTime:   j.MaxTime,
		})
	}
	return qcfg
}
