// droidpilot drives Android apps over adb from YAML bot scripts.
//
// A run captures the screen, searches it for template images and taps,
// swipes or waits according to the script, while a crash monitor watches
// the app and applies the script's crash policy. A queue runs several
// bots one after another as child processes.
//
// Exit codes: 0 when a run completes or is stopped, 1 on failure, and 42
// when a bot asks the queue to advance to the next one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/droidpilot/internal/infrastructure/config"
	"github.com/nerrad567/droidpilot/internal/runstate"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnv names the environment variable that overrides defaultConfigPath.
const configEnv = "DROIDPILOT_CONFIG"

var errUsage = errors.New("usage")

func main() {
	// Cancelled on Ctrl+C or SIGTERM; a run treats this as a stop request.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := realMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// realMain parses the command line, dispatches the subcommand and maps
// its result to a process exit code.
//
// Usage: droidpilot [-config path] [command] [flags]
//
// The command defaults to "run".
func realMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("droidpilot", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "path to config.yaml (env "+configEnv+")")
	global.Usage = func() { printUsage(stderr) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runstate.ExitOK
		}
		return runstate.ExitFailure
	}

	cmd, rest := "run", global.Args()
	if len(rest) > 0 && rest[0] != "" && rest[0][0] != '-' {
		cmd, rest = rest[0], rest[1:]
	}

	env := &cliEnv{configPath: *configPath, stdout: stdout, stderr: stderr}

	var (
		outcome runstate.Outcome
		err     error
	)
	switch cmd {
	case "run":
		outcome, err = runCommand(ctx, env, rest)
	case "queue":
		err = queueCommand(ctx, env, rest)
	case "devices":
		err = devicesCommand(ctx, env, rest)
	case "history":
		err = historyCommand(ctx, env, rest)
	case "version":
		fmt.Fprintf(stdout, "droidpilot %s (commit %s, built %s)\n", version, commit, date)
	case "help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		printUsage(stderr)
		return runstate.ExitFailure
	}

	if errors.Is(err, flag.ErrHelp) {
		return runstate.ExitOK
	}
	if err != nil && !errors.Is(err, errUsage) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(outcome, err)
}

// exitCode maps a run outcome to the process exit status. Only this
// boundary knows about numeric codes.
func exitCode(outcome runstate.Outcome, err error) int {
	switch {
	case err != nil:
		return runstate.ExitFailure
	case outcome == runstate.OutcomeAdvance:
		return runstate.ExitAdvance
	default:
		return runstate.ExitOK
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: droidpilot [-config path] <command> [flags]

Commands:
  run       run one bot script (default)
  queue     run the configured bot queue
  devices   list attached adb devices
  history   list recorded runs, or -schema / -rollback the database
  version   print version information

Run "droidpilot <command> -h" for command flags.
`)
}

// cliEnv carries what every subcommand shares.
type cliEnv struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

// loadConfig resolves and loads the configuration.
//
// An explicit path (flag or environment) must exist. The default path is
// optional: without it the built-in defaults are used.
func (e *cliEnv) loadConfig() (*config.Config, string, error) {
	path, explicit := e.configPath, e.configPath != ""
	if !explicit {
		if p := os.Getenv(configEnv); p != "" {
			path, explicit = p, true
		} else {
			path = defaultConfigPath
		}
	}

	if !explicit {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
