package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/nerrad567/droidpilot/internal/device"
)

// devicesCommand lists the devices attached to the adb server.
func devicesCommand(ctx context.Context, env *cliEnv, args []string) error {
	fs := flag.NewFlagSet("devices", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	fs.StringVar(&env.configPath, "config", env.configPath, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := env.loadConfig()
	if err != nil {
		return err
	}

	devices, err := device.ListDevices(ctx, device.NewADBTransport(cfg.Device.ADBPath), cfg.GetCommandTimeout())
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	return printDevices(env, devices)
}

func printDevices(env *cliEnv, devices []device.Info) error {
	if len(devices) == 0 {
		fmt.Fprintln(env.stdout, "no devices attached")
		return nil
	}

	tw := tabwriter.NewWriter(env.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tSTATE\tMODEL\tEMULATOR")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", d.Serial, d.State, d.Props["model"], d.Emulator())
	}
	return tw.Flush()
}
