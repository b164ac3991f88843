package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"skyburst/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	config := app.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "skyburst",
		Short: "OpenSky to UART aircraft telemetry bridge",
		Long: `Polls the OpenSky Network for aircraft around a point and streams them
to an embedded display over a serial link.

Each aircraft is sent as a 28-byte little-endian record (packed callsign and
five x10000 fixed-point values); every polling cycle ends with the 4-byte
marker 0xFFFFFFFF.

Example usage:
  skyburst --device /dev/ttyO4 --baud 115200 --radius 200
  skyburst --config /etc/skyburst.yaml --verbose`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.ShowVersion {
				app.ShowVersion()
				return nil
			}

			cfg, err := resolveConfig(cmd, configPath, config)
			if err != nil {
				return err
			}

			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			return application.Start()
		},
	}

	bindFlags(rootCmd, &config, &configPath)
	rootCmd.AddCommand(newDecodeCmd())

	return rootCmd
}

// bindFlags registers the command line flags onto config.
func bindFlags(cmd *cobra.Command, config *app.Config, configPath *string) {
	flags := cmd.Flags()
	flags.StringVarP(configPath, "config", "c", "", "YAML configuration file")
	flags.Float64Var(&config.Region.CenterLat, "lat", config.Region.CenterLat, "Center latitude of the search region")
	flags.Float64Var(&config.Region.CenterLon, "lon", config.Region.CenterLon, "Center longitude of the search region")
	flags.Float64VarP(&config.Region.RadiusKm, "radius", "r", config.Region.RadiusKm, "Search radius (km)")
	flags.DurationVarP(&config.PollInterval, "interval", "i", config.PollInterval, "Delay between polling cycles")
	flags.StringVarP(&config.Serial.Device, "device", "d", config.Serial.Device, "Serial device")
	flags.IntVarP(&config.Serial.Baud, "baud", "b", config.Serial.Baud, "Serial baud rate")
	flags.DurationVar(&config.Serial.RecordGap, "record-gap", config.Serial.RecordGap, "Pause after each record")
	flags.BoolVar(&config.DryRun, "dry-run", config.DryRun, "Encode bursts without opening the serial device")
	flags.StringVar(&config.OverflowPolicy, "overflow", config.OverflowPolicy, "Out-of-range values: reject or saturate")
	flags.StringVar(&config.OpenSky.Username, "username", config.OpenSky.Username, "OpenSky username")
	flags.StringVar(&config.OpenSky.Password, "password", config.OpenSky.Password, "OpenSky password")
	flags.BoolVar(&config.Capture.Enable, "capture", config.Capture.Enable, "Record sent bytes to daily capture files")
	flags.StringVar(&config.Capture.Dir, "capture-dir", config.Capture.Dir, "Capture directory")
	flags.StringVarP(&config.Log.File, "log-file", "l", config.Log.File, "Log file (stderr only when empty)")
	flags.BoolVarP(&config.Verbose, "verbose", "v", config.Verbose, "Verbose logging")
	flags.BoolVar(&config.ShowVersion, "version", false, "Show version information")
}

// flagOverrides copies a flag's value from the flag-bound config into the
// resolved config when the flag was given on the command line.
var flagOverrides = map[string]func(dst *app.Config, src app.Config){
	"lat":         func(d *app.Config, s app.Config) { d.Region.CenterLat = s.Region.CenterLat },
	"lon":         func(d *app.Config, s app.Config) { d.Region.CenterLon = s.Region.CenterLon },
	"radius":      func(d *app.Config, s app.Config) { d.Region.RadiusKm = s.Region.RadiusKm },
	"interval":    func(d *app.Config, s app.Config) { d.PollInterval = s.PollInterval },
	"device":      func(d *app.Config, s app.Config) { d.Serial.Device = s.Serial.Device },
	"baud":        func(d *app.Config, s app.Config) { d.Serial.Baud = s.Serial.Baud },
	"record-gap":  func(d *app.Config, s app.Config) { d.Serial.RecordGap = s.Serial.RecordGap },
	"dry-run":     func(d *app.Config, s app.Config) { d.DryRun = s.DryRun },
	"overflow":    func(d *app.Config, s app.Config) { d.OverflowPolicy = s.OverflowPolicy },
	"username":    func(d *app.Config, s app.Config) { d.OpenSky.Username = s.OpenSky.Username },
	"password":    func(d *app.Config, s app.Config) { d.OpenSky.Password = s.OpenSky.Password },
	"capture":     func(d *app.Config, s app.Config) { d.Capture.Enable = s.Capture.Enable },
	"capture-dir": func(d *app.Config, s app.Config) { d.Capture.Dir = s.Capture.Dir },
	"log-file":    func(d *app.Config, s app.Config) { d.Log.File = s.Log.File },
	"verbose":     func(d *app.Config, s app.Config) { d.Verbose = s.Verbose },
}

// resolveConfig layers explicitly set flags over the config file, or
// returns the flag values directly when no file is given.
func resolveConfig(cmd *cobra.Command, path string, fromFlags app.Config) (app.Config, error) {
	if path == "" {
		return fromFlags, nil
	}

	cfg, err := app.LoadConfig(path)
	if err != nil {
		return app.Config{}, err
	}

	for name, apply := range flagOverrides {
		if cmd.Flags().Changed(name) {
			apply(&cfg, fromFlags)
		}
	}
	return cfg, cfg.Validate()
}
