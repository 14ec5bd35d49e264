// SPDX-License-Identifier: MIT

// Package cmd parses the command line into a validated configuration
// and a command selection for main to dispatch on.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"beatbox/internal/config"
	"beatbox/pkg/build"
)

// Options is the outcome of argument parsing.
type Options struct {
	Config     *config.Config
	ConfigPath string // explicit --config path, empty when defaults were searched
	Command    string // "run", "calibrate", "list", or "" when only help/version ran
}

// ParseArgs builds the cobra command tree, executes it against
// os.Args, and returns the resolved options. Flags override values
// loaded from the configuration file.
func ParseArgs() (*Options, error) {
	info := build.Get()
	opts := &Options{}

	var (
		configPath   string
		bpm          uint32
		inputDevice  int
		outputDevice int
		fixtureFile  string
		wsEnabled    bool
		wsAddress    string
		udpEnabled   bool
		udpAddress   string
		stateFile    string
		verbose      bool
	)

	rootCmd := &cobra.Command{
		Use:           info.Name,
		Short:         "Real-time beatbox training engine",
		Version:       info.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("bpm") {
				cfg.BPM = bpm
			}
			if cmd.Flags().Changed("device") {
				cfg.Audio.InputDevice = inputDevice
			}
			if cmd.Flags().Changed("output-device") {
				cfg.Audio.OutputDevice = outputDevice
			}
			if cmd.Flags().Changed("fixture") {
				cfg.Audio.FixtureFile = fixtureFile
			}
			if wsEnabled || cmd.Flags().Changed("ws-address") {
				cfg.Transport.WebSocketEnabled = true
				if wsAddress != "" {
					cfg.Transport.WebSocketAddress = wsAddress
				}
			}
			if udpEnabled || cmd.Flags().Changed("udp-target") {
				cfg.Transport.UDPEnabled = true
				if udpAddress != "" {
					cfg.Transport.UDPTargetAddress = udpAddress
				}
			}
			if cmd.Flags().Changed("state") {
				cfg.Calibration.StateFile = stateFile
			}
			if verbose {
				cfg.Debug = true
				cfg.LogLevel = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			opts.Config = cfg
			opts.ConfigPath = configPath
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = "run"
			return nil
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "calibrate",
		Short: "Run the guided calibration procedure",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = "calibrate"
			return nil
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = "list"
			return nil
		},
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "f", "", "Path to the YAML configuration file")
	pf.Uint32VarP(&bpm, "bpm", "t", 120, "Metronome tempo in beats per minute")
	pf.IntVarP(&inputDevice, "device", "d", -1, "Input device index, -1 for the system default (see 'list')")
	pf.IntVar(&outputDevice, "output-device", -1, "Output device index, -1 for the system default")
	pf.StringVar(&fixtureFile, "fixture", "", "Replay a WAV file instead of capturing live audio")
	pf.BoolVar(&wsEnabled, "websocket", false, "Serve event streams over WebSocket")
	pf.StringVar(&wsAddress, "ws-address", "", "WebSocket listen address (implies --websocket)")
	pf.BoolVar(&udpEnabled, "udp", false, "Publish binary metrics packets over UDP")
	pf.StringVar(&udpAddress, "udp-target", "", "UDP target address (implies --udp)")
	pf.StringVar(&stateFile, "state", "", "Calibration state file to load and persist")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return opts, nil
}
