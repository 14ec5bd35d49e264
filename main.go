// SPDX-License-Identifier: MIT
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"beatbox/cmd"
	"beatbox/internal/calibration"
	"beatbox/internal/config"
	"beatbox/internal/engine"
	"beatbox/internal/log"
	"beatbox/internal/transport"
	"beatbox/pkg/build"
)

// main runs in three phases:
//
//  1. Startup: build info, argument parsing, one-off commands.
//  2. Running: audio backend, analysis worker, optional transports,
//     and either the training loop or the calibration flow.
//  3. Shutdown: triggered by SIGINT/SIGTERM, tears the stack down in
//     reverse order.
func main() {
	build.Initialize()

	opts, err := cmd.ParseArgs()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if opts.Command == "" {
		return
	}

	cfg := opts.Config
	if level, ok := log.ParseLevel(cfg.LogLevel); ok {
		log.SetLevel(level)
	}
	if cfg.Debug {
		log.SetLevel(log.LevelDebug)
	}

	if opts.Command == "list" {
		if err := listDevices(); err != nil {
			log.Fatalf("listing devices: %v", err)
		}
		return
	}

	backend, err := newBackend(cfg)
	if err != nil {
		log.Fatalf("audio backend: %v", err)
	}

	eng := engine.New(cfg, backend)
	defer eng.Close()

	if opts.ConfigPath != "" {
		watcher, err := config.Watch(opts.ConfigPath, func(next *config.Config) {
			bpm := next.BPM
			eng.ApplyPatch(engine.ParamPatch{BPM: &bpm})
			if level, ok := log.ParseLevel(next.LogLevel); ok {
				log.SetLevel(level)
			}
		})
		if err != nil {
			log.Warnf("config watcher: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	closers := startTransports(eng, cfg)
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warnf("shutdown: %v", err)
			}
		}
	}()

	if err := eng.Start(cfg.BPM); err != nil {
		log.Fatalf("starting engine: %v", err)
	}
	defer func() {
		if err := eng.Stop(); err != nil {
			log.Warnf("stopping engine: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	switch opts.Command {
	case "calibrate":
		if err := runCalibration(eng, done); err != nil {
			log.Errorf("calibration: %v", err)
		}
	default:
		runTraining(eng, done)
	}
}

func newBackend(cfg *config.Config) (engine.Backend, error) {
	if cfg.Audio.FixtureFile != "" {
		log.Infof("replaying fixture %s", cfg.Audio.FixtureFile)
		return engine.NewFixtureBackend(cfg.Audio.FixtureFile, cfg.Audio.SampleRate, cfg.Audio.BufferSize)
	}
	return engine.NewPortAudioBackend(cfg.Audio.SampleRate, cfg.Audio.BufferSize,
		cfg.Audio.InputDevice, cfg.Audio.OutputDevice), nil
}

func listDevices() error {
	devices, err := engine.ListDevices()
	if err != nil {
		return err
	}
	for i, d := range devices {
		fmt.Printf("%3d: %s (in:%d out:%d, %.0f Hz)\n",
			i, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	return nil
}

// startTransports brings up the optional streaming surfaces and
// returns their shutdown functions.
func startTransports(eng *engine.Engine, cfg *config.Config) []func() error {
	var closers []func() error

	if cfg.Transport.WebSocketEnabled {
		srv := transport.NewWebSocketServer(eng, cfg.Transport)
		if err := srv.Start(); err != nil {
			log.Errorf("websocket server: %v", err)
		} else {
			closers = append(closers, srv.Close)
		}
	}

	if cfg.Transport.UDPEnabled {
		sender, err := transport.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			log.Errorf("udp sender: %v", err)
		} else {
			metrics, cancel := eng.SubscribeMetrics()
			pub, err := transport.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, metrics, cancel)
			if err != nil {
				cancel()
				sender.Close()
				log.Errorf("udp publisher: %v", err)
			} else {
				pub.Start()
				closers = append(closers, pub.Close, sender.Close)
			}
		}
	}

	return closers
}

// runTraining prints classification results until interrupted.
func runTraining(eng *engine.Engine, done <-chan os.Signal) {
	results, cancel := eng.SubscribeResults()
	defer cancel()

	fmt.Printf("listening at %d BPM, ctrl-c to quit\n", eng.BPM())
	for {
		select {
		case r := <-results:
			fmt.Printf("%-12s %-8s %+7.1f ms  confidence %.2f\n",
				r.Label, r.Timing, r.ErrorMs, r.Confidence)
		case <-done:
			fmt.Println()
			return
		}
	}
}

// runCalibration walks the user through the four phases on the
// terminal: measure the noise floor, then collect each sound, with
// confirm/retry/accept prompts between phases.
func runCalibration(eng *engine.Engine, done <-chan os.Signal) error {
	progress, cancel := eng.SubscribeProgress()
	defer cancel()

	if err := eng.StartCalibration(); err != nil {
		return err
	}
	defer eng.CancelCalibration()

	input := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			input <- strings.TrimSpace(strings.ToLower(scanner.Text()))
		}
		close(input)
	}()

	fmt.Println("calibration: stay quiet while the noise floor is measured")
	for {
		select {
		case p := <-progress:
			printProgress(p)
			if p.WaitingForConfirmation {
				fmt.Print("  [enter] confirm  [r] retry")
				if p.ManualAcceptAvailable {
					fmt.Print("  [a] accept last sample")
				}
				fmt.Println()
			}
		case line, ok := <-input:
			if !ok {
				return nil
			}
			var err error
			switch line {
			case "":
				err = eng.ConfirmStep()
				if err == nil && eng.CalibrationComplete() {
					thresholds, ferr := eng.FinishCalibration()
					if ferr != nil {
						return ferr
					}
					fmt.Printf("calibration complete: kick %.0f Hz, snare %.0f Hz, hihat zcr %.2f\n",
						thresholds.KickCentroid, thresholds.SnareCentroid, thresholds.HihatZCR)
					return nil
				}
			case "r":
				err = eng.RetryStep()
			case "a":
				err = eng.ManualAcceptLastCandidate()
			case "q":
				return nil
			}
			if err != nil {
				fmt.Printf("  %v\n", err)
			}
		case <-done:
			fmt.Println()
			return nil
		}
	}
}

func printProgress(p calibration.Progress) {
	if p.Complete {
		fmt.Println("all sounds collected")
		return
	}
	fmt.Printf("\r%s: %d/%d samples", p.Phase, p.Collected, p.Needed)
	if p.Guidance != nil {
		fmt.Printf("  (%s)", p.Guidance.Reason)
	}
	fmt.Println()
}
