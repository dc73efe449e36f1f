// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-verify drives interactive Matrix device verification end to
// end without a homeserver. It wires the verification driver to an
// in-process loopback backend, sends a request from one device, plays
// the users of every device involved (accepting, comparing the SAS,
// scanning and confirming QR codes, or cancelling, as the scenario
// says), and prints the final state of each side.
//
// Configuration comes from the same YAML file the library reads
// (--config or BUREAU_VERIFY_CONFIG): request timeouts, channel
// capacity, whether the requesting device has a camera, and logging.
//
// The exit status is 1 when the answering device does not end in the
// scenario's expected state, so scenario files double as smoke tests.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/verify/lib/codec"
	"github.com/bureau-foundation/verify/lib/config"
	"github.com/bureau-foundation/verify/lib/version"
	"github.com/bureau-foundation/verify/verification"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// exitError signals a non-zero exit after the report was printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

// ExitCode returns the process exit code.
func (e *exitError) ExitCode() int { return e.code }

func run(args []string, stdout, stderr io.Writer) error {
	var configPath string
	var scenarioPath string
	var snapshots bool
	var verbose bool

	flagSet := pflag.NewFlagSet("bureau-verify", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&configPath, "config", "", "YAML config file (default: $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVarP(&scenarioPath, "scenario", "s", "", "JSONC scenario file (default: emoji SAS between two devices of one account)")
	flagSet.BoolVar(&snapshots, "snapshot", false, "print each final verification as a CBOR snapshot in diagnostic notation")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other Bureau binaries.
	if len(args) > 0 && args[0] == "--version" {
		version.Fprint(stdout, "bureau-verify")
		return nil
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet, stderr)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet, stderr)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}

	sc := defaultScenario()
	if scenarioPath != "" {
		if sc, err = readScenario(scenarioPath); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, err := runScenario(ctx, cfg, sc, logger)
	if err != nil {
		return err
	}
	if err := printReport(stdout, result, snapshots); err != nil {
		return err
	}

	got := result.member(roleResponder).verification.State()
	if got != *sc.Expect {
		fmt.Fprintf(stderr, "scenario %s: answering device ended in %s, expected %s\n", sc.Name, got, *sc.Expect)
		return &exitError{code: 1}
	}
	return nil
}

// loadConfig reads the --config file, else the file named by
// BUREAU_VERIFY_CONFIG, else uses the defaults.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the slog handler the config asks for. Format
// "auto" uses text when w is a terminal and JSON otherwise.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}

	format := cfg.Logging.Format
	if format == "auto" {
		format = "json"
		if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, options)), nil
	}
	return slog.New(slog.NewJSONHandler(w, options)), nil
}

// printReport writes one line per device, the SAS or cancel details,
// and optionally the CBOR snapshots.
func printReport(w io.Writer, result *outcome, snapshots bool) error {
	fmt.Fprintf(w, "scenario %s\n", result.scenario.Name)
	for _, m := range result.members {
		v := m.verification
		fmt.Fprintf(w, "  %-10s %s %-8s %-10s methods=%s\n",
			m.role, m.device.UserID(), m.device.DeviceID(), v.State(), v.SupportedMethods())
		if data, ok := v.SasData(); ok {
			fmt.Fprintf(w, "             sas: %s\n", formatSas(data))
		}
		if info, ok := v.CancelInfo(); ok {
			by := "them"
			if info.CancelledByUs {
				by = "us"
			}
			fmt.Fprintf(w, "             cancelled by %s: %s (%s)\n", by, info.Code, info.Reason)
		}
	}

	if !snapshots {
		return nil
	}
	for _, m := range result.members {
		data, err := m.verification.Snapshot().Marshal()
		if err != nil {
			return fmt.Errorf("encoding %s snapshot: %w", m.role, err)
		}
		diagnostic, err := codec.Diagnose(data)
		if err != nil {
			return fmt.Errorf("diagnosing %s snapshot: %w", m.role, err)
		}
		fmt.Fprintf(w, "snapshot %s: %s\n", m.role, diagnostic)
	}
	return nil
}

func formatSas(data verification.SasData) string {
	if !data.IsEmoji() {
		numbers := make([]string, len(data.Decimals))
		for index, value := range data.Decimals {
			numbers[index] = fmt.Sprint(value)
		}
		return strings.Join(numbers, " ")
	}
	symbols := make([]string, len(data.Emoji))
	for index, emoji := range data.Emoji {
		symbols[index] = emoji.Symbol + " " + emoji.Description
	}
	return strings.Join(symbols, ", ")
}

func printHelp(flagSet *pflag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `bureau-verify runs an interactive device verification between
in-process loopback devices, playing both users, and reports how it
ended.

A scenario file (JSONC: comments and trailing commas allowed) picks
the method, the peer, and what the users do:

  {
    "name": "qr-own",
    "method": "qr",          // "sas" or "qr"
    "peer": "own",           // "own" device or another "user"
    "decimal_sas": false,
    "mismatch": false,       // answering user rejects the SAS
    "cancel_at": "sas-v1",   // answering user cancels in this state
    "extra_devices": 1,      // devices that see the request and go passive
    "timeout": "30s",
    "expect": "completed",   // exit 1 unless the answering device ends here
  }

Usage:
  bureau-verify [flags]

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
