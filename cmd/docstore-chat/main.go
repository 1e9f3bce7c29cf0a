// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// docstore-chat is a terminal client for the docstore overlay. It opens
// one client session to a server locator, shows the session's events
// and publishes each line typed into it as an update. Slash commands
// (/find, /reconnect, /disconnect, /status, /quit) drive the session;
// /help lists them.
//
// The session uses an ephemeral identity unless --key names a key file.
// Log records go to the status line instead of stderr so they do not
// tear the alternate screen; --log-file additionally writes them as
// JSON.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/simplep2p/docstore/lib/chatui"
	"github.com/simplep2p/docstore/lib/codec"
	"github.com/simplep2p/docstore/lib/identity"
	"github.com/simplep2p/docstore/lib/process"
	"github.com/simplep2p/docstore/lib/version"
	"github.com/simplep2p/docstore/session"
	"github.com/simplep2p/docstore/transport"
)

const programName = "docstore-chat"

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

type flags struct {
	address         string
	keyPath         string
	logLevel        string
	logFile         string
	iceServers      []string
	compression     string
	includeLoopback bool
	showVersion     bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	var parsed flags
	flagSet := pflag.NewFlagSet(programName, pflag.ContinueOnError)
	flagSet.StringVarP(&parsed.address, "address", "a", "", "server locator to connect to on start")
	flagSet.StringVar(&parsed.keyPath, "key", "", "identity key file (default: ephemeral identity)")
	flagSet.StringVar(&parsed.logLevel, "log-level", "warn", "debug, info, warn or error")
	flagSet.StringVar(&parsed.logFile, "log-file", "", "also write JSON log records to this file")
	flagSet.StringSliceVar(&parsed.iceServers, "ice-server", nil, "stun: or turn: URL (repeatable)")
	flagSet.StringVar(&parsed.compression, "compression", "auto", "frame compression: none, lz4, zstd or auto")
	flagSet.BoolVar(&parsed.includeLoopback, "loopback", false, "gather loopback ICE candidates")
	flagSet.BoolVar(&parsed.showVersion, "version", false, "print version information and exit")
	flagSet.SetOutput(io.Discard)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, flagSet, err
		}
		return nil, flagSet, process.Usagef("%v", err)
	}
	switch flagSet.NArg() {
	case 0:
	case 1:
		if parsed.address != "" {
			return nil, flagSet, process.Usagef("address given twice")
		}
		parsed.address = flagSet.Arg(0)
	default:
		return nil, flagSet, process.Usagef("unexpected argument %q", flagSet.Arg(1))
	}
	return &parsed, flagSet, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `%s is a terminal client for the docstore overlay.

Usage:
  %s [flags] [locator]

Examples:
  %s /ip4/127.0.0.1/udp/9090/webrtc-direct/certhash/uEi.../p2p/12D3KooW...
  %s --address /ip4/127.0.0.1/tcp/4001/p2p/12D3KooW...

Flags:
`, programName, programName, programName, programName)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

func run(args []string) error {
	parsed, flagSet, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		printHelp(flagSet)
		return nil
	}
	if err != nil {
		return err
	}
	if parsed.showVersion {
		fmt.Printf("%s %s\n", programName, version.Full())
		return nil
	}

	var level slog.LevelVar
	if err := level.UnmarshalText([]byte(parsed.logLevel)); err != nil {
		return process.Usagef("--log-level: %v", err)
	}
	compression, err := codec.ParseCompression(parsed.compression)
	if err != nil {
		return process.Usagef("--compression: %v", err)
	}

	tuiHandler := chatui.NewLogHandler(&level)
	var handler slog.Handler = tuiHandler
	if parsed.logFile != "" {
		file, err := os.OpenFile(parsed.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer file.Close()
		handler = fanoutHandler{tuiHandler, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})}
	}
	logger := slog.New(handler)

	var keypair *identity.Keypair
	if parsed.keyPath != "" {
		keypair, err = identity.LoadOrCreate(parsed.keyPath, identity.KeyFileOptions{Logger: logger})
		if err != nil {
			return err
		}
	}

	holder := session.NewHolder(session.Options{
		ICE:             transport.ICEConfigFromURLs(parsed.iceServers, "", ""),
		IncludeLoopback: parsed.includeLoopback,
		Compression:     compression,
		AgentVersion:    version.Agent(programName),
		Keypair:         keypair,
		Logger:          logger,
	})
	defer holder.Disconnect()

	model := chatui.NewModel(chatui.Options{
		Holder:  holder,
		Address: parsed.address,
	})

	// SIGTERM stops the program so it restores the terminal. Ctrl+C
	// arrives as a key press in raw mode.
	ctx, stop := process.SignalContext(context.Background())
	defer stop()
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	tuiHandler.SetProgram(program)

	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// fanoutHandler sends each record to every handler that accepts it.
type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			errs = append(errs, handler.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
