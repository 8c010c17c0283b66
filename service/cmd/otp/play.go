package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/437437/open-trade-poker/service/internal/config"
	"github.com/437437/open-trade-poker/service/internal/game"
	"github.com/437437/open-trade-poker/service/internal/transport"
)

func runAI(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("ai", flag.ExitOnError)
	logFile := fs.String("log", "", "write logs to this file")
	seed := fs.Uint64("seed", 0, "deal seed; 0 uses the clock")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log, closeLog, err := clientLogger(cfg, *logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	tables, closeTables, err := openTables(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeTables()

	ui := newTerminal(aiHelp)
	a := game.NewAIMatch(game.AIOptions{
		Tables:   tables,
		Timings:  timingsFrom(cfg),
		Rules:    rulesFrom(cfg),
		Seed:     *seed,
		Log:      log,
		OnChange: ui.update,
	})
	defer a.Close()
	if err := a.Start(); err != nil {
		return err
	}

	return ui.run(ctx, a, func(cmd string) (bool, error) {
		switch cmd {
		case "n":
			return false, a.Start()
		case "l":
			a.LeaveToHome()
			return false, nil
		}
		return false, errUnknownCommand
	})
}

func runOnline(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("online", flag.ExitOnError)
	url := fs.String("url", cfg.ServerURL, "match server websocket URL")
	logFile := fs.String("log", "", "write logs to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log, closeLog, err := clientLogger(cfg, *logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	conn := transport.NewManager(transport.Options{URL: *url, Log: log})
	if err := conn.Acquire(); err != nil {
		return err
	}
	defer conn.Shutdown()
	defer conn.Release()

	ui := newTerminal(onlineHelp)
	s := game.NewOnlineSession(conn, game.OnlineOptions{
		Timings:  timingsFrom(cfg),
		Rules:    rulesFrom(cfg),
		Log:      log,
		OnChange: ui.update,
	})
	defer s.Close()

	return ui.run(ctx, s, func(cmd string) (bool, error) {
		switch cmd {
		case "n":
			if !conn.Connected() {
				return false, fmt.Errorf("not connected to %s", *url)
			}
			s.StartMatching()
			return false, nil
		case "c":
			s.CancelMatching()
			return false, nil
		case "l":
			s.LeaveGame()
			return false, nil
		case "b":
			s.SetForeground(false)
			return false, nil
		case "f":
			s.SetForeground(true)
			return false, nil
		}
		return false, errUnknownCommand
	})
}

func timingsFrom(cfg config.Config) game.Timings {
	t := game.DefaultTimings()
	t.TurnSeconds = int(cfg.TurnDuration / time.Second)
	t.MatchWaitSeconds = int(cfg.MatchWait / time.Second)
	return t
}

// clientLogger keeps log output off the terminal UI: it goes to path, or
// nowhere when path is empty.
func clientLogger(cfg config.Config, path string) (*logrus.Entry, func(), error) {
	l := cfg.NewLogger()
	if path == "" {
		l.SetOutput(io.Discard)
		return logrus.NewEntry(l), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	l.SetOutput(f)
	return logrus.NewEntry(l), func() { f.Close() }, nil
}
