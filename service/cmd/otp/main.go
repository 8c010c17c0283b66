// Command otp runs the Open Trade Poker match server and terminal clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/437437/open-trade-poker/service/internal/config"
)

const usage = `usage: otp <command> [flags]

commands:
  serve            run the match server
  ai               play against the AI in the terminal
  online           play an online match through a match server
  qtable split     split a Q table into shards
  qtable publish   load shards into Redis
  history          list recently recorded matches
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = runServe(ctx, cfg, args)
	case "ai":
		err = runAI(ctx, cfg, args)
	case "online":
		err = runOnline(ctx, cfg, args)
	case "qtable":
		err = runQTable(ctx, cfg, args)
	case "history":
		err = runHistory(ctx, cfg, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "otp: unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		pterm.Error.Printfln("%s: %v", cmd, err)
		os.Exit(1)
	}
}
