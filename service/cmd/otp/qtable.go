package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/437437/open-trade-poker/engine/agent"
	"github.com/437437/open-trade-poker/service/internal/config"
	"github.com/437437/open-trade-poker/service/internal/database"
	"github.com/437437/open-trade-poker/service/internal/qtable"
)

func runQTable(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("want split or publish")
	}
	fs := flag.NewFlagSet("qtable "+args[0], flag.ExitOnError)
	family := fs.String("family", string(agent.FamilyFirst), "table family (FSF or SFS)")
	dir := fs.String("dir", cfg.QTableDir, "shard directory")

	switch args[0] {
	case "split":
		in := fs.String("in", "-", "Q table JSON file, - for stdin")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		var r io.Reader = os.Stdin
		if *in != "-" {
			f, err := os.Open(*in)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		n, err := qtable.Split(r, *dir, agent.Family(*family))
		if err != nil {
			return err
		}
		pterm.Success.Printfln("wrote %d entries of %s to %s", n, *family, *dir)
		return nil

	case "publish":
		url := fs.String("redis", cfg.RedisURL, "Redis URL")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *url == "" {
			return errors.New("no Redis URL; set OTP_REDIS_URL or -redis")
		}
		opts, err := redis.ParseURL(*url)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		spinner, _ := pterm.DefaultSpinner.Start("publishing shards of " + *family)
		n, err := qtable.Publish(ctx, rdb, *dir, agent.Family(*family))
		if err != nil {
			spinner.Fail(err.Error())
			return err
		}
		spinner.Success(fmt.Sprintf("published %d entries", n))
		return nil
	}
	return fmt.Errorf("unknown qtable command %q", args[0])
}

// openTables returns the Q-table store configured by cfg, backed by Redis
// when OTP_REDIS_URL is set and by shard files otherwise. File-backed stores
// are watched for rebuilt shards until ctx is done.
func openTables(ctx context.Context, cfg config.Config, log *logrus.Entry) (*qtable.Store, func(), error) {
	if cfg.RedisURL != "" {
		loader, client, err := qtable.NewRedisLoader(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return qtable.NewStore(loader, log), func() { client.Close() }, nil
	}
	store := qtable.NewStore(qtable.FileLoader{Dir: cfg.QTableDir}, log)
	go func() {
		if err := store.Watch(ctx, cfg.QTableDir); err != nil {
			log.WithError(err).Warn("not watching Q-table shards")
		}
	}()
	return store, func() {}, nil
}

func runHistory(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of matches")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return database.ErrNoURL
	}
	log := logrus.NewEntry(cfg.NewLogger())
	store, err := database.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer store.Close()
	recs, err := store.RecentMatches(ctx, *limit)
	if err != nil {
		return err
	}

	rows := pterm.TableData{{"Finished", "Players", "Score", "Winner", "First", "Abandoned"}}
	for _, r := range recs {
		winner := r.Winner
		if winner == "" {
			winner = "-"
		}
		rows = append(rows, []string{
			r.FinishedAt.Format("2006-01-02 15:04"),
			short(r.Players[0]) + " vs " + short(r.Players[1]),
			fmt.Sprintf("%d-%d", r.Scores[0], r.Scores[1]),
			short(winner),
			short(r.FirstMover),
			fmt.Sprint(r.Abandoned),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
