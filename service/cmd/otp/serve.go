package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	engine "github.com/437437/open-trade-poker/engine"
	"github.com/437437/open-trade-poker/service/internal/config"
	"github.com/437437/open-trade-poker/service/internal/database"
	"github.com/437437/open-trade-poker/service/internal/matchserver"
)

func runServe(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.ListenAddr, "listen address")
	noDB := fs.Bool("no-db", false, "do not record matches even when OTP_DATABASE_URL is set")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logrus.NewEntry(cfg.NewLogger())
	opts := matchserver.Options{
		SigningKey: cfg.SigningKey(),
		Log:        log,
		Rules:      rulesFrom(cfg),
	}

	if cfg.DatabaseURL != "" && !*noDB {
		store, err := database.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		opts.Recorder = store
	} else {
		log.Info("match history disabled")
	}

	srv, err := matchserver.New(opts)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", *addr).Info("match server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// rulesFrom applies the configured turn length to the standard rules.
func rulesFrom(cfg config.Config) engine.MatchRules {
	r := engine.DefaultMatchRules()
	r.TurnSeconds = int(cfg.TurnDuration / time.Second)
	return r
}
