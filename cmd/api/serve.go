package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/neoledger/internal/api"
	"github.com/punchamoorthee/neoledger/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	st, release, err := a.openStore(ctx)
	if err != nil {
		a.log.Error("unable to open store", "err", err)
		return err
	}
	defer release()

	limits, err := a.cfg.ServiceLimits()
	if err != nil {
		return err
	}
	settlement, err := service.SettlementFor(a.cfg.Rail.Settlement)
	if err != nil {
		return err
	}
	reviewers, err := a.cfg.ReviewerSet()
	if err != nil {
		return err
	}
	if len(reviewers) == 0 {
		a.log.Warn("no reviewers configured; transfers held for review cannot be decided")
	}

	verifier := service.StoreVerifier{Users: st}
	dir := service.NewDirectory(st, verifier)
	h := api.NewHandler(api.Services{
		Executor: service.NewExecutor(service.Deps{
			Store:       st,
			Validator:   service.NewValidator(limits, verifier, service.StoreLinks{Accounts: st}, dir, nil),
			Rail:        a.newRail(),
			Settlement:  settlement,
			Reviewers:   reviewers,
			RailTimeout: a.cfg.Rail.Timeout,
			Logger:      a.log,
		}),
		Reconciler: service.NewReconciler(st, a.log, nil),
		Ledger:     service.NewLedger(st, a.log),
		Accounts:   service.NewAccounts(st, a.log, nil),
		Directory:  dir,
	}, a.log)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("server starting", "port", a.cfg.Server.Port, "environment", a.cfg.Environment,
			"rail", a.cfg.Rail.Provider, "settlement", settlement.Name())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
