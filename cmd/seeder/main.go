// Command seeder bulk-loads verified users with funded accounts.
package main

import (
	"context"
	"os"
	"time"

	"github.com/punchamoorthee/neoledger/internal/config"
	"github.com/punchamoorthee/neoledger/internal/logging"
	"github.com/punchamoorthee/neoledger/internal/seed"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func main() {
	if err := newSeederCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newSeederCmd() *cobra.Command {
	var (
		cfgFile string
		users   int
		balance string
		links   bool
		migrate bool
	)
	cmd := &cobra.Command{
		Use:          "seeder",
		Short:        "Seed the ledger database for benchmarks and local development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opening, err := decimal.NewFromString(balance)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()
			pg, err := store.NewStore(ctx, cfg.Database.Source, store.Options{})
			if err != nil {
				logger.Error("unable to connect to database", "err", err)
				return err
			}
			defer pg.Close()

			if migrate {
				if err := pg.Migrate(ctx); err != nil {
					return err
				}
			}

			logger.Info("seeding database", "users", users, "opening_balance", opening)
			start := time.Now()
			res, err := seed.Load(ctx, pg.Db, seed.Plan{Users: users, OpeningBalance: opening, Links: links}, time.Now())
			if err != nil {
				logger.Error("seed failed", "err", err)
				return err
			}
			if len(res) == 0 {
				logger.Info("database already seeded; skipping")
				return nil
			}
			logger.Info("seed complete", "accounts", res["accounts"], "entries", res["ledger_entries"],
				"links", res["external_accounts"], "elapsed", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file")
	cmd.Flags().IntVar(&users, "users", 1000, "number of users to create")
	cmd.Flags().StringVar(&balance, "balance", "100.00", "opening balance of every account")
	cmd.Flags().BoolVar(&links, "links", true, "give every user a verified external account")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply the schema first")
	return cmd
}
