// Command ledgerd runs the ledger HTTP service and its maintenance tasks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/punchamoorthee/neoledger/internal/config"
	"github.com/punchamoorthee/neoledger/internal/logging"
	"github.com/punchamoorthee/neoledger/internal/rail"
	"github.com/punchamoorthee/neoledger/internal/service"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfgFile string
	cfg     *config.Config
	log     *log.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Double-entry ledger and transfer engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				logging.L.Error("configuration rejected", "err", err)
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logging.L = logger
			a.cfg, a.log = cfg, logger
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./ledger.yaml or /etc/ledger/ledger.yaml)")

	cmd.AddCommand(a.serveCmd(), a.migrateCmd(), a.verifyCmd(), a.configCmd())
	return cmd
}

// openStore connects the configured backend. The returned func releases it.
func (a *app) openStore(ctx context.Context) (store.Store, func(), error) {
	switch a.cfg.Database.Driver {
	case "memory":
		a.log.Warn("using in-memory store; nothing survives a restart")
		return store.NewMemory(), func() {}, nil
	default:
		pg, err := store.NewStore(ctx, a.cfg.Database.Source, store.Options{
			MaxRetries: a.cfg.Database.MaxRetries,
			MaxConns:   a.cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
}

func (a *app) postgres(ctx context.Context, cmd string) (*store.Postgres, error) {
	if a.cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("%s needs the postgres driver, configured driver is %q", cmd, a.cfg.Database.Driver)
	}
	return store.NewStore(ctx, a.cfg.Database.Source, store.Options{MaxRetries: a.cfg.Database.MaxRetries})
}

func (a *app) newRail() service.Rail {
	if a.cfg.Rail.Provider == "http" {
		return rail.NewClient(a.cfg.Rail.Endpoint, a.cfg.Rail.APIKey, a.log)
	}
	return rail.NewSandbox()
}
