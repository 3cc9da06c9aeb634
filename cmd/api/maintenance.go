package main

import (
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/punchamoorthee/neoledger/internal/config"
	"github.com/punchamoorthee/neoledger/internal/service"
	"github.com/spf13/cobra"
)

func (a *app) migrateCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			pg, err := a.postgres(cmd.Context(), "migrate")
			if err != nil {
				return err
			}
			defer pg.Close()

			if err := pg.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.log.Info("schema applied")
			if reset {
				if err := pg.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("reset: %w", err)
				}
				a.log.Warn("all ledger data removed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "truncate every table after migrating (development only)")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if reset && a.cfg.Environment == config.EnvProduction {
			return fmt.Errorf("refusing to reset a production database")
		}
		return nil
	}
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every account balance against its ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, release, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			rep, err := service.NewLedger(st, a.log).VerifyAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d accounts, %d failures\n", rep.Checked, len(rep.Failures))
			for _, f := range rep.Failures {
				fmt.Fprintln(cmd.OutOrStdout(), "  "+f.Error())
			}
			if !rep.OK() {
				return fmt.Errorf("%d accounts failed verification", len(rep.Failures))
			}
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.cfg.Redacted())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
