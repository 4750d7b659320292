package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDescribeCmd(open opener) *cobra.Command {
	var dest destinationFlags

	cmd := &cobra.Command{
		Use:   "describe --repository <repo> --project <name> --schema <schema> --table <table>",
		Short: "Print the import configuration and expected CSV columns of a layer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			cfg, err := e.service.DescribeDestination(cmd.Context(), dest.key())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"destination":      dest.key(),
				"configuration":    cfg,
				"expected_columns": cfg.Columns(),
			})
		},
	}
	dest.register(cmd)
	return cmd
}

func newRollbackCmd(open opener) *cobra.Command {
	var (
		dest  destinationFlags
		token string
		user  string
	)

	cmd := &cobra.Command{
		Use:   "rollback --token <token> --repository <repo> --project <name> --schema <schema> --table <table>",
		Short: "Delete the rows a previous import added",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			n, err := e.service.RollbackImport(cmd.Context(), user, dest.key(), token)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"destination": dest.key(),
				"token":       token,
				"rows":        n,
			})
		},
	}
	dest.register(cmd)
	cmd.Flags().StringVar(&token, "token", "", "import token from the session report")
	cmd.Flags().StringVar(&user, "user", "", "login performing the rollback")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newSweepCmd(open opener) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Drop staging tables and uploads left behind by crashed sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if maxAge == 0 {
				maxAge = e.cfg.Import.StagingMaxAge
			}
			if maxAge <= e.cfg.Import.Timeout {
				return errors.New("--max-age must exceed the session timeout")
			}

			relations, files, err := e.service.RunSweep(cmd.Context(), maxAge)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"staging_pairs": relations,
				"files":         files,
				"max_age":       maxAge.String(),
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "remove leftovers older than this (default IMPORT_STAGING_MAX_AGE)")
	return cmd
}
