package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geoimport/internal/core"
)

type runOptions struct {
	destinationFlags
	File      string
	Separator string
	Action    string
	User      string
}

// runOutput is the report plus the user message of the hard stop, if any.
type runOutput struct {
	*core.Report
	Error *core.UserMessage `json:"error,omitempty"`
}

func newRunCmd(open opener) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run --file <path> --repository <repo> --project <name> --schema <schema> --table <table>",
		Short: "Check or import a CSV file and print the session report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			action, err := core.ParseAction(opts.Action)
			if err != nil {
				return err
			}
			if _, err := os.Stat(opts.File); err != nil {
				return fmt.Errorf("--file: %w", err)
			}

			e, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if opts.Separator == "" {
				opts.Separator = e.cfg.Import.DefaultSeparator
			}
			path, err := e.uploads.Import(opts.File)
			if err != nil {
				return err
			}
			defer func() { _ = e.uploads.Remove(path) }()

			rep, runErr := e.service.RunImport(cmd.Context(), core.ImportRequest{
				Key:       opts.key(),
				Action:    action,
				FilePath:  path,
				Separator: opts.Separator,
				Principal: opts.User,
			})

			out := runOutput{Report: rep}
			if runErr != nil {
				msg := core.MapError(runErr)
				out.Error = &msg
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if runErr != nil {
				return errors.New(core.FormatUserError(runErr))
			}
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.File, "file", "", "CSV file to import")
	cmd.Flags().StringVar(&opts.Separator, "separator", "", "field separator (default from IMPORT_DEFAULT_SEPARATOR)")
	cmd.Flags().StringVar(&opts.Action, "action", string(core.ActionCheck), "check or import")
	cmd.Flags().StringVar(&opts.User, "user", "", "login recorded as the importer")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
