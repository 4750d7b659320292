package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geoimport/internal/application"
	"github.com/JonMunkholm/geoimport/internal/config"
	"github.com/JonMunkholm/geoimport/internal/core"
	"github.com/JonMunkholm/geoimport/internal/logging"
)

// importService is what the commands need from core.Service.
type importService interface {
	RunImport(ctx context.Context, req core.ImportRequest) (*core.Report, error)
	RollbackImport(ctx context.Context, principal string, key core.Key, token string) (int64, error)
	DescribeDestination(ctx context.Context, key core.Key) (core.ImportConfiguration, error)
	RunSweep(ctx context.Context, maxAge time.Duration) (relations, files int, err error)
}

// uploadStore copies user files into the session upload directory so the
// session cleaner never deletes the original.
type uploadStore interface {
	Import(path string) (string, error)
	Remove(path string) error
}

// deps is the runtime a command executes against.
type deps struct {
	cfg     *config.Config
	service importService
	uploads uploadStore
	close   func()
}

// opener builds the runtime once flags are parsed.
type opener func(ctx context.Context) (*deps, error)

func openApp(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	app, err := application.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &deps{cfg: cfg, service: app.Service, uploads: app.Uploads, close: app.Close}, nil
}

func newRootCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "csvimport",
		Short:         "Check and import CSV files into PostGIS layers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCmd(open))
	cmd.AddCommand(newDescribeCmd(open))
	cmd.AddCommand(newRollbackCmd(open))
	cmd.AddCommand(newSweepCmd(open))
	return cmd
}

func Execute() {
	if err := newRootCmd(openApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// destinationFlags are shared by every command that names a layer.
type destinationFlags struct {
	Repository string
	Project    string
	Schema     string
	Table      string
}

func (d *destinationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.Repository, "repository", "", "repository of the project")
	cmd.Flags().StringVar(&d.Project, "project", "", "project name")
	cmd.Flags().StringVar(&d.Schema, "schema", "", "destination schema")
	cmd.Flags().StringVar(&d.Table, "table", "", "destination table")
	for _, f := range []string{"repository", "project", "schema", "table"} {
		_ = cmd.MarkFlagRequired(f)
	}
}

func (d destinationFlags) key() core.Key {
	return core.Key{Repository: d.Repository, Project: d.Project, Schema: d.Schema, Table: d.Table}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
