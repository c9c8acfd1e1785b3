package main

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dashetl/internal/config"
	"dashetl/internal/logging"
	"dashetl/internal/rules"
	"dashetl/internal/storage"

	// register every storage backend; the config picks one.
	_ "dashetl/internal/storage/all"
)

// app carries what subcommands share once the root pre-run has loaded the
// configuration.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	cfgPath   string
	rulesPath string
	verbose   bool

	cfg *config.Config
	log zerolog.Logger

	httpClient *http.Client
	openRepo   func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		log:        zerolog.Nop(),
		httpClient: http.DefaultClient,
		openRepo:   storage.New,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dashetl",
		Short: "Bitcoin dashboard extraction and warehouse loader",
		Long: `dashetl scrapes a Bitcoin metrics dashboard, normalizes every configured
field into typed values, appends one row per record group to CSV files and
loads those files into SQLite, PostgreSQL or SQL Server.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default ./dashetl.yaml)")
	root.PersistentFlags().StringVar(&a.rulesPath, "rules", "", "rule profile path (overrides rules.path)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newScrapeCmd(a),
		newLoadCmd(a),
		newExportCmd(a),
		newInspectCmd(a),
		newRulesCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.rulesPath != "" {
		cfg.Rules.Path = a.rulesPath
	}
	level := cfg.Log.Level
	if a.verbose {
		level = "debug"
	}
	log, err := logging.New(a.stderr, level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) profile() (*rules.Profile, error) {
	return rules.Load(a.cfg.Rules.Path)
}

func (a *app) repo(ctx context.Context) (storage.Repository, error) {
	return a.openRepo(ctx, storage.Config{
		Kind:   a.cfg.Storage.Kind,
		DSN:    a.cfg.Storage.DSN,
		Schema: a.cfg.Storage.Schema,
	})
}
