package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"calc-tracker/internal/auth"
	"calc-tracker/internal/config"
	"calc-tracker/internal/logging"
	"calc-tracker/internal/models"
	"calc-tracker/internal/server"
	"calc-tracker/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app is what every subcommand needs after configuration is resolved.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	db  *storage.DB
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "calc_service",
		Short:         "Calculation records service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.yml in the working directory or a parent)")

	load := func(ctx context.Context) (*app, error) {
		cfg, err := config.LoadWith(v, config.LoadOptions{ConfigFile: cfgFile})
		if err != nil {
			return nil, err
		}
		log := logging.New(cfg.Log)
		db, err := storage.Open(ctx, cfg.Database.URL, storage.Options{Logger: log, LogLevel: cfg.Database.LogLevel})
		if err != nil {
			return nil, err
		}
		return &app{cfg: cfg, log: log, db: db}, nil
	}

	root.AddCommand(newServeCmd(v, load), newMigrateCmd(load), newDropCmd(load))
	return root
}

type loader func(ctx context.Context) (*app, error)

func newServeCmd(v *viper.Viper, load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Create missing tables and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := load(ctx)
			if err != nil {
				return err
			}
			defer a.db.Close()

			if err := storage.Init(ctx, a.db.Gorm); err != nil {
				return fmt.Errorf("init schema: %w", err)
			}

			router := server.NewRouter(server.Deps{
				DB: a.db.Gorm,
				Auth: auth.NewService(a.db.Gorm, auth.Options{
					Secret:   []byte(a.cfg.Auth.JWTSecret),
					TokenTTL: a.cfg.Auth.TokenTTL,
				}),
				Logger: a.log,
			})
			return server.New(a.cfg.App.Addr(), router, a.log).Run(ctx)
		},
	}
	cmd.Flags().Int("port", 0, "port to listen on (overrides app.port)")
	cmd.Flags().String("host", "", "host to bind (overrides app.host)")
	cobra.CheckErr(v.BindPFlag("app.port", cmd.Flags().Lookup("port")))
	cobra.CheckErr(v.BindPFlag("app.host", cmd.Flags().Lookup("host")))
	return cmd
}

func newMigrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.db.Close()

			if err := storage.Init(cmd.Context(), a.db.Gorm); err != nil {
				return err
			}
			a.log.Info().Msg("Schema is up to date")
			return nil
		},
	}
}

func newDropCmd(load loader) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to drop tables without --yes")
			}
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.db.Close()

			schema, err := storage.NewSchema(a.db.Gorm, models.All()...)
			if err != nil {
				return err
			}
			if err := schema.Drop(cmd.Context(), a.db.Gorm); err != nil {
				return err
			}
			a.log.Info().Strs("tables", schema.Names()).Msg("Dropped tables")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping every table")
	return cmd
}
