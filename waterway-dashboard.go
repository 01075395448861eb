package main

import (
	"context"
	"embed"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"waterway-dashboard/pkg/database"
	"waterway-dashboard/pkg/database/drivers"
	"waterway-dashboard/pkg/importer"
	"waterway-dashboard/pkg/lanannounce"
	"waterway-dashboard/pkg/logger"
)

//go:embed public_html/*
var content embed.FS

// CompileVersion is set with -ldflags "-X main.CompileVersion=…".
var CompileVersion = "dev"

// dbFlags are shared by every subcommand that touches the readings store.
var dbFlags database.Config

func main() {
	root := &cobra.Command{
		Use:           "waterway-dashboard",
		Short:         "Waterway sensor readings dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&dbFlags.DBType, "db-type", "sqlite", fmt.Sprintf("Database driver: %v", drivers.Names()))
	pf.StringVar(&dbFlags.DBPath, "db-path", "", "Database file for sqlite, chai and duckdb (default waterways.<driver> in the current folder)")
	pf.StringVar(&dbFlags.DBConn, "db-conn", "", "PostgreSQL connection URL; overrides the host flags")
	pf.StringVar(&dbFlags.DBHost, "db-host", "127.0.0.1", "PostgreSQL host")
	pf.IntVar(&dbFlags.DBPort, "db-port", 5432, "PostgreSQL port")
	pf.StringVar(&dbFlags.DBUser, "db-user", "postgres", "PostgreSQL user")
	pf.StringVar(&dbFlags.DBPass, "db-pass", "", "PostgreSQL password")
	pf.StringVar(&dbFlags.DBName, "db-name", "waterways", "PostgreSQL database name")
	pf.StringVar(&dbFlags.PGSSLMode, "pg-ssl-mode", "prefer", "PostgreSQL SSL mode")

	root.AddCommand(serveCmd(), initDBCmd(), loadCmd(), discoverCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		log.Printf("error: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openDatabase() (*database.Database, error) {
	drivers.Ready()
	db, err := database.NewDatabase(dbFlags)
	if err != nil {
		return nil, fmt.Errorf("DB init: %w", err)
	}
	return db, nil
}

func initDBCmd() *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the schema and seed location types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			if drop {
				log.Printf("[init-db] dropping existing tables")
				if err := db.DropSchema(ctx); err != nil {
					return fmt.Errorf("drop schema: %w", err)
				}
			}
			if err := db.InitSchema(ctx); err != nil {
				return fmt.Errorf("init schema: %w", err)
			}
			<-db.EnsureIndexesAsync(ctx, log.Printf)
			log.Printf("[init-db] schema ready (%s)", db.Driver)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&drop, "delete", "d", false, "Drop existing tables first")
	return cmd
}

func loadCmd() *cobra.Command {
	var files importer.Files
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load units of measure, locations and readings from CSV or XLSX files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if files.Units == "" && files.Readings == "" && files.Locations == "" {
				return fmt.Errorf("nothing to load: pass --units, --locations or --readings")
			}
			ctx, cancel := signalContext()
			defer cancel()

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.InitSchema(ctx); err != nil {
				return fmt.Errorf("init schema: %w", err)
			}

			res, err := importer.New(db, nil, log.Printf).Run(ctx, files)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			for _, rowErr := range res.RowErrors {
				fmt.Fprintln(cmd.ErrOrStderr(), rowErr.Error())
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&files.Units, "units", "", "Units of measure file (measure, unit)")
	f.StringVar(&files.Locations, "locations", "", "Locations file (location, longitude, latitude, type)")
	f.StringVar(&files.Readings, "readings", "", "Readings file (id, value, location, date, measure)")
	return cmd
}

func discoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List dashboards announced on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := lanannounce.Browse(timeout)
			for _, addr := range found {
				fmt.Fprintf(cmd.OutOrStdout(), "http://%s/\n", addr)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "How long to wait for answers")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the application version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "waterway-dashboard version %s\n", CompileVersion)
		},
	}
}
