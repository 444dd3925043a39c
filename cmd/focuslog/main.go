package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/benjamonnguyen/focuslog"
	"github.com/benjamonnguyen/focuslog/analytics"
	"github.com/benjamonnguyen/focuslog/sqlite"
	"github.com/benjamonnguyen/focuslog/telemetry"
)

const Version = "0.1.0"

// app is the process-wide state shared by every subcommand. It is built in
// the root PersistentPreRunE and torn down in PersistentPostRunE.
type app struct {
	cfg       focuslog.Config
	storage   *sqlite.Storage
	store     *focuslog.Store
	engine    *analytics.Engine
	shutdownT func(context.Context) error
}

var (
	configPath string
	state      = &app{}
)

var rootCmd = &cobra.Command{
	Use:           "focuslog",
	Short:         "Local focus session telemetry",
	Long:          `Record focus sessions and their events into a local SQLite file and report on them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return state.open(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return state.close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "focuslog.yaml", "Path to YAML config")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error(err)
		_ = state.close()
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := focuslog.LoadConfig(configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	// logger
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn("unknown log level, using info", "level", cfg.LogLevel)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetReportCaller(lvl == log.DebugLevel)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// metrics
	a.shutdownT, err = telemetry.Setup(initCtx, telemetry.Config{
		Endpoint: cfg.OTLPEndpoint,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}

	// db
	log.Debug("opening db", "path", cfg.StoragePath)
	a.storage, err = sqlite.Open(initCtx, cfg, log.Default())
	if err != nil {
		return err
	}
	if err := a.storage.InitializeStorage(initCtx); err != nil {
		return err
	}

	a.engine = analytics.New(a.storage.Sessions, a.storage.Events, analytics.WithLogger(log.Default().WithPrefix("analytics")))
	a.store = a.storage.Store(a.engine)
	return nil
}

func (a *app) close() error {
	var err error
	if a.storage != nil {
		err = a.storage.Close()
		a.storage = nil
	}
	if a.shutdownT != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := a.shutdownT(ctx); serr != nil {
			log.Error("failed to shut down metrics", "err", serr)
		}
		a.shutdownT = nil
	}
	return err
}
