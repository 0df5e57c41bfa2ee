// Command gemequipd runs a GEM equipment interface daemon: it exposes the
// configured variables, collection events and alarms to a SECS host over
// HSMS-SS.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semiconlab/gemequip/gem"
	"github.com/semiconlab/gemequip/hsmstransport"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string

	rootCmd = &cobra.Command{
		Use:   "gemequipd",
		Short: "GEM equipment interface daemon.",
		Long: `gemequipd exposes an equipment-side GEM interface over HSMS-SS.

It answers host report/event configuration (S2F33/S2F35/S2F37), publishes
collection event reports (S6F11) and alarm reports (S5F1), and executes
registered remote commands (S2F41). Variables, events and alarms are
declared in the configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(ctx)
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "gemequipd.yaml", "path to configuration file")
}

func run(ctx context.Context) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := gem.NewZapLogger(gem.ZapLoggerOptions{
		LogFile:    cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		DebugLevel: cfg.Log.Debug,
		Console:    cfg.Log.Console,
	})

	vars, err := cfg.buildVariableTable()
	if err != nil {
		return err
	}

	// The transport needs a dispatcher before the handler exists, and the
	// handler builds its own dispatcher; bridge with a late-bound handler
	// reference.
	var handler *gem.EquipmentHandler
	dispatcher := gem.NewDispatcher(logger)
	dispatcher.RegisterDefault(func(msg *gem.Message) (*gem.Message, error) {
		if handler == nil {
			return nil, gem.ErrUnrecognizedMessage
		}
		return handler.Dispatcher().Dispatch(msg)
	})

	transport, err := hsmstransport.New(ctx, hsmstransport.Config{
		Host:             cfg.Connection.Host,
		Port:             cfg.Connection.Port,
		Passive:          cfg.Connection.Passive,
		SessionID:        cfg.Connection.SessionID,
		T3:               cfg.Connection.T3,
		T5:               cfg.Connection.T5,
		T6:               cfg.Connection.T6,
		T7:               cfg.Connection.T7,
		T8:               cfg.Connection.T8,
		LinktestInterval: cfg.Connection.LinktestInterval,
	}, dispatcher, logger)
	if err != nil {
		return err
	}

	handler, err = gem.NewEquipmentHandler(gem.Options{
		Transport: transport,
		Variables: vars,
		MDLN:      cfg.MDLN,
		SOFTREV:   cfg.SOFTREV,
		Limits: gem.ReportLimits{
			MaxReports:            cfg.Reports.MaxReports,
			MaxVariablesPerReport: cfg.Reports.MaxVariablesPerReport,
			MinReportID:           cfg.Reports.MinReportID,
			MaxReportID:           cfg.Reports.MaxReportID,
		},
		Delivery: gem.DeliveryPolicy{
			MaxAttempts: cfg.Delivery.MaxAttempts,
			Backoff:     cfg.Delivery.Backoff,
			QueueSize:   cfg.Delivery.QueueSize,
		},
		CollectionEvents:       cfg.Events.Collection,
		SystemEvents:           cfg.Events.System,
		CommunicatingEvent:     cfg.Events.Communicating,
		DefaultReportID:        cfg.Reports.DefaultReportID,
		DefaultReportVariables: cfg.Reports.DefaultVariables,
		SnapshotTTL:            cfg.Reports.SnapshotTTL,
		Alarms:                 cfg.alarmDefinitions(),
		InitialControlState:    cfg.Control.initialState(),
		InitialOnlineMode:      cfg.Control.onlineMode(),
		Logger:                 logger,
	})
	if err != nil {
		return err
	}

	if err := transport.Open(false); err != nil {
		return err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warn("transport close failed", "error", err)
		}
	}()

	handler.Enable()
	defer handler.Disable()

	logger.Info("gemequipd started",
		"mdln", cfg.MDLN,
		"host", cfg.Connection.Host,
		"port", cfg.Connection.Port,
		"passive", cfg.Connection.Passive)

	<-ctx.Done()
	logger.Info("gemequipd shutting down")
	return nil
}
