package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "poolwatch",
		Short:        "DEX pool state reconciler",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Track pools and reconcile them against chain events",
		RunE:  runWatch,
	}
	addCommonFlags(runCmd)
	runCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	runCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per getLogs batch")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Duration("refresh-interval", 5*time.Minute, "contract refresh period, 0 disables")
	root.AddCommand(runCmd)

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "One-shot contract refresh of the configured pools",
		RunE:  runRefresh,
	}
	addCommonFlags(refreshCmd)
	root.AddCommand(refreshCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "chain RPC URL")
	cmd.Flags().String("exchange", "bancor_v2", "exchange variant for configured pools")
	cmd.Flags().StringSlice("pool", nil, "pool specs addr:tkn0:tkn1[:cid] (comma-separated)")
	cmd.Flags().String("out", "./data/deltas.jsonl", "output JSONL path")
	cmd.Flags().String("pg-dsn", "", "optional Postgres DSN for snapshot/delta persistence")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
