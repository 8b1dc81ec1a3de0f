package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolwatch/internal/chain"
	"poolwatch/internal/config"
	"poolwatch/internal/driver"
	"poolwatch/internal/model"
	"poolwatch/internal/pool"
	"poolwatch/internal/pool/bancorv2"
	"poolwatch/internal/storage"
	"poolwatch/internal/storage/postgres"
)

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	setup, err := buildReconciler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer setup.close()

	decoder, err := bancorv2.NewDecoder()
	if err != nil {
		return err
	}

	watchCfg := driver.WatchConfig{
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		BatchSize:    cfg.BatchSize,
		Addresses:    setup.addresses,
		Topic0:       decoder.Topic0(),
		Checkpoint:   cfg.Checkpoint,
		Checkpointed: cfg.CheckpointEnabled,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}
	// Postgres owns the progress record when configured, so checkpoint and
	// delta log live in the same store.
	if setup.pgStore != nil && cfg.CheckpointEnabled {
		watchCfg.Checkpointer = setup.pgStore.Checkpointer("watch:" + cfg.Exchange)
	}
	watcher := driver.NewWatcher(watchCfg, setup.chainClient, []driver.Decoder{decoder}, setup.driver, logger)

	logger.Info("reconciler start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("exchange", cfg.Exchange),
		zap.Int("pools", len(setup.addresses)),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Duration("refresh_interval", cfg.RefreshInterval),
		zap.String("out", cfg.Out),
	)

	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	defer cancelRefresh()
	go func() {
		if err := setup.driver.Run(refreshCtx); err != nil && refreshCtx.Err() == nil {
			logger.Warn("refresh loop stopped", zap.Error(err))
		}
	}()

	return watcher.Run(ctx)
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracking already performs the initial contract read and commits the
	// resulting delta, so a one-shot refresh is just the setup phase.
	setup, err := buildReconciler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer setup.close()

	for _, address := range setup.addresses {
		view, err := setup.driver.View(address)
		if err != nil {
			return err
		}
		rec, err := model.NewDeltaRecord(view, model.SourceContract)
		if err != nil {
			return err
		}
		logger.Info("pool state",
			zap.String("cid", rec.CID),
			zap.String("address", rec.Address),
			zap.String("tkn0_balance", rec.Tkn0Balance),
			zap.String("tkn1_balance", rec.Tkn1Balance),
			zap.Int64("fee", rec.Fee),
			zap.Float64("fee_float", rec.FeeFloat),
		)
	}
	return nil
}

type reconcilerSetup struct {
	chainClient *chain.Client
	driver      *driver.Driver
	addresses   []common.Address
	pgStore     *postgres.Store
}

func (s *reconcilerSetup) close() {
	if s.pgStore != nil {
		s.pgStore.Close()
	}
	if s.chainClient != nil {
		s.chainClient.Close()
	}
}

// buildReconciler wires the chain client, variant registry, sinks, and
// driver, then tracks every configured pool (performing initial discovery).
func buildReconciler(ctx context.Context, cfg config.Config, logger *zap.Logger) (*reconcilerSetup, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	specs, err := parsePoolSpecs(cfg.Exchange, cfg.Pools)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one pool is required")
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	setup := &reconcilerSetup{chainClient: chainClient}

	registry := pool.NewRegistry()
	if err := registry.Register(bancorv2.New()); err != nil {
		setup.close()
		return nil, err
	}

	sinks := []storage.DeltaSink{storage.NewJsonlSink(cfg.Out)}
	if cfg.PgDSN != "" {
		pgStore, err := postgres.NewStore(ctx, cfg.PgDSN)
		if err != nil {
			setup.close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		setup.pgStore = pgStore
		sinks = append(sinks, pgStore)
	}

	converterABI, err := bancorv2.ConverterABI()
	if err != nil {
		setup.close()
		return nil, err
	}
	contracts := func(exchange string, address common.Address) (pool.Contract, error) {
		return chain.NewBoundContract(chainClient, converterABI, address), nil
	}

	d := driver.NewDriver(driver.Config{RefreshInterval: cfg.RefreshInterval}, registry, contracts, sinks, logger)
	setup.driver = d

	for _, spec := range specs {
		if _, err := d.Track(ctx, spec); err != nil {
			setup.close()
			return nil, err
		}
		setup.addresses = append(setup.addresses, spec.Address)
	}

	return setup, nil
}

// parsePoolSpecs parses addr:tkn0:tkn1[:cid] pool entries.
func parsePoolSpecs(exchange string, entries []string) ([]driver.PoolSpec, error) {
	specs := make([]driver.PoolSpec, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("invalid pool spec %q: want addr:tkn0:tkn1[:cid]", entry)
		}
		for _, part := range parts[:3] {
			if !common.IsHexAddress(part) {
				return nil, fmt.Errorf("invalid pool spec %q: %q is not an address", entry, part)
			}
		}
		spec := driver.PoolSpec{
			Exchange: exchange,
			Address:  common.HexToAddress(parts[0]),
			Tkn0:     common.HexToAddress(parts[1]),
			Tkn1:     common.HexToAddress(parts[2]),
		}
		if len(parts) == 4 {
			spec.CID = parts[3]
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
