package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"poolwatch/internal/model"
	"poolwatch/internal/pool"
)

// LogSource supplies raw chain logs. *chain.Client satisfies it.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Decoder turns raw logs into generic event records.
type Decoder interface {
	CanDecode(topic0 common.Hash) bool
	Decode(log types.Log) (model.Event, error)
}

// Checkpointer persists watch progress so a restarted loop resumes where
// it stopped.
type Checkpointer interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, lastProcessed uint64) error
}

// WatchConfig holds runtime settings for the event watch loop.
type WatchConfig struct {
	FromBlock    uint64
	ToBlock      uint64
	BatchSize    uint64
	Addresses    []common.Address
	Topic0       []common.Hash
	Checkpoint   string
	Checkpointed bool
	// Checkpointer overrides the file store built from Checkpoint when a
	// durable backend, such as Postgres, should own the progress record.
	Checkpointer Checkpointer
	MaxRetries   int
	RetryBackoff time.Duration
}

// Watcher streams logs from the chain, decodes them, and feeds them to the
// driver. Classification and routing failures that only mean "this log is
// not for us" are skipped; configuration errors abort the run.
type Watcher struct {
	cfg        WatchConfig
	source     LogSource
	decoders   []Decoder
	driver     *Driver
	logger     *zap.Logger
	checkpoint Checkpointer
}

// NewWatcher builds a Watcher with its dependencies.
func NewWatcher(cfg WatchConfig, source LogSource, decoders []Decoder, driver *Driver, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	checkpoint := cfg.Checkpointer
	if checkpoint == nil {
		checkpoint = NewCheckpointStore(cfg.Checkpoint, cfg.Checkpointed)
	}
	return &Watcher{
		cfg:        cfg,
		source:     source,
		decoders:   decoders,
		driver:     driver,
		logger:     logger,
		checkpoint: checkpoint,
	}
}

// Run executes the watch loop over the configured block range.
func (w *Watcher) Run(ctx context.Context) error {
	if w.source == nil {
		return fmt.Errorf("log source is nil")
	}
	if w.driver == nil {
		return fmt.Errorf("driver is nil")
	}
	if len(w.decoders) == 0 {
		return fmt.Errorf("at least one decoder is required")
	}
	if w.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

	from := w.cfg.FromBlock
	to := w.cfg.ToBlock
	if to == 0 {
		latest, err := w.source.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	if w.checkpoint != nil {
		last, ok, err := w.checkpoint.Load(ctx)
		if err != nil {
			return err
		}
		if ok && last >= from {
			from = last + 1
			w.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
		}
	}

	if from > to {
		w.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, w.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logs, err := w.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}

		applied, skipped, err := w.applyLogs(ctx, logs)
		if err != nil {
			return err
		}

		if w.checkpoint != nil {
			if err := w.checkpoint.Save(ctx, blockRange.To); err != nil {
				return err
			}
		}

		w.logger.Info("batch complete",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("logs", len(logs)),
			zap.Int("applied", applied),
			zap.Int("skipped", skipped),
		)
	}

	return nil
}

func (w *Watcher) applyLogs(ctx context.Context, logs []types.Log) (applied, skipped int, err error) {
	for _, log := range logs {
		if log.Removed || len(log.Topics) == 0 {
			skipped++
			continue
		}

		decoder := w.decoderFor(log.Topics[0])
		if decoder == nil {
			skipped++
			continue
		}

		ev, err := decoder.Decode(log)
		if err != nil {
			skipped++
			w.logger.Warn("decode log",
				zap.Uint64("block", log.BlockNumber),
				zap.String("tx", log.TxHash.Hex()),
				zap.Error(err),
			)
			continue
		}

		if _, err := w.driver.HandleEvent(ctx, ev, nil); err != nil {
			switch {
			case errors.Is(err, pool.ErrUnclassifiedEvent), errors.Is(err, ErrPoolNotTracked):
				// Not informative for any tracked pool.
				skipped++
			case errors.Is(err, pool.ErrAmbiguousMatch):
				return applied, skipped, err
			default:
				skipped++
				w.logger.Warn("apply event",
					zap.String("event", ev.Type),
					zap.String("address", ev.Address.Hex()),
					zap.Error(err),
				)
			}
			continue
		}
		applied++
	}
	return applied, skipped, nil
}

func (w *Watcher) decoderFor(topic0 common.Hash) Decoder {
	for _, decoder := range w.decoders {
		if decoder.CanDecode(topic0) {
			return decoder
		}
	}
	return nil
}

func (w *Watcher) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = w.source.FilterLogs(ctx, fromBlock, toBlock, w.cfg.Addresses, w.cfg.Topic0)
		if err != nil {
			w.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}
