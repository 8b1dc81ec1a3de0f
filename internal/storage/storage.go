package storage

import (
	"context"

	"poolwatch/internal/model"
)

// DeltaSink consumes committed reconciliation deltas.
type DeltaSink interface {
	PutDeltaBatch(ctx context.Context, deltas []model.DeltaRecord) error
}
