package driver

import "fmt"

// BlockRange is an inclusive span of blocks covered by one log query.
type BlockRange struct {
	From uint64
	To   uint64
}

// SplitRange cuts [from, to] into consecutive spans of at most batchSize
// blocks so the watch loop can page through a backfill without oversized
// getLogs queries. Spans are returned in ascending order and together cover
// the input exactly once.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block must be >= from block")
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; start <= to; {
		end := start + batchSize - 1
		// end < start catches uint64 wraparound for huge batch sizes.
		if end > to || end < start {
			end = to
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			break
		}
		start = end + 1
	}
	return ranges, nil
}
