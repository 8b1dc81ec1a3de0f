package pool

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnclassifiedEvent is returned when no registered variant accepts an
	// event's format. The caller decides whether to skip, log, or escalate.
	ErrUnclassifiedEvent = errors.New("no registered variant matches event format")
	// ErrStateNotInitialized is returned when an event update is applied
	// before any contract read has populated the pool state.
	ErrStateNotInitialized = errors.New("pool state has not been initialized by a contract read")
	// ErrAmbiguousMatch is returned at registration time when two variants'
	// matchers accept the same event. This is a configuration error.
	ErrAmbiguousMatch = errors.New("event format matched by multiple variants")
	// ErrVariantExists is returned when registering a variant name twice.
	ErrVariantExists = errors.New("variant already registered")
)

// ContractCallError reports a failed read against a pool's contract. The
// core never retries; retry and backoff policy belong to the caller.
type ContractCallError struct {
	Method  string
	Address common.Address
	Err     error
}

func (e *ContractCallError) Error() string {
	return fmt.Sprintf("contract call %s on %s: %v", e.Method, e.Address.Hex(), e.Err)
}

func (e *ContractCallError) Unwrap() error {
	return e.Err
}
