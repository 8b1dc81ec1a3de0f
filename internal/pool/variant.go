package pool

import (
	"context"

	"poolwatch/internal/model"
)

// Contract is the read-only call capability a variant uses to refresh a
// pool from chain. Method names and return shapes are variant-defined;
// implementations are assumed synchronous and side-effect-free.
type Contract interface {
	Call(ctx context.Context, method string, args ...any) ([]any, error)
}

// Variant is one exchange implementation's reconciliation rules. A variant
// is stateless; the pool's current values are passed in as *State.
//
// MatchesFormat classifies event shape only. It must not assume the event
// belongs to any particular pool, must tolerate unrelated argument keys,
// and must be mutually exclusive with every other registered variant
// (verified at registration time against SampleEvents).
type Variant interface {
	// Name is the exchange tag written into every delta.
	Name() string

	// UniqueKeyFields names the state fields that form this variant's
	// pool identity.
	UniqueKeyFields() []string

	// SampleEvents returns representative events accepted by MatchesFormat,
	// used to verify matcher exclusivity across registered variants.
	SampleEvents() []model.Event

	// MatchesFormat reports whether this variant's translator is the
	// correct one for the event. Side-effect free.
	MatchesFormat(ev model.Event) bool

	// UpdateFromEvent reconciles the state against a decoded event and
	// returns the applied delta. The seed is merged into the delta
	// verbatim before it is applied; seed fields take precedence.
	// Fails with ErrStateNotInitialized before the first contract read.
	UpdateFromEvent(st *State, ev model.Event, seed model.Delta) (model.Delta, error)

	// UpdateFromContract refreshes the state from an authoritative
	// contract read and returns the applied delta. Always an absolute
	// refresh; never consults the event stream.
	UpdateFromContract(ctx context.Context, st *State, contract Contract) (model.Delta, error)
}
