package model

// Canonical field names used in pool state and deltas. Downstream consumers
// key on these, so they are stable wire names, not Go identifiers.
const (
	KeyExchangeName = "exchange_name"
	KeyCID          = "cid"
	KeyAddress      = "address"
	KeyAnchor       = "anchor"
	KeyTkn0Address  = "tkn0_address"
	KeyTkn1Address  = "tkn1_address"
	KeyTkn0Balance  = "tkn0_balance"
	KeyTkn1Balance  = "tkn1_balance"
	KeyFee          = "fee"
	KeyFeeFloat     = "fee_float"
)

// Delta is the set of field updates produced by one reconciliation call.
// Every delta carries the denormalized identity fields (cid, fee, fee_float,
// exchange_name) so consumers can operate on it without reading the store.
type Delta map[string]any

// Merge copies all fields from other into d, overwriting existing keys.
func (d Delta) Merge(other Delta) {
	for key, value := range other {
		d[key] = value
	}
}

// Clone returns a shallow copy of the delta.
func (d Delta) Clone() Delta {
	out := make(Delta, len(d))
	for key, value := range d {
		out[key] = value
	}
	return out
}
