package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"poolwatch/internal/model"
)

// State is the canonical in-memory snapshot of one pool's economic state.
// Identity fields (exchange, cid, address, token addresses) are fixed at
// construction; everything else is only ever written through Apply, which
// is the single mutation point for both reconciliation paths.
//
// State is not safe for concurrent use. The caller must serialize all
// updates to a given pool identity.
type State struct {
	exchange string
	cid      string
	address  common.Address

	tkn0        common.Address
	tkn1        common.Address
	tkn0Balance *big.Int
	tkn1Balance *big.Int
	fee         int64
	feeFloat    float64
	extra       map[string]any

	initialized bool
}

// NewState creates an uninitialized snapshot for a pool. The identity key
// is stable for the pool's lifetime and never recomputed from mutable
// fields. Event updates are rejected until the first contract read marks
// the state initialized.
func NewState(exchange, cid string, address, tkn0, tkn1 common.Address) *State {
	return &State{
		exchange:    exchange,
		cid:         cid,
		address:     address,
		tkn0:        tkn0,
		tkn1:        tkn1,
		tkn0Balance: new(big.Int),
		tkn1Balance: new(big.Int),
		extra:       make(map[string]any),
	}
}

func (s *State) Exchange() string            { return s.exchange }
func (s *State) CID() string                 { return s.cid }
func (s *State) Address() common.Address     { return s.address }
func (s *State) Tkn0Address() common.Address { return s.tkn0 }
func (s *State) Tkn1Address() common.Address { return s.tkn1 }
func (s *State) Fee() int64                  { return s.fee }
func (s *State) FeeFloat() float64           { return s.feeFloat }
func (s *State) Initialized() bool           { return s.initialized }

// Tkn0Balance returns a copy of the current token0 balance.
func (s *State) Tkn0Balance() *big.Int {
	return new(big.Int).Set(s.tkn0Balance)
}

// Tkn1Balance returns a copy of the current token1 balance.
func (s *State) Tkn1Balance() *big.Int {
	return new(big.Int).Set(s.tkn1Balance)
}

// Extra reads a variant-specific field (e.g. the Bancor anchor address).
func (s *State) Extra(key string) (any, bool) {
	value, ok := s.extra[key]
	return value, ok
}

// MarkInitialized records that an authoritative contract read has populated
// the state. Called by variant contract translators only.
func (s *State) MarkInitialized() {
	s.initialized = true
}

// stagedDelta holds a fully converted delta before it is written. Nil
// pointers mean the field was absent from the delta.
type stagedDelta struct {
	tkn0Balance *big.Int
	tkn1Balance *big.Int
	fee         *int64
	feeFloat    *float64
	extra       map[string]any
}

// Apply writes a delta into the state. Every field is converted and
// validated first; nothing is written until the whole delta has passed, so
// a failed Apply leaves the state exactly as it was. Identity fields in
// the delta are validated against the fixed identity rather than applied;
// unknown keys land in the variant-specific extra map. Balances are deep
// copied so later mutation of the delta cannot corrupt the snapshot.
func (s *State) Apply(d model.Delta) error {
	var staged stagedDelta
	for key, value := range d {
		switch key {
		case model.KeyTkn0Balance:
			amount, err := toBigInt(key, value)
			if err != nil {
				return err
			}
			staged.tkn0Balance = amount
		case model.KeyTkn1Balance:
			amount, err := toBigInt(key, value)
			if err != nil {
				return err
			}
			staged.tkn1Balance = amount
		case model.KeyFee:
			fee, err := toInt64(key, value)
			if err != nil {
				return err
			}
			staged.fee = &fee
		case model.KeyFeeFloat:
			f, ok := value.(float64)
			if !ok {
				return fmt.Errorf("field %s: unsupported type %T", key, value)
			}
			staged.feeFloat = &f
		case model.KeyExchangeName, model.KeyCID, model.KeyAddress,
			model.KeyTkn0Address, model.KeyTkn1Address:
			if err := s.checkIdentity(key, value); err != nil {
				return err
			}
		default:
			if staged.extra == nil {
				staged.extra = make(map[string]any)
			}
			staged.extra[key] = value
		}
	}

	if staged.tkn0Balance != nil {
		s.tkn0Balance = staged.tkn0Balance
	}
	if staged.tkn1Balance != nil {
		s.tkn1Balance = staged.tkn1Balance
	}
	if staged.fee != nil {
		s.fee = *staged.fee
	}
	if staged.feeFloat != nil {
		s.feeFloat = *staged.feeFloat
	}
	for key, value := range staged.extra {
		s.extra[key] = value
	}
	return nil
}

// View returns the full state as a delta-shaped mapping, including the
// denormalized identity fields.
func (s *State) View() model.Delta {
	d := model.Delta{
		model.KeyExchangeName: s.exchange,
		model.KeyCID:          s.cid,
		model.KeyAddress:      s.address,
		model.KeyTkn0Address:  s.tkn0,
		model.KeyTkn1Address:  s.tkn1,
		model.KeyTkn0Balance:  s.Tkn0Balance(),
		model.KeyTkn1Balance:  s.Tkn1Balance(),
		model.KeyFee:          s.fee,
		model.KeyFeeFloat:     s.feeFloat,
	}
	for key, value := range s.extra {
		d[key] = value
	}
	return d
}

func (s *State) checkIdentity(key string, value any) error {
	switch key {
	case model.KeyExchangeName:
		if name, ok := value.(string); !ok || name != s.exchange {
			return fmt.Errorf("field %s: %v conflicts with identity %s", key, value, s.exchange)
		}
	case model.KeyCID:
		if cid, ok := value.(string); !ok || cid != s.cid {
			return fmt.Errorf("field %s: %v conflicts with identity %s", key, value, s.cid)
		}
	case model.KeyAddress:
		return matchAddress(key, value, s.address)
	case model.KeyTkn0Address:
		return matchAddress(key, value, s.tkn0)
	case model.KeyTkn1Address:
		return matchAddress(key, value, s.tkn1)
	}
	return nil
}

func matchAddress(key string, value any, want common.Address) error {
	got, err := toAddress(key, value)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("field %s: %s conflicts with identity %s", key, got.Hex(), want.Hex())
	}
	return nil
}

func toAddress(key string, value any) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	case string:
		if !common.IsHexAddress(v) {
			return common.Address{}, fmt.Errorf("field %s: invalid address %q", key, v)
		}
		return common.HexToAddress(v), nil
	default:
		return common.Address{}, fmt.Errorf("field %s: unsupported type %T", key, value)
	}
}

func toBigInt(key string, value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case int64:
		return big.NewInt(v), nil
	case int:
		return big.NewInt(int64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("field %s: unsupported type %T", key, value)
	}
}

func toInt64(key string, value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case *big.Int:
		if !v.IsInt64() {
			return 0, fmt.Errorf("field %s: value %s does not fit in int64", key, v)
		}
		return v.Int64(), nil
	default:
		return 0, fmt.Errorf("field %s: unsupported type %T", key, value)
	}
}
