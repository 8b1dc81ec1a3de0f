package bancorv2

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"poolwatch/internal/model"
	"poolwatch/internal/pool"
)

// ExchangeName tags every delta produced by this variant.
const ExchangeName = "bancor_v2"

// Event argument names emitted by Bancor V2 converters.
const (
	ArgToken1 = "_token1"
	ArgToken2 = "_token2"
	ArgRateN  = "_rateN"
	ArgRateD  = "_rateD"
)

// feeScale converts the converter's ppm fee into its float form.
const feeScale = 1_000_000

// Variant implements the Bancor V2 converter reconciliation rules.
type Variant struct{}

func New() *Variant {
	return &Variant{}
}

func (*Variant) Name() string {
	return ExchangeName
}

// UniqueKeyFields identifies Bancor V2 pools by converter address alone.
func (*Variant) UniqueKeyFields() []string {
	return []string{model.KeyAddress}
}

// MatchesFormat accepts events carrying a rate numerator argument, the
// shape unique to Bancor V2 TokenRateUpdate emissions.
func (*Variant) MatchesFormat(ev model.Event) bool {
	_, ok := ev.Args[ArgRateN]
	return ok
}

// SampleEvents feeds the registry's matcher-exclusivity verification.
func (*Variant) SampleEvents() []model.Event {
	return []model.Event{
		{
			Type: EventTokenRateUpdate,
			Args: map[string]any{
				ArgToken1: common.HexToAddress("0x0000000000000000000000000000000000000001"),
				ArgToken2: common.HexToAddress("0x0000000000000000000000000000000000000002"),
				ArgRateN:  big.NewInt(1),
				ArgRateD:  big.NewInt(1),
			},
		},
	}
}

// UpdateFromEvent reconciles a pool against a TokenRateUpdate emission.
//
// A Bancor V2 converter emits several TokenRateUpdate events per trade:
// pool token against each reserve, and reserve against reserve. Only the
// emission whose _token1/_token2 pair equals this pool's own reserve pair
// carries the new reserve balances; the others must pass through without
// touching the recorded balances.
func (v *Variant) UpdateFromEvent(st *pool.State, ev model.Event, seed model.Delta) (model.Delta, error) {
	if !st.Initialized() {
		return nil, fmt.Errorf("%s pool %s: %w", ExchangeName, st.Address().Hex(), pool.ErrStateNotInitialized)
	}

	token1, ok := ev.ArgAddress(ArgToken1)
	if !ok {
		return nil, fmt.Errorf("event %s: missing or invalid %s argument", ev.Type, ArgToken1)
	}
	token2, ok := ev.ArgAddress(ArgToken2)
	if !ok {
		return nil, fmt.Errorf("event %s: missing or invalid %s argument", ev.Type, ArgToken2)
	}

	delta := model.Delta{}
	if token1 == st.Tkn0Address() && token2 == st.Tkn1Address() {
		rateN, err := bigArg(ev, ArgRateN)
		if err != nil {
			return nil, err
		}
		rateD, err := bigArg(ev, ArgRateD)
		if err != nil {
			return nil, err
		}
		delta[model.KeyTkn0Balance] = rateN
		delta[model.KeyTkn1Balance] = rateD
	} else {
		// Not the balance-carrying emission for this pool. Each side keeps
		// its own recorded value.
		delta[model.KeyTkn0Balance] = st.Tkn0Balance()
		delta[model.KeyTkn1Balance] = st.Tkn1Balance()
	}

	delta.Merge(seed)

	if err := st.Apply(delta); err != nil {
		return nil, err
	}

	if anchor, ok := st.Extra(model.KeyAnchor); ok {
		delta[model.KeyAnchor] = anchor
	}
	delta[model.KeyCID] = st.CID()
	delta[model.KeyFee] = st.Fee()
	delta[model.KeyFeeFloat] = st.FeeFloat()
	delta[model.KeyExchangeName] = st.Exchange()
	return delta, nil
}

// UpdateFromContract refreshes the pool from the converter's view methods.
// This is an absolute refresh: it overwrites any state accumulated from
// events and marks the pool initialized.
func (v *Variant) UpdateFromContract(ctx context.Context, st *pool.State, contract pool.Contract) (model.Delta, error) {
	reserve0, reserve1, err := reserveBalances(ctx, st, contract)
	if err != nil {
		return nil, err
	}
	fee, err := conversionFee(ctx, st, contract)
	if err != nil {
		return nil, err
	}
	anchor, err := anchorAddress(ctx, st, contract)
	if err != nil {
		return nil, err
	}

	delta := model.Delta{
		model.KeyFee:          fee,
		model.KeyFeeFloat:     float64(fee) / feeScale,
		model.KeyExchangeName: st.Exchange(),
		model.KeyAddress:      st.Address(),
		model.KeyAnchor:       anchor,
		model.KeyTkn0Balance:  reserve0,
		model.KeyTkn1Balance:  reserve1,
	}
	if err := st.Apply(delta); err != nil {
		return nil, err
	}
	st.MarkInitialized()
	delta[model.KeyCID] = st.CID()
	return delta, nil
}

func reserveBalances(ctx context.Context, st *pool.State, contract pool.Contract) (*big.Int, *big.Int, error) {
	values, err := contract.Call(ctx, "reserveBalances")
	if err != nil {
		return nil, nil, &pool.ContractCallError{Method: "reserveBalances", Address: st.Address(), Err: err}
	}
	if len(values) != 2 {
		return nil, nil, &pool.ContractCallError{
			Method:  "reserveBalances",
			Address: st.Address(),
			Err:     fmt.Errorf("expected 2 values, got %d", len(values)),
		}
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return nil, nil, &pool.ContractCallError{Method: "reserveBalances", Address: st.Address(), Err: err}
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return nil, nil, &pool.ContractCallError{Method: "reserveBalances", Address: st.Address(), Err: err}
	}
	return reserve0, reserve1, nil
}

func conversionFee(ctx context.Context, st *pool.State, contract pool.Contract) (int64, error) {
	values, err := contract.Call(ctx, "conversionFee")
	if err != nil {
		return 0, &pool.ContractCallError{Method: "conversionFee", Address: st.Address(), Err: err}
	}
	if len(values) != 1 {
		return 0, &pool.ContractCallError{
			Method:  "conversionFee",
			Address: st.Address(),
			Err:     fmt.Errorf("expected 1 value, got %d", len(values)),
		}
	}
	fee, err := asInt64(values[0])
	if err != nil {
		return 0, &pool.ContractCallError{Method: "conversionFee", Address: st.Address(), Err: err}
	}
	return fee, nil
}

func anchorAddress(ctx context.Context, st *pool.State, contract pool.Contract) (common.Address, error) {
	values, err := contract.Call(ctx, "anchor")
	if err != nil {
		return common.Address{}, &pool.ContractCallError{Method: "anchor", Address: st.Address(), Err: err}
	}
	if len(values) != 1 {
		return common.Address{}, &pool.ContractCallError{
			Method:  "anchor",
			Address: st.Address(),
			Err:     fmt.Errorf("expected 1 value, got %d", len(values)),
		}
	}
	anchor, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, &pool.ContractCallError{Method: "anchor", Address: st.Address(), Err: err}
	}
	return anchor, nil
}

func bigArg(ev model.Event, name string) (*big.Int, error) {
	value, ok := ev.Args[name]
	if !ok {
		return nil, fmt.Errorf("event %s: missing %s argument", ev.Type, name)
	}
	amount, err := asBigInt(value)
	if err != nil {
		return nil, fmt.Errorf("event %s: argument %s: %w", ev.Type, name, err)
	}
	return amount, nil
}

func asAddress(value any) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	case int:
		return big.NewInt(int64(v)), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asInt64(value any) (int64, error) {
	amount, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	if !amount.IsInt64() {
		return 0, fmt.Errorf("value %s does not fit in int64", amount)
	}
	return amount.Int64(), nil
}
