package bancorv2

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"poolwatch/internal/model"
	"poolwatch/internal/pool"
)

var (
	poolAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tknA       = common.HexToAddress("0x000000000000000000000000000000000000000A")
	tknB       = common.HexToAddress("0x000000000000000000000000000000000000000B")
	anchorAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// fakeConverter answers the converter's view methods with canned values.
type fakeConverter struct {
	reserve0 *big.Int
	reserve1 *big.Int
	fee      uint32
	anchor   common.Address
	failing  bool
	calls    int
}

func (f *fakeConverter) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	f.calls++
	if f.failing {
		return nil, errors.New("rpc unavailable")
	}
	switch method {
	case "reserveBalances":
		return []any{new(big.Int).Set(f.reserve0), new(big.Int).Set(f.reserve1)}, nil
	case "conversionFee":
		return []any{f.fee}, nil
	case "anchor":
		return []any{f.anchor}, nil
	default:
		return nil, fmt.Errorf("unexpected method %s", method)
	}
}

func newInitializedPool(t *testing.T) (*pool.State, *fakeConverter) {
	t.Helper()

	st := pool.NewState(ExchangeName, "p1", poolAddr, tknA, tknB)
	converter := &fakeConverter{
		reserve0: big.NewInt(100),
		reserve1: big.NewInt(200),
		fee:      3000,
		anchor:   anchorAddr,
	}
	if _, err := New().UpdateFromContract(context.Background(), st, converter); err != nil {
		t.Fatalf("initial contract read failed: %v", err)
	}
	return st, converter
}

func rateUpdateEvent(token1, token2 common.Address, rateN, rateD int64) model.Event {
	return model.Event{
		Type:    EventTokenRateUpdate,
		Address: poolAddr,
		Args: map[string]any{
			ArgToken1: token1,
			ArgToken2: token2,
			ArgRateN:  big.NewInt(rateN),
			ArgRateD:  big.NewInt(rateD),
		},
	}
}

func TestMatchesFormat(t *testing.T) {
	v := New()

	if !v.MatchesFormat(rateUpdateEvent(tknA, tknB, 1, 1)) {
		t.Fatalf("TokenRateUpdate shape should match")
	}
	if !v.MatchesFormat(model.Event{Args: map[string]any{ArgRateN: 1, "unrelated": 2}}) {
		t.Fatalf("matcher should tolerate extra argument keys")
	}
	if v.MatchesFormat(model.Event{Args: map[string]any{"_fromToken": tknA, "_amount": 1}}) {
		t.Fatalf("Conversion shape should not match")
	}
}

func TestUpdateFromContract(t *testing.T) {
	st, _ := newInitializedPool(t)

	if !st.Initialized() {
		t.Fatalf("state should be initialized after contract read")
	}
	if got := st.Tkn0Balance(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("tkn0 balance = %s, want 100", got)
	}
	if got := st.Tkn1Balance(); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("tkn1 balance = %s, want 200", got)
	}
	if st.Fee() != 3000 {
		t.Fatalf("fee = %d, want 3000", st.Fee())
	}
	if math.Abs(st.FeeFloat()-0.003) > 1e-12 {
		t.Fatalf("fee_float = %v, want 0.003", st.FeeFloat())
	}
	anchor, ok := st.Extra(model.KeyAnchor)
	if !ok || anchor.(common.Address) != anchorAddr {
		t.Fatalf("anchor = %v, want %v", anchor, anchorAddr)
	}
}

func TestUpdateFromContractDelta(t *testing.T) {
	st := pool.NewState(ExchangeName, "p1", poolAddr, tknA, tknB)
	converter := &fakeConverter{
		reserve0: big.NewInt(100),
		reserve1: big.NewInt(200),
		fee:      3000,
		anchor:   anchorAddr,
	}

	delta, err := New().UpdateFromContract(context.Background(), st, converter)
	if err != nil {
		t.Fatalf("contract read failed: %v", err)
	}

	if delta[model.KeyExchangeName] != ExchangeName {
		t.Fatalf("delta exchange = %v", delta[model.KeyExchangeName])
	}
	if delta[model.KeyCID] != "p1" {
		t.Fatalf("delta cid = %v", delta[model.KeyCID])
	}
	if delta[model.KeyFee] != int64(3000) {
		t.Fatalf("delta fee = %v", delta[model.KeyFee])
	}
	if delta[model.KeyAnchor].(common.Address) != anchorAddr {
		t.Fatalf("delta anchor = %v", delta[model.KeyAnchor])
	}
	if delta[model.KeyTkn0Balance].(*big.Int).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("delta tkn0 balance = %v", delta[model.KeyTkn0Balance])
	}
}

func TestUpdateFromContractIsPureRefresh(t *testing.T) {
	st, converter := newInitializedPool(t)

	first := st.View()
	if _, err := New().UpdateFromContract(context.Background(), st, converter); err != nil {
		t.Fatalf("second contract read failed: %v", err)
	}
	second := st.View()

	if first[model.KeyTkn0Balance].(*big.Int).Cmp(second[model.KeyTkn0Balance].(*big.Int)) != 0 {
		t.Fatalf("repeated contract read changed tkn0 balance")
	}
	if first[model.KeyTkn1Balance].(*big.Int).Cmp(second[model.KeyTkn1Balance].(*big.Int)) != 0 {
		t.Fatalf("repeated contract read changed tkn1 balance")
	}
	if first[model.KeyFee] != second[model.KeyFee] {
		t.Fatalf("repeated contract read changed fee")
	}
}

func TestUpdateFromContractFailureLeavesStateUntouched(t *testing.T) {
	st := pool.NewState(ExchangeName, "p1", poolAddr, tknA, tknB)
	converter := &fakeConverter{failing: true}

	_, err := New().UpdateFromContract(context.Background(), st, converter)
	if err == nil {
		t.Fatalf("expected contract call failure")
	}
	var callErr *pool.ContractCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected ContractCallError, got %T", err)
	}
	if st.Initialized() {
		t.Fatalf("failed read must not initialize state")
	}
	if st.Tkn0Balance().Sign() != 0 {
		t.Fatalf("failed read must not mutate balances")
	}
}

func TestUpdateFromEventRequiresInitialization(t *testing.T) {
	st := pool.NewState(ExchangeName, "p1", poolAddr, tknA, tknB)

	_, err := New().UpdateFromEvent(st, rateUpdateEvent(tknA, tknB, 150, 250), nil)
	if !errors.Is(err, pool.ErrStateNotInitialized) {
		t.Fatalf("expected ErrStateNotInitialized, got %v", err)
	}
}

func TestUpdateFromEventMatchingPair(t *testing.T) {
	st, _ := newInitializedPool(t)

	delta, err := New().UpdateFromEvent(st, rateUpdateEvent(tknA, tknB, 150, 250), nil)
	if err != nil {
		t.Fatalf("event update failed: %v", err)
	}

	if delta[model.KeyTkn0Balance].(*big.Int).Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("delta tkn0 balance = %v, want 150", delta[model.KeyTkn0Balance])
	}
	if delta[model.KeyTkn1Balance].(*big.Int).Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("delta tkn1 balance = %v, want 250", delta[model.KeyTkn1Balance])
	}
	if delta[model.KeyCID] != "p1" {
		t.Fatalf("delta cid = %v, want p1", delta[model.KeyCID])
	}
	if delta[model.KeyFee] != int64(3000) {
		t.Fatalf("delta fee = %v, want 3000", delta[model.KeyFee])
	}
	if delta[model.KeyExchangeName] != ExchangeName {
		t.Fatalf("delta exchange = %v", delta[model.KeyExchangeName])
	}

	if got := st.Tkn0Balance(); got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("state tkn0 balance = %s, want 150", got)
	}
	if got := st.Tkn1Balance(); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("state tkn1 balance = %s, want 250", got)
	}
}

func TestUpdateFromEventMismatchedPairKeepsBalances(t *testing.T) {
	st, _ := newInitializedPool(t)

	// Reversed token order: the emission is not authoritative for this
	// pool and must not pick up the rate arguments.
	delta, err := New().UpdateFromEvent(st, rateUpdateEvent(tknB, tknA, 999, 888), nil)
	if err != nil {
		t.Fatalf("event update failed: %v", err)
	}

	if delta[model.KeyTkn0Balance].(*big.Int).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("delta tkn0 balance = %v, want 100", delta[model.KeyTkn0Balance])
	}
	if delta[model.KeyTkn1Balance].(*big.Int).Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("delta tkn1 balance = %v, want 200", delta[model.KeyTkn1Balance])
	}
	if got := st.Tkn0Balance(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("state tkn0 balance = %s, want 100", got)
	}
	if got := st.Tkn1Balance(); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("state tkn1 balance = %s, want 200", got)
	}
}

func TestUpdateFromEventIsIdempotent(t *testing.T) {
	st, _ := newInitializedPool(t)
	ev := rateUpdateEvent(tknA, tknB, 150, 250)

	if _, err := New().UpdateFromEvent(st, ev, nil); err != nil {
		t.Fatalf("first event update failed: %v", err)
	}
	first := st.View()

	if _, err := New().UpdateFromEvent(st, ev, nil); err != nil {
		t.Fatalf("second event update failed: %v", err)
	}
	second := st.View()

	if first[model.KeyTkn0Balance].(*big.Int).Cmp(second[model.KeyTkn0Balance].(*big.Int)) != 0 {
		t.Fatalf("reapplying the same event changed tkn0 balance")
	}
	if first[model.KeyTkn1Balance].(*big.Int).Cmp(second[model.KeyTkn1Balance].(*big.Int)) != 0 {
		t.Fatalf("reapplying the same event changed tkn1 balance")
	}
}

func TestContractReadOverwritesEventState(t *testing.T) {
	st, converter := newInitializedPool(t)

	if _, err := New().UpdateFromEvent(st, rateUpdateEvent(tknA, tknB, 150, 250), nil); err != nil {
		t.Fatalf("event update failed: %v", err)
	}

	// The contract is the authoritative source; a refresh wins over
	// whatever the event stream reported.
	converter.reserve0 = big.NewInt(111)
	converter.reserve1 = big.NewInt(222)
	if _, err := New().UpdateFromContract(context.Background(), st, converter); err != nil {
		t.Fatalf("contract refresh failed: %v", err)
	}

	if got := st.Tkn0Balance(); got.Cmp(big.NewInt(111)) != 0 {
		t.Fatalf("state tkn0 balance = %s, want 111", got)
	}
	if got := st.Tkn1Balance(); got.Cmp(big.NewInt(222)) != 0 {
		t.Fatalf("state tkn1 balance = %s, want 222", got)
	}
}

func TestUpdateFromEventSeedTakesPrecedence(t *testing.T) {
	st, _ := newInitializedPool(t)

	seed := model.Delta{
		"descr":              "manual",
		model.KeyTkn0Balance: big.NewInt(42),
	}
	delta, err := New().UpdateFromEvent(st, rateUpdateEvent(tknA, tknB, 150, 250), seed)
	if err != nil {
		t.Fatalf("event update failed: %v", err)
	}

	if delta["descr"] != "manual" {
		t.Fatalf("seed field dropped from delta")
	}
	if delta[model.KeyTkn0Balance].(*big.Int).Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("seed balance should take precedence, got %v", delta[model.KeyTkn0Balance])
	}
	if got := st.Tkn0Balance(); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("state tkn0 balance = %s, want seeded 42", got)
	}
	if extra, ok := st.Extra("descr"); !ok || extra != "manual" {
		t.Fatalf("seed field not applied to state extras")
	}
}

func TestUpdateFromEventBadSeedLeavesStateUntouched(t *testing.T) {
	st, _ := newInitializedPool(t)

	seed := model.Delta{model.KeyFeeFloat: "not a float"}
	_, err := New().UpdateFromEvent(st, rateUpdateEvent(tknA, tknB, 150, 250), seed)
	if err == nil {
		t.Fatalf("expected error for mistyped seed field")
	}
	if got := st.Tkn0Balance(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed update mutated tkn0 balance: %s, want 100", got)
	}
	if got := st.Tkn1Balance(); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("failed update mutated tkn1 balance: %s, want 200", got)
	}
}

func TestUpdateFromEventMalformedArguments(t *testing.T) {
	st, _ := newInitializedPool(t)

	ev := model.Event{
		Type: EventTokenRateUpdate,
		Args: map[string]any{ArgRateN: big.NewInt(1)},
	}
	if _, err := New().UpdateFromEvent(st, ev, nil); err == nil {
		t.Fatalf("expected error for event without token arguments")
	}
	if got := st.Tkn0Balance(); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed update must not mutate state, tkn0 = %s", got)
	}
}

func TestFeeFloatScaling(t *testing.T) {
	fees := []uint32{0, 1, 1000, 3000, 30000, 1000000}
	for _, fee := range fees {
		st := pool.NewState(ExchangeName, "p1", poolAddr, tknA, tknB)
		converter := &fakeConverter{
			reserve0: big.NewInt(1),
			reserve1: big.NewInt(1),
			fee:      fee,
			anchor:   anchorAddr,
		}
		delta, err := New().UpdateFromContract(context.Background(), st, converter)
		if err != nil {
			t.Fatalf("fee %d: contract read failed: %v", fee, err)
		}
		want := float64(fee) / 1e6
		if got := delta[model.KeyFeeFloat].(float64); math.Abs(got-want) > 1e-12 {
			t.Fatalf("fee %d: fee_float = %v, want %v", fee, got, want)
		}
	}
}
