package model

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewDeltaRecord(t *testing.T) {
	anchor := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	poolAddr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	d := Delta{
		KeyCID:          "p1",
		KeyExchangeName: "bancor_v2",
		KeyAddress:      poolAddr,
		KeyAnchor:       anchor,
		KeyTkn0Address:  "0x000000000000000000000000000000000000000A",
		KeyTkn0Balance:  big.NewInt(100),
		KeyTkn1Balance:  "200",
		KeyFee:          int64(3000),
		KeyFeeFloat:     0.003,
	}

	rec, err := NewDeltaRecord(d, SourceContract)
	if err != nil {
		t.Fatalf("build record: %v", err)
	}

	if rec.CID != "p1" || rec.Exchange != "bancor_v2" {
		t.Fatalf("identity = %s/%s", rec.CID, rec.Exchange)
	}
	if rec.Address != poolAddr.Hex() {
		t.Fatalf("address = %s, want %s", rec.Address, poolAddr.Hex())
	}
	if rec.Anchor != anchor.Hex() {
		t.Fatalf("anchor = %s, want %s", rec.Anchor, anchor.Hex())
	}
	if rec.Tkn0Balance != "100" || rec.Tkn1Balance != "200" {
		t.Fatalf("balances = %s/%s", rec.Tkn0Balance, rec.Tkn1Balance)
	}
	if rec.Fee != 3000 || rec.FeeFloat != 0.003 {
		t.Fatalf("fee = %d/%v", rec.Fee, rec.FeeFloat)
	}
	if rec.Source != SourceContract {
		t.Fatalf("source = %s", rec.Source)
	}
}

func TestNewDeltaRecordPartialDelta(t *testing.T) {
	rec, err := NewDeltaRecord(Delta{KeyCID: "p1"}, SourceEvent)
	if err != nil {
		t.Fatalf("build record: %v", err)
	}
	if rec.Tkn0Balance != "" || rec.Fee != 0 || rec.Anchor != "" {
		t.Fatalf("absent fields should stay zero: %+v", rec)
	}
}

func TestNewDeltaRecordRejectsBadTypes(t *testing.T) {
	cases := []Delta{
		{KeyTkn0Balance: 0.5},
		{KeyFee: "3000"},
		{KeyFeeFloat: "0.003"},
		{KeyCID: 7},
		{KeyAnchor: 7},
	}
	for _, d := range cases {
		if _, err := NewDeltaRecord(d, SourceEvent); err == nil {
			t.Fatalf("delta %v should be rejected", d)
		}
	}
}

func TestDeltaMergeOverwrites(t *testing.T) {
	d := Delta{KeyTkn0Balance: big.NewInt(100), KeyFee: int64(3000)}
	d.Merge(Delta{KeyTkn0Balance: big.NewInt(42), "descr": "override"})

	if d[KeyTkn0Balance].(*big.Int).Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("merge should overwrite: %v", d[KeyTkn0Balance])
	}
	if d[KeyFee] != int64(3000) {
		t.Fatalf("merge dropped untouched key: %v", d[KeyFee])
	}
	if d["descr"] != "override" {
		t.Fatalf("merge dropped new key: %v", d["descr"])
	}
}

func TestDeltaClone(t *testing.T) {
	d := Delta{KeyCID: "p1"}
	clone := d.Clone()
	clone[KeyCID] = "p2"
	if d[KeyCID] != "p1" {
		t.Fatalf("clone shares storage with original")
	}
}

func TestEventArgAddress(t *testing.T) {
	addr := common.HexToAddress("0x000000000000000000000000000000000000000A")
	ev := Event{Args: map[string]any{
		"typed":  addr,
		"ptr":    &addr,
		"hex":    addr.Hex(),
		"junk":   "not an address",
		"number": big.NewInt(1),
	}}

	for _, name := range []string{"typed", "ptr", "hex"} {
		got, ok := ev.ArgAddress(name)
		if !ok || got != addr {
			t.Fatalf("arg %s = %v ok=%v", name, got, ok)
		}
	}
	for _, name := range []string{"junk", "number", "missing"} {
		if _, ok := ev.ArgAddress(name); ok {
			t.Fatalf("arg %s should not parse as address", name)
		}
	}
}
