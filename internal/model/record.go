package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Delta sources.
const (
	SourceEvent    = "event"
	SourceContract = "contract"
)

// DeltaRecord is the normalized representation of a committed delta for
// storage. Balances are encoded as decimal strings so JSON consumers never
// lose precision on uint256 values.
type DeltaRecord struct {
	CID         string  `json:"cid"`
	Exchange    string  `json:"exchange_name"`
	Address     string  `json:"address"`
	Anchor      string  `json:"anchor,omitempty"`
	Tkn0Address string  `json:"tkn0_address,omitempty"`
	Tkn1Address string  `json:"tkn1_address,omitempty"`
	Tkn0Balance string  `json:"tkn0_balance"`
	Tkn1Balance string  `json:"tkn1_balance"`
	Fee         int64   `json:"fee"`
	FeeFloat    float64 `json:"fee_float"`
	Source      string  `json:"source"`
	BlockNumber uint64  `json:"block_number,omitempty"`
	TxHash      string  `json:"tx_hash,omitempty"`
	IngestedAt  string  `json:"ingested_at"`
}

// NewDeltaRecord flattens a delta into a storage record. Fields absent from
// the delta are left at their zero value.
func NewDeltaRecord(d Delta, source string) (DeltaRecord, error) {
	rec := DeltaRecord{Source: source}
	var err error

	if rec.CID, err = stringField(d, KeyCID); err != nil {
		return DeltaRecord{}, err
	}
	if rec.Exchange, err = stringField(d, KeyExchangeName); err != nil {
		return DeltaRecord{}, err
	}
	if rec.Address, err = addressField(d, KeyAddress); err != nil {
		return DeltaRecord{}, err
	}
	if rec.Anchor, err = addressField(d, KeyAnchor); err != nil {
		return DeltaRecord{}, err
	}
	if rec.Tkn0Address, err = addressField(d, KeyTkn0Address); err != nil {
		return DeltaRecord{}, err
	}
	if rec.Tkn1Address, err = addressField(d, KeyTkn1Address); err != nil {
		return DeltaRecord{}, err
	}
	if rec.Tkn0Balance, err = balanceField(d, KeyTkn0Balance); err != nil {
		return DeltaRecord{}, err
	}
	if rec.Tkn1Balance, err = balanceField(d, KeyTkn1Balance); err != nil {
		return DeltaRecord{}, err
	}
	if rec.Fee, err = intField(d, KeyFee); err != nil {
		return DeltaRecord{}, err
	}
	if rec.FeeFloat, err = floatField(d, KeyFeeFloat); err != nil {
		return DeltaRecord{}, err
	}

	return rec, nil
}

func stringField(d Delta, key string) (string, error) {
	value, ok := d[key]
	if !ok {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("field %s: unsupported type %T", key, value)
	}
	return s, nil
}

func addressField(d Delta, key string) (string, error) {
	value, ok := d[key]
	if !ok {
		return "", nil
	}
	switch v := value.(type) {
	case common.Address:
		return v.Hex(), nil
	case *common.Address:
		return v.Hex(), nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("field %s: unsupported type %T", key, value)
	}
}

func balanceField(d Delta, key string) (string, error) {
	value, ok := d[key]
	if !ok {
		return "", nil
	}
	switch v := value.(type) {
	case *big.Int:
		return v.String(), nil
	case big.Int:
		return v.String(), nil
	case string:
		return v, nil
	case int64:
		return big.NewInt(v).String(), nil
	case int:
		return big.NewInt(int64(v)).String(), nil
	case uint64:
		return new(big.Int).SetUint64(v).String(), nil
	default:
		return "", fmt.Errorf("field %s: unsupported type %T", key, value)
	}
}

func intField(d Delta, key string) (int64, error) {
	value, ok := d[key]
	if !ok {
		return 0, nil
	}
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
		return v.Int64(), nil
	default:
		return 0, fmt.Errorf("field %s: unsupported type %T", key, value)
	}
}

func floatField(d Delta, key string) (float64, error) {
	value, ok := d[key]
	if !ok {
		return 0, nil
	}
	f, ok := value.(float64)
	if !ok {
		return 0, fmt.Errorf("field %s: unsupported type %T", key, value)
	}
	return f, nil
}
