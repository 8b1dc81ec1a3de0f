package model

import (
	"github.com/ethereum/go-ethereum/common"
)

// Event is a decoded chain event: a type name plus named arguments.
// The reconciliation core only reads Args; everything else is routing
// metadata carried along from the originating log.
type Event struct {
	Type        string
	Address     common.Address
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Args        map[string]any
}

// ArgAddress reads an address-typed event argument.
func (e Event) ArgAddress(name string) (common.Address, bool) {
	value, ok := e.Args[name]
	if !ok {
		return common.Address{}, false
	}
	switch v := value.(type) {
	case common.Address:
		return v, true
	case *common.Address:
		return *v, true
	case string:
		if !common.IsHexAddress(v) {
			return common.Address{}, false
		}
		return common.HexToAddress(v), true
	default:
		return common.Address{}, false
	}
}
