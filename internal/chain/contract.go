package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// BoundContract is a read-only contract handle: an address bound to an ABI
// through which view methods are invoked by name. Pool variants call it
// without knowing anything about transport or encoding.
type BoundContract struct {
	client  *Client
	abi     abi.ABI
	address common.Address
}

// NewBoundContract binds an ABI and address to the chain client.
func NewBoundContract(client *Client, contractABI abi.ABI, address common.Address) *BoundContract {
	return &BoundContract{
		client:  client,
		abi:     contractABI,
		address: address,
	}
}

// Address returns the bound contract address.
func (b *BoundContract) Address() common.Address {
	return b.address
}

// Call packs the method arguments, performs an eth_call at the latest
// block, and unpacks the results.
func (b *BoundContract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &b.address, Data: data}
	resp, err := b.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := b.abi.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// CallAt is Call pinned to a specific block height.
func (b *BoundContract) CallAt(ctx context.Context, blockNumber uint64, method string, args ...any) ([]any, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &b.address, Data: data}
	resp, err := b.client.CallContract(ctx, msg, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("call %s at %d: %w", method, blockNumber, err)
	}
	values, err := b.abi.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}
