package bancorv2

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const converterABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "contract IERC20Token", "name": "_token1", "type": "address"},
      {"indexed": true, "internalType": "contract IERC20Token", "name": "_token2", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "_rateN", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "_rateD", "type": "uint256"}
    ],
    "name": "TokenRateUpdate",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "contract IERC20Token", "name": "_fromToken", "type": "address"},
      {"indexed": true, "internalType": "contract IERC20Token", "name": "_toToken", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "_trader", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "_amount", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "_return", "type": "uint256"},
      {"indexed": false, "internalType": "int256", "name": "_conversionFee", "type": "int256"}
    ],
    "name": "Conversion",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "reserveBalances",
    "outputs": [
      {"internalType": "uint256", "name": "", "type": "uint256"},
      {"internalType": "uint256", "name": "", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "conversionFee",
    "outputs": [{"internalType": "uint32", "name": "", "type": "uint32"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "anchor",
    "outputs": [{"internalType": "contract IConverterAnchor", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	converterABI     abi.ABI
	converterABIOnce sync.Once
	converterABIErr  error
)

// ConverterABI returns the parsed Bancor V2 converter ABI.
func ConverterABI() (abi.ABI, error) {
	converterABIOnce.Do(func() {
		converterABI, converterABIErr = abi.JSON(strings.NewReader(converterABIJSON))
	})
	return converterABI, converterABIErr
}
