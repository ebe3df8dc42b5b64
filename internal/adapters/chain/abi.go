package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Only the entries the launcher calls are declared.
const escrowFactoryABIJSON = `[
  {
    "type": "function",
    "name": "createEscrow",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "token", "type": "address"},
      {"name": "trustedHandlers", "type": "address[]"}
    ],
    "outputs": [{"name": "", "type": "address"}]
  },
  {
    "type": "event",
    "name": "Launched",
    "anonymous": false,
    "inputs": [
      {"name": "token", "type": "address", "indexed": false},
      {"name": "escrow", "type": "address", "indexed": false}
    ]
  }
]`

const escrowABIJSON = `[
  {
    "type": "function",
    "name": "setup",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "reputationOracle", "type": "address"},
      {"name": "recordingOracle", "type": "address"},
      {"name": "reputationOracleFeePercentage", "type": "uint8"},
      {"name": "recordingOracleFeePercentage", "type": "uint8"},
      {"name": "url", "type": "string"},
      {"name": "hash", "type": "string"}
    ],
    "outputs": []
  }
]`

const (
	methodCreateEscrow = "createEscrow"
	methodSetup        = "setup"
	eventLaunched      = "Launched"
)

var (
	factoryABI = mustParseABI(escrowFactoryABIJSON)
	escrowABI  = mustParseABI(escrowABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		//nolint:forbidigo // the definitions are compile-time constants
		panic("invalid embedded ABI: " + err.Error())
	}
	return parsed
}
