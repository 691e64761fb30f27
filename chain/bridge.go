package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const bridgeABIJson = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "token", "type": "address"},
			{"indexed": true, "name": "from", "type": "address"},
			{"indexed": false, "name": "to", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"},
			{"indexed": false, "name": "nonce", "type": "uint256"}
		],
		"name": "Deposit",
		"type": "event"
	},
	{
		"inputs": [
			{"name": "token", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "nonce", "type": "uint256"}
		],
		"name": "distribute",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "token", "type": "address"}],
		"name": "addSupportedToken",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "token", "type": "address"}],
		"name": "isTokenSupported",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const (
	DepositEventName        = "Deposit"
	MethodDistribute        = "distribute"
	MethodAddSupportedToken = "addSupportedToken"
	MethodIsTokenSupported  = "isTokenSupported"
)

var (
	BridgeABI         abi.ABI
	DepositEventTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(bridgeABIJson))
	if err != nil {
		panic(err)
	}
	BridgeABI = parsed
	DepositEventTopic = parsed.Events[DepositEventName].ID
}

// DepositLog is a decoded Deposit event.
type DepositLog struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *big.Int
	Nonce  *big.Int

	TxHash      common.Hash
	BlockNumber uint64
}

// ParseDepositLog decodes the indexed arguments from the topics and the rest from the log data.
func ParseDepositLog(log types.Log) (*DepositLog, error) {
	event := BridgeABI.Events[DepositEventName]
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return nil, fmt.Errorf("log %s:%d is not a %s event", log.TxHash.Hex(), log.Index, DepositEventName)
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	values := make(map[string]interface{})
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, errors.Wrap(err, "failed to parse deposit topics")
	}
	if err := BridgeABI.UnpackIntoMap(values, DepositEventName, log.Data); err != nil {
		return nil, errors.Wrap(err, "failed to unpack deposit data")
	}

	deposit := &DepositLog{TxHash: log.TxHash, BlockNumber: log.BlockNumber}
	var ok bool
	if deposit.Token, ok = values["token"].(common.Address); !ok {
		return nil, fmt.Errorf("deposit token has unexpected type %T", values["token"])
	}
	if deposit.From, ok = values["from"].(common.Address); !ok {
		return nil, fmt.Errorf("deposit from has unexpected type %T", values["from"])
	}
	if deposit.To, ok = values["to"].(common.Address); !ok {
		return nil, fmt.Errorf("deposit to has unexpected type %T", values["to"])
	}
	if deposit.Amount, ok = values["amount"].(*big.Int); !ok {
		return nil, fmt.Errorf("deposit amount has unexpected type %T", values["amount"])
	}
	if deposit.Nonce, ok = values["nonce"].(*big.Int); !ok {
		return nil, fmt.Errorf("deposit nonce has unexpected type %T", values["nonce"])
	}

	return deposit, nil
}
