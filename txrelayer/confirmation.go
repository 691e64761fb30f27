package txrelayer

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

type receiptReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Confirmations counts the block holding the transaction as the first confirmation.
func Confirmations(height, blockNumber uint64) uint64 {
	if height < blockNumber {
		return 0
	}

	return height - blockNumber + 1
}

// IsFinal reports whether txHash is mined with at least threshold confirmations.
// A transaction that is not mined yet is not final and is not an error.
func IsFinal(ctx context.Context, reader receiptReader, txHash common.Hash, threshold uint64) (bool, error) {
	receipt, err := reader.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}

		return false, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return false, nil
	}

	height, err := reader.BlockNumber(ctx)
	if err != nil {
		return false, err
	}

	return Confirmations(height, receipt.BlockNumber.Uint64()) >= threshold, nil
}

// UsableTxHash parses a stored transaction hash. Empty, "unknown" and non-hex values are unusable.
func UsableTxHash(txHash string) (common.Hash, bool) {
	if txHash == "" || txHash == UnknownTxHash || !strings.HasPrefix(txHash, "0x") {
		return common.Hash{}, false
	}
	raw, err := hexutil.Decode(txHash)
	if err != nil || len(raw) == 0 || len(raw) > common.HashLength {
		return common.Hash{}, false
	}

	return common.BytesToHash(raw), true
}
