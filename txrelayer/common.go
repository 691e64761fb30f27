package txrelayer

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tokenbridge/bridge-relayer/config"
	"github.com/tokenbridge/bridge-relayer/db"
)

const (
	TokenNotSupportedErrorMessage          = "token not supported"
	OwnableUnauthorizedAccountErrorMessage = "OwnableUnauthorizedAccount"
	NotOwnerErrorMessage                   = "caller is not the owner"
	ExecutionRevertedErrorMessage          = "execution reverted"

	// stored in place of the transaction hash when the source did not provide one
	UnknownTxHash = "unknown"
)

type ITxRelayer interface {
	Start()
	Stop()
	WaitForShutdown()
	Name() string
}

// Connector is the access to one chain and its bridge contract.
type Connector interface {
	ChainName() string
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, topic common.Hash, from, to uint64) ([]types.Log, error)
	// TransactionReceipt returns ethereum.NotFound while the transaction is not mined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	IsTokenSupported(ctx context.Context, token common.Address) (bool, error)
	AddSupportedToken(ctx context.Context, token common.Address) (*types.Transaction, error)
	Distribute(ctx context.Context, token, to common.Address, amount, nonce *big.Int) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	Reconnect() error
}

type DepositStore interface {
	RecordIfAbsent(deposit *db.DepositEvent) (bool, error)
	ListUnprocessed() ([]*db.DepositEvent, error)
	MarkProcessed(nonce string, chainId string) error
}

type DistributionStore interface {
	Exists(nonce string, chainId string) (bool, error)
	Complete(deposit *db.DepositEvent, distribution *db.DistributionEvent) error

	// a release is pending between its broadcast and Complete
	SavePendingRelease(nonce string, chainId string, txHash string) error
	PendingRelease(nonce string, chainId string) (string, bool, error)
	ClearPendingRelease(nonce string, chainId string) error
}

type CursorStore interface {
	GetCursor(chain string) (uint64, bool, error)
	SetCursor(chain string, height uint64) error
}

// Chain is a connector together with the per-chain relaying settings.
type Chain struct {
	Connector         Connector
	ConfirmationDepth uint64
	StartBlockHeight  uint64
	// Token released on this chain for deposits from the opposite chain, empty when unmapped.
	Token string
}

func NewChain(connector Connector, cfg config.ChainConfig) *Chain {
	return &Chain{
		Connector:         connector,
		ConfirmationDepth: cfg.ConfirmationDepth,
		StartBlockHeight:  cfg.StartBlockHeight,
		Token:             cfg.Token,
	}
}

func (c *Chain) Name() string {
	return c.Connector.ChainName()
}

func isTokenNotSupported(err error) bool {
	return err != nil && strings.Contains(err.Error(), TokenNotSupportedErrorMessage)
}

func isNotOwner(err error) bool {
	return err != nil && (strings.Contains(err.Error(), OwnableUnauthorizedAccountErrorMessage) ||
		strings.Contains(err.Error(), NotOwnerErrorMessage))
}

// isContractRejection reports whether err comes from the contract rather than the transport.
func isContractRejection(err error) bool {
	return err != nil && (strings.Contains(err.Error(), ExecutionRevertedErrorMessage) ||
		isTokenNotSupported(err) || isNotOwner(err))
}
