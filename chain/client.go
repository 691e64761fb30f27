package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tokenbridge/bridge-relayer/config"
)

const (
	ReceiptCacheSize = 1024
	// receipt query interval while waiting for a transaction to be mined
	MinedPollInterval = time.Second
)

// Client is the connector to one chain and its bridge contract.
type Client struct {
	name          string
	rpcUrl        string
	bridgeAddress common.Address
	privateKey    *ecdsa.PrivateKey
	chainID       *big.Int

	mu        sync.RWMutex
	ethClient *ethclient.Client
	// Supplement to ethclient
	rpcClient *rpc.Client
	bridge    *bind.BoundContract

	receiptCache      *lru.Cache[common.Hash, *types.Receipt]
	minedPollInterval time.Duration

	logger *zap.SugaredLogger
}

// New dials the chain, reads its chain id and checks that the bridge contract is deployed.
func New(ctx context.Context, cfg config.ChainConfig, privateKeyHex string, logger *zap.SugaredLogger) (*Client, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid signer private key")
	}

	receiptCache, err := lru.New[common.Hash, *types.Receipt](ReceiptCacheSize)
	if err != nil {
		return nil, err
	}

	c := &Client{
		name:          cfg.Name,
		rpcUrl:        cfg.RpcUrl,
		bridgeAddress: common.HexToAddress(cfg.BridgeAddress),
		privateKey:    privateKey,
		receiptCache:      receiptCache,
		minedPollInterval: MinedPollInterval,
		logger:            logger.Named(cfg.Name),
	}
	if _, err := c.dial(ctx); err != nil {
		return nil, err
	}

	chainID, err := c.ethClient.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, errors.Wrapf(err, "%s: failed to get chain id", c.name)
	}
	c.chainID = chainID

	if err := c.EnsureHasBytecode(ctx, c.bridgeAddress); err != nil {
		c.Close()
		return nil, err
	}
	c.logger.Infof("connected to %s, chain id %s, bridge %s, signer %s",
		c.rpcUrl, chainID, c.bridgeAddress.Hex(), c.From().Hex())

	return c, nil
}

// dial connects to the rpc url and returns the connection it replaced, if any.
func (c *Client) dial(ctx context.Context) (*rpc.Client, error) {
	rpcClient, err := rpc.DialContext(ctx, c.rpcUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to dial %s", c.name, c.rpcUrl)
	}

	return c.setBackend(rpcClient), nil
}

// setBackend switches every later call to rpcClient and returns the previous connection.
func (c *Client) setBackend(rpcClient *rpc.Client) *rpc.Client {
	ethClient := ethclient.NewClient(rpcClient)

	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.rpcClient
	c.rpcClient = rpcClient
	c.ethClient = ethClient
	c.bridge = bind.NewBoundContract(c.bridgeAddress, BridgeABI, ethClient, ethClient, ethClient)

	return old
}

func (c *Client) backend() (*ethclient.Client, *bind.BoundContract) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.ethClient, c.bridge
}

// Reconnect replaces the underlying connection with a freshly dialed one. Calls in flight on
// the old connection fail and pick up the new one on their next attempt.
func (c *Client) Reconnect() error {
	old, err := c.dial(context.Background())
	if err != nil {
		return err
	}
	if old != nil {
		old.Close()
	}
	c.logger.Infof("reconnected to %s", c.rpcUrl)

	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) ChainName() string {
	return c.name
}

// From is the signer address.
func (c *Client) From() common.Address {
	return crypto.PubkeyToAddress(c.privateKey.PublicKey)
}

func (c *Client) EnsureHasBytecode(ctx context.Context, address common.Address) error {
	client, _ := c.backend()
	code, err := client.CodeAt(ctx, address, nil)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to get code of %s", c.name, address.Hex())
	}
	if len(code) == 0 {
		return fmt.Errorf("%s: no bytecode found at %s", c.name, address.Hex())
	}

	return nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	client, _ := c.backend()
	return client.BlockNumber(ctx)
}

// FilterLogs returns the bridge contract logs with the given event topic in [from, to].
func (c *Client) FilterLogs(ctx context.Context, topic common.Hash, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.bridgeAddress},
		Topics:    [][]common.Hash{{topic}},
	}

	client, _ := c.backend()
	return client.FilterLogs(ctx, query)
}

// TransactionReceipt returns ethereum.NotFound while the transaction is not mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if receipt, ok := c.receiptCache.Get(hash); ok {
		return receipt, nil
	}

	client, _ := c.backend()
	receipt, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}

	c.receiptCache.Add(hash, receipt)
	return receipt, nil
}

// Transact signs and sends a call of method on the bridge contract.
func (c *Client) Transact(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx

	_, bridge := c.backend()
	return bridge.Transact(opts, method, args...)
}

// Call invokes a read-only method of the bridge contract.
func (c *Client) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	_, bridge := c.backend()
	if err := bridge.Call(&bind.CallOpts{Context: ctx, From: c.From()}, &out, method, args...); err != nil {
		return nil, err
	}

	return out, nil
}

// WaitMined polls the receipt of tx until it is mined or ctx is done. Every poll goes through
// the current connection, so a Reconnect while waiting does not stall it.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	queryTicker := time.NewTicker(c.minedPollInterval)
	defer queryTicker.Stop()

	for {
		receipt, err := c.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			return receipt, nil
		}
		if errors.Is(err, ethereum.NotFound) {
			c.logger.Debugf("transaction %s not yet mined", tx.Hash().Hex())
		} else {
			c.logger.Debugf("failed to get receipt of %s: %v", tx.Hash().Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-queryTicker.C:
		}
	}
}

func (c *Client) Distribute(ctx context.Context, token, to common.Address, amount, nonce *big.Int) (*types.Transaction, error) {
	return c.Transact(ctx, MethodDistribute, token, to, amount, nonce)
}

func (c *Client) AddSupportedToken(ctx context.Context, token common.Address) (*types.Transaction, error) {
	return c.Transact(ctx, MethodAddSupportedToken, token)
}

func (c *Client) IsTokenSupported(ctx context.Context, token common.Address) (bool, error) {
	out, err := c.Call(ctx, MethodIsTokenSupported, token)
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, fmt.Errorf("%s returned %d values", MethodIsTokenSupported, len(out))
	}
	supported, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s returned %T", MethodIsTokenSupported, out[0])
	}

	return supported, nil
}
