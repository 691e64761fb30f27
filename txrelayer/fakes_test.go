package txrelayer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tokenbridge/bridge-relayer/chain"
	"github.com/tokenbridge/bridge-relayer/config"
	"github.com/tokenbridge/bridge-relayer/db"
	"github.com/tokenbridge/bridge-relayer/metrics"
)

var (
	m      = metrics.NewRelayerMetrics(nil)
	logger = zap.NewNop().Sugar()
)

const (
	addrA  = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	addrB  = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	tokenA = "0x1111111111111111111111111111111111111111"
	tokenB = "0x2222222222222222222222222222222222222222"
)

type distributeCall struct {
	Token  common.Address
	To     common.Address
	Amount *big.Int
	Nonce  *big.Int
}

type FakeConnector struct {
	mu sync.Mutex

	name      string
	height    uint64
	heightErr error
	logs      []types.Log
	filterErr error
	receipts  map[common.Hash]*types.Receipt
	// returned by TransactionReceipt instead of the receipt
	receiptErr error
	// consumed one per WaitMined call before receipts are produced
	waitErrs []error

	supported     map[common.Address]bool
	supportedErr  error
	addErr        error
	distributeErr map[string]error // keyed by nonce
	panicNonce    string
	reverted      bool

	txNonce     uint64
	filterCalls [][2]uint64
	distributed []distributeCall
	added       []common.Address
	reconnects  int
}

func NewFakeConnector(name string, height uint64) *FakeConnector {
	return &FakeConnector{
		name:          name,
		height:        height,
		receipts:      make(map[common.Hash]*types.Receipt),
		supported:     make(map[common.Address]bool),
		distributeErr: make(map[string]error),
	}
}

func (f *FakeConnector) ChainName() string {
	return f.name
}

func (f *FakeConnector) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, f.heightErr
}

func (f *FakeConnector) FilterLogs(_ context.Context, topic common.Hash, from, to uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls = append(f.filterCalls, [2]uint64{from, to})
	if f.filterErr != nil {
		return nil, f.filterErr
	}

	var logs []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to && len(log.Topics) > 0 && log.Topics[0] == topic {
			logs = append(logs, log)
		}
	}
	return logs, nil
}

func (f *FakeConnector) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *FakeConnector) IsTokenSupported(_ context.Context, token common.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supported[token], f.supportedErr
}

func (f *FakeConnector) AddSupportedToken(_ context.Context, token common.Address) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, token)
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.supported[token] = true
	return f.newTx(), nil
}

func (f *FakeConnector) Distribute(_ context.Context, token, to common.Address, amount, nonce *big.Int) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicNonce == nonce.String() {
		panic("connector exploded")
	}
	if err := f.distributeErr[nonce.String()]; err != nil {
		return nil, err
	}
	f.distributed = append(f.distributed, distributeCall{Token: token, To: to, Amount: amount, Nonce: nonce})
	return f.newTx(), nil
}

func (f *FakeConnector) WaitMined(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.waitErrs) > 0 {
		err := f.waitErrs[0]
		f.waitErrs = f.waitErrs[1:]
		return nil, err
	}
	status := types.ReceiptStatusSuccessful
	if f.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: new(big.Int).SetUint64(f.height)}, nil
}

func (f *FakeConnector) Reconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *FakeConnector) newTx() *types.Transaction {
	f.txNonce++
	return types.NewTx(&types.LegacyTx{Nonce: f.txNonce, GasPrice: big.NewInt(1), Gas: 21000})
}

func (f *FakeConnector) setHeight(height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = height
}

func (f *FakeConnector) mineReceipt(txHash string, block uint64) {
	f.setReceipt(txHash, block, types.ReceiptStatusSuccessful)
}

func (f *FakeConnector) setReceipt(txHash string, block uint64, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[common.HexToHash(txHash)] = &types.Receipt{
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(block),
	}
}

func (f *FakeConnector) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

func (f *FakeConnector) distributeCalls() []distributeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]distributeCall(nil), f.distributed...)
}

func (f *FakeConnector) addDepositLog(t *testing.T, block uint64, txHash string, token, from, to string, amount, nonce int64) {
	t.Helper()
	data, err := chain.BridgeABI.Events[chain.DepositEventName].Inputs.NonIndexed().
		Pack(common.HexToAddress(to), big.NewInt(amount), big.NewInt(nonce))
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, types.Log{
		Topics: []common.Hash{
			chain.DepositEventTopic,
			common.BytesToHash(common.HexToAddress(token).Bytes()),
			common.BytesToHash(common.HexToAddress(from).Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash),
	})
}

type FakeCursorStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
	setErr  error
}

func NewFakeCursorStore() *FakeCursorStore {
	return &FakeCursorStore{cursors: make(map[string]uint64)}
}

func (f *FakeCursorStore) GetCursor(chain string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	height, ok := f.cursors[chain]
	return height, ok, nil
}

func (f *FakeCursorStore) SetCursor(chain string, height uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.cursors[chain] = height
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := db.Init(config.Database{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:relayer_%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	t.Cleanup(func() { _ = db.Close(gormDB) })

	return gormDB
}

func testRelayerConfig() config.RelayerConfig {
	return config.RelayerConfig{
		PollInterval:       10 * time.Millisecond,
		PollErrorDelay:     time.Millisecond,
		MaxBlockRange:      100,
		DistributeInterval: 10 * time.Millisecond,
		RpcTimeout:         time.Second,
		MinedTimeout:       time.Second,
		RestartDelay:       10 * time.Millisecond,
	}
}
