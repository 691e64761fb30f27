package txrelayer

import (
	"context"
	"fmt"
	"math/big"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tokenbridge/bridge-relayer/config"
	"github.com/tokenbridge/bridge-relayer/db"
	"github.com/tokenbridge/bridge-relayer/metrics"
)

// Distributor releases finalized deposits on the opposite chain.
type Distributor struct {
	chains   map[string]*Chain
	opposite map[string]*Chain

	deposits      DepositStore
	distributions DistributionStore
	metrics       *metrics.RelayerMetrics

	interval     time.Duration
	rpcTimeout   time.Duration
	minedTimeout time.Duration

	busy atomic.Bool

	logger *zap.SugaredLogger
}

func NewDistributor(cfg config.RelayerConfig, deposits DepositStore, distributions DistributionStore, m *metrics.RelayerMetrics,
	logger *zap.SugaredLogger, chainA, chainB *Chain) *Distributor {
	return &Distributor{
		chains: map[string]*Chain{
			chainA.Name(): chainA,
			chainB.Name(): chainB,
		},
		opposite: map[string]*Chain{
			chainA.Name(): chainB,
			chainB.Name(): chainA,
		},
		deposits:      deposits,
		distributions: distributions,
		metrics:       m,
		interval:      cfg.DistributeInterval,
		rpcTimeout:    cfg.RpcTimeout,
		minedTimeout:  cfg.MinedTimeout,
		logger:        logger.Named("distributor"),
	}
}

// Run executes one cycle right away and then one per interval until ctx is done.
func (d *Distributor) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.RunCycle(ctx)

		select {
		case <-ctx.Done():
			d.logger.Debug("distributor loop quit")
			return nil
		case <-ticker.C:
		}
	}
}

// RunCycle handles every unprocessed deposit once. A call made while another cycle is
// still running returns immediately.
func (d *Distributor) RunCycle(ctx context.Context) {
	if !d.busy.CompareAndSwap(false, true) {
		d.logger.Warn("previous distribution cycle still running, skip")
		return
	}
	defer d.busy.Store(false)

	deposits, err := d.deposits.ListUnprocessed()
	if err != nil {
		d.logger.Errorf("failed to list unprocessed deposits: %v", err)
		return
	}
	d.metrics.SetPendingDeposits(len(deposits))
	if len(deposits) > 0 {
		d.logger.Debugf("unprocessed deposits: %d", len(deposits))
	}

	for _, deposit := range deposits {
		if ctx.Err() != nil {
			return
		}
		d.handle(ctx, deposit)
	}
}

// handle isolates one deposit: its error or panic never reaches the other deposits.
func (d *Distributor) handle(ctx context.Context, deposit *db.DepositEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.IncDistributionFailures(deposit.ChainId)
			d.logger.Errorf("panic while distributing deposit, chain: %s, nonce: %s: %v\n%s",
				deposit.ChainId, deposit.Nonce, r, debug.Stack())
		}
	}()

	if err := d.distribute(ctx, deposit); err != nil {
		d.metrics.IncDistributionFailures(deposit.ChainId)
		d.logger.Errorf("failed to distribute deposit, chain: %s, nonce: %s, tx: %s: %v",
			deposit.ChainId, deposit.Nonce, deposit.TransactionHash, err)
		if isTokenNotSupported(err) {
			d.logger.Errorf("the bridge contract does not support the release token, "+
				"call addSupportedToken from the bridge owner account or configure the token of the destination chain, chain: %s, nonce: %s",
				deposit.ChainId, deposit.Nonce)
		}
	}
}

func (d *Distributor) distribute(ctx context.Context, deposit *db.DepositEvent) error {
	txHash, ok := UsableTxHash(deposit.TransactionHash)
	if !ok {
		d.logger.Warnf("deposit has no usable transaction hash %q, mark processed without release, chain: %s, nonce: %s",
			deposit.TransactionHash, deposit.ChainId, deposit.Nonce)
		if err := d.deposits.MarkProcessed(deposit.Nonce, deposit.ChainId); err != nil {
			return errors.Wrap(err, "failed to mark deposit processed")
		}
		d.metrics.IncSkipped(deposit.ChainId)
		return nil
	}

	origin, ok := d.chains[deposit.ChainId]
	if !ok {
		return fmt.Errorf("unknown origin chain %q", deposit.ChainId)
	}
	destination := d.opposite[deposit.ChainId]

	rpcCtx, cancel := context.WithTimeout(ctx, d.rpcTimeout)
	final, err := IsFinal(rpcCtx, origin.Connector, txHash, origin.ConfirmationDepth)
	cancel()
	if err != nil {
		d.reconnect(origin, err)
		return errors.Wrap(err, "failed to check confirmations")
	}
	if !final {
		d.logger.Debugf("deposit not final yet, chain: %s, nonce: %s", deposit.ChainId, deposit.Nonce)
		return nil
	}

	exists, err := d.distributions.Exists(deposit.Nonce, destination.Name())
	if err != nil {
		return errors.Wrap(err, "failed to look up distribution")
	}
	if exists {
		d.logger.Infof("distribution already recorded on %s, mark deposit processed, chain: %s, nonce: %s",
			destination.Name(), deposit.ChainId, deposit.Nonce)
		return d.deposits.MarkProcessed(deposit.Nonce, deposit.ChainId)
	}

	token := destination.Token
	if token == "" {
		d.logger.Warnf("no token configured for %s, releasing origin token %s", destination.Name(), deposit.Token)
		token = deposit.Token
	}
	if !common.IsHexAddress(token) {
		return fmt.Errorf("invalid release token address %q", token)
	}
	recipient := deposit.From
	if !common.IsHexAddress(recipient) {
		return fmt.Errorf("invalid recipient address %q", recipient)
	}
	amount, ok := parseUint(deposit.Amount)
	if !ok {
		return fmt.Errorf("invalid amount %q", deposit.Amount)
	}
	nonce, ok := parseUint(deposit.Nonce)
	if !ok {
		return fmt.Errorf("invalid nonce %q", deposit.Nonce)
	}

	distribution := &db.DistributionEvent{
		Token:     token,
		To:        recipient,
		Amount:    deposit.Amount,
		Nonce:     deposit.Nonce,
		ChainId:   destination.Name(),
		Processed: true,
	}

	pendingHash, pending, err := d.distributions.PendingRelease(deposit.Nonce, destination.Name())
	if err != nil {
		return errors.Wrap(err, "failed to look up pending release")
	}
	if pending {
		settled, err := d.settlePendingRelease(ctx, deposit, destination, distribution, pendingHash)
		if err != nil || settled {
			return err
		}
	}

	tokenAddress := common.HexToAddress(token)
	d.ensureTokenSupported(ctx, destination, tokenAddress)

	rpcCtx, cancel = context.WithTimeout(ctx, d.rpcTimeout)
	tx, err := destination.Connector.Distribute(rpcCtx, tokenAddress, common.HexToAddress(recipient), amount, nonce)
	cancel()
	if err != nil {
		d.reconnect(destination, err)
		return errors.Wrapf(err, "failed to submit distribute on %s", destination.Name())
	}
	d.logger.Infof("distribute submitted on %s, tx: %s, nonce: %s, to: %s, amount: %s",
		destination.Name(), tx.Hash().Hex(), deposit.Nonce, recipient, deposit.Amount)

	// from here on the release is only ever settled through its receipt, never sent again
	if err := d.distributions.SavePendingRelease(deposit.Nonce, destination.Name(), tx.Hash().Hex()); err != nil {
		d.logger.Errorf("failed to save pending release %s on %s, nonce: %s: %v",
			tx.Hash().Hex(), destination.Name(), deposit.Nonce, err)
	}

	receipt, err := d.waitMined(ctx, destination, tx)
	if err != nil {
		return errors.Wrapf(err, "distribute tx %s not settled, its receipt is checked again next cycle", tx.Hash().Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		if err := d.distributions.ClearPendingRelease(deposit.Nonce, destination.Name()); err != nil {
			d.logger.Warnf("failed to clear reverted release %s: %v", tx.Hash().Hex(), err)
		}
		return fmt.Errorf("distribute tx %s reverted in block %v", tx.Hash().Hex(), receipt.BlockNumber)
	}

	distribution.TransactionHash = tx.Hash().Hex()
	return d.complete(deposit, distribution)
}

// settlePendingRelease looks at the receipt of a release broadcast by an earlier cycle. settled is
// false only when that release reverted, so the deposit may be released again.
func (d *Distributor) settlePendingRelease(ctx context.Context, deposit *db.DepositEvent, destination *Chain,
	distribution *db.DistributionEvent, txHash string) (settled bool, err error) {
	rpcCtx, cancel := context.WithTimeout(ctx, d.rpcTimeout)
	receipt, err := destination.Connector.TransactionReceipt(rpcCtx, common.HexToHash(txHash))
	cancel()
	if errors.Is(err, ethereum.NotFound) {
		d.logger.Warnf("release %s on %s is not mined yet, nonce: %s. If it was dropped, delete config key %s to release again",
			txHash, destination.Name(), deposit.Nonce, db.PendingReleaseKey(destination.Name(), deposit.Nonce))
		return true, nil
	}
	if err != nil {
		d.reconnect(destination, err)
		return true, errors.Wrapf(err, "failed to get receipt of pending release %s", txHash)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		d.logger.Warnf("pending release %s on %s reverted in block %v, release again, nonce: %s",
			txHash, destination.Name(), receipt.BlockNumber, deposit.Nonce)
		if err := d.distributions.ClearPendingRelease(deposit.Nonce, destination.Name()); err != nil {
			return true, errors.Wrap(err, "failed to clear reverted release")
		}
		return false, nil
	}

	d.logger.Infof("pending release %s on %s is mined, nonce: %s", txHash, destination.Name(), deposit.Nonce)
	distribution.TransactionHash = txHash
	return true, d.complete(deposit, distribution)
}

func (d *Distributor) complete(deposit *db.DepositEvent, distribution *db.DistributionEvent) error {
	if err := d.distributions.Complete(deposit, distribution); err != nil {
		return errors.Wrapf(err, "failed to record distribution of mined tx %s", distribution.TransactionHash)
	}

	d.metrics.IncDistributed(distribution.ChainId)
	d.logger.Infof("deposit distributed, origin: %s, destination: %s, nonce: %s, tx: %s",
		deposit.ChainId, distribution.ChainId, deposit.Nonce, distribution.TransactionHash)
	return nil
}

// reconnect recreates the connector of c after a transport failure. Contract rejections keep it.
func (d *Distributor) reconnect(c *Chain, cause error) {
	if isContractRejection(cause) {
		return
	}
	if err := c.Connector.Reconnect(); err != nil {
		d.logger.Warnf("failed to reconnect %s: %v", c.Name(), err)
	}
}

// ensureTokenSupported registers token on the destination bridge when it is not supported yet.
// Failures are only logged, the release is attempted anyway.
func (d *Distributor) ensureTokenSupported(ctx context.Context, destination *Chain, token common.Address) {
	connector := destination.Connector

	rpcCtx, cancel := context.WithTimeout(ctx, d.rpcTimeout)
	supported, err := connector.IsTokenSupported(rpcCtx, token)
	cancel()
	if err == nil && supported {
		return
	}
	if err != nil {
		d.logger.Warnf("failed to check whether %s supports token %s, trying to add it: %v", destination.Name(), token.Hex(), err)
	}

	rpcCtx, cancel = context.WithTimeout(ctx, d.rpcTimeout)
	tx, err := connector.AddSupportedToken(rpcCtx, token)
	cancel()
	if err != nil {
		if isNotOwner(err) {
			d.logger.Warnf("signer is not the owner of the %s bridge and cannot add token %s, "+
				"ask the bridge owner to call addSupportedToken(%s)", destination.Name(), token.Hex(), token.Hex())
		} else {
			d.logger.Warnf("failed to add supported token %s on %s: %v", token.Hex(), destination.Name(), err)
		}
		return
	}

	if err := d.waitSuccess(ctx, destination, tx); err != nil {
		d.logger.Warnf("addSupportedToken tx %s on %s: %v", tx.Hash().Hex(), destination.Name(), err)
		return
	}
	d.logger.Infof("token %s added as supported on %s, tx: %s", token.Hex(), destination.Name(), tx.Hash().Hex())
}

func (d *Distributor) waitMined(ctx context.Context, c *Chain, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.minedTimeout)
	defer cancel()

	receipt, err := c.Connector.WaitMined(waitCtx, tx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to wait for receipt")
	}

	return receipt, nil
}

func (d *Distributor) waitSuccess(ctx context.Context, c *Chain, tx *types.Transaction) error {
	receipt, err := d.waitMined(ctx, c, tx)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("reverted in block %v", receipt.BlockNumber)
	}

	return nil
}

func parseUint(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}

	return n, true
}
