package txrelayer

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tokenbridge/bridge-relayer/chain"
	"github.com/tokenbridge/bridge-relayer/config"
	"github.com/tokenbridge/bridge-relayer/db"
	"github.com/tokenbridge/bridge-relayer/metrics"
)

type scanState struct {
	chain *Chain
	// last fully scanned block, valid once loaded
	cursor uint64
	loaded bool
}

// Poller scans the bridge contracts of all chains for Deposit events from a single loop.
type Poller struct {
	chains []*scanState

	deposits DepositStore
	cursors  CursorStore
	metrics  *metrics.RelayerMetrics

	interval      time.Duration
	errorDelay    time.Duration
	maxBlockRange uint64
	rpcTimeout    time.Duration

	logger *zap.SugaredLogger
}

func NewPoller(cfg config.RelayerConfig, deposits DepositStore, cursors CursorStore, m *metrics.RelayerMetrics,
	logger *zap.SugaredLogger, chains ...*Chain) *Poller {
	p := &Poller{
		deposits:      deposits,
		cursors:       cursors,
		metrics:       m,
		interval:      cfg.PollInterval,
		errorDelay:    cfg.PollErrorDelay,
		maxBlockRange: cfg.MaxBlockRange,
		rpcTimeout:    cfg.RpcTimeout,
		logger:        logger.Named("poller"),
	}
	for _, c := range chains {
		p.chains = append(p.chains, &scanState{chain: c})
	}

	return p
}

// Run polls every interval until ctx is done. A tick in which any chain failed is followed
// by the error delay.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if failed := p.Tick(ctx); failed {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.errorDelay):
			}
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("poller loop quit")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick scans the next window of every chain. Chains are handled independently.
func (p *Poller) Tick(ctx context.Context) (failed bool) {
	for _, state := range p.chains {
		if ctx.Err() != nil {
			return false
		}

		name := state.chain.Name()
		if err := p.scan(ctx, state); err != nil {
			failed = true
			p.metrics.IncScanErrors(name)
			p.logger.Errorf("failed to scan %s, cursor stays at %d: %v", name, state.cursor, err)

			if err := state.chain.Connector.Reconnect(); err != nil {
				p.logger.Errorf("failed to reconnect to %s: %v", name, err)
			}
		}
	}

	return failed
}

// Cursor returns the in-memory cursor of chain.
func (p *Poller) Cursor(chainName string) (uint64, bool) {
	for _, state := range p.chains {
		if state.chain.Name() == chainName {
			return state.cursor, state.loaded
		}
	}

	return 0, false
}

func (p *Poller) scan(ctx context.Context, state *scanState) error {
	name := state.chain.Name()
	connector := state.chain.Connector

	rpcCtx, cancel := context.WithTimeout(ctx, p.rpcTimeout)
	height, err := connector.BlockNumber(rpcCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to get block number")
	}
	p.metrics.SetChainHeight(name, height)

	if !state.loaded {
		if err := p.loadCursor(state, height); err != nil {
			return err
		}
	}
	if state.cursor >= height {
		p.logger.Debugf("%s: no new block, cursor: %d, tip: %d", name, state.cursor, height)
		return nil
	}

	start := state.cursor + 1
	end := height
	if end-start+1 > p.maxBlockRange {
		end = start + p.maxBlockRange - 1
	}

	rpcCtx, cancel = context.WithTimeout(ctx, p.rpcTimeout)
	logs, err := connector.FilterLogs(rpcCtx, chain.DepositEventTopic, start, end)
	cancel()
	if err != nil {
		return errors.Wrapf(err, "failed to get deposit logs in [%d, %d]", start, end)
	}
	p.logger.Debugf("%s: start: %d, end: %d, logs: %d", name, start, end, len(logs))

	for _, log := range logs {
		p.ingest(name, log)
	}

	// advance even when single logs failed, a malformed log must not stall the chain
	state.cursor = end
	p.metrics.SetScanCursor(name, end)
	if err := p.cursors.SetCursor(name, end); err != nil {
		p.logger.Warnf("%s: failed to persist cursor %d: %v", name, end, err)
	}

	return nil
}

// loadCursor restores the persisted cursor. Without one the scan starts after the configured
// start block, or at the current tip when none is configured.
func (p *Poller) loadCursor(state *scanState, height uint64) error {
	name := state.chain.Name()
	cursor, found, err := p.cursors.GetCursor(name)
	if err != nil {
		return errors.Wrap(err, "failed to get cursor")
	}

	if !found {
		cursor = state.chain.StartBlockHeight
		if cursor == 0 {
			cursor = height
		}
		if err := p.cursors.SetCursor(name, cursor); err != nil {
			return errors.Wrap(err, "failed to initialize cursor")
		}
		p.logger.Infof("%s: cursor initialized to %d", name, cursor)
	} else {
		p.logger.Infof("%s: resuming from cursor %d", name, cursor)
	}

	state.cursor = cursor
	state.loaded = true
	p.metrics.SetScanCursor(name, cursor)

	return nil
}

func (p *Poller) ingest(chainName string, log types.Log) {
	deposit, err := chain.ParseDepositLog(log)
	if err != nil {
		p.metrics.IncScanErrors(chainName)
		p.logger.Errorf("%s: failed to decode deposit log, tx: %s, index: %d: %v", chainName, log.TxHash.Hex(), log.Index, err)
		return
	}

	record := &db.DepositEvent{
		Token:           deposit.Token.Hex(),
		From:            deposit.From.Hex(),
		To:              deposit.To.Hex(),
		Amount:          deposit.Amount.String(),
		Nonce:           deposit.Nonce.String(),
		ChainId:         chainName,
		TransactionHash: deposit.TxHash.Hex(),
	}
	if deposit.TxHash == (common.Hash{}) {
		record.TransactionHash = UnknownTxHash
	}

	created, err := p.deposits.RecordIfAbsent(record)
	if err != nil {
		p.logger.Errorf("%s: failed to store deposit, nonce: %s, tx: %s: %v", chainName, record.Nonce, record.TransactionHash, err)
		return
	}
	if !created {
		p.logger.Debugf("%s: deposit already stored, nonce: %s", chainName, record.Nonce)
		return
	}

	p.metrics.IncDepositsRecorded(chainName)
	p.logger.Infof("%s: new deposit, nonce: %s, from: %s, amount: %s, tx: %s",
		chainName, record.Nonce, record.From, record.Amount, record.TransactionHash)
}
