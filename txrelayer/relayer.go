package txrelayer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const BridgeRelayerName = "bridge"

// BridgeRelayer owns the poller loop and the distributor loop.
type BridgeRelayer struct {
	poller      *Poller
	distributor *Distributor

	restartDelay time.Duration
	logger       *zap.SugaredLogger

	mu                 sync.Mutex
	pollerStarted      bool
	distributorStarted bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBridgeRelayer(poller *Poller, distributor *Distributor, restartDelay time.Duration, logger *zap.SugaredLogger) *BridgeRelayer {
	ctx, cancel := context.WithCancel(context.Background())

	return &BridgeRelayer{
		poller:       poller,
		distributor:  distributor,
		restartDelay: restartDelay,
		logger:       logger.Named(BridgeRelayerName),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (r *BridgeRelayer) Name() string {
	return BridgeRelayerName
}

// Start launches each loop at most once, further calls are no-ops.
func (r *BridgeRelayer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.pollerStarted {
		r.pollerStarted = true
		r.launch("poller", r.poller.Run)
	}
	if !r.distributorStarted {
		r.distributorStarted = true
		r.launch("distributor", r.distributor.Run)
	}
}

func (r *BridgeRelayer) launch(name string, loop loopFunc) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.logger.Infof("%s loop started", name)
		supervise(r.ctx, name, r.restartDelay, r.logger, loop)
		r.logger.Infof("%s loop stopped", name)
	}()
}

func (r *BridgeRelayer) Stop() {
	r.cancel()
}

func (r *BridgeRelayer) WaitForShutdown() {
	r.wg.Wait()
}
