package txrelayer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenbridge/bridge-relayer/db"
)

func TestSupervise_RestartsFailingLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		supervise(ctx, "test", time.Millisecond, logger, func(ctx context.Context) error {
			switch runs.Add(1) {
			case 1:
				return errors.New("boom")
			case 2:
				panic("kaboom")
			case 3:
				return nil
			}
			<-ctx.Done()
			return nil
		})
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 4 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervise did not return after cancel")
	}
	assert.Equal(t, int32(4), runs.Load())
}

func TestRunProtected(t *testing.T) {
	err := runProtected(context.Background(), func(context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestBridgeRelayer_RelaysDeposit(t *testing.T) {
	gormDB := newTestDB(t)
	deposits := db.NewDepositRepository(gormDB)
	distributions := db.NewDistributionRepository(gormDB)
	cursors := db.NewConfigCursorStore(gormDB)

	connectorA := NewFakeConnector("A", 120)
	connectorB := NewFakeConnector("B", 50)
	connectorA.addDepositLog(t, 105, "0xdead", tokenA, addrA, addrB, 100, 1)
	connectorA.mineReceipt("0xdead", 105)

	chainA := &Chain{Connector: connectorA, ConfirmationDepth: 15, StartBlockHeight: 100}
	chainB := &Chain{Connector: connectorB, ConfirmationDepth: 6, Token: tokenB}
	cfg := testRelayerConfig()
	poller := NewPoller(cfg, deposits, cursors, m, logger, chainA, chainB)
	distributor := NewDistributor(cfg, deposits, distributions, m, logger, chainA, chainB)

	relayer := NewBridgeRelayer(poller, distributor, cfg.RestartDelay, logger)
	relayer.Start()
	relayer.Start()

	require.Eventually(t, func() bool {
		exists, err := distributions.Exists("1", "B")
		return err == nil && exists
	}, 5*time.Second, 10*time.Millisecond)

	relayer.Stop()
	relayer.WaitForShutdown()

	deposit, err := deposits.Get("1", "A")
	require.NoError(t, err)
	assert.True(t, deposit.Processed)
	assert.Len(t, connectorB.distributeCalls(), 1)
	assert.Equal(t, BridgeRelayerName, relayer.Name())

	height, found, err := cursors.GetCursor("A")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(120), height)
}
