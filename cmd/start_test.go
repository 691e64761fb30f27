package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokenbridge/bridge-relayer/config"
)

var testLogger = zap.NewNop().Sugar()

func TestStartWithRetry_ExhaustsAttempts(t *testing.T) {
	cfg := config.RelayerConfig{StartupAttempts: 3, StartupRetryDelay: 20 * time.Millisecond}
	calls := 0

	begin := time.Now()
	err := startWithRetry(cfg, func() error {
		calls++
		return fmt.Errorf("dial failed %d", calls)
	}, testLogger)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.EqualError(t, err, "dial failed 3")
	// fixed delay between the attempts
	assert.GreaterOrEqual(t, time.Since(begin), 40*time.Millisecond)
}

func TestStartWithRetry_StopsOnSuccess(t *testing.T) {
	cfg := config.RelayerConfig{StartupAttempts: 5, StartupRetryDelay: time.Millisecond}
	calls := 0

	err := startWithRetry(cfg, func() error {
		calls++
		if calls < 2 {
			return errors.New("database not ready")
		}
		return nil
	}, testLogger)

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

const startFailureConfig = `
chain-a:
  rpcUrl: http://127.0.0.1:1
  bridgeAddress: "0x1111111111111111111111111111111111111111"
chain-b:
  rpcUrl: http://127.0.0.1:1
  bridgeAddress: "0x2222222222222222222222222222222222222222"
signer:
  privateKey: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
database:
  driver: sqlite
  dsn: "%s"
relayer:
  rpcTimeout: 1s
  startupAttempts: 2
  startupRetryDelay: 10ms
`

// TestStartAction_ExitsWhenStartupAttemptsRunOut runs start in a child process, since a
// failed startup ends the process.
func TestStartAction_ExitsWhenStartupAttemptsRunOut(t *testing.T) {
	if configFile := os.Getenv("RELAYER_TEST_START_CONFIG"); configFile != "" {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"start", "--config", configFile, "--env-file", ""})
		_ = cmd.Execute()
		return
	}

	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yml")
	dsn := filepath.Join(dir, "relayer.db")
	require.NoError(t, os.WriteFile(configFile, []byte(fmt.Sprintf(startFailureConfig, dsn)), 0o600))

	child := exec.Command(os.Args[0], "-test.run=^TestStartAction_ExitsWhenStartupAttemptsRunOut$")
	child.Env = append(os.Environ(), "RELAYER_TEST_START_CONFIG="+configFile)
	output, err := child.CombinedOutput()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, string(output))
	assert.Equal(t, 1, exitErr.ExitCode())
	assert.Contains(t, string(output), "startup attempt 1/2 failed")
	assert.Contains(t, string(output), "failed to start after 2 attempts")
}
