package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
chain-a:
  rpcUrl: http://127.0.0.1:8545
  bridgeAddress: "0x1111111111111111111111111111111111111111"
  token: "0x3333333333333333333333333333333333333333"
chain-b:
  rpcUrl: http://127.0.0.1:9545
  bridgeAddress: "0x2222222222222222222222222222222222222222"
  confirmationDepth: 3
signer:
  privateKey: "0123"
database:
  driver: sqlite
  dsn: "file::memory:"
relayer:
  maxBlockRange: 50
  pollInterval: 2s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultChainAName, cfg.ChainA.Name)
	assert.Equal(t, DefaultChainBName, cfg.ChainB.Name)
	assert.Equal(t, uint64(DefaultChainAConfirmationDepth), cfg.ChainA.ConfirmationDepth)
	assert.Equal(t, uint64(3), cfg.ChainB.ConfirmationDepth)
	assert.Equal(t, uint64(50), cfg.Relayer.MaxBlockRange)
	assert.Equal(t, 2*time.Second, cfg.Relayer.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Relayer.PollErrorDelay)
	assert.Equal(t, time.Minute, cfg.Relayer.DistributeInterval)
	assert.Equal(t, uint(5), cfg.Relayer.StartupAttempts)
	assert.Equal(t, CursorBackendDatabase, cfg.Relayer.CursorBackend)
	assert.Equal(t, "auto", cfg.LogFormat)
}

func TestNewConfig_EnvOverride(t *testing.T) {
	t.Setenv("RELAYER_SIGNER_PRIVATEKEY", "beef")
	t.Setenv("RELAYER_CHAIN_A_RPCURL", "http://node-a:8545")

	cfg, err := NewConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "beef", cfg.Signer.PrivateKey)
	assert.Equal(t, "http://node-a:8545", cfg.ChainA.RpcUrl)
}

func TestNewConfig_EnvOverridesKeysMissingFromFile(t *testing.T) {
	t.Setenv("RELAYER_RELAYER_MINEDTIMEOUT", "7s")
	t.Setenv("RELAYER_CHAIN_B_TOKEN", "0x4444444444444444444444444444444444444444")
	t.Setenv("RELAYER_DATABASE_MAXOPENCONNS", "3")
	t.Setenv("RELAYER_LOG_FORMAT", "json")

	cfg, err := NewConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Relayer.MinedTimeout)
	assert.Equal(t, "0x4444444444444444444444444444444444444444", cfg.ChainB.Token)
	assert.Equal(t, 3, cfg.Database.MaxOpenConns)
	assert.Equal(t, "json", cfg.LogFormat)
	// untouched keys keep their file values and defaults
	assert.Equal(t, uint64(50), cfg.Relayer.MaxBlockRange)
	assert.Equal(t, 30*time.Second, cfg.Relayer.RpcTimeout)
}

func TestNewConfig_MissingFile(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			ChainA:   ChainConfig{RpcUrl: "http://a", BridgeAddress: "0x1111111111111111111111111111111111111111"},
			ChainB:   ChainConfig{RpcUrl: "http://b", BridgeAddress: "0x2222222222222222222222222222222222222222"},
			Signer:   SignerConfig{PrivateKey: "01"},
			Database: Database{Host: "localhost", DBName: "bridge"},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "mysql", cfg.Database.Driver)

	tests := map[string]func(*Config){
		"missing rpc":        func(c *Config) { c.ChainA.RpcUrl = "" },
		"bad bridge address": func(c *Config) { c.ChainB.BridgeAddress = "0x12" },
		"bad token":          func(c *Config) { c.ChainB.Token = "not-an-address" },
		"same chain names":   func(c *Config) { c.ChainA.Name = "X"; c.ChainB.Name = "X" },
		"missing signer":     func(c *Config) { c.Signer.PrivateKey = "" },
		"unknown driver":     func(c *Config) { c.Database.Driver = "oracle" },
		"postgres no dsn":    func(c *Config) { c.Database.Driver = "postgres" },
		"leveldb no dir":     func(c *Config) { c.Relayer.CursorBackend = CursorBackendLevelDB },
		"unknown cursor":     func(c *Config) { c.Relayer.CursorBackend = "redis" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNewRootLogger(t *testing.T) {
	for _, format := range []string{"auto", "console", "json", "logfmt"} {
		logger, err := NewRootLogger(format, true)
		require.NoError(t, err, format)
		require.NotNil(t, logger)
	}

	_, err := NewRootLogger("xml", false)
	require.Error(t, err)
}
