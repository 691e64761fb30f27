package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	MinConfirmationDepth = 1

	DefaultChainAName              = "A"
	DefaultChainBName              = "B"
	DefaultChainAConfirmationDepth = 15
	DefaultChainBConfirmationDepth = 6

	EnvPrefix = "RELAYER"
)

const (
	CursorBackendDatabase = "database"
	CursorBackendLevelDB  = "leveldb"
)

type Config struct {
	ChainA  ChainConfig   `mapstructure:"chain-a"`
	ChainB  ChainConfig   `mapstructure:"chain-b"`
	Signer  SignerConfig  `mapstructure:"signer"`
	Relayer RelayerConfig `mapstructure:"relayer"`

	Database Database `mapstructure:"database"`

	LogFormat string `mapstructure:"log-format"`
}

type Database struct {
	// Driver is one of mysql, postgres, sqlite.
	Driver string `mapstructure:"driver"`
	// DSN takes precedence over the discrete mysql fields below.
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`

	MaxIdleConns int `mapstructure:"maxIdleConns"`
	MaxOpenConns int `mapstructure:"maxOpenConns"`
}

type ChainConfig struct {
	// Name is the chain id written to deposit_event.chain_id / distribution_event.chain_id.
	Name              string `mapstructure:"name"`
	RpcUrl            string `mapstructure:"rpcUrl"`
	BridgeAddress     string `mapstructure:"bridgeAddress"`
	ConfirmationDepth uint64 `mapstructure:"confirmationDepth"`
	StartBlockHeight  uint64 `mapstructure:"startBlockHeight"`
	// Token is the bridged token address on this chain. Deposits originating on the
	// opposite chain are released in this token.
	Token string `mapstructure:"token"`
}

type SignerConfig struct {
	PrivateKey string `mapstructure:"privateKey"`
}

type RelayerConfig struct {
	PollInterval       time.Duration `mapstructure:"pollInterval"`
	PollErrorDelay     time.Duration `mapstructure:"pollErrorDelay"`
	MaxBlockRange      uint64        `mapstructure:"maxBlockRange"`
	DistributeInterval time.Duration `mapstructure:"distributeInterval"`
	RpcTimeout         time.Duration `mapstructure:"rpcTimeout"`
	// MinedTimeout bounds the wait for a submitted transaction's receipt.
	MinedTimeout       time.Duration `mapstructure:"minedTimeout"`

	RestartDelay      time.Duration `mapstructure:"restartDelay"`
	StartupAttempts   uint          `mapstructure:"startupAttempts"`
	StartupRetryDelay time.Duration `mapstructure:"startupRetryDelay"`

	CursorBackend string `mapstructure:"cursorBackend"`
	LevelDBDir    string `mapstructure:"leveldbDir"`

	// MetricsAddr enables the prometheus /metrics listener when not empty.
	MetricsAddr string `mapstructure:"metricsAddr"`
}

func (cfg *ChainConfig) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("chain name cannot be empty")
	}
	if cfg.RpcUrl == "" {
		return fmt.Errorf("%s: rpcUrl cannot be empty", cfg.Name)
	}
	if cfg.BridgeAddress == "" {
		return fmt.Errorf("%s: bridgeAddress cannot be empty", cfg.Name)
	}
	if !common.IsHexAddress(cfg.BridgeAddress) {
		return fmt.Errorf("%s: bridgeAddress %s is not a valid address", cfg.Name, cfg.BridgeAddress)
	}
	if cfg.ConfirmationDepth < MinConfirmationDepth {
		return fmt.Errorf("%s: confirmationDepth must be at least %d", cfg.Name, MinConfirmationDepth)
	}
	if cfg.Token != "" && !common.IsHexAddress(cfg.Token) {
		return fmt.Errorf("%s: token %s is not a valid address", cfg.Name, cfg.Token)
	}

	return nil
}

func (cfg *SignerConfig) Validate() error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("signer privateKey cannot be empty")
	}

	return nil
}

func (cfg *Database) Validate() error {
	switch cfg.Driver {
	case "mysql":
		if cfg.DSN == "" && (cfg.Host == "" || cfg.DBName == "") {
			return fmt.Errorf("database: dsn or host/dbname must be set")
		}
	case "postgres", "sqlite":
		if cfg.DSN == "" {
			return fmt.Errorf("database: dsn cannot be empty for driver %s", cfg.Driver)
		}
	default:
		return fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}

	return nil
}

func (cfg *RelayerConfig) Validate() error {
	if cfg.MaxBlockRange == 0 {
		return fmt.Errorf("relayer: maxBlockRange cannot be 0")
	}
	if cfg.PollInterval <= 0 || cfg.DistributeInterval <= 0 {
		return fmt.Errorf("relayer: pollInterval and distributeInterval must be positive")
	}
	if cfg.StartupAttempts == 0 {
		return fmt.Errorf("relayer: startupAttempts cannot be 0")
	}
	switch cfg.CursorBackend {
	case CursorBackendDatabase:
	case CursorBackendLevelDB:
		if cfg.LevelDBDir == "" {
			return fmt.Errorf("relayer: leveldbDir cannot be empty with cursor backend leveldb")
		}
	default:
		return fmt.Errorf("relayer: unsupported cursorBackend %q", cfg.CursorBackend)
	}

	return nil
}

func (cfg *Config) Validate() error {
	cfg.fillDefaultValueIfNotSet()
	if err := cfg.ChainA.Validate(); err != nil {
		return err
	}
	if err := cfg.ChainB.Validate(); err != nil {
		return err
	}
	if cfg.ChainA.Name == cfg.ChainB.Name {
		return fmt.Errorf("chain-a and chain-b must have different names, both are %q", cfg.ChainA.Name)
	}
	if err := cfg.Signer.Validate(); err != nil {
		return err
	}
	if err := cfg.Database.Validate(); err != nil {
		return err
	}

	return cfg.Relayer.Validate()
}

func (cfg *Config) fillDefaultValueIfNotSet() {
	if cfg.ChainA.Name == "" {
		cfg.ChainA.Name = DefaultChainAName
	}
	if cfg.ChainB.Name == "" {
		cfg.ChainB.Name = DefaultChainBName
	}
	if cfg.ChainA.ConfirmationDepth == 0 {
		cfg.ChainA.ConfirmationDepth = DefaultChainAConfirmationDepth
	}
	if cfg.ChainB.ConfirmationDepth == 0 {
		cfg.ChainB.ConfirmationDepth = DefaultChainBConfirmationDepth
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "mysql"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 3306
	}

	r := &cfg.Relayer
	if r.PollInterval == 0 {
		r.PollInterval = 15 * time.Second
	}
	if r.PollErrorDelay == 0 {
		r.PollErrorDelay = 5 * time.Second
	}
	if r.MaxBlockRange == 0 {
		r.MaxBlockRange = 100
	}
	if r.DistributeInterval == 0 {
		r.DistributeInterval = time.Minute
	}
	if r.RpcTimeout == 0 {
		r.RpcTimeout = 30 * time.Second
	}
	if r.MinedTimeout == 0 {
		r.MinedTimeout = 3 * time.Minute
	}
	if r.RestartDelay == 0 {
		r.RestartDelay = 10 * time.Second
	}
	if r.StartupAttempts == 0 {
		r.StartupAttempts = 5
	}
	if r.StartupRetryDelay == 0 {
		r.StartupRetryDelay = 10 * time.Second
	}
	if r.CursorBackend == "" {
		r.CursorBackend = CursorBackendDatabase
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "auto"
	}
}

// Chains returns both chain configs, chain A first.
func (cfg *Config) Chains() []ChainConfig {
	return []ChainConfig{cfg.ChainA, cfg.ChainB}
}

func (cfg *Config) CreateLogger(debug bool) (*zap.Logger, error) {
	return NewRootLogger(cfg.LogFormat, debug)
}

// bindEnvs makes every mapstructure key of t known to viper, so that RELAYER_<SECTION>_<KEY>
// overrides it even when the config file leaves the key out.
func bindEnvs(v *viper.Viper, prefix string, t reflect.Type) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if name == "" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		if field.Type.Kind() == reflect.Struct {
			if err := bindEnvs(v, key, field.Type); err != nil {
				return err
			}
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}

	return nil
}

// NewConfig returns a fully parsed Config object from a given file directory
func NewConfig(configFile string) (Config, error) {
	if _, err := os.Stat(configFile); err == nil { // the given file exists, parse it
		v := viper.New()
		v.SetConfigFile(configFile)
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
		if err := bindEnvs(v, "", reflect.TypeOf(Config{})); err != nil {
			return Config{}, err
		}

		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return Config{}, err
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	} else if errors.Is(err, os.ErrNotExist) { // the given config file does not exist, return error
		return Config{}, fmt.Errorf("no config file found at %s", configFile)
	} else { // other errors
		return Config{}, err
	}
}
