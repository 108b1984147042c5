package config

import (
	"time"

	"github.com/vietddude/badgeminter/internal/core/worker"
	"github.com/vietddude/badgeminter/internal/infra/chain/managed"
	"github.com/vietddude/badgeminter/internal/infra/proof"
	redisclient "github.com/vietddude/badgeminter/internal/infra/redis"
	"github.com/vietddude/badgeminter/internal/infra/rpc"
	"github.com/vietddude/badgeminter/internal/infra/storage/postgres"
	"github.com/vietddude/badgeminter/internal/minting/completion"
	"github.com/vietddude/badgeminter/internal/minting/queue"
	"github.com/vietddude/badgeminter/internal/minting/recovery"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig           `yaml:"server"`
	Logging    LoggingConfig          `yaml:"logging"`
	Database   postgres.Config        `yaml:"database"`
	Redis      redisclient.Config     `yaml:"redis"`
	Chain      ChainConfig            `yaml:"chain"`
	Minter     MinterConfig           `yaml:"minter"`
	Proof      proof.Config           `yaml:"proof"`
	Queue      queue.Config           `yaml:"queue"`
	Recovery   recovery.Config        `yaml:"recovery"`
	Completion completion.Config      `yaml:"completion"`
	Retention  worker.RetentionConfig `yaml:"retention"`
}

// ServerConfig holds HTTP and gRPC listener settings.
type ServerConfig struct {
	Port     int `yaml:"port"      env:"HTTP_PORT"`
	GRPCPort int `yaml:"grpc_port" env:"GRPC_PORT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"`  // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // pretty, text, json
}

// ChainConfig describes the chain and contracts the minter works against.
type ChainConfig struct {
	ChainID        int64                `yaml:"chain_id"        env:"CHAIN_ID"`
	GameContract   string               `yaml:"game_contract"   env:"GAME_CONTRACT"`
	BadgeContract  string               `yaml:"badge_contract"  env:"BADGE_CONTRACT"`
	BlockTime      time.Duration        `yaml:"block_time"`
	RequestTimeout time.Duration        `yaml:"request_timeout"`
	Providers      []rpc.ProviderConfig `yaml:"providers"`

	// RPCURL adds a single provider from the environment.
	RPCURL string `yaml:"-" env:"CHAIN_RPC_URL"`
}

// Mint backends.
const (
	BackendDirect  = "direct"
	BackendManaged = "managed"
)

// MinterConfig selects and configures the chain submission backend.
type MinterConfig struct {
	Backend             string         `yaml:"backend"               env:"MINTER_BACKEND"`
	PrivateKey          string         `yaml:"private_key"           env:"MINTER_PRIVATE_KEY"`
	GasLimit            uint64         `yaml:"gas_limit"`
	ReceiptTimeout      time.Duration  `yaml:"receipt_timeout"`
	ReceiptPollInterval time.Duration  `yaml:"receipt_poll_interval"`
	LeaseTTL            time.Duration  `yaml:"lease_ttl"`
	Managed             managed.Config `yaml:"managed"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() AppConfig {
	return AppConfig{
		Server:  ServerConfig{Port: 8080, GRPCPort: 9090},
		Logging: LoggingConfig{Level: "info", Format: "pretty"},
		Database: postgres.Config{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis: redisclient.Config{KeyPrefix: "badgeminter"},
		Chain: ChainConfig{
			BlockTime:      2 * time.Second,
			RequestTimeout: 15 * time.Second,
		},
		Minter: MinterConfig{
			Backend:             BackendDirect,
			ReceiptTimeout:      2 * time.Minute,
			ReceiptPollInterval: 2 * time.Second,
			LeaseTTL:            30 * time.Second,
		},
		Proof:      proof.Config{Timeout: 20 * time.Second},
		Queue:      queue.DefaultConfig(),
		Recovery:   recovery.DefaultConfig(),
		Completion: completion.Config{Season: 1},
		Retention: worker.RetentionConfig{
			MissedEvents: 30 * 24 * time.Hour,
		},
	}
}
