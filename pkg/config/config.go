// Package config loads the engine's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/session"
)

// Transport kinds for the library control channel
const (
	TransportNone = "none"
	TransportNATS = "nats"
	TransportZMQ  = "zmq"
)

// EngineConfig for cmd/fixengine. Every field has an environment variable
// and a default; flags may override them.
type EngineConfig struct {
	// DataDir holds the session context and sequence database. ENV: FIX_DATA_DIR
	DataDir string `env:"FIX_DATA_DIR,default=./data"`
	// LogLevel for luxfi/log. ENV: FIX_LOG_LEVEL
	LogLevel string `env:"FIX_LOG_LEVEL,default=info"`

	SenderCompID string `env:"FIX_SENDER_COMP_ID,default=GATEWAY"`
	// Dictionary is FIX42, FIX44 or FIXT11. ENV: FIX_DICTIONARY
	Dictionary        string        `env:"FIX_DICTIONARY,default=FIX44"`
	HeartbeatInterval time.Duration `env:"FIX_HEARTBEAT_INTERVAL,default=30s"`
	LogoutTimeout     time.Duration `env:"FIX_LOGOUT_TIMEOUT,default=10s"`
	SendingTimeWindow time.Duration `env:"FIX_SENDING_TIME_WINDOW,default=2m"`
	ValidateCompIDs   bool          `env:"FIX_VALIDATE_COMP_IDS,default=true"`
	// IDStrategy is sender-target or sender-target-sub. ENV: FIX_ID_STRATEGY
	IDStrategy string `env:"FIX_ID_STRATEGY,default=sender-target"`
	// AllowUnknownUsers accepts logons from comp ids without credentials
	AllowUnknownUsers bool `env:"FIX_ALLOW_UNKNOWN_USERS,default=true"`

	// ListenAddr accepts counterparty connections. ENV: FIX_LISTEN_ADDR
	ListenAddr  string        `env:"FIX_LISTEN_ADDR,default=:9878"`
	SendTimeout time.Duration `env:"FIX_SEND_TIMEOUT,default=100ms"`

	// Transport carries control messages to libraries: none, nats or zmq
	Transport    string `env:"FIX_TRANSPORT,default=none"`
	TransportURL string `env:"FIX_TRANSPORT_URL,default=nats://127.0.0.1:4222"`
	Subject      string `env:"FIX_CONTROL_SUBJECT,default=fix.control"`

	MetricsPort string `env:"FIX_METRICS_PORT,default=9090"`
	// BackupPath receives old contexts when session ids are reset
	BackupPath string `env:"FIX_BACKUP_PATH"`
	// ResetSessionIDs wipes contexts and sequence numbers before starting
	ResetSessionIDs bool `env:"FIX_RESET_SESSION_IDS,default=false"`

	CloseTimeout time.Duration `env:"FIX_CLOSE_TIMEOUT,default=30s"`
}

// Load decodes an EngineConfig from the environment
func Load() (*EngineConfig, error) {
	var cfg EngineConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings are usable
func (c *EngineConfig) Validate() error {
	if c.DataDir == "" {
		return errors.New("data dir is required")
	}
	if c.SenderCompID == "" {
		return errors.New("sender comp id is required")
	}
	if _, err := codec.LookupDictionary(c.Dictionary); err != nil {
		return err
	}
	if _, err := session.LookupIDStrategy(c.IDStrategy); err != nil {
		return err
	}
	if c.HeartbeatInterval < time.Second {
		return fmt.Errorf("heartbeat interval %s is below one second", c.HeartbeatInterval)
	}
	if c.LogoutTimeout <= 0 || c.CloseTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	switch c.Transport {
	case TransportNone:
	case TransportNATS, TransportZMQ:
		if c.TransportURL == "" {
			return fmt.Errorf("%s transport needs a url", c.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// Dict returns the configured dictionary
func (c *EngineConfig) Dict() *codec.Dictionary {
	dict, err := codec.LookupDictionary(c.Dictionary)
	if err != nil {
		return codec.DefaultDictionary
	}
	return dict
}

// Strategy returns the configured session id strategy
func (c *EngineConfig) Strategy() session.IDStrategy {
	strategy, err := session.LookupIDStrategy(c.IDStrategy)
	if err != nil {
		return session.SenderAndTarget{}
	}
	return strategy
}
