package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/spf13/pflag"

	"github.com/luxfi/fixgateway/pkg/auth"
	"github.com/luxfi/fixgateway/pkg/config"
	"github.com/luxfi/fixgateway/pkg/engine"
	"github.com/luxfi/fixgateway/pkg/metrics"
	"github.com/luxfi/fixgateway/pkg/sequence"
	"github.com/luxfi/fixgateway/pkg/session"
	"github.com/luxfi/fixgateway/pkg/transport"
)

const (
	controlLibraryID  = 1
	controlBufferSize = 8 << 20
	zmqHighWaterMark  = 10000
	idleSleep         = time.Millisecond
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	pflag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory of the session database")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.StringVar(&cfg.SenderCompID, "sender-comp-id", cfg.SenderCompID, "Our SenderCompID")
	pflag.StringVar(&cfg.Dictionary, "dictionary", cfg.Dictionary, "FIX dictionary (FIX42, FIX44, FIXT11)")
	pflag.DurationVar(&cfg.HeartbeatInterval, "heartbeat", cfg.HeartbeatInterval, "Heartbeat interval")
	pflag.BoolVar(&cfg.ValidateCompIDs, "validate-comp-ids", cfg.ValidateCompIDs, "Reject messages not addressed to our comp id")
	pflag.StringVar(&cfg.IDStrategy, "id-strategy", cfg.IDStrategy, "Session id strategy (sender-target, sender-target-sub)")
	pflag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Address accepting FIX connections")
	pflag.StringVar(&cfg.Transport, "transport", cfg.Transport, "Library control transport (none, nats, zmq)")
	pflag.StringVar(&cfg.TransportURL, "transport-url", cfg.TransportURL, "Library control transport url")
	pflag.StringVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Prometheus metrics port, empty to disable")
	pflag.StringVar(&cfg.BackupPath, "backup-path", cfg.BackupPath, "Backup file for reset session contexts")
	pflag.BoolVar(&cfg.ResetSessionIDs, "reset-session-ids", cfg.ResetSessionIDs, "Reset session ids and sequence numbers on start")
	credentials := pflag.StringSlice("credential", nil, "Counterparty credential as COMPID:username:password (repeatable)")
	pflag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	level, _ := log.ToLevel(cfg.LogLevel)
	logger := log.NewTestLogger(level)
	logger.Info("Starting FIX engine",
		"senderCompID", cfg.SenderCompID,
		"dictionary", cfg.Dictionary,
		"listen", cfg.ListenAddr,
		"transport", cfg.Transport)

	if err := run(cfg, *credentials, logger); err != nil {
		logger.Error("FIX engine failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.EngineConfig, credentials []string, logger log.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	contexts, err := engine.NewSessionContexts(engine.SessionContextsConfig{
		DB:         db,
		IDStrategy: cfg.Strategy(),
		Logger:     logger.New("module", "contexts"),
	})
	if err != nil {
		return err
	}

	authentication, err := newCredentials(credentials, cfg.AllowUnknownUsers, logger)
	if err != nil {
		return err
	}

	var engineMetrics engine.Metrics
	if cfg.MetricsPort != "" {
		m, err := metrics.NewEngineMetrics("fixengine")
		if err != nil {
			return err
		}
		if err := m.StartServer(ctx, cfg.MetricsPort); err != nil {
			return err
		}
		go m.CollectSystemMetrics(ctx, 10*time.Second)
		engineMetrics = m
	}

	control, err := openControl(cfg, logger)
	if err != nil {
		return err
	}
	if control != nil {
		defer control.Close()
	}

	var validation session.ValidationStrategy = session.NoValidation{}
	if cfg.ValidateCompIDs {
		validation = session.TargetCompIDValidation(cfg.SenderCompID)
	}

	framer := engine.NewFramer(engine.FramerConfig{
		Contexts:          contexts,
		IDStrategy:        cfg.Strategy(),
		ReceivedIndex:     sequence.NewIndex(sequence.Config{DB: db, Prefix: "received", Logger: logger.New("module", "sequence")}),
		SentIndex:         sequence.NewIndex(sequence.Config{DB: db, Prefix: "sent", Logger: logger.New("module", "sequence")}),
		Publication:       control,
		Dictionary:        cfg.Dict(),
		Authentication:    authentication,
		Validation:        validation,
		ValidateCompIDs:   cfg.ValidateCompIDs,
		HeartbeatInterval: cfg.HeartbeatInterval,
		LogoutTimeout:     cfg.LogoutTimeout,
		SendingTimeWindow: cfg.SendingTimeWindow,
		Metrics:           engineMetrics,
		Logger:            logger.New("module", "framer"),
	})
	if control != nil {
		framer.AddLibrary(engine.NewLiveLibraryInfo(controlLibraryID, cfg.Transport+" "+cfg.TransportURL, time.Now()))
	}

	if cfg.ResetSessionIDs {
		if err := framer.ResetSessionIDs(cfg.BackupPath); err != nil {
			return fmt.Errorf("reset session ids: %w", err)
		}
	}

	framerDone := make(chan error, 1)
	go func() { framerDone <- framer.Run(ctx, idleSleep) }()

	acceptor, err := listen(cfg.ListenAddr, framer, cfg.SendTimeout, logger.New("module", "listener"))
	if err != nil {
		return err
	}
	go acceptor.serve()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, closing", "signal", sig)

	acceptor.close()
	cmd := engine.NewStartCloseCommand()
	framer.StartClose(cmd)

	closeCtx, closeCancel := context.WithTimeout(ctx, cfg.CloseTimeout)
	defer closeCancel()
	if err := cmd.Wait(closeCtx); err != nil {
		logger.Warn("Close did not finish", "error", err, "connections", framer.ConnectionCount())
	}

	cancel()
	<-framerDone
	logger.Info("FIX engine stopped")
	return nil
}

func openDatabase(dataDir string, logger log.Logger) (database.Database, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataDir, nil)
	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "fixengine"

	db, err := dbManager.New(dbConfig)
	if err == nil {
		logger.Info("BadgerDB initialized", "path", filepath.Join(dataDir, "badgerdb"))
		return db, nil
	}

	// session ids and sequence numbers are lost on restart
	logger.Warn("Failed to open BadgerDB, using in-memory database", "error", err)
	db, err = dbManager.New(manager.DefaultMemoryConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	return db, nil
}

func openControl(cfg *config.EngineConfig, logger log.Logger) (*engine.GatewayPublication, error) {
	var pub transport.Publication
	switch cfg.Transport {
	case config.TransportNATS:
		p, err := transport.DialNATS(cfg.TransportURL, cfg.Subject, controlBufferSize)
		if err != nil {
			return nil, err
		}
		pub = p
	case config.TransportZMQ:
		p, err := transport.NewZMQPublication(cfg.TransportURL, zmqHighWaterMark)
		if err != nil {
			return nil, err
		}
		pub = p
	default:
		return nil, nil
	}
	return engine.NewGatewayPublication(pub, logger.New("module", "gateway")), nil
}

func newCredentials(entries []string, allowUnknown bool, logger log.Logger) (*auth.Credentials, error) {
	credentials := auth.NewCredentials(0, logger.New("module", "auth"))
	credentials.AllowUnknown = allowUnknown
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("credential %q is not COMPID:username:password", entry)
		}
		if err := credentials.Add(parts[0], parts[1], parts[2]); err != nil {
			return nil, err
		}
	}
	return credentials, nil
}
