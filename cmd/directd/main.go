package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"defidirect/audit"
	"defidirect/config"
	"defidirect/core"
	"defidirect/native/direct"
	"defidirect/observability/logging"
	telemetry "defidirect/observability/otel"
	"defidirect/rpc"
	"defidirect/state"
	"defidirect/storage"
)

func main() {
	var (
		cfgPath  string
		inMemory bool
	)
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to directd configuration file")
	flag.BoolVar(&inMemory, "memory", false, "keep state in memory instead of the on-disk store (dev only)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("directd: load config: %v", err)
	}

	env := strings.TrimSpace(cfg.Environment)
	logger := logging.Setup("directd", env)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "directd",
		Environment: env,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.OTLPHeaders,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("directd: init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("directd: create data dir: %v", err)
	}

	var db storage.Database
	if inMemory {
		db = storage.NewMemDB()
	} else {
		leveldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
		if err != nil {
			log.Fatalf("directd: open state store: %v", err)
		}
		db = leveldb
	}
	defer db.Close()

	mgr, err := state.NewManager(db)
	if err != nil {
		log.Fatalf("directd: open state: %v", err)
	}

	journal, err := audit.Open(cfg.AuditDatabasePath)
	if err != nil {
		log.Fatalf("directd: open audit journal: %v", err)
	}
	defer journal.Close()

	node := core.NewNode(logger, mgr, journal)
	ctx := context.Background()

	owner, err := direct.ParseAddress(cfg.Owner)
	if err != nil {
		log.Fatalf("directd: parse owner: %v", err)
	}
	if err := node.Bootstrap(ctx, owner); err != nil {
		log.Fatalf("directd: bootstrap owner: %v", err)
	}

	if err := applyGenesis(ctx, node, owner, cfg); err != nil {
		log.Fatalf("directd: apply genesis: %v", err)
	}

	server := rpc.NewServer(node, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	logger.Info("directd started", "rpc", cfg.RPCAddress, "height", node.Height())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("directd: rpc server: %v", err)
		}
	}
}

// applyGenesis runs the initializer and seeds the supported-token set when
// the node has not been configured yet. Re-running with the same config is
// harmless since the initializer is idempotent for identical values.
func applyGenesis(ctx context.Context, node *core.Node, owner [20]byte, cfg *config.Config) error {
	if !cfg.HasGenesis() {
		return nil
	}
	manager, err := direct.ParseAddress(cfg.Genesis.TransactionManager)
	if err != nil {
		return err
	}
	receiver, err := direct.ParseAddress(cfg.Genesis.FeeReceiver)
	if err != nil {
		return err
	}
	vault, err := direct.ParseAddress(cfg.Genesis.Vault)
	if err != nil {
		return err
	}
	if err := node.Initialize(ctx, owner, cfg.Genesis.FeeBps, manager, receiver, vault); err != nil {
		return err
	}
	for _, raw := range cfg.Genesis.SupportedTokens {
		token, err := direct.ParseAddress(raw)
		if err != nil {
			return err
		}
		if err := node.AddSupportedToken(ctx, owner, token); err != nil {
			return err
		}
	}
	return nil
}
