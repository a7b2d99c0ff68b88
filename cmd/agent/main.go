package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notary-agent/internal/adapter/console"
	"notary-agent/internal/adapter/gateway"
	"notary-agent/internal/adapter/ledger"
	"notary-agent/internal/adapter/llm"
	"notary-agent/internal/adapter/tool"
	"notary-agent/internal/domain"
	"notary-agent/internal/infra/config"
	"notary-agent/internal/infra/logger"
	"notary-agent/internal/infra/tracer"
	"notary-agent/internal/usecase"
	"notary-agent/internal/usecase/eventbus"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "verify":
			if err := runVerify(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "verify: %v\n", err)
				os.Exit(1)
			}
			return
		case "history":
			if err := runHistory(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "history: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`notary-agent - audited, human-approved tool-calling agent

USAGE:
    notary-agent [COMMAND] [FLAGS]

COMMANDS:
    verify      Walk the local ledger chain and verify every entry
    history     Print the recorded audit events
    (no command) - Run a conversation with existing config

FLAGS:
    -h, --help       Show this help message
    --config PATH    Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    ANTHROPIC_API_KEY and NOTARY_LEDGER_URL override config values`)
}

func run(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shCtx); err != nil {
			log.Warn("tracer shutdown error", "error", err)
		}
	}()

	store, err := openStore(cfg.Ledger, log)
	if err != nil {
		// A missing ledger degrades the run, it does not stop it.
		log.Warn("ledger store unavailable, recording offline", "error", err)
		store = nil
	}
	if store != nil {
		defer store.Close()
	}
	recorder := ledger.NewRecorder(store, cfg.Ledger.SubmitTimeout, log)

	bus := eventbus.New(log)
	defer bus.Close()

	registry := tool.NewRegistry(log)
	closeProviders, err := tool.ConnectProviders(ctx, cfg.Tools, registry, log)
	if err != nil {
		return fmt.Errorf("connect tool providers: %w", err)
	}
	defer closeProviders()

	var backend domain.ModelBackend = llm.NewAnthropicBackend(cfg.Model, log)
	if cfg.Model.CircuitBreaker.Enabled {
		backend = llm.NewCircuitBreakerBackend(backend, cfg.Model.CircuitBreaker, log)
	}

	var frontEnd domain.FrontEnd
	if cfg.Gateway.Enabled {
		server := gateway.NewServer(bus, cfg.Gateway.Addr, cfg.Gateway.Token, cfg.Gateway.ReplaySize, log)
		go func() {
			if err := server.Start(ctx); err != nil {
				log.Error("gateway stopped", "error", err)
				stop()
			}
		}()
		frontEnd = gateway.NewFrontEnd(server, log)
	} else {
		frontEnd = console.New(os.Stdin, os.Stdout)
	}
	defer frontEnd.Shutdown()

	gate := usecase.NewApprovalGate(frontEnd,
		cfg.Agent.AlwaysApprove, cfg.Agent.AlwaysDeny,
		cfg.Agent.ApprovalTimeout, log)

	engine := usecase.NewEngine(usecase.EngineDeps{
		FrontEnd: frontEnd,
		Backend:  backend,
		Router:   registry,
		Recorder: recorder,
		Gate:     gate,
		Bus:      bus,
		Logger:   log,
	})

	return engine.Run(ctx)
}

func openStore(cfg config.LedgerConfig, log *slog.Logger) (ledger.Store, error) {
	switch cfg.Store {
	case "rpc":
		return ledger.NewRPCStore(cfg.URL, log), nil
	case "sqlite":
		return ledger.NewSQLiteStore(cfg.Path, log)
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ledger store %q", cfg.Store)
	}
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.Ledger.Store != "sqlite" {
		return fmt.Errorf("verify requires a sqlite ledger store, config has %q", cfg.Ledger.Store)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := ledger.NewSQLiteStore(cfg.Ledger.Path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Verify(context.Background())
	if err != nil {
		return fmt.Errorf("chain broken after %d entries: %w", n, err)
	}
	fmt.Printf("ledger intact: %d entries verified\n", n)
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := openStore(cfg.Ledger, log)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("no ledger store configured")
	}
	defer store.Close()

	recorder := ledger.NewRecorder(store, cfg.Ledger.SubmitTimeout, log)
	events, err := recorder.QueryHistory(context.Background())
	if err != nil {
		return err
	}

	for _, e := range events {
		ts := time.UnixMilli(e.Timestamp).Format(time.RFC3339)
		fmt.Printf("%s  %-14s  %s -> %s  proof=%s\n", ts, e.Kind, e.Sender, e.Receiver, e.Proof)
	}
	fmt.Printf("%d events\n", len(events))
	return nil
}
