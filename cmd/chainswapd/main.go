package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"chainswap/chain"
	"chainswap/config"
	"chainswap/observability"
	"chainswap/oracle"
	"chainswap/server"
	"chainswap/storage"
	"chainswap/swap"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "chainswap.yaml", "path to chainswapd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CHAINSWAP_ENV"))
	observability.SetupLogging("chainswapd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if otlpEndpoint != "" {
		insecure := true
		if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
			if parsed, err := strconv.ParseBool(value); err == nil {
				insecure = parsed
			}
		}
		shutdownTelemetry, err := observability.SetupOTel(context.Background(), observability.OTelConfig{
			ServiceName: "chainswapd",
			Environment: env,
			Endpoint:    otlpEndpoint,
			Insecure:    insecure,
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			log.Fatalf("chainswapd: init telemetry: %v", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("chainswapd: load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.OpenBolt(cfg.SwapDBPath, nil)
	if err != nil {
		log.Fatalf("chainswapd: open swap store: %v", err)
	}
	defer store.Close()

	history, err := storage.OpenPriceHistory(cfg.PriceDBPath)
	if err != nil {
		log.Fatalf("chainswapd: open price history: %v", err)
	}
	defer history.Close()

	router, err := buildRouter(cfg, history)
	if err != nil {
		log.Fatalf("chainswapd: price router: %v", err)
	}

	threshold, ok := new(big.Rat).SetString(strings.TrimSpace(cfg.Gate.AlertThreshold))
	if !ok {
		log.Fatalf("chainswapd: parse alert threshold %q", cfg.Gate.AlertThreshold)
	}
	gate, err := swap.NewGate(router, threshold, cfg.Gate.CheckTimeout.Duration)
	if err != nil {
		log.Fatalf("chainswapd: gate: %v", err)
	}
	gate.SetRecorder(history)

	clients, err := buildClients(ctx, cfg)
	if err != nil {
		log.Fatalf("chainswapd: chain clients: %v", err)
	}

	engine, err := swap.NewEngine(store, gate, clients,
		swap.WithMetrics(observability.Swap()),
		swap.WithRefundBuffer(cfg.Swap.RefundBuffer.Duration),
	)
	if err != nil {
		log.Fatalf("chainswapd: engine: %v", err)
	}

	monitor, err := oracle.NewManager(engine, cfg.Oracle.Interval.Duration)
	if err != nil {
		log.Fatalf("chainswapd: peg monitor: %v", err)
	}

	authenticator, err := server.NewAuthenticator(server.AuthConfig{BearerToken: cfg.AdminToken})
	if err != nil {
		log.Fatalf("chainswapd: configure admin auth: %v", err)
	}
	srv, err := server.New(server.Config{ListenAddress: cfg.ListenAddress}, engine, history, authenticator, log.Default())
	if err != nil {
		log.Fatalf("chainswapd: server: %v", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return srv.Run(groupCtx) })
	group.Go(func() error { return monitor.Run(groupCtx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("chainswapd: %v", err)
	}
	log.Printf("chainswapd: shut down cleanly")
}

// buildRouter wires the configured venue sources into the median router. A
// configuration without sources falls back to a development stub that pegs
// both chains to the same price.
func buildRouter(cfg config.Config, history *storage.PriceHistory) (swap.PriceSource, error) {
	if len(cfg.Sources) == 0 {
		log.Printf("chainswapd: WARNING: no price sources configured, using fixed development prices")
		return oracle.FixedPrices(big.NewRat(1, 1)), nil
	}
	registry := oracle.NewRegistry()
	byChain := make(map[chain.Ref][]oracle.Source)
	for _, src := range cfg.Sources {
		built, err := registry.Build(src.Name, src.Type, src.Endpoint, src.RateRPS)
		if err != nil {
			return nil, err
		}
		ref, err := chain.ParseRef(src.Chain)
		if err != nil {
			return nil, err
		}
		byChain[ref] = append(byChain[ref], built)
	}
	return oracle.NewRouter(byChain,
		oracle.WithMaxAge(cfg.Oracle.MaxAge.Duration),
		oracle.WithMinFeeds(cfg.Oracle.MinFeeds),
		oracle.WithSampleRecorder(history),
		oracle.WithFetchObserver(observability.Oracle()),
	)
}

// buildClients dials the configured RPC endpoints. Missing endpoints select
// the in-memory fakes so the daemon can run end to end in development.
func buildClients(ctx context.Context, cfg config.Config) (map[chain.Ref]chain.Client, error) {
	clients := make(map[chain.Ref]chain.Client, 2)

	if endpoint := strings.TrimSpace(cfg.Chains.EVMEndpoint); endpoint != "" {
		client, err := chain.DialEVM(ctx, endpoint, cfg.Chains.DialTimeout.Duration)
		if err != nil {
			return nil, err
		}
		clients[chain.RefEVM] = client
	} else {
		log.Printf("chainswapd: WARNING: no EVM endpoint configured, using in-memory fake")
		clients[chain.RefEVM] = chain.NewFake(chain.RefEVM)
	}

	if endpoint := strings.TrimSpace(cfg.Chains.LedgerEndpoint); endpoint != "" {
		client, err := chain.NewLedgerClient(nil, endpoint, cfg.Chains.DialTimeout.Duration)
		if err != nil {
			return nil, err
		}
		clients[chain.RefLedger] = client
	} else {
		log.Printf("chainswapd: WARNING: no ledger endpoint configured, using in-memory fake")
		clients[chain.RefLedger] = chain.NewFake(chain.RefLedger)
	}
	return clients, nil
}
