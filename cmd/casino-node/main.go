// Command casino-node runs the AgentCasino house process: it wires the
// off-chain channel engine, the on-chain settlement ledger, and the
// supporting services (bankroll, insurance, relay, RPC) together and
// serves agent requests over JSON-RPC.
package main

import (
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/agentcasino/channel/bankroll"
	"github.com/agentcasino/channel/channel"
	"github.com/agentcasino/channel/config"
	"github.com/agentcasino/channel/events"
	"github.com/agentcasino/channel/games" // imported for init()-time self-registration and Configure
	"github.com/agentcasino/channel/insurance"
	"github.com/agentcasino/channel/relay"
	"github.com/agentcasino/channel/rng"
	"github.com/agentcasino/channel/rpc"
	"github.com/agentcasino/channel/settlement"
	"github.com/agentcasino/channel/signer"
	"github.com/agentcasino/channel/storage"
	"github.com/agentcasino/channel/weimath"
)

func main() {
	configPath := flag.String("config", "config.json", "path to node configuration")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	houseKey, err := loadOrCreateHouseKey(cfg)
	if err != nil {
		log.Fatalf("house key: %v", err)
	}
	houseSigner := signer.NewLocal(houseKey)
	log.Printf("house account: %s", houseSigner.Address().Hex())

	domain := signer.Domain{
		ChainID:           cfg.ChainID,
		VerifyingContract: common.HexToAddress(cfg.VerifyingContract),
	}

	maxExposureWei, err := weimath.ToWei(cfg.MaxExposure)
	if err != nil {
		log.Fatalf("max_exposure: %v", err)
	}
	bank := bankroll.New(maxExposureWei)

	db, err := storage.NewLevelDB(cfg.DataDir + "/ledger")
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer db.Close()
	ledger := settlement.NewLedger(db)

	ins := insurance.NewWithStore(ledger)
	rlay := relay.NewLogSink()
	emitter := events.NewEmitter()
	emitter.Subscribe(events.EventChannelOpened, logEvent)
	emitter.Subscribe(events.EventChannelClosed, logEvent)
	emitter.Subscribe(events.EventDisputeStarted, logEvent)

	minDeposit, err := weimath.ToWei(cfg.MinDeposit)
	if err != nil {
		log.Fatalf("min_deposit: %v", err)
	}
	maxDeposit, err := weimath.ToWei(cfg.MaxDeposit)
	if err != nil {
		log.Fatalf("max_deposit: %v", err)
	}

	engine := channel.NewEngine(channel.Config{
		Bank:          bank,
		Signer:        houseSigner,
		Domain:        domain,
		MinDeposit:    minDeposit,
		MaxDeposit:    maxDeposit,
		MaxChannels:   cfg.MaxChannels,
		CommitTimeout: cfg.CommitTimeout.Duration(),
		Emitter:       emitter,
	})

	ticketPrice, err := weimath.ToWei(cfg.TicketPrice)
	if err != nil {
		log.Fatalf("ticket_price: %v", err)
	}
	games.Configure(ticketPrice, cfg.DrawInterval.Duration(), cfg.MaxTicketsPerDraw)

	// The settlement contract is the on-chain dispute-resolution path an
	// agent falls back to when the house stops cooperating off-chain; it
	// is not reachable through the day-to-day RPC surface the engine
	// serves below.
	contract := settlement.NewContract(settlement.Config{
		Ledger:              ledger,
		Bank:                bank,
		Insurance:           ins,
		Domain:              domain,
		HouseSigner:         houseSigner.Address(),
		MinDeposit:          minDeposit,
		MaxDeposit:          maxDeposit,
		MinChannelDuration:  cfg.MinChannelDuration.Duration(),
		ChallengePeriod:     cfg.ChallengePeriod.Duration(),
		Owner:               cfg.NodeID,
		Relay:               rlay,
		RelayStealthAddress: cfg.InsuranceWithdrawalRelay,
	})
	log.Printf("settlement owner: %s, ledger root: %s", contract.Owner(), ledger.ComputeRoot())

	handler := rpc.NewHandler(engine)
	if cfg.EntropyProvider != "" {
		rngStore := rng.NewStore(cfg.EntropyProvider)
		if cfg.EntropyTTL.Duration() > 0 {
			rngStore.SetTTL(cfg.EntropyTTL.Duration())
		}
		handler.SetRNGStore(rngStore)
	}
	addr := fmt.Sprintf(":%d", cfg.RPCPort)
	server := rpc.NewServer(addr, handler, cfg.RPCAuthToken)
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("load tls config: %v", err)
	}
	if tlsCfg != nil {
		server.SetTLSConfig(tlsCfg)
		log.Printf("rpc listener using mTLS")
	}
	if err := server.Start(); err != nil {
		log.Fatalf("start rpc server: %v", err)
	}
	log.Printf("casino-node listening on %s", server.Addr())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := engine.RunScheduled(); err != nil {
				log.Printf("scheduled sweep error: %v", err)
			}
		case <-stop:
			log.Printf("shutting down")
			if err := server.Stop(); err != nil {
				log.Printf("rpc shutdown: %v", err)
			}
			return
		}
	}
}

func logEvent(ev events.Event) {
	log.Printf("[event] %s action=%s agent=%s", ev.Type, ev.Action, ev.Agent)
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("no config at %s, using defaults", path)
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func loadOrCreateHouseKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	password := os.Getenv(cfg.KeystorePasswordEnv)
	if password == "" {
		return nil, fmt.Errorf("environment variable %s is not set", cfg.KeystorePasswordEnv)
	}
	if _, err := os.Stat(cfg.KeystorePath); err == nil {
		return signer.LoadKey(cfg.KeystorePath, password)
	}
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := signer.SaveKey(cfg.KeystorePath, password, priv); err != nil {
		return nil, err
	}
	log.Printf("generated new house keystore at %s", cfg.KeystorePath)
	return priv, nil
}
