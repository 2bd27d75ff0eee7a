package main

import (
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/J-A-M-P-S/structs"

	"github.com/dominant-strategies/go-merge-mining-proxy/api"
	"github.com/dominant-strategies/go-merge-mining-proxy/chain"
	"github.com/dominant-strategies/go-merge-mining-proxy/log"
	"github.com/dominant-strategies/go-merge-mining-proxy/proxy"
	"github.com/dominant-strategies/go-merge-mining-proxy/storage"
)

var cfg proxy.Config
var backend *storage.RedisClient

func startProxy() {
	baseNodeConn, err := chain.Dial(cfg.BaseNode.Address)
	if err != nil {
		log.Global.WithField("err", err).Fatal("Failed to set up base node connection")
	}
	walletConn, err := chain.Dial(cfg.Wallet.Address)
	if err != nil {
		log.Global.WithField("err", err).Fatal("Failed to set up wallet connection")
	}

	var state proxy.StateBackend
	if backend != nil {
		state = backend
	}
	s, err := proxy.NewProxy(&cfg, state,
		chain.NewBaseNodeClient(baseNodeConn, cfg.BaseNode.ParsedTimeout()),
		chain.NewWalletClient(walletConn, cfg.Wallet.ParsedTimeout()))
	if err != nil {
		log.Global.WithField("err", err).Fatal("Failed to create proxy")
	}
	if err := s.Start(); err != nil {
		log.Global.WithField("err", err).Fatal("Proxy stopped")
	}
}

func startApi() {
	settings := structs.Map(&cfg)
	s := api.NewApiServer(&cfg.Api, settings, backend)
	s.Start()
}

func readConfig(cfg *proxy.Config) {
	configPath := flag.String("config", "config/config.json", "Path to config file")
	listen := flag.String("listen", "", "Proxy listen address (overrides config)")
	daemon := flag.String("daemon", "", "Foreign daemon url (overrides config)")
	baseNode := flag.String("basenode", "", "Base node gRPC address (overrides config)")
	wallet := flag.String("wallet", "", "Wallet gRPC address (overrides config)")
	originSubmission := flag.String("origin-submission", "", "origin_submission_enabled or origin_submission_disabled (overrides config)")

	flag.Parse()

	log.Global.WithField(
		"path", *configPath,
	).Info("Loading config")

	// Read config file.
	configFile, err := os.Open(*configPath)
	if err != nil {
		log.Global.Fatal("File error: ", err.Error())
	}
	defer configFile.Close()
	jsonParser := json.NewDecoder(configFile)
	jsonParser.DisallowUnknownFields()
	if err := jsonParser.Decode(cfg); err != nil {
		log.Global.Fatal("Config error: ", err.Error())
	}

	// Perform custom overrides. Empty means they weren't set on the command line.
	if *listen != "" {
		cfg.Proxy.Listen = *listen
	}
	if *daemon != "" {
		cfg.Upstream = append([]proxy.Upstream{{Name: "cli", Url: *daemon}}, cfg.Upstream...)
	}
	if *baseNode != "" {
		cfg.BaseNode.Address = *baseNode
	}
	if *wallet != "" {
		cfg.Wallet.Address = *wallet
	}
	if *originSubmission != "" {
		v, err := proxy.ParseOriginSubmission(*originSubmission)
		if err != nil {
			log.Global.Fatal("Flag error: ", err.Error())
		}
		cfg.Proxy.OriginSubmission = v
	}

	cfg.ApplyDefaults()
}

func main() {
	readConfig(&cfg)
	log.ConfigureGlobal(cfg.Log.File, cfg.Log.Level)

	if cfg.Threads > 0 {
		runtime.GOMAXPROCS(cfg.Threads)
		log.Global.WithField(
			"threads", cfg.Threads,
		).Debug("Threads running")
	}

	if cfg.Redis.Enabled {
		backend = storage.NewRedisClient(&cfg.Redis, cfg.Name)
		pong, err := backend.Check()
		if err != nil {
			log.Global.WithField("err", err).Fatal("Can't establish connection to backend")
		}
		log.Global.WithField("reply", pong).Info("Backend check reply")
	}

	go startProxy()
	if cfg.Api.Enabled {
		if backend == nil {
			log.Global.Fatal("API requires the redis backend")
		}
		go startApi()
	}

	// Set up signal handling for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// Block until a signal is received
	<-quit
	log.Global.Info("Received shutdown signal, stopping...")

	if backend != nil {
		backend.Close()
	}
	log.Global.Info("Proxy stopped")
}
