// relayer is the meta-transaction relayer daemon: it accepts signed
// intents over HTTP, sponsors gas from a pool of relayer accounts,
// submits the transactions and tracks them to finality.
package main

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mantlenetworkio/relayer/api"
	"github.com/mantlenetworkio/relayer/chain"
	"github.com/mantlenetworkio/relayer/relayer"
	"github.com/mantlenetworkio/relayer/storage"
	"github.com/mantlenetworkio/relayer/wallet"
)

var (
	rpcFlag = &cli.StringFlag{
		Name:  "rpc",
		Usage: "Chain JSON-RPC endpoint (http, ws or ipc)",
		Value: "http://localhost:8545",
	}
	dbFlag = &cli.StringFlag{
		Name:  "db",
		Usage: "Path of the SQLite transaction store",
		Value: "relayer.db",
	}
	keysFlag = &cli.StringFlag{
		Name:  "keys",
		Usage: "File with one hex-encoded relayer private key per line",
		Value: "keys.txt",
	}
	httpAddrFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "Gateway listen address",
		Value: api.DefaultConfig.ListenAddr,
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "Number of relay workers",
		Value: relayer.DefaultConfig.Scheduler.Workers,
	}
	confirmationsFlag = &cli.Uint64Flag{
		Name:  "confirmations",
		Usage: "Blocks past inclusion before a transaction is confirmed",
		Value: relayer.DefaultConfig.Tracker.ConfirmationBlocks,
	}
	strategyFlag = &cli.StringFlag{
		Name:  "strategy",
		Usage: "Wallet selection strategy (round-robin, least-used, best-performance, random)",
		Value: string(relayer.DefaultConfig.Wallet.Strategy),
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a rotated file instead of stderr",
	}
)

// tomlConfig is the file form of the tunables that do not fit flags.
// Unset fields keep their defaults.
type tomlConfig struct {
	RPC               string
	DB                string
	Keys              string
	HTTPAddr          string
	Workers           int
	MaxQueueSize      int
	MaxRetries        int
	Confirmations     uint64
	Strategy          string
	MaxInFlight       int64
	MinBalanceWei     string
	MinGasPriceWei    string
	MaxGasPriceWei    string
	SignatureAge      time.Duration
	ReplayWindow      time.Duration
	GasSampleInterval time.Duration
	RotationInterval  time.Duration
	CORSOrigins       []string
}

func main() {
	app := &cli.App{
		Name:  "relayer",
		Usage: "EVM meta-transaction relayer",
		Flags: []cli.Flag{
			rpcFlag, dbFlag, keysFlag, httpAddrFlag, configFlag,
			workersFlag, confirmationsFlag, strategyFlag,
			verbosityFlag, logFileFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	setupLogging(ctx)

	relayerCfg := relayer.DefaultConfig
	apiCfg := api.DefaultConfig
	rpcURL := ctx.String(rpcFlag.Name)
	dbPath := ctx.String(dbFlag.Name)
	keyPath := ctx.String(keysFlag.Name)

	if path := ctx.String(configFlag.Name); path != "" {
		fileCfg, err := loadConfigFile(path)
		if err != nil {
			return err
		}
		applyFileConfig(fileCfg, &relayerCfg, &apiCfg, &rpcURL, &dbPath, &keyPath)
	}

	// Flags win over the file.
	if ctx.IsSet(rpcFlag.Name) {
		rpcURL = ctx.String(rpcFlag.Name)
	}
	if ctx.IsSet(dbFlag.Name) {
		dbPath = ctx.String(dbFlag.Name)
	}
	if ctx.IsSet(keysFlag.Name) {
		keyPath = ctx.String(keysFlag.Name)
	}
	if ctx.IsSet(workersFlag.Name) {
		relayerCfg.Scheduler.Workers = ctx.Int(workersFlag.Name)
	}
	if ctx.IsSet(confirmationsFlag.Name) {
		relayerCfg.Tracker.ConfirmationBlocks = ctx.Uint64(confirmationsFlag.Name)
	}
	if ctx.IsSet(strategyFlag.Name) {
		strategy, err := wallet.ParseStrategy(ctx.String(strategyFlag.Name))
		if err != nil {
			return err
		}
		relayerCfg.Wallet.Strategy = strategy
	}
	if ctx.IsSet(httpAddrFlag.Name) {
		apiCfg.ListenAddr = ctx.String(httpAddrFlag.Name)
	}

	keys, err := loadKeys(keyPath)
	if err != nil {
		return fmt.Errorf("load relayer keys: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := chain.Dial(dialCtx, rpcURL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	defer client.Close()

	store, err := storage.OpenSQL(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	service, err := relayer.New(dialCtx, client, store, keys, relayerCfg)
	if err != nil {
		return err
	}
	if err := service.Start(dialCtx); err != nil {
		return err
	}

	gateway := api.NewServer(service, apiCfg)
	gateway.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := gateway.Stop(stopCtx); err != nil {
		log.Warn("Gateway shutdown failed", "err", err)
	}
	service.Stop()
	return nil
}

func setupLogging(ctx *cli.Context) {
	verbosity := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
	if path := ctx.String(logFileFlag.Name); path != "" {
		rotated := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // MB
			MaxBackups: 10,
		}
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(rotated, verbosity, false)))
		return
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, verbosity, true)))
}

func loadConfigFile(path string) (*tomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg tomlConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func applyFileConfig(file *tomlConfig, relayerCfg *relayer.Config, apiCfg *api.Config, rpcURL, dbPath, keyPath *string) {
	if file.RPC != "" {
		*rpcURL = file.RPC
	}
	if file.DB != "" {
		*dbPath = file.DB
	}
	if file.Keys != "" {
		*keyPath = file.Keys
	}
	if file.HTTPAddr != "" {
		apiCfg.ListenAddr = file.HTTPAddr
	}
	if len(file.CORSOrigins) > 0 {
		apiCfg.CORSOrigins = file.CORSOrigins
	}
	if file.Workers > 0 {
		relayerCfg.Scheduler.Workers = file.Workers
	}
	if file.MaxQueueSize > 0 {
		relayerCfg.Scheduler.MaxQueueSize = file.MaxQueueSize
	}
	if file.MaxRetries > 0 {
		relayerCfg.Scheduler.MaxRetries = file.MaxRetries
	}
	if file.Confirmations > 0 {
		relayerCfg.Tracker.ConfirmationBlocks = file.Confirmations
	}
	if file.MaxInFlight > 0 {
		relayerCfg.Wallet.MaxInFlight = file.MaxInFlight
	}
	if file.Strategy != "" {
		if strategy, err := wallet.ParseStrategy(file.Strategy); err == nil {
			relayerCfg.Wallet.Strategy = strategy
		}
	}
	if file.SignatureAge > 0 {
		relayerCfg.EIP712.MaxSignatureAge = file.SignatureAge
	}
	if file.ReplayWindow > 0 {
		relayerCfg.Replay.Window = file.ReplayWindow
	}
	if file.GasSampleInterval > 0 {
		relayerCfg.Gas.SampleInterval = file.GasSampleInterval
	}
	if file.RotationInterval > 0 {
		relayerCfg.Wallet.RotationInterval = file.RotationInterval
	}
	if wei, ok := new(big.Int).SetString(file.MinBalanceWei, 10); ok {
		relayerCfg.Wallet.MinBalance = wei
	}
	if wei, ok := new(big.Int).SetString(file.MinGasPriceWei, 10); ok {
		relayerCfg.Gas.MinGasPrice = wei
	}
	if wei, ok := new(big.Int).SetString(file.MaxGasPriceWei, 10); ok {
		relayerCfg.Gas.MaxGasPrice = wei
	}
}

// loadKeys reads hex private keys, one per line. Blank lines and
// #-comments are skipped.
func loadKeys(path string) ([]*ecdsa.PrivateKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []*ecdsa.PrivateKey
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(line, "0x"))
		if err != nil {
			return nil, fmt.Errorf("bad key on line %d: %w", lineNo, err)
		}
		keys = append(keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
