package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainwatch/chainsub/internal/cache"
	"github.com/chainwatch/chainsub/internal/config"
	"github.com/chainwatch/chainsub/internal/engine"
	"github.com/chainwatch/chainsub/internal/ethrpc"
	"github.com/chainwatch/chainsub/internal/headersource"
	"github.com/chainwatch/chainsub/internal/logfetch"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/metrics"
	"github.com/chainwatch/chainsub/internal/registry"
	"github.com/chainwatch/chainsub/internal/repair"
	"github.com/chainwatch/chainsub/internal/resolver"
)

const version = "0.1.0"

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "chainsub",
	Short:   "chainsub - reorg-aware blockchain event subscription engine",
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the subscription engine against a live RPC endpoint",
	RunE:  runEngine,
}

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate a configuration file without connecting to an RPC endpoint",
	RunE:  validateConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(runCmd, validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Printf("config %s is valid\n", configPath)
	fmt.Printf("  rpc.url: %s\n", cfg.RPC.URL)
	fmt.Printf("  engine.maxBlockCached: %d\n", cfg.Engine.MaxBlockCached)
	fmt.Printf("  engine.batchSize: %d\n", cfg.Engine.BatchSize)
	return nil
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down gracefully")
		cancel()
	}()

	log.Infow("connecting to RPC endpoint", "url", cfg.RPC.URL)
	rpcClient, err := ethrpc.NewClient(ctx, cfg.RPC.URL, cfg)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer rpcClient.Close()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.Metrics, log)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnw("failed to stop metrics server", "error", err)
			}
		}()
		log.Infow("metrics server started", "addr", cfg.Metrics.Addr)
	}

	anchor, err := rpcClient.GetLatestBlockHeader(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch initial chain head: %w", err)
	}

	chainCache, err := cache.NewChainCache(cfg.Engine.MaxBlockCached, cfg.Engine.BatchSize, anchor, log)
	if err != nil {
		return fmt.Errorf("failed to construct chain cache: %w", err)
	}

	blockRetry := cfg.BlockRetryPolicy()
	logRetry := cfg.LogRetryPolicy()

	res := resolver.New(rpcClient, blockRetry, log)
	rep := repair.New(rpcClient, blockRetry, log)
	logsTimeout := time.Duration(cfg.Engine.GetLogsTimeoutMs) * time.Millisecond
	fetcher := logfetch.New(rpcClient, logRetry, logsTimeout, res, rep, log)
	reg := registry.New(log)

	eng := engine.New(chainCache, res, rep, fetcher, reg, cfg, log)

	poller := headersource.New(rpcClient, eng, time.Duration(cfg.RPC.PollIntervalMs)*time.Millisecond, log)
	go poller.Run(ctx)

	log.Infow("subscription engine running", "anchor", anchor.Number)
	<-ctx.Done()
	poller.Stop()

	return nil
}
