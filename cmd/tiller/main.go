package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/23skdu/longbow-tiller/internal/config"
	"github.com/23skdu/longbow-tiller/internal/dataset"
	"github.com/23skdu/longbow-tiller/internal/logger"
	"github.com/23skdu/longbow-tiller/internal/monitoring"
	"github.com/23skdu/longbow-tiller/internal/telemetry"
	"github.com/23skdu/longbow-tiller/internal/tensor"
	"github.com/23skdu/longbow-tiller/internal/trainer"
)

var (
	epochs        = flag.Int("epochs", 5, "Number of training epochs")
	inputSize     = flag.Int("input-size", 4096, "Input feature width")
	hiddenSize    = flag.Int("hidden-size", 4096, "Hidden layer width")
	outputSize    = flag.Int("output-size", 4096, "Output width")
	batchSize     = flag.Int("batch-size", 512, "Rows per batch")
	batchCount    = flag.Int("batches", 50, "Batches per epoch")
	accumInterval = flag.Int("accum", 1, "Optimizer update interval in batches")
	ampLevel      = flag.String("amp", "O1", "Precision level: O0, O1 or O2")
	lossScale     = flag.Float64("loss-scale", 1024, "Static loss scale")
	learningRate  = flag.Float64("lr", 0.001, "SGD learning rate")
	seed          = flag.Int64("seed", 42, "RNG seed for weights and data")
	allowOps      = flag.String("allow", "", "Comma-separated ops to force into fp16")
	denyOps       = flag.String("deny", "", "Comma-separated ops to keep in fp32")
	logEvery      = flag.Int("log-every", 10, "Log every N steps")
	logLevel      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat     = flag.String("log-format", "console", "Log format: console or json")
	monitorAddr   = flag.String("monitor", ":9090", "Address for health and metrics endpoints (empty to disable)")
	telemetryAddr = flag.String("telemetry", "", "Arrow Flight address for step telemetry (empty to disable)")
	dataPath      = flag.String("data", "", "Load batches from an Arrow IPC file instead of generating")
	saveDataPath  = flag.String("save-data", "", "Write the generated batches to an Arrow IPC file")
)

func splitOps(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)

	cfg := config.Config{
		Epochs:        *epochs,
		InputSize:     *inputSize,
		HiddenSize:    *hiddenSize,
		OutputSize:    *outputSize,
		BatchSize:     *batchSize,
		BatchCount:    *batchCount,
		AccumInterval: *accumInterval,
		AMPLevel:      *ampLevel,
		LossScale:     float32(*lossScale),
		LearningRate:  float32(*learningRate),
		Seed:          *seed,
		LogEvery:      *logEvery,
		CustomAllow:   splitOps(*allowOps),
		CustomDeny:    splitOps(*denyOps),
		TelemetryAddr: *telemetryAddr,
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	feat := tensor.Detect()
	logger.Log.Info("cpu features",
		"brand", feat.Brand,
		"cores", feat.Cores,
		"f16c", feat.F16C,
		"avx2", feat.AVX2,
		"avx512f", feat.AVX512F,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Log.Warn("signal received, stopping", "signal", sig.String())
		cancel()
	}()

	var monitor *monitoring.Monitor
	if *monitorAddr != "" {
		monitor = monitoring.NewMonitor(cfg.AMPLevel, cfg.LossScale)
		go func() {
			if err := monitor.Start(*monitorAddr); err != nil {
				logger.Log.Warn("monitor server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			monitor.Stop(shutdownCtx)
		}()
	}

	batches, err := loadOrGenerate(cfg)
	if err != nil {
		logger.Log.Error("dataset setup failed", "error", err)
		os.Exit(1)
	}

	var pub telemetry.Publisher
	if cfg.TelemetryAddr != "" {
		fp, err := telemetry.NewFlightPublisher(cfg.TelemetryAddr)
		if err != nil {
			logger.Log.Error("telemetry setup failed", "error", err)
			os.Exit(1)
		}
		if err := fp.Connect(ctx); err != nil {
			logger.Log.Warn("telemetry connect failed, continuing without", "addr", cfg.TelemetryAddr, "error", err)
		} else {
			pub = fp
			defer fp.Close()
		}
	}

	res, err := trainer.Run(ctx, cfg, batches, pub, os.Stdout)
	if err != nil {
		logger.Log.Error("training failed", "error", err)
		os.Exit(1)
	}

	logger.Log.Info("done",
		"loss", res.FinalLoss,
		"updates", res.Updates,
		"skipped", res.Skipped,
		"elapsed", res.Elapsed,
	)
}

func loadOrGenerate(cfg config.Config) ([]dataset.Batch, error) {
	if *dataPath != "" {
		f, err := os.Open(*dataPath)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", *dataPath, err)
		}
		defer f.Close()
		batches, err := dataset.ReadArrow(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", *dataPath, err)
		}
		logger.Log.Info("loaded batches", "path", *dataPath, "count", len(batches))
		return batches, nil
	}

	batches, err := dataset.Generate(dataset.Spec{
		BatchSize:  cfg.BatchSize,
		BatchCount: cfg.BatchCount,
		InputSize:  cfg.InputSize,
		OutputSize: cfg.OutputSize,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return nil, err
	}

	if *saveDataPath != "" {
		f, err := os.Create(*saveDataPath)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", *saveDataPath, err)
		}
		defer f.Close()
		if err := dataset.WriteArrow(f, batches); err != nil {
			return nil, fmt.Errorf("write %s: %w", *saveDataPath, err)
		}
		logger.Log.Info("saved batches", "path", *saveDataPath, "count", len(batches))
	}
	return batches, nil
}
