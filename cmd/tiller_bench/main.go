package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/23skdu/longbow-tiller/internal/config"
	"github.com/23skdu/longbow-tiller/internal/dataset"
	"github.com/23skdu/longbow-tiller/internal/logger"
	"github.com/23skdu/longbow-tiller/internal/trainer"
)

var (
	epochs     = flag.Int("epochs", 2, "Epochs per precision level")
	inputSize  = flag.Int("input-size", 1024, "Input feature width")
	hiddenSize = flag.Int("hidden-size", 1024, "Hidden layer width")
	outputSize = flag.Int("output-size", 1024, "Output width")
	batchSize  = flag.Int("batch-size", 128, "Rows per batch")
	batchCount = flag.Int("batches", 20, "Batches per epoch")
	seed       = flag.Int64("seed", 42, "RNG seed for weights and data")
)

func main() {
	flag.Parse()
	logger.Setup("warn", "console")

	base := config.Default()
	base.Epochs = *epochs
	base.InputSize = *inputSize
	base.HiddenSize = *hiddenSize
	base.OutputSize = *outputSize
	base.BatchSize = *batchSize
	base.BatchCount = *batchCount
	base.Seed = *seed

	batches, err := dataset.Generate(dataset.Spec{
		BatchSize:  base.BatchSize,
		BatchCount: base.BatchCount,
		InputSize:  base.InputSize,
		OutputSize: base.OutputSize,
		Seed:       base.Seed,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dataset: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("benchmark: %dx%dx%d, batch %d, %d batches, %d epochs\n",
		base.InputSize, base.HiddenSize, base.OutputSize,
		base.BatchSize, base.BatchCount, base.Epochs)

	type row struct {
		level string
		res   trainer.Result
	}
	var rows []row

	for _, level := range []string{"O0", "O1", "O2"} {
		cfg := base
		cfg.AMPLevel = level

		res, err := trainer.Run(context.Background(), cfg, batches, nil, io.Discard)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", level, err)
			os.Exit(1)
		}
		rows = append(rows, row{level, res})
		fmt.Printf("%s: loss=%.6f updates=%d skipped=%d time=%.3fs\n",
			level, res.FinalLoss, res.Updates, res.Skipped, res.Elapsed.Seconds())
	}

	baseline := rows[0].res.Elapsed.Seconds()
	fmt.Println()
	for _, r := range rows {
		speedup := baseline / r.res.Elapsed.Seconds()
		fmt.Printf("%s: %.2fx vs O0\n", r.level, speedup)
	}
}
