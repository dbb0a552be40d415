package trainer

import (
	"bytes"
	"context"
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/23skdu/longbow-tiller/internal/config"
	"github.com/23skdu/longbow-tiller/internal/dataset"
	"github.com/23skdu/longbow-tiller/internal/telemetry"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Epochs = 2
	cfg.InputSize = 8
	cfg.HiddenSize = 16
	cfg.OutputSize = 8
	cfg.BatchSize = 4
	cfg.BatchCount = 10
	cfg.LogEvery = 100
	return cfg
}

func testBatches(t *testing.T, cfg config.Config) []dataset.Batch {
	t.Helper()
	batches, err := dataset.Generate(dataset.Spec{
		BatchSize:  cfg.BatchSize,
		BatchCount: cfg.BatchCount,
		InputSize:  cfg.InputSize,
		OutputSize: cfg.OutputSize,
		Seed:       cfg.Seed,
	})
	if err != nil {
		t.Fatalf("dataset.Generate: %v", err)
	}
	return batches
}

func TestRunFiniteLossAllLevels(t *testing.T) {
	for _, level := range []string{"O0", "O1", "O2"} {
		t.Run(level, func(t *testing.T) {
			cfg := testConfig()
			cfg.AMPLevel = level

			res, err := Run(context.Background(), cfg, testBatches(t, cfg), nil, &bytes.Buffer{})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if math.IsNaN(float64(res.FinalLoss)) || math.IsInf(float64(res.FinalLoss), 0) {
				t.Errorf("expected finite loss, got %v", res.FinalLoss)
			}
		})
	}
}

func TestRunOutputFormat(t *testing.T) {
	cfg := testConfig()
	var buf bytes.Buffer

	if _, err := Run(context.Background(), cfg, testBatches(t, cfg), nil, &buf); err != nil {
		t.Fatalf("Run: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "loss = ") {
		t.Errorf("expected a loss line, got %q", out)
	}
	re := regexp.MustCompile(`total time = \d+\.\d{3} sec`)
	if !re.MatchString(out) {
		t.Errorf("expected a total-time line, got %q", out)
	}
}

func TestRunAccumulationUpdateCount(t *testing.T) {
	tests := []struct {
		name        string
		interval    int
		wantUpdates int64
	}{
		// 2 epochs x 10 batches
		{"every batch", 1, 20},
		{"every 2nd", 2, 10},
		{"every 3rd", 3, 6}, // floor(10/3)=3 per epoch
		{"every 5th", 5, 4},
		{"whole epoch", 10, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.AccumInterval = tt.interval

			res, err := Run(context.Background(), cfg, testBatches(t, cfg), nil, &bytes.Buffer{})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Updates != tt.wantUpdates {
				t.Errorf("expected %d updates, got %d", tt.wantUpdates, res.Updates)
			}
		})
	}
}

// A trailing partial accumulation window must be discarded at epoch end,
// not carried into the next epoch. The last batch's NaN label poisons its
// gradients; if those leaked across the epoch boundary, the next epoch's
// first update would be skipped as non-finite.
func TestRunEpochEndDiscardsPartialWindow(t *testing.T) {
	cfg := testConfig()
	cfg.AccumInterval = 9 // batches 10: one update per epoch, batch 10 left over

	batches := testBatches(t, cfg)
	last := batches[len(batches)-1]
	last.Label.Set(0, 0, float32(math.NaN()))

	res, err := Run(context.Background(), cfg, batches, nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Skipped != 0 {
		t.Errorf("expected no skipped updates, got %d", res.Skipped)
	}
	if res.Updates != int64(cfg.Epochs) {
		t.Errorf("expected %d updates, got %d", cfg.Epochs, res.Updates)
	}
}

func TestRunContextCancellation(t *testing.T) {
	cfg := testConfig()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Run(ctx, cfg, testBatches(t, cfg), nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestRunPublishesTelemetry(t *testing.T) {
	cfg := testConfig()
	pub := telemetry.NewMockPublisher()
	if err := pub.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := Run(context.Background(), cfg, testBatches(t, cfg), pub, &bytes.Buffer{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	recs := pub.Records("tiller-O1-seed42")
	want := cfg.Epochs * cfg.BatchCount
	if len(recs) != want {
		t.Fatalf("expected %d step records, got %d", want, len(recs))
	}
	if recs[0].Epoch != 1 || recs[len(recs)-1].Epoch != cfg.Epochs {
		t.Errorf("expected epochs 1..%d, got %d..%d", cfg.Epochs, recs[0].Epoch, recs[len(recs)-1].Epoch)
	}
	if recs[0].Scale != cfg.LossScale {
		t.Errorf("expected scale %v, got %v", cfg.LossScale, recs[0].Scale)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Epochs = 0

	if _, err := Run(context.Background(), cfg, nil, nil, &bytes.Buffer{}); err == nil {
		t.Error("expected validation error")
	}
}

func TestRunNoBatches(t *testing.T) {
	cfg := testConfig()
	if _, err := Run(context.Background(), cfg, nil, nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for empty batch set")
	}
}

// The disabled precision context must be numerically identical to no
// context: an O0 run and an O1 run with everything deny-listed walk the
// same fp32 path, so their final losses agree exactly.
func TestRunO0MatchesFullyDeniedO1(t *testing.T) {
	cfgO0 := testConfig()
	cfgO0.AMPLevel = "O0"
	resO0, err := Run(context.Background(), cfgO0, testBatches(t, cfgO0), nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Run O0: %v", err)
	}

	cfgDeny := testConfig()
	cfgDeny.AMPLevel = "O1"
	cfgDeny.CustomDeny = []string{"matmul", "linear", "conv"}
	resDeny, err := Run(context.Background(), cfgDeny, testBatches(t, cfgDeny), nil, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Run denied O1: %v", err)
	}

	if resO0.FinalLoss != resDeny.FinalLoss {
		t.Errorf("expected identical losses, got %v vs %v", resO0.FinalLoss, resDeny.FinalLoss)
	}
}
