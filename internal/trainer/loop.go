package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/23skdu/longbow-tiller/internal/amp"
	"github.com/23skdu/longbow-tiller/internal/config"
	"github.com/23skdu/longbow-tiller/internal/dataset"
	"github.com/23skdu/longbow-tiller/internal/logger"
	"github.com/23skdu/longbow-tiller/internal/metrics"
	"github.com/23skdu/longbow-tiller/internal/model"
	"github.com/23skdu/longbow-tiller/internal/optimizer"
	"github.com/23skdu/longbow-tiller/internal/telemetry"
	"github.com/23skdu/longbow-tiller/internal/tensor"
)

// Result summarizes one completed run.
type Result struct {
	FinalLoss float32
	Updates   int64
	Skipped   int64
	Elapsed   time.Duration
}

// Run executes the training workload: for each epoch, for each batch,
// forward under the autocast policy, backward on the scaled loss, and an
// optimizer update every AccumInterval batches. When AccumInterval does not
// divide the batch count, the trailing partial window's gradients are
// discarded at epoch end rather than carried into the next epoch. Prints
// the final loss and the total-time line to out (stdout when nil).
func Run(ctx context.Context, cfg config.Config, batches []dataset.Batch, pub telemetry.Publisher, out io.Writer) (Result, error) {
	if out == nil {
		out = os.Stdout
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if len(batches) == 0 {
		return Result{}, errors.New("trainer: no batches")
	}
	level, err := amp.ParseLevel(cfg.AMPLevel)
	if err != nil {
		return Result{}, err
	}

	pool := tensor.NewPool()
	mdl, err := model.New(cfg.InputSize, cfg.HiddenSize, cfg.OutputSize, cfg.Seed, pool)
	if err != nil {
		return Result{}, err
	}
	opt, err := optimizer.NewSGD(cfg.LearningRate)
	if err != nil {
		return Result{}, err
	}

	ampOn := level != amp.LevelO0
	castOpts := []amp.Option{amp.WithLevel(level)}
	if len(cfg.CustomAllow) > 0 {
		castOpts = append(castOpts, amp.WithAllowList(cfg.CustomAllow...))
	}
	if len(cfg.CustomDeny) > 0 {
		castOpts = append(castOpts, amp.WithDenyList(cfg.CustomDeny...))
	}
	cast := amp.AutoCast(ampOn, castOpts...)
	scaler, err := amp.NewGradScaler(ampOn, cfg.LossScale)
	if err != nil {
		return Result{}, err
	}
	if level == amp.LevelO2 {
		if err := amp.Decorate(mdl, opt); err != nil {
			return Result{}, err
		}
	}

	log := logger.Log.Component("trainer")
	log.Info("run starting",
		"level", level.String(),
		"epochs", cfg.Epochs,
		"batches", len(batches),
		"batch_size", cfg.BatchSize,
		"accum_interval", cfg.AccumInterval,
		"loss_scale", scaler.LossScale(),
	)

	var timer Timer
	timer.Start()

	run := fmt.Sprintf("tiller-%s-seed%d", level, cfg.Seed)
	var pending []telemetry.StepRecord
	var finalLoss float32
	step := 0

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		epochStart := time.Now()
		for i, b := range batches {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}

			stepStart := time.Now()
			mdl.Forward(cast, b.Input)
			loss := mdl.Backward(b.Label, scaler.LossScale())
			stepDur := time.Since(stepStart)

			step++
			finalLoss = loss
			metrics.RecordStep(loss, stepDur)
			if pub != nil {
				pending = append(pending, telemetry.StepRecord{
					Epoch:    epoch,
					Step:     step,
					Loss:     loss,
					Scale:    scaler.LossScale(),
					Duration: stepDur,
				})
			}

			if (i+1)%cfg.AccumInterval == 0 {
				if !scaler.Minimize(opt, mdl.Params()) {
					log.Warn("update skipped on non-finite gradients", "epoch", epoch, "step", step)
				}
				opt.ZeroGrad(mdl.Params())
			}

			if step%cfg.LogEvery == 0 {
				log.Info("step",
					"epoch", epoch,
					"step", step,
					"loss", loss,
					"step_ms", float64(stepDur.Microseconds())/1000.0,
				)
			}
		}
		if len(batches)%cfg.AccumInterval != 0 {
			opt.ZeroGrad(mdl.Params())
		}
		metrics.RecordEpoch(time.Since(epochStart))

		if pub != nil && len(pending) > 0 {
			if err := pub.Publish(ctx, run, pending); err != nil {
				metrics.RecordTelemetryError()
				log.Warn("telemetry publish failed", "error", err)
			}
			pending = pending[:0]
		}
	}

	fmt.Fprintf(out, "loss = %.6f\n", finalLoss)
	elapsed := timer.Report(out, "total time")

	log.Info("run finished",
		"loss", finalLoss,
		"updates", opt.Updates(),
		"skipped", scaler.Skipped(),
		"elapsed", elapsed,
	)

	return Result{
		FinalLoss: finalLoss,
		Updates:   opt.Updates(),
		Skipped:   scaler.Skipped(),
		Elapsed:   elapsed,
	}, nil
}
