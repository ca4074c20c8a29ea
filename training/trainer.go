package training

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/google/uuid"

	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/config"
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/inference"
	"github.com/hkevin01/tumor-detection-segmentation/metrics"
	"github.com/hkevin01/tumor-detection-segmentation/optimizer"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// Trainer owns one training run: model, loss, optimizer, scheduler, grad
// scaler, checkpoint store and metric sinks, plus the epoch and best-metric
// counters that drive checkpoint decisions.
type Trainer struct {
	cfg    config.RunConfig
	model  Module
	loss   Loss
	opt    optimizer.Optimizer
	sched  LRScheduler
	scaler *GradScaler
	exec   tensor.ExecutionContext
	store  *checkpoints.Store
	log    logs.Log

	history  *History
	sinks    MultiSink
	progress io.Writer

	runID      string
	epoch      int     // completed epochs
	bestMetric float64 // best validation Dice; -1 until the first validation
	badVals    int     // consecutive validations without improvement
}

// NewTrainer wires a run together. An empty cfg.CheckpointDir runs without
// persistence.
func NewTrainer(model Module, loss Loss, opt optimizer.Optimizer, sched LRScheduler, cfg config.RunConfig, logger logs.Log) (*Trainer, error) {
	if model == nil || loss == nil || opt == nil || sched == nil {
		return nil, errdefs.Configurationf("trainer needs a model, a loss, an optimizer and a scheduler")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exec := tensor.CPUContext()
	if cfg.UseMixedPrecision {
		exec = exec.WithMixedPrecision()
	}

	var store *checkpoints.Store
	if cfg.CheckpointDir != "" {
		format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
		if err != nil {
			return nil, err
		}
		saver := checkpoints.NewCheckpointSaver(format, cfg.CompressCheckpoints)
		store, err = checkpoints.NewStore(cfg.CheckpointDir, saver, logger)
		if err != nil {
			return nil, err
		}
	}

	history := NewHistory()
	t := &Trainer{
		cfg:        cfg,
		model:      model,
		loss:       loss,
		opt:        opt,
		sched:      sched,
		scaler:     NewGradScaler(cfg.UseMixedPrecision),
		exec:       exec,
		store:      store,
		log:        logger,
		history:    history,
		sinks:      MultiSink{history, NewLogSink(logger)},
		runID:      uuid.NewString(),
		bestMetric: -1, // Dice is never negative, so the first validation always improves
	}
	return t, nil
}

func (t *Trainer) RunID() string     { return t.runID }
func (t *Trainer) Epoch() int        { return t.epoch }
func (t *Trainer) BestDice() float64 { return t.bestMetric }
func (t *Trainer) History() *History { return t.history }

// AttachSink adds a metric sink alongside the built-in history and log
// sinks.
func (t *Trainer) AttachSink(s MetricSink) {
	t.sinks = append(t.sinks, s)
}

// SetProgressOutput enables an in-place console progress bar on the given
// writer. The trainer never writes progress anywhere it was not handed.
func (t *Trainer) SetProgressOutput(w io.Writer) {
	t.progress = w
}

// Fit drives the whole run: per epoch a training pass, optionally a
// validation pass, then checkpointing. "latest" is written after every
// completed epoch, "best" only on strict metric improvement. A training
// error aborts before any checkpoint write of that epoch, so the previous
// snapshot stays intact.
func (t *Trainer) Fit(ctx context.Context, train, val *Loader) error {
	if train == nil {
		return errdefs.Configurationf("fit needs a training loader")
	}
	t.log.Infof("Run %s: training to epoch %d on %d samples (%s, scheduler %s, %s)",
		t.runID, t.cfg.MaxEpochs, train.Len(), t.opt.Name(), t.sched.GetName(), t.exec)

	for epoch := t.epoch + 1; epoch <= t.cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lr := t.sched.GetLR(epoch-1, 0, t.cfg.LearningRate)
		t.opt.UpdateLearningRate(float32(lr))

		train.ResetFor(epoch)
		loss, err := t.TrainEpoch(ctx, train, epoch)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		t.epoch = epoch

		rec := EpochRecord{RunID: t.runID, Epoch: epoch, TrainLoss: loss, LR: lr}
		improved := false
		if val != nil && t.cfg.ValInterval > 0 && epoch%t.cfg.ValInterval == 0 {
			metric, samples, err := t.Validate(ctx, val)
			if err != nil {
				return fmt.Errorf("validation after epoch %d: %w", epoch, err)
			}
			rec.ValMetric = &metric
			t.log.Debugf("Validated %d samples after epoch %d", samples, epoch)

			if p, ok := t.sched.(*ReduceLROnPlateauScheduler); ok {
				p.Step(metric, lr)
			}
			if metric > t.bestMetric {
				t.bestMetric = metric
				t.badVals = 0
				improved = true
			} else {
				t.badVals++
			}
		}

		if err := t.sinks.RecordEpoch(rec); err != nil {
			return fmt.Errorf("record epoch %d: %w", epoch, err)
		}
		if err := t.checkpoint(improved); err != nil {
			return fmt.Errorf("checkpoint after epoch %d: %w", epoch, err)
		}

		if t.cfg.EarlyStopPatience > 0 && t.badVals >= t.cfg.EarlyStopPatience {
			t.log.Infof("Run %s: no improvement in %d validations, stopping early after epoch %d",
				t.runID, t.badVals, epoch)
			break
		}
	}

	t.log.Infof("Run %s: finished after epoch %d, best dice %.4f", t.runID, t.epoch, t.bestMetric)
	return nil
}

// TrainEpoch runs one pass over the loader and returns the mean minibatch
// loss. The loader must already be positioned for this epoch via ResetFor.
func (t *Trainer) TrainEpoch(ctx context.Context, loader *Loader, epoch int) (float64, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.model.Train()

	var bar *ProgressBar
	if t.progress != nil {
		bar = NewProgressBar(t.progress, fmt.Sprintf("Epoch %d/%d", epoch, t.cfg.MaxEpochs), loader.Batches())
	}

	var total float64
	batches := 0
	for res := range loader.Iterate(runCtx) {
		if res.Err != nil {
			return 0, res.Err
		}
		loss, err := t.trainBatch(res.Batch)
		if err != nil {
			return 0, err
		}
		total += loss
		batches++
		if bar != nil {
			bar.Update(batches, map[string]float64{"loss": total / float64(batches)})
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
	}
	if bar != nil {
		bar.Finish()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if batches == 0 {
		return 0, errdefs.Configurationf("training epoch saw no batches")
	}
	return total / float64(batches), nil
}

// trainBatch accumulates gradients over the batch, then unscales, clips and
// steps once. A batch whose gradients overflow under loss scaling skips the
// step; the scaler lowers the scale and the run continues.
func (t *Trainer) trainBatch(batch Batch) (float64, error) {
	params := t.model.Parameters()
	for _, p := range params {
		p.ZeroGrad()
	}

	perSample := 1 / float32(batch.Size())
	var total float64
	for _, sample := range batch.Samples {
		scores, err := t.model.Forward(sample.Image)
		if err != nil {
			return 0, err
		}
		if t.exec.Mixed() {
			tensor.HalfRoundSlice(scores.Data, scores.Data)
		}

		loss, grad, err := t.loss.Compute(scores, sample.Label)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, errdefs.Divergencef("training loss is not finite (%v)", loss)
		}
		total += loss

		tensor.Scale(grad, perSample)
		t.scaler.Scale(grad)
		if err := t.model.Backward(grad); err != nil {
			return 0, err
		}
	}

	if overflow := t.scaler.Unscale(params); overflow {
		t.scaler.Update(true)
		t.log.Debugf("Gradient overflow, step skipped, loss scale lowered to %g", t.scaler.CurrentScale())
		return total / float64(batch.Size()), nil
	}
	if t.cfg.GradientClipMaxNorm > 0 {
		ClipGradNorm(params, float32(t.cfg.GradientClipMaxNorm))
	}
	if err := t.opt.Step(params); err != nil {
		return 0, err
	}
	t.scaler.Update(false)
	return total / float64(batch.Size()), nil
}

// Validate scores the model over a loader with full-volume sliding-window
// inference, TTA-wrapped when configured, and returns the mean foreground
// Dice plus the number of samples scored. The model is restored to its
// previous train/eval mode afterwards.
func (t *Trainer) Validate(ctx context.Context, loader *Loader) (float64, int, error) {
	if loader == nil {
		return 0, 0, errdefs.Configurationf("validate needs a loader")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wasTraining := t.model.IsTraining()
	t.model.Eval()
	if wasTraining {
		defer t.model.Train()
	}

	icfg := inference.DefaultConfig(t.cfg.ROISize, t.cfg.NumClasses)
	icfg.Overlap = t.cfg.Overlap
	icfg.SWBatchSize = t.cfg.SWBatchSize
	inferer, err := inference.NewSlidingInferer(icfg, t.exec, t.log)
	if err != nil {
		return 0, 0, err
	}
	dice, err := metrics.NewDiceMetric(metrics.DiceConfig{NumClasses: t.cfg.NumClasses})
	if err != nil {
		return 0, 0, err
	}

	full := inferer.PredictorWith(runCtx, inference.PredictorFunc(t.model.Forward))
	predict := func(v *tensor.Volume) (*tensor.LabelVolume, error) {
		scores, err := full(v)
		if err != nil {
			return nil, err
		}
		return tensor.ArgmaxClasses(scores), nil
	}
	if t.cfg.UseTTA {
		ens, err := inference.NewEnsembler(full, t.flipSet())
		if err != nil {
			return 0, 0, err
		}
		predict = ens.Predict
	}

	batches := 0
	for res := range loader.Iterate(runCtx) {
		if res.Err != nil {
			return 0, 0, res.Err
		}
		for _, sample := range res.Batch.Samples {
			pred, err := predict(sample.Image)
			if err != nil {
				return 0, 0, fmt.Errorf("validation inference: %w", err)
			}
			if _, err := dice.Update(pred, sample.Label); err != nil {
				return 0, 0, err
			}
		}
		batches++
		if t.cfg.ValMaxBatches > 0 && batches >= t.cfg.ValMaxBatches {
			cancel()
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	metric, err := dice.Aggregate()
	if err != nil {
		return 0, 0, err
	}
	return metric, dice.Count(), nil
}

// flipSet returns the configured TTA transforms, defaulting to every flip
// combination of the spatial rank.
func (t *Trainer) flipSet() inference.FlipSet {
	if len(t.cfg.TTAFlips) > 0 {
		return inference.FlipSet(t.cfg.TTAFlips)
	}
	return inference.FullFlipSet(len(t.cfg.ROISize))
}

// Resume loads the latest checkpoint from the store and positions the run
// to continue at the following epoch.
func (t *Trainer) Resume() error {
	if t.store == nil {
		return errdefs.Configurationf("resume needs a checkpoint directory")
	}
	cp, err := t.store.LoadLatest()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return t.restore(cp)
}

// ResumeFrom restores from an explicit checkpoint file.
func (t *Trainer) ResumeFrom(path string) error {
	if t.store == nil {
		return errdefs.Configurationf("resume needs a checkpoint directory")
	}
	cp, err := t.store.LoadPath(path)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return t.restore(cp)
}

func (t *Trainer) restore(cp *checkpoints.Checkpoint) error {
	if err := importWeights(t.model.Parameters(), cp.Weights); err != nil {
		return err
	}
	if cp.Optimizer != nil {
		if err := t.opt.LoadState(cp.Optimizer); err != nil {
			return fmt.Errorf("restore optimizer: %w", err)
		}
	}
	if cp.Scheduler != nil {
		if err := RestoreSchedulerState(t.sched, *cp.Scheduler); err != nil {
			return err
		}
	}
	if cp.RunID != "" {
		t.runID = cp.RunID
	}
	t.epoch = cp.Epoch
	t.bestMetric = cp.BestMetric
	t.badVals = 0
	t.log.Infof("Run %s: resumed at epoch %d, best dice %.4f", t.runID, t.epoch, t.bestMetric)
	return nil
}

func (t *Trainer) checkpoint(improved bool) error {
	if t.store == nil {
		return nil
	}
	cp, err := t.buildCheckpoint()
	if err != nil {
		return err
	}
	if err := t.store.SaveLatest(cp); err != nil {
		return err
	}
	if improved {
		if err := t.store.SaveBest(cp); err != nil {
			return err
		}
		t.log.Infof("Run %s: new best dice %.4f at epoch %d", t.runID, t.bestMetric, t.epoch)
	}
	return nil
}

func (t *Trainer) buildCheckpoint() (*checkpoints.Checkpoint, error) {
	optState, err := t.opt.GetState()
	if err != nil {
		return nil, err
	}
	schedState := SchedulerStateOf(t.sched)
	return &checkpoints.Checkpoint{
		RunID:      t.runID,
		Epoch:      t.epoch,
		BestMetric: t.bestMetric,
		Weights:    exportWeights(t.model.Parameters()),
		Optimizer:  optState,
		Scheduler:  &schedState,
		SavedAt:    time.Now().UTC(),
	}, nil
}

func exportWeights(params []*tensor.Parameter) []checkpoints.WeightTensor {
	out := make([]checkpoints.WeightTensor, len(params))
	for i, p := range params {
		out[i] = checkpoints.WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  append([]float32(nil), p.Data...),
		}
	}
	return out
}

// LoadWeights copies checkpoint weight tensors into a model by parameter
// name, for tools that restore a snapshot without a Trainer.
func LoadWeights(model Module, weights []checkpoints.WeightTensor) error {
	return importWeights(model.Parameters(), weights)
}

func importWeights(params []*tensor.Parameter, weights []checkpoints.WeightTensor) error {
	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return errdefs.Configurationf("checkpoint has no weights for parameter %s", p.Name)
		}
		if len(w.Data) != len(p.Data) {
			return errdefs.ShapeMismatchf("parameter %s has %d values, checkpoint carries %d", p.Name, len(p.Data), len(w.Data))
		}
		copy(p.Data, w.Data)
	}
	return nil
}
