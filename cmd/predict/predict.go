// Command predict restores a checkpoint into the reference model and runs
// sliding-window inference, optionally flip-ensembled, over the synthetic
// validation volumes. It reports per-class voxel counts and the foreground
// Dice against the generated truth.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/hkevin01/tumor-detection-segmentation/checkpoints"
	"github.com/hkevin01/tumor-detection-segmentation/config"
	"github.com/hkevin01/tumor-detection-segmentation/dataset"
	"github.com/hkevin01/tumor-detection-segmentation/inference"
	"github.com/hkevin01/tumor-detection-segmentation/metrics"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
	"github.com/hkevin01/tumor-detection-segmentation/training"
)

func fail(stage string, err error) {
	fmt.Fprintf(os.Stderr, "predict: %s: %v\n", stage, err)
	os.Exit(1)
}

func main() {
	parser := argparse.NewParser("predict", "Segment synthetic volumes with a trained checkpoint")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Run configuration file (YAML or JSON)", Default: ""})
	ckptFile := parser.String("k", "checkpoint", &argparse.Options{Help: "Checkpoint file to restore", Required: true})
	tta := parser.Flag("t", "tta", &argparse.Options{Help: "Ensemble predictions over flipped copies of each volume", Default: false})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Report every sample, not just the aggregate", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.DefaultRunConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fail("load config", err)
		}
		cfg = *loaded
	}

	format, err := checkpoints.ParseFormat(cfg.CheckpointFormat)
	if err != nil {
		fail("load checkpoint", err)
	}
	saver := checkpoints.NewCheckpointSaver(format, cfg.CompressCheckpoints)
	cp, err := saver.LoadCheckpoint(*ckptFile)
	if err != nil {
		fail("load checkpoint", err)
	}
	logger.Infof("Checkpoint from run %s: epoch %d, best dice %.4f", cp.RunID, cp.Epoch, cp.BestMetric)

	model, err := training.NewVoxelClassifier(cfg.InChannels, cfg.NumClasses, cfg.Seed)
	if err != nil {
		fail("build model", err)
	}
	if err := training.LoadWeights(model, cp.Weights); err != nil {
		fail("restore weights", err)
	}
	model.Eval()

	exec := tensor.CPUContext()
	if cfg.UseMixedPrecision {
		exec = exec.WithMixedPrecision()
	}
	icfg := inference.DefaultConfig(cfg.ROISize, cfg.NumClasses)
	icfg.Overlap = cfg.Overlap
	icfg.SWBatchSize = cfg.SWBatchSize
	inferer, err := inference.NewSlidingInferer(icfg, exec, logger)
	if err != nil {
		fail("build inferer", err)
	}

	ctx := context.Background()
	full := inferer.PredictorWith(ctx, inference.PredictorFunc(model.Forward))
	predict := func(v *tensor.Volume) (*tensor.LabelVolume, error) {
		scores, err := full(v)
		if err != nil {
			return nil, err
		}
		return tensor.ArgmaxClasses(scores), nil
	}
	if *tta || cfg.UseTTA {
		flips := inference.FlipSet(cfg.TTAFlips)
		if len(flips) == 0 {
			flips = inference.FullFlipSet(len(cfg.ROISize))
		}
		ens, err := inference.NewEnsembler(full, flips)
		if err != nil {
			fail("build ensembler", err)
		}
		predict = ens.Predict
	}

	ds, err := valDataset(cfg)
	if err != nil {
		fail("build dataset", err)
	}
	dice, err := metrics.NewDiceMetric(metrics.DiceConfig{NumClasses: cfg.NumClasses})
	if err != nil {
		fail("build metric", err)
	}

	for i := 0; i < ds.Len(); i++ {
		sample, err := ds.At(i)
		if err != nil {
			fail("load sample", err)
		}
		pred, err := predict(sample.Image)
		if err != nil {
			fail("inference", err)
		}
		d, err := dice.Update(pred, sample.Label)
		if err != nil {
			fail("score", err)
		}
		if *verbose {
			counts := make([]int, cfg.NumClasses)
			for c := range counts {
				counts[c] = pred.CountClass(int32(c))
			}
			fmt.Printf("sample %d: dice %.4f, predicted voxels per class %v\n", i, d, counts)
		}
	}

	mean, err := dice.Aggregate()
	if err != nil {
		fail("aggregate", err)
	}
	fmt.Printf("mean foreground dice %.4f over %d samples\n", mean, dice.Count())
}

// valDataset regenerates the held-out sphere set the train command
// validates on, so reported scores are comparable across the two tools.
func valDataset(cfg config.RunConfig) (*dataset.SyntheticSpheres, error) {
	spatial := make([]int, len(cfg.ROISize))
	for i, ext := range cfg.ROISize {
		spatial[i] = ext + ext/2
	}
	dcfg := dataset.DefaultSyntheticSpheresConfig()
	dcfg.Channels = cfg.InChannels
	dcfg.NumClasses = cfg.NumClasses
	dcfg.Spatial = spatial
	dcfg.Transform = dataset.NormalizeChannels{}
	dcfg.Samples = 4
	dcfg.Seed = cfg.Seed + 10007
	return dataset.NewSyntheticSpheres(dcfg)
}
