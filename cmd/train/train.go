// Command train runs the synthetic-data training demo: bright spheres on a
// noisy background, segmented by the reference voxel classifier. It exists
// so the whole train/validate/checkpoint cycle can be exercised end to end
// without real scan data.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/hkevin01/tumor-detection-segmentation/config"
	"github.com/hkevin01/tumor-detection-segmentation/dataset"
	"github.com/hkevin01/tumor-detection-segmentation/training"
)

func fail(stage string, err error) {
	fmt.Fprintf(os.Stderr, "train: %s: %v\n", stage, err)
	os.Exit(1)
}

func main() {
	parser := argparse.NewParser("train", "Train a volumetric segmentation model on synthetic data")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Run configuration file (YAML or JSON)", Default: ""})
	epochs := parser.Int("e", "epochs", &argparse.Options{Help: "Override max_epochs from the config", Default: 0})
	resume := parser.Flag("r", "resume", &argparse.Options{Help: "Continue from the latest checkpoint in the checkpoint directory", Default: false})
	checkpointDir := parser.String("", "checkpoint-dir", &argparse.Options{Help: "Override checkpoint_dir from the config", Default: ""})
	seed := parser.Int("", "seed", &argparse.Options{Help: "Override the run seed", Default: -1})
	historyFile := parser.String("", "history", &argparse.Options{Help: "Append per-epoch records to this JSONL file", Default: ""})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Show a progress bar per epoch", Default: false})
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
	if *epochs > 0 {
		cfg.MaxEpochs = *epochs
	}
	if *checkpointDir != "" {
		cfg.CheckpointDir = *checkpointDir
	}
	if cfg.CheckpointDir == "" {
		cfg.CheckpointDir = "checkpoints"
	}
	if *seed >= 0 {
		cfg.Seed = int64(*seed)
	}

	trainSet, valSet, err := demoDatasets(cfg)
	if err != nil {
		fail("build dataset", err)
	}
	trainLoader, err := training.NewLoader(trainSet, training.LoaderConfig{
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		Seed:      cfg.Seed,
	})
	if err != nil {
		fail("build train loader", err)
	}
	valLoader, err := training.NewLoader(valSet, training.LoaderConfig{BatchSize: cfg.BatchSize})
	if err != nil {
		fail("build validation loader", err)
	}

	model, err := training.NewVoxelClassifier(cfg.InChannels, cfg.NumClasses, cfg.Seed)
	if err != nil {
		fail("build model", err)
	}
	opt, err := training.NewOptimizerForRun(cfg, model.Parameters())
	if err != nil {
		fail("build optimizer", err)
	}
	sched, err := training.NewSchedulerForRun(cfg.Scheduler, cfg.MaxEpochs)
	if err != nil {
		fail("build scheduler", err)
	}

	trainer, err := training.NewTrainer(model, training.NewCombinedLoss(), opt, sched, cfg, logger)
	if err != nil {
		fail("build trainer", err)
	}
	if *verbose {
		trainer.SetProgressOutput(os.Stdout)
	}
	if *historyFile != "" {
		sink, err := training.NewJSONLSink(*historyFile)
		if err != nil {
			fail("open history file", err)
		}
		defer sink.Close()
		trainer.AttachSink(sink)
	}
	if *resume {
		if err := trainer.Resume(); err != nil {
			fail("resume", err)
		}
	}

	if err := trainer.Fit(context.Background(), trainLoader, valLoader); err != nil {
		fail("fit", err)
	}

	sum, err := trainer.History().Summary()
	if err != nil {
		fail("summarize", err)
	}
	fmt.Printf("run %s: %d epochs (%d validated), mean loss %.4f, best dice %.4f at epoch %d\n",
		trainer.RunID(), sum.Epochs, sum.Validated, sum.MeanLoss, sum.BestMetric, sum.BestEpoch)
}

// demoDatasets generates disjoint training and validation sphere sets. The
// volumes are half again as large as the inference window so validation
// actually slides.
func demoDatasets(cfg config.RunConfig) (*dataset.SyntheticSpheres, *dataset.SyntheticSpheres, error) {
	spatial := make([]int, len(cfg.ROISize))
	for i, ext := range cfg.ROISize {
		spatial[i] = ext + ext/2
	}

	base := dataset.DefaultSyntheticSpheresConfig()
	base.Channels = cfg.InChannels
	base.NumClasses = cfg.NumClasses
	base.Spatial = spatial
	base.Transform = dataset.NormalizeChannels{}

	trainCfg := base
	trainCfg.Samples = 8
	trainCfg.Seed = cfg.Seed
	trainSet, err := dataset.NewSyntheticSpheres(trainCfg)
	if err != nil {
		return nil, nil, err
	}

	valCfg := base
	valCfg.Samples = 4
	valCfg.Seed = cfg.Seed + 10007
	valSet, err := dataset.NewSyntheticSpheres(valCfg)
	if err != nil {
		return nil, nil, err
	}
	return trainSet, valSet, nil
}
