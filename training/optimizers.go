package training

import (
	"github.com/hkevin01/tumor-detection-segmentation/config"
	"github.com/hkevin01/tumor-detection-segmentation/errdefs"
	"github.com/hkevin01/tumor-detection-segmentation/optimizer"
	"github.com/hkevin01/tumor-detection-segmentation/tensor"
)

// NewOptimizerForRun builds the optimizer a run config names. The config's
// learning rate and weight decay override the optimizer defaults; every
// other hyperparameter keeps its default.
func NewOptimizerForRun(cfg config.RunConfig, params []*tensor.Parameter) (optimizer.Optimizer, error) {
	shapes := make([][]int, len(params))
	for i, p := range params {
		shapes[i] = p.Shape
	}
	lr := float32(cfg.LearningRate)
	wd := float32(cfg.WeightDecay)

	switch cfg.Optimizer {
	case "sgd":
		c := optimizer.DefaultSGDConfig()
		c.LearningRate = lr
		c.WeightDecay = wd
		return optimizer.NewSGDOptimizer(c, shapes)
	case "adam":
		c := optimizer.DefaultAdamConfig()
		c.LearningRate = lr
		c.WeightDecay = wd
		return optimizer.NewAdamOptimizer(c, shapes)
	case "adamw":
		c := optimizer.DefaultAdamWConfig()
		c.LearningRate = lr
		c.WeightDecay = wd
		return optimizer.NewAdamWOptimizer(c, shapes)
	case "rmsprop":
		c := optimizer.DefaultRMSPropConfig()
		c.LearningRate = lr
		c.WeightDecay = wd
		return optimizer.NewRMSPropOptimizer(c, shapes)
	default:
		return nil, errdefs.Configurationf("unknown optimizer %q (want sgd, adam, adamw or rmsprop)", cfg.Optimizer)
	}
}
