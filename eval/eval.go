// Package eval runs a model checkpoint against a dataset split and reports
// streaming metrics: it assembles the dataset, preprocessing and network
// from their factories, restores the checkpoint (optionally substituting
// moving-average weights) and evaluates batch by batch.
package eval

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/TuKJet/models/datasets"
	"github.com/TuKJet/models/ema"
	"github.com/TuKJet/models/metrics"
	"github.com/TuKJet/models/nets"
	"github.com/TuKJet/models/preprocessing"
)

// ModelScope is the context scope under which the drivers build the model.
const ModelScope = "/model"

// Config selects what to evaluate and how.
type Config struct {
	DatasetName string
	SplitName   string
	DatasetDir  string

	ModelName string

	// PreprocessingName overrides the network's default recipe when set.
	PreprocessingName string

	// EvalImageSize overrides the network's default input resolution when > 0.
	EvalImageSize int

	UseGrayscale bool

	BatchSize int

	// MaxNumBatches caps the number of evaluated batches. 0 evaluates the
	// whole split.
	MaxNumBatches int

	// LabelsOffset is subtracted from dataset labels, for networks trained
	// without a background class.
	LabelsOffset int

	// NumPreprocessingThreads parallelizes dataset loading and decoding.
	NumPreprocessingThreads int

	// CheckpointPath is a checkpoint directory (latest is used) or one
	// specific checkpoint file.
	CheckpointPath string

	// CheckpointExcludeScopes lists variable scopes not restored from the
	// checkpoint, left at their initializer values.
	CheckpointExcludeScopes []string

	// IgnoreMissingVars tolerates variables absent from the checkpoint.
	IgnoreMissingVars bool

	// MovingAverageDecay, when > 0, substitutes every model variable by its
	// moving average before evaluating.
	MovingAverageDecay float64

	// Quantize applies fake quantization to the logits, approximating the
	// effect of quantized inference.
	Quantize bool

	// EvalDir, when set, receives the metrics summaries.
	EvalDir string
}

// MetricValue is one evaluated metric.
type MetricValue struct {
	Name      string  `json:"metric"`
	ShortName string  `json:"short"`
	Value     float64 `json:"value"`
	Pretty    string  `json:"-"`
}

// Result of one evaluation run.
type Result struct {
	GlobalStep int64
	NumBatches int
	Metrics    []MetricValue
}

// NumBatches returns how many batches one evaluation covers: the explicit
// cap when given, otherwise enough batches for every sample of the split.
func NumBatches(maxNumBatches, numSamples, batchSize int) int {
	if maxNumBatches > 0 {
		return maxNumBatches
	}
	return (numSamples + batchSize - 1) / batchSize
}

// Run evaluates the configured checkpoint and returns the metric values. The
// context carries hyperparameters (and receives the checkpoint's ones); use
// a fresh context per run.
func (cfg *Config) Run(backend backends.Backend, ctx *context.Context) (*Result, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be > 0, got %d", cfg.BatchSize)
	}
	desc, err := datasets.Get(cfg.DatasetName, cfg.SplitName, cfg.DatasetDir)
	if err != nil {
		return nil, err
	}
	network, err := nets.Get(cfg.ModelName)
	if err != nil {
		return nil, err
	}
	preprocessingName := cfg.PreprocessingName
	if preprocessingName == "" {
		preprocessingName = network.Preprocessing
	}
	preprocess, err := preprocessing.Get(preprocessingName)
	if err != nil {
		return nil, err
	}
	imageSize := cfg.EvalImageSize
	if imageSize <= 0 {
		imageSize = network.DefaultImageSize
	}
	numClasses := desc.NumClasses - cfg.LabelsOffset
	preprocessOpts := preprocessing.Options{UseGrayscale: cfg.UseGrayscale}

	modelFn := func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		ctx = ctx.In("model")
		images := preprocess(inputs[0], imageSize, imageSize, preprocessOpts)
		logits := network.Build(ctx, images, numClasses)
		if cfg.Quantize {
			logits = preprocessing.FakeQuantize(logits, 256)
		}
		return []*Node{logits}
	}

	// Restore the checkpoint. Values are materialized into variables during
	// the first graph build, so the warm-up below runs before any check or
	// substitution that needs them host-side.
	handler, err := LoadCheckpoint(ctx, cfg.CheckpointPath)
	if err != nil {
		return nil, err
	}
	loadedNames := snapshotLoadedVariables(handler)
	klog.Infof("Loaded checkpoint from %q (%d variables)", handler.Dir(), len(loadedNames))

	excludeScopes := make([]string, 0, len(cfg.CheckpointExcludeScopes))
	for _, scope := range cfg.CheckpointExcludeScopes {
		excludeScopes = append(excludeScopes, normalizeScope(scope))
	}

	if err := cfg.warmUp(backend, ctx, desc, modelFn); err != nil {
		return nil, err
	}

	if !cfg.IgnoreMissingVars {
		missing := missingVariables(ctx, loadedNames, ModelScope, excludeScopes)
		if len(missing) > 0 {
			return nil, errors.Errorf("%d variables not found in checkpoint %q (pass ignore_missing_vars to proceed): %v",
				len(missing), cfg.CheckpointPath, missing)
		}
		if cfg.MovingAverageDecay > 0 {
			missing = MissingMovingAverages(ctx, loadedNames)
			if len(missing) > 0 {
				return nil, errors.Errorf("%d moving averages not found in checkpoint %q (pass ignore_missing_vars to substitute from the live values): %v",
					len(missing), cfg.CheckpointPath, missing)
			}
		}
	}

	// Excluded scopes are dropped after the warm-up materialized them; the
	// evaluation build recreates them from their initializers, and by then
	// the handler no longer holds their checkpoint values.
	for _, scope := range excludeScopes {
		if err := ctx.InAbsPath(scope).DeleteVariablesInScope(); err != nil {
			return nil, errors.Wrapf(err, "excluding scope %q from checkpoint", scope)
		}
	}

	if cfg.MovingAverageDecay > 0 {
		count, err := ema.Restore(ctx)
		if err != nil {
			return nil, err
		}
		klog.Infof("Substituted %d variables by their moving averages", count)
	}

	numBatches := NumBatches(cfg.MaxNumBatches, desc.NumSamples, cfg.BatchSize)
	ds, err := desc.NewDataset(cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	ds = datasets.Parallelize(ds, cfg.NumPreprocessingThreads)
	ds = datasets.Take(ds, numBatches)
	ds = newProgressDataset(ds, numBatches)

	evalMetrics := metrics.ForDataset(desc, cfg.LabelsOffset)
	trainer := train.NewTrainer(backend, ctx.Checked(false), modelFn,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		nil, // trainMetrics
		evalMetrics)

	klog.Infof("Evaluating %s/%s with %s: %d batches of %d",
		desc.Name, desc.Split, network.Name, numBatches, cfg.BatchSize)
	metricsValues, err := trainer.Eval(ds)
	if err != nil {
		return nil, errors.Wrap(err, "evaluating dataset")
	}

	result := &Result{
		GlobalStep: optimizers.GetGlobalStep(ctx),
		NumBatches: numBatches,
	}
	for i, metric := range trainer.EvalMetrics() {
		result.Metrics = append(result.Metrics, MetricValue{
			Name:      metric.Name(),
			ShortName: metric.ShortName(),
			Value:     metricValueToFloat(metricsValues[i]),
			Pretty:    metric.PrettyPrint(metricsValues[i]),
		})
	}

	if cfg.EvalDir != "" {
		if err := WriteSummaries(cfg.EvalDir, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// warmUp builds the model graph once on a zeroed batch, so every checkpoint
// variable (including moving-average shadows) exists host-side.
func (cfg *Config) warmUp(backend backends.Backend, ctx *context.Context,
	desc *datasets.Descriptor, modelFn train.ModelFn) error {
	warmUpExec := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		logits := modelFn(ctx, nil, []*Node{images})[0]
		if cfg.MovingAverageDecay > 0 {
			ema.MaterializeGraph(ctx, ModelScope)
		}
		return logits
	})
	dummy := tensors.FromShape(shapes.Make(dtypes.Float32,
		cfg.BatchSize, desc.ImageSize, desc.ImageSize, desc.NumChannels))
	return exceptions.TryCatch[error](func() { warmUpExec.Call(dummy) })
}

func metricValueToFloat(value *tensors.Tensor) float64 {
	switch value.DType() {
	case dtypes.Float64:
		return tensors.ToScalar[float64](value)
	default:
		return float64(tensors.ToScalar[float32](value))
	}
}
