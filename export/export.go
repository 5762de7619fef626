// Package export turns a trained checkpoint into servable artifacts: it
// rebuilds the inference graph, optionally substitutes moving-average
// weights, and writes a training checkpoint copy, a frozen inference-only
// checkpoint and a saved_model bundle with a serving signature.
package export

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/TuKJet/models/ema"
	"github.com/TuKJet/models/eval"
	"github.com/TuKJet/models/nets"
	"github.com/TuKJet/models/preprocessing"
)

// Artifact directories created under Config.OutputDir.
const (
	TrainingCheckpointDir = "model.ckpt"
	FrozenDir             = "frozen_inference_graph"
	SavedModelDir         = "saved_model"
)

// Config selects what to export.
type Config struct {
	ModelName  string
	NumClasses int

	// LabelNames, when known, are recorded in the signature.
	LabelNames []string

	// CheckpointPath is a checkpoint directory (latest is used) or one
	// specific checkpoint file.
	CheckpointPath string

	OutputDir string

	// InputType is ImageTensorInput or EncodedImageInput.
	InputType string

	// ImageSize overrides the network's default input resolution when > 0.
	ImageSize int

	// InputShape optionally fixes the serving input to
	// [batch, height, width, 3]. Only valid with ImageTensorInput.
	InputShape []int

	// UseMovingAverages substitutes every model variable by its moving
	// average before freezing.
	UseMovingAverages bool

	UseGrayscale bool

	// PreprocessingName overrides the network's default recipe when set.
	PreprocessingName string
}

// Validate checks the configuration without touching the checkpoint or
// building any graph.
func (cfg *Config) Validate() error {
	switch cfg.InputType {
	case ImageTensorInput, EncodedImageInput:
	default:
		return errors.Errorf("unknown input type %q, valid values are %s and %s",
			cfg.InputType, ImageTensorInput, EncodedImageInput)
	}
	if len(cfg.InputShape) > 0 {
		if cfg.InputType != ImageTensorInput {
			return errors.Errorf("input shape can only be given with input type %q", ImageTensorInput)
		}
		if len(cfg.InputShape) != 4 {
			return errors.Errorf("input shape must be [batch, height, width, channels], got %v", cfg.InputShape)
		}
		if cfg.InputShape[1] != cfg.InputShape[2] {
			return errors.Errorf("only square inputs are supported, got %v", cfg.InputShape)
		}
		if cfg.InputShape[3] != 3 {
			return errors.Errorf("input shape must have 3 channels, got %v", cfg.InputShape)
		}
	}
	if cfg.NumClasses <= 1 {
		return errors.Errorf("number of classes must be > 1, got %d", cfg.NumClasses)
	}
	return nil
}

// Run exports the configured checkpoint, creating the three artifacts under
// OutputDir.
func (cfg *Config) Run(backend backends.Backend, ctx *context.Context) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	network, err := nets.Get(cfg.ModelName)
	if err != nil {
		return err
	}
	preprocessingName := cfg.PreprocessingName
	if preprocessingName == "" {
		preprocessingName = network.Preprocessing
	}
	preprocess, err := preprocessing.Get(preprocessingName)
	if err != nil {
		return err
	}
	imageSize := cfg.ImageSize
	if imageSize <= 0 {
		imageSize = network.DefaultImageSize
	}
	batchSize := 1
	if len(cfg.InputShape) > 0 {
		batchSize = cfg.InputShape[0]
		imageSize = cfg.InputShape[1]
	}

	handler, err := eval.LoadCheckpoint(ctx, cfg.CheckpointPath)
	if err != nil {
		return err
	}
	loadedNames := eval.LoadedVariableNames(handler)
	klog.Infof("Loaded checkpoint from %q (%d variables)", handler.Dir(), len(loadedNames))

	// Materialize the checkpoint variables by building the serving graph
	// once on a zeroed batch.
	warmUpExec := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		logits := buildServingGraph(ctx, images, network, preprocess, imageSize, cfg.UseGrayscale, cfg.NumClasses)
		if cfg.UseMovingAverages {
			ema.MaterializeGraph(ctx, eval.ModelScope)
		}
		return logits
	})
	dummy := tensors.FromShape(shapes.Make(dtypes.Float32, batchSize, imageSize, imageSize, 3))
	if err := exceptions.TryCatch[error](func() { warmUpExec.Call(dummy) }); err != nil {
		return errors.Wrap(err, "building inference graph from checkpoint")
	}

	if cfg.UseMovingAverages {
		if missing := eval.MissingMovingAverages(ctx, loadedNames); len(missing) > 0 {
			return errors.Errorf("%d moving averages not found in checkpoint %q: %v",
				len(missing), cfg.CheckpointPath, missing)
		}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0777); err != nil {
		return errors.Wrapf(err, "creating output directory %q", cfg.OutputDir)
	}

	// Stage 1: substitute moving averages into the live variables, so every
	// artifact below holds the substituted weights.
	if cfg.UseMovingAverages {
		count, err := ema.Restore(ctx)
		if err != nil {
			return err
		}
		klog.Infof("Substituted %d variables by their moving averages", count)
	}

	// Stage 2: the training checkpoint copy, moving averages still present
	// as separate shadow variables.
	if err := saveCheckpoint(ctx, path.Join(cfg.OutputDir, TrainingCheckpointDir)); err != nil {
		return err
	}
	if cfg.UseMovingAverages {
		if err := ema.Strip(ctx); err != nil {
			return err
		}
	}

	// Stage 3: the frozen inference-only checkpoint.
	if err := saveCheckpoint(ctx, path.Join(cfg.OutputDir, FrozenDir)); err != nil {
		return err
	}

	// Stage 4: the servable bundle, frozen variables plus signature.
	bundleDir := path.Join(cfg.OutputDir, SavedModelDir)
	if err := saveCheckpoint(ctx, bundleDir); err != nil {
		return err
	}
	sig := cfg.signature(preprocessingName, imageSize, batchSize)
	if err := WriteSignature(path.Join(bundleDir, SignatureFile), sig); err != nil {
		return err
	}
	klog.Infof("Exported %s bundle to %q", cfg.ModelName, bundleDir)
	return nil
}

// buildServingGraph is the inference path baked into exported bundles:
// preprocessing followed by the network's forward pass.
func buildServingGraph(ctx *context.Context, images *Node, network *nets.Network,
	preprocess preprocessing.Fn, imageSize int, useGrayscale bool, numClasses int) *Node {
	ctx = ctx.In("model")
	images = preprocess(images, imageSize, imageSize, preprocessing.Options{UseGrayscale: useGrayscale})
	return network.Build(ctx, images, numClasses)
}

func (cfg *Config) signature(preprocessingName string, imageSize, batchSize int) *Signature {
	sig := &Signature{
		Method:        PredictMethod,
		Model:         cfg.ModelName,
		InputType:     cfg.InputType,
		ImageSize:     imageSize,
		Preprocessing: preprocessingName,
		UseGrayscale:  cfg.UseGrayscale,
		Outputs: map[string]TensorSpec{
			"classes": {DType: "int32", Shape: []int{-1}},
			"logits":  {DType: "float32", Shape: []int{-1, cfg.NumClasses}},
		},
		LabelNames: cfg.LabelNames,
	}
	switch cfg.InputType {
	case ImageTensorInput:
		inputBatch := -1
		if len(cfg.InputShape) > 0 {
			inputBatch = batchSize
		}
		sig.Inputs = map[string]TensorSpec{
			"inputs": {DType: "float32", Shape: []int{inputBatch, imageSize, imageSize, 3}},
		}
	case EncodedImageInput:
		sig.Inputs = map[string]TensorSpec{
			"inputs": {DType: "bytes", Shape: []int{-1}},
		}
	}
	return sig
}

// saveCheckpoint writes all of the context's variables and parameters to a
// fresh checkpoint directory.
func saveCheckpoint(ctx *context.Context, dir string) error {
	handler, err := checkpoints.Build(ctx).Dir(dir).Keep(1).Done()
	if err != nil {
		return errors.Wrapf(err, "preparing checkpoint directory %q", dir)
	}
	if err := handler.Save(); err != nil {
		return errors.Wrapf(err, "saving checkpoint to %q", dir)
	}
	klog.Infof("Saved %s to %q", humanize.Bytes(uint64(dirSize(dir))), dir)
	return nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
