// train_image_classifier trains one of the supported image classification
// models on one of the supported datasets, periodically checkpointing and
// optionally maintaining moving averages of the variables for later
// evaluation or export.
//
// Example:
//
//	train_image_classifier --dataset_name=cifar10 --dataset_dir=~/work/cifar \
//	    --model_name=cnn --checkpoint_path=~/work/cifar/checkpoint \
//	    --set="train_steps=3000;learning_rate=0.001"
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ml/train/losses"
	gomlxmetrics "github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/TuKJet/models/datasets"
	"github.com/TuKJet/models/ema"
	"github.com/TuKJet/models/metrics"
	"github.com/TuKJet/models/nets"
	"github.com/TuKJet/models/nets/inceptionv3"
	"github.com/TuKJet/models/preprocessing"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagDatasetName = flag.String("dataset_name", "mnist", "The name of the dataset to train on.")
	flagDatasetDir  = flag.String("dataset_dir", "", "Where the dataset files are stored or downloaded to.")

	flagModelName         = flag.String("model_name", "lenet", "The name of the model to train.")
	flagPreprocessingName = flag.String("preprocessing_name", "", "Preprocessing to use. If left empty, the model's default is used.")
	flagTrainImageSize    = flag.Int("train_image_size", 0, "Image resolution to train at. 0 uses the model's default.")
	flagUseGrayscale      = flag.Bool("use_grayscale", false, "Convert images to grayscale before training.")
	flagLabelsOffset      = flag.Int("labels_offset", 0, "Offset subtracted from the dataset labels.")

	flagNumThreads = flag.Int("num_preprocessing_threads", 4, "Number of threads used to load and decode images.")

	flagCheckpointPath = flag.String("checkpoint_path", "", "Directory to save checkpoints to. Training resumes from it when it already has one.")
	flagCheckpointKeep = flag.Int("checkpoint_keep", 3, "Number of checkpoints to keep.")
)

func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		"batch_size":      32,
		"eval_batch_size": 100,
		"train_steps":     2000,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-3,

		// Moving averages of the model variables. 0 disables them.
		"moving_average_decay": 0.0,

		"cnn_normalization": "",
		"cnn_num_layers":    4,
		"cnn_num_filters":   32,

		"inception_pretrained": true,
		"inception_finetuning": false,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	must.M(commandline.ParseContextSettings(ctx, *settings))

	if *flagDatasetDir == "" {
		klog.Exit("--dataset_dir is required")
	}
	*flagDatasetDir = data.ReplaceTildeInDir(*flagDatasetDir)
	if !data.FileExists(*flagDatasetDir) {
		must.M(os.MkdirAll(*flagDatasetDir, 0777))
	}
	ctx.SetParam("data_dir", *flagDatasetDir)

	trainModel(ctx)
}

func trainModel(ctx *context.Context) {
	trainDesc := must.M1(datasets.Get(*flagDatasetName, "train", *flagDatasetDir))
	testSplit := "test"
	if *flagDatasetName == "dog-vs-cat" {
		testSplit = "validation"
	}
	testDesc := must.M1(datasets.Get(*flagDatasetName, testSplit, *flagDatasetDir))
	must.M(trainDesc.Download())

	network := must.M1(nets.Get(*flagModelName))
	if network.Name == "inception_v3" && context.GetParamOr(ctx, "inception_pretrained", true) {
		must.M(inceptionv3.DownloadAndUnpackWeights(*flagDatasetDir))
	}
	preprocessingName := *flagPreprocessingName
	if preprocessingName == "" {
		preprocessingName = network.Preprocessing
	}
	preprocess := must.M1(preprocessing.Get(preprocessingName))
	imageSize := *flagTrainImageSize
	if imageSize <= 0 {
		imageSize = network.DefaultImageSize
	}
	numClasses := trainDesc.NumClasses - *flagLabelsOffset
	preprocessOpts := preprocessing.Options{UseGrayscale: *flagUseGrayscale}

	backend := backends.New()

	batchSize := context.GetParamOr(ctx, "batch_size", 0)
	if batchSize <= 0 {
		Panicf("batch size must be > 0 (maybe it was not set?): %d", batchSize)
	}
	evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", 0)
	if evalBatchSize <= 0 {
		evalBatchSize = batchSize
	}

	trainDS := datasets.Parallelize(
		must.M1(trainDesc.NewDataset(batchSize)), *flagNumThreads)
	trainDS = datasets.Loop(trainDS)
	evalOnTestDS := datasets.Parallelize(
		must.M1(testDesc.NewDataset(evalBatchSize)), *flagNumThreads)

	// Read hyperparameters that must not be overwritten by a loaded
	// checkpoint.
	numTrainSteps := context.GetParamOr(ctx, "train_steps", 0)

	var checkpoint *checkpoints.Handler
	var globalStep int
	if *flagCheckpointPath != "" {
		checkpoint = must.M1(checkpoints.Build(ctx).
			Dir(data.ReplaceTildeInDir(*flagCheckpointPath)).
			Keep(*flagCheckpointKeep).Done())
		fmt.Printf("Checkpointing model to %q\n", checkpoint.Dir())
		globalStep = int(optimizers.GetGlobalStep(ctx))
		if globalStep != 0 {
			fmt.Printf("Restarting training from global_step=%d\n", globalStep)
			ctx = ctx.Reuse()
		}
	}

	movingAverageDecay := context.GetParamOr(ctx, "moving_average_decay", 0.0)
	modelFn := func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		g := inputs[0].Graph()
		images := preprocess(inputs[0], imageSize, imageSize, preprocessOpts)
		logits := network.Build(ctx.In("model"), images, numClasses)
		if movingAverageDecay > 0 && ctx.IsTraining(g) {
			ema.UpdateGraph(ctx, g, "/model", movingAverageDecay)
		}
		return []*Node{logits}
	}

	movingAccuracy := gomlxmetrics.NewMovingAverageSparseCategoricalAccuracy(
		"Moving Average Accuracy", "~acc", 0.01)
	trainer := train.NewTrainer(backend, ctx, modelFn,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		[]gomlxmetrics.Interface{movingAccuracy},
		metrics.ForDataset(testDesc, *flagLabelsOffset))

	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)

	if checkpoint != nil {
		train.PeriodicCallback(loop, time.Minute, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	if globalStep < numTrainSteps {
		_ = must.M1(loop.RunSteps(trainDS, numTrainSteps-globalStep))
		fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
			loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		if checkpoint != nil {
			must.M(checkpoint.Save())
		}
	} else {
		fmt.Printf("\t - target train_steps=%d already reached. To train further, set a number additional "+
			"to current global step.\n", numTrainSteps)
	}

	must.M(commandline.ReportEval(trainer, evalOnTestDS))
}
