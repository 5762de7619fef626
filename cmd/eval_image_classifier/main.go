// eval_image_classifier evaluates a trained image classification checkpoint
// on a dataset split, printing and saving streaming metrics.
//
// Example:
//
//	eval_image_classifier --dataset_name=cifar10 --dataset_dir=~/work/cifar \
//	    --model_name=cnn --checkpoint_path=~/work/cifar/checkpoint --eval_dir=/tmp/eval
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/TuKJet/models/eval"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagDatasetName = flag.String("dataset_name", "mnist", "The name of the dataset to evaluate.")
	flagSplitName   = flag.String("dataset_split_name", "test", "The name of the train/test/validation split.")
	flagDatasetDir  = flag.String("dataset_dir", "", "Where the dataset files are stored.")
	flagDataPath    = flag.String("data_path", "", "Alias for --dataset_dir. If it mentions \"dog\", the dog-vs-cat validation setup is selected.")

	flagModelName         = flag.String("model_name", "lenet", "The name of the model to evaluate.")
	flagPreprocessingName = flag.String("preprocessing_name", "", "Preprocessing to use. If left empty, the model's default is used.")
	flagEvalImageSize     = flag.Int("eval_image_size", 0, "Image resolution to evaluate at. 0 uses the model's default.")
	flagUseGrayscale      = flag.Bool("use_grayscale", false, "Convert images to grayscale before evaluating.")
	flagLabelsOffset      = flag.Int("labels_offset", 0, "Offset subtracted from the dataset labels, for models trained without a background class.")

	flagBatchSize     = flag.Int("batch_size", 100, "Number of samples per batch.")
	flagMaxNumBatches = flag.Int("max_num_batches", 0, "Maximum number of batches to evaluate. 0 evaluates the whole split.")
	flagNumThreads    = flag.Int("num_preprocessing_threads", 4, "Number of threads used to load and decode images.")

	flagCheckpointPath  = flag.String("checkpoint_path", "", "Checkpoint directory (latest is used) or one specific checkpoint file.")
	flagExcludeScopes   = flag.String("checkpoint_exclude_scopes", "", "Comma-separated variable scopes not restored from the checkpoint.")
	flagIgnoreMissing   = flag.Bool("ignore_missing_vars", false, "Tolerate variables missing from the checkpoint.")
	flagTrainableScopes = flag.String("trainable_scopes", "", "Accepted for command line compatibility with the training driver, has no effect on evaluation.")

	flagMovingAverageDecay = flag.Float64("moving_average_decay", 0, "When > 0, evaluate the moving averages of the model variables instead.")
	flagQuantize           = flag.Bool("quantize", false, "Apply fake quantization to the logits.")

	flagEvalDir    = flag.String("eval_dir", "", "Where the metrics summaries are written.")
	flagOutputPath = flag.String("output_path", "", "Alias for --eval_dir.")
)

func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// The checkpoint provides the trained weights, no pre-trained
		// initialization is wanted.
		"inception_pretrained": false,
		"inception_finetuning": false,

		"cnn_normalization": "",
		"cnn_num_layers":    4,
		"cnn_num_filters":   32,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	must.M(commandline.ParseContextSettings(ctx, *settings))

	driverFlags := &eval.DriverFlags{
		DataPath:    *flagDataPath,
		OutputPath:  *flagOutputPath,
		DatasetDir:  *flagDatasetDir,
		EvalDir:     *flagEvalDir,
		DatasetName: *flagDatasetName,
		SplitName:   *flagSplitName,
		ModelName:   *flagModelName,
	}
	driverFlags.ResolveAliases()

	if driverFlags.DatasetDir == "" {
		klog.Exit("--dataset_dir (or --data_path) is required")
	}
	if *flagCheckpointPath == "" {
		klog.Exit("--checkpoint_path is required")
	}
	if *flagTrainableScopes != "" {
		klog.Warningf("--trainable_scopes=%q has no effect during evaluation", *flagTrainableScopes)
	}
	ctx.SetParam("data_dir", data.ReplaceTildeInDir(driverFlags.DatasetDir))

	cfg := &eval.Config{
		DatasetName:             driverFlags.DatasetName,
		SplitName:               driverFlags.SplitName,
		DatasetDir:              driverFlags.DatasetDir,
		ModelName:               driverFlags.ModelName,
		PreprocessingName:       *flagPreprocessingName,
		EvalImageSize:           *flagEvalImageSize,
		UseGrayscale:            *flagUseGrayscale,
		BatchSize:               *flagBatchSize,
		MaxNumBatches:           *flagMaxNumBatches,
		LabelsOffset:            *flagLabelsOffset,
		NumPreprocessingThreads: *flagNumThreads,
		CheckpointPath:          *flagCheckpointPath,
		IgnoreMissingVars:       *flagIgnoreMissing,
		MovingAverageDecay:      *flagMovingAverageDecay,
		Quantize:                *flagQuantize,
		EvalDir:                 driverFlags.EvalDir,
	}
	if *flagExcludeScopes != "" {
		for _, scope := range strings.Split(*flagExcludeScopes, ",") {
			cfg.CheckpointExcludeScopes = append(cfg.CheckpointExcludeScopes, strings.TrimSpace(scope))
		}
	}

	backend := backends.New()
	result, err := cfg.Run(backend, ctx)
	if err != nil {
		klog.Errorf("Evaluation failed: %+v", err)
		os.Exit(1)
	}

	fmt.Printf("Results on %s/%s at global step %d (%d batches):\n",
		cfg.DatasetName, cfg.SplitName, result.GlobalStep, result.NumBatches)
	for _, m := range result.Metrics {
		fmt.Printf("\t%s (%s): %s\n", m.Name, m.ShortName, m.Pretty)
	}
}
