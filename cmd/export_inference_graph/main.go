// export_inference_graph turns a trained checkpoint into servable artifacts:
// a training checkpoint copy, a frozen inference-only checkpoint and a
// saved_model bundle with a serving signature.
//
// Example:
//
//	export_inference_graph --dataset_name=cifar10 --model_name=cnn \
//	    --trained_checkpoint=~/work/cifar/checkpoint --output_dir=/tmp/export \
//	    --input_type=image_tensor
package main

import (
	"flag"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/TuKJet/models/datasets"
	"github.com/TuKJet/models/export"

	_ "github.com/gomlx/gomlx/backends/xla"
)

var (
	flagDatasetName = flag.String("dataset_name", "mnist", "Dataset the model was trained on, to look up the number of classes and label names.")
	flagDatasetDir  = flag.String("dataset_dir", "", "Where the dataset files are stored. Only needed for datasets without a static class list.")

	flagModelName         = flag.String("model_name", "lenet", "The name of the model to export.")
	flagPreprocessingName = flag.String("preprocessing_name", "", "Preprocessing baked into the serving graph. If left empty, the model's default is used.")
	flagImageSize         = flag.Int("image_size", 0, "Serving input resolution. 0 uses the model's default.")
	flagInputShape        = flag.String("input_shape", "", "Optional fixed input shape \"batch,height,width,channels\". Only valid with --input_type=image_tensor.")
	flagInputType         = flag.String("input_type", export.ImageTensorInput, "Serving input type: image_tensor or encoded_image_string_tensor.")
	flagUseGrayscale      = flag.Bool("use_grayscale", false, "Convert images to grayscale in the serving graph.")
	flagLabelsOffset      = flag.Int("labels_offset", 0, "Offset subtracted from the dataset labels during training.")

	flagTrainedCheckpoint = flag.String("trained_checkpoint", "", "Checkpoint directory (latest is used) or one specific checkpoint file.")
	flagCheckpointPath    = flag.String("checkpoint_path", "", "Alias for --trained_checkpoint.")
	flagOutputDir         = flag.String("output_dir", "", "Where the exported artifacts are written.")

	flagNumClasses = flag.Int("num_classes", 0, "Number of output classes. 0 derives it from --dataset_name.")
	flagLabels     = flag.String("labels", "", "Comma-separated class label names for the serving signature. Defaults to the dataset's labels.")

	flagUseMovingAverages = flag.Bool("use_moving_averages", false, "Substitute variables by their moving averages before freezing.")
)

func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		"inception_pretrained": false,
		"inception_finetuning": false,

		"cnn_normalization": "",
		"cnn_num_layers":    4,
		"cnn_num_filters":   32,
	})
	return ctx
}

func parseInputShape(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, part := range parts {
		shape[i] = must.M1(strconv.Atoi(strings.TrimSpace(part)))
	}
	return shape
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	must.M(commandline.ParseContextSettings(ctx, *settings))

	checkpointPath := *flagTrainedCheckpoint
	if checkpointPath == "" {
		checkpointPath = *flagCheckpointPath
	}
	if checkpointPath == "" {
		klog.Exit("--trained_checkpoint (or --checkpoint_path) is required")
	}
	if *flagOutputDir == "" {
		klog.Exit("--output_dir is required")
	}

	numClasses := *flagNumClasses
	var labelNames []string
	if *flagLabels != "" {
		for _, label := range strings.Split(*flagLabels, ",") {
			labelNames = append(labelNames, strings.TrimSpace(label))
		}
	}
	if numClasses == 0 || labelNames == nil {
		desc, err := datasets.Get(*flagDatasetName, "train", *flagDatasetDir)
		if err != nil {
			klog.Exitf("%+v", err)
		}
		if numClasses == 0 {
			numClasses = desc.NumClasses - *flagLabelsOffset
		}
		if labelNames == nil {
			labelNames = desc.LabelNames
		}
	}

	cfg := &export.Config{
		ModelName:         *flagModelName,
		NumClasses:        numClasses,
		LabelNames:        labelNames,
		CheckpointPath:    checkpointPath,
		OutputDir:         *flagOutputDir,
		InputType:         *flagInputType,
		ImageSize:         *flagImageSize,
		InputShape:        parseInputShape(*flagInputShape),
		UseMovingAverages: *flagUseMovingAverages,
		UseGrayscale:      *flagUseGrayscale,
		PreprocessingName: *flagPreprocessingName,
	}
	// Surface configuration mistakes before touching the checkpoint.
	must.M(cfg.Validate())

	backend := backends.New()
	if err := cfg.Run(backend, ctx); err != nil {
		klog.Exitf("Export failed: %+v", err)
	}
}
