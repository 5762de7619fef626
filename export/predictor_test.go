package export

import (
	"os"
	"path"
	"testing"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TuKJet/models/ema"
	"github.com/TuKJet/models/eval"
	"github.com/TuKJet/models/nets"
	"github.com/TuKJet/models/preprocessing"

	_ "github.com/gomlx/gomlx/backends/xla"
)

// lenetServingContext builds the lenet serving graph on a fresh context,
// leaving its (randomly initialized) variables standing in for trained ones.
func lenetServingContext(t *testing.T, backend backends.Backend, imageSize, numClasses int) *context.Context {
	ctx := context.New()
	network, err := nets.Get("lenet")
	require.NoError(t, err)
	preprocess, err := preprocessing.Get(network.Preprocessing)
	require.NoError(t, err)

	exec := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		return buildServingGraph(ctx, images, network, preprocess, imageSize, false, numClasses)
	})
	exec.Call(tensors.FromShape(shapes.Make(dtypes.Float32, 1, imageSize, imageSize, 3)))
	return ctx
}

// saveContextCheckpoint saves all of the context's variables to a fresh
// checkpoint directory.
func saveContextCheckpoint(t *testing.T, ctx *context.Context) string {
	dir := t.TempDir()
	handler, err := checkpoints.Build(ctx).Dir(dir).Keep(1).Done()
	require.NoError(t, err)
	require.NoError(t, handler.Save())
	return dir
}

func trainedLenetCheckpoint(t *testing.T, backend backends.Backend, imageSize, numClasses int) string {
	return saveContextCheckpoint(t, lenetServingContext(t, backend, imageSize, numClasses))
}

func TestExportAndPredict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping export round trip in short mode")
	}
	backend := graphtest.BuildTestBackend()
	const imageSize, numClasses = 16, 2
	checkpointDir := trainedLenetCheckpoint(t, backend, imageSize, numClasses)

	outputDir := t.TempDir()
	cfg := &Config{
		ModelName:      "lenet",
		NumClasses:     numClasses,
		LabelNames:     []string{"cat", "dog"},
		CheckpointPath: checkpointDir,
		OutputDir:      outputDir,
		InputType:      ImageTensorInput,
		ImageSize:      imageSize,
	}
	require.NoError(t, cfg.Run(backend, context.New()))

	for _, artifact := range []string{TrainingCheckpointDir, FrozenDir, SavedModelDir} {
		info, err := os.Stat(path.Join(outputDir, artifact))
		require.NoErrorf(t, err, "artifact %q should have been written", artifact)
		assert.True(t, info.IsDir())
	}

	predictor, err := NewPredictor(backend, path.Join(outputDir, SavedModelDir))
	require.NoError(t, err)
	sig := predictor.Signature()
	assert.Equal(t, "lenet", sig.Model)
	assert.Equal(t, imageSize, sig.ImageSize)
	assert.Equal(t, "cat", predictor.LabelName(0))
	assert.Equal(t, "unknown", predictor.LabelName(5))

	images := tensors.FromShape(shapes.Make(dtypes.Float32, 2, imageSize, imageSize, 3))
	classes, logits, err := predictor.Predict(images)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, classes.Shape().Dimensions)
	assert.Equal(t, dtypes.Int32, classes.DType())
	assert.Equal(t, []int{2, numClasses}, logits.Shape().Dimensions)
}

func TestExportSubstitutesMovingAverages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping export round trip in short mode")
	}
	backend := graphtest.BuildTestBackend()
	const imageSize, numClasses = 16, 2
	ctx := lenetServingContext(t, backend, imageSize, numClasses)

	// Shadows start as copies of the live values; diverge the live readout
	// bias afterwards so the substitution is observable.
	ema.MaterializeGraph(ctx, eval.ModelScope)
	bias := ctx.InspectVariable("/model/readout", "biases")
	require.NotNil(t, bias)
	shadow := ctx.InspectVariable(ema.Scope+"/model/readout", "biases")
	require.NotNil(t, shadow)
	shadowValue := shadow.Value().Value()
	bias.SetValue(tensors.FromValue([]float32{5, 5}))
	checkpointDir := saveContextCheckpoint(t, ctx)

	outputDir := t.TempDir()
	cfg := &Config{
		ModelName:         "lenet",
		NumClasses:        numClasses,
		CheckpointPath:    checkpointDir,
		OutputDir:         outputDir,
		InputType:         ImageTensorInput,
		ImageSize:         imageSize,
		UseMovingAverages: true,
	}
	require.NoError(t, cfg.Run(backend, context.New()))

	// The training copy holds the substituted bias, shadow scope included.
	trainingVars := loadCheckpointVariables(t, path.Join(outputDir, TrainingCheckpointDir))
	got, found := trainingVars[bias.ParameterName()]
	require.True(t, found)
	assert.Equal(t, shadowValue, got.Value())
	_, found = trainingVars[shadow.ParameterName()]
	assert.True(t, found)

	// The frozen checkpoint holds the same bias with the shadows stripped.
	frozenVars := loadCheckpointVariables(t, path.Join(outputDir, FrozenDir))
	got, found = frozenVars[bias.ParameterName()]
	require.True(t, found)
	assert.Equal(t, shadowValue, got.Value())
	_, found = frozenVars[shadow.ParameterName()]
	assert.False(t, found)
}

func TestExportRejectsMissingMovingAverages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping export round trip in short mode")
	}
	backend := graphtest.BuildTestBackend()
	const imageSize, numClasses = 16, 2
	checkpointDir := trainedLenetCheckpoint(t, backend, imageSize, numClasses)

	cfg := &Config{
		ModelName:         "lenet",
		NumClasses:        numClasses,
		CheckpointPath:    checkpointDir,
		OutputDir:         t.TempDir(),
		InputType:         ImageTensorInput,
		ImageSize:         imageSize,
		UseMovingAverages: true,
	}
	err := cfg.Run(backend, context.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moving averages not found")
}

// loadCheckpointVariables reads the variables a checkpoint directory holds,
// without materializing them into a context.
func loadCheckpointVariables(t *testing.T, dir string) map[string]*tensors.Tensor {
	handler, err := checkpoints.Build(context.New()).Dir(dir).Done()
	require.NoError(t, err)
	return handler.LoadedVariables()
}
