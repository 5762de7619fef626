package nets

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/xla"
)

func TestGet(t *testing.T) {
	assert.Equal(t, []string{"cnn", "inception_v3", "lenet"}, Names())

	network, err := Get("lenet")
	require.NoError(t, err)
	assert.Equal(t, "lenet", network.Name)
	assert.Equal(t, 28, network.DefaultImageSize)
	assert.Equal(t, "lenet", network.Preprocessing)
	assert.NotNil(t, network.Build)

	network, err = Get("inception_v3")
	require.NoError(t, err)
	assert.Equal(t, 299, network.DefaultImageSize)
	assert.Equal(t, 75, network.MinImageSize)
	assert.Equal(t, "inception", network.Preprocessing)

	_, err = Get("resnet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model")
}

// tensorOfZeros builds a zeroed float32 image batch.
func tensorOfZeros(dims ...int) *tensors.Tensor {
	return tensors.FromShape(shapes.Make(dtypes.Float32, dims...))
}

func TestLenetLogitsShape(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	network, err := Get("lenet")
	require.NoError(t, err)
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		return network.Build(ctx.In("model"), images, 10)
	})
	results := exec.Call(tensorOfZeros(3, 28, 28, 1))
	require.Len(t, results, 1)
	assert.Equal(t, []int{3, 10}, results[0].Shape().Dimensions)
	assert.Equal(t, dtypes.Float32, results[0].DType())
}

func TestCNNLogitsShape(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, normalization := range []string{"", "layer", "batch"} {
		ctx := context.New()
		ctx.SetParams(map[string]any{
			"cnn_num_layers":    2,
			"cnn_num_filters":   8,
			"cnn_normalization": normalization,
		})
		network, err := Get("cnn")
		require.NoError(t, err)
		exec := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
			return network.Build(ctx.In("model"), images, 10)
		})
		results := exec.Call(tensorOfZeros(2, 32, 32, 3))
		require.Len(t, results, 1)
		assert.Equal(t, []int{2, 10}, results[0].Shape().Dimensions)
	}
}

func TestInceptionV3LogitsShape(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping inception_v3 graph build in short mode")
	}
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	// No pre-trained weights: the trunk initializes randomly.
	ctx.SetParam("inception_pretrained", false)
	network, err := Get("inception_v3")
	require.NoError(t, err)
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) *Node {
		return network.Build(ctx.In("model"), images, 2)
	})
	results := exec.Call(tensorOfZeros(1, 75, 75, 3))
	require.Len(t, results, 1)
	assert.Equal(t, []int{1, 2}, results[0].Shape().Dimensions)
}
