package nets

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
)

// lenetGraph is a small LeNet-style network: two convolution+pooling stages
// followed by a fully connected readout. Designed for 28x28 inputs (MNIST)
// but works on any resolution >= MinImageSize.
func lenetGraph(ctx *context.Context, images *Node, numClasses int) *Node {
	batchSize := images.Shape().Dimensions[0]

	x := layers.Convolution(ctx.In("conv_0"), images).Filters(32).KernelSize(5).PadSame().Done()
	x = activations.Relu(x)
	x = MaxPool(x).Window(2).Strides(2).PadSame().Done()

	x = layers.Convolution(ctx.In("conv_1"), x).Filters(64).KernelSize(5).PadSame().Done()
	x = activations.Relu(x)
	x = MaxPool(x).Window(2).Strides(2).PadSame().Done()

	x = Reshape(x, batchSize, -1)
	x = layers.Dense(ctx.In("hidden"), x, true, 1024)
	x = activations.Relu(x)
	return layers.Dense(ctx.In("readout"), x, true, numClasses)
}
