package nets

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/fnn"
)

// cnnGraph is a stack of convolution blocks with residual connections,
// followed by an FNN readout. The depth and width are hyperparameters read
// from the context:
//
//	"cnn_num_layers":    number of convolution blocks (default 4).
//	"cnn_num_filters":   filters per convolution (default 32).
//	"cnn_normalization": "batch", "layer" or "" (none).
func cnnGraph(ctx *context.Context, images *Node, numClasses int) *Node {
	batchSize := images.Shape().Dimensions[0]
	x := images
	numFilters := context.GetParamOr(ctx, "cnn_num_filters", 32)
	numLayers := context.GetParamOr(ctx, "cnn_num_layers", 4)
	for ii := range numLayers {
		ctx := ctx.Inf("conv_layer_%d", ii)
		residual := x
		x = layers.Convolution(ctx, x).Filters(numFilters).KernelSize(3).PadSame().Done()
		x = normalizeImage(ctx, x)
		x = activations.ApplyFromContext(ctx, x)
		x = MaxPool(x).Window(2).Strides(2).PadSame().Done()
		if x.Shape().Equal(residual.Shape()) {
			x = Add(residual, x)
		}
	}
	x = Reshape(x, batchSize, -1)
	return fnn.New(ctx, x, numClasses).Done()
}

// normalizeImage applies the normalization selected in the context to a
// [batch, height, width, depth] node.
func normalizeImage(ctx *context.Context, x *Node) *Node {
	x.AssertRank(4)
	normalizationType := context.GetParamOr(ctx, "cnn_normalization", "")
	switch normalizationType {
	case "layer":
		return layers.LayerNormalization(ctx, x, 1, 2).Done()
	case "batch":
		return layers.BatchNormalization(ctx, x, -1).Epsilon(1e-03).Done()
	case "none", "":
		return x
	}
	Panicf("invalid normalization type %q (hyperparameter %q), valid values are batch, layer, none",
		normalizationType, "cnn_normalization")
	return nil
}
