// Package inceptionv3 builds the InceptionV3 image classification network,
// optionally initialized with the Keras pre-trained ImageNet weights.
//
// The graph follows the Keras definition in
// https://github.com/keras-team/keras/blob/v2.12.0/keras/applications/inception_v3.py
// and expects channels-last images scaled to [-1, 1], at least 75x75 pixels.
//
// Call DownloadAndUnpackWeights before building with PreTrained.
package inceptionv3

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
)

// MinimumImageSize the graph supports: below this the spatial dimensions
// collapse before the last mixed block.
const MinimumImageSize = 75

// Pooling selects how the final [batch, h, w, 2048] feature map is reduced.
type Pooling int

const (
	// NoPooling returns the feature map unreduced.
	NoPooling Pooling = iota

	// MaxPooling reduces the spatial dimensions with a max, to [batch, 2048].
	MaxPooling

	// MeanPooling reduces the spatial dimensions with a mean, to [batch, 2048].
	MeanPooling
)

// Config for building the graph. Create it with BuildGraph, set options and
// call Done.
type Config struct {
	ctx            *context.Context
	images         *Node
	preTrainedPath string
	pooling        Pooling
	trainable      bool
}

// BuildGraph returns a Config to build an InceptionV3 graph for the given
// image batch. Set the options and call Done to get the output Node.
//
// Variables are created (or reused) in the given context's current scope, so
// two calls with the same scope share weights.
func BuildGraph(ctx *context.Context, images *Node) *Config {
	return &Config{ctx: ctx, images: images}
}

// PreTrained sets the directory where DownloadAndUnpackWeights unpacked the
// Keras weights, and initializes all convolution and batch normalization
// variables from them. An empty path keeps random initialization.
func (c *Config) PreTrained(baseDir string) *Config {
	if baseDir != "" {
		baseDir = data.ReplaceTildeInDir(baseDir)
	}
	c.preTrainedPath = baseDir
	return c
}

// SetPooling configures the reduction of the final feature map. Default is
// NoPooling.
func (c *Config) SetPooling(pooling Pooling) *Config {
	c.pooling = pooling
	return c
}

// Trainable marks the model variables as trainable or frozen. Default is
// frozen, which is what one wants when only reading out features or when
// restoring a checkpoint for inference.
func (c *Config) Trainable(trainable bool) *Config {
	c.trainable = trainable
	return c
}

// Done builds the graph and returns the output: [batch, 2048] with pooling,
// the [batch, h, w, 2048] feature map without. It panics on invalid inputs
// or missing weight files.
func (c *Config) Done() *Node {
	x := c.images
	if x.Rank() != 4 {
		Panicf("InceptionV3 expects images shaped [batch, height, width, 3], got %s", x.Shape())
	}
	dims := x.Shape().Dimensions
	if dims[1] < MinimumImageSize || dims[2] < MinimumImageSize {
		Panicf("InceptionV3 requires images of at least %dx%d pixels, got %dx%d",
			MinimumImageSize, MinimumImageSize, dims[1], dims[2])
	}
	if dims[3] != 3 {
		Panicf("InceptionV3 expects 3 channels (channels-last), got %d", dims[3])
	}

	ctx := c.ctx
	kw := &kerasWeights{baseDir: c.preTrainedPath, channelsAxis: x.Rank() - 1}

	x = conv2DWithBatchNorm(ctx, kw, x, 32, 3, 3, []int{2, 2}, false)
	x = conv2DWithBatchNorm(ctx, kw, x, 32, 3, 3, nil, false)
	x = conv2DWithBatchNorm(ctx, kw, x, 64, 3, 3, nil, true)
	x = MaxPool(x).Window(3).Strides(2).NoPadding().Done()

	x = conv2DWithBatchNorm(ctx, kw, x, 80, 1, 1, nil, false)
	x = conv2DWithBatchNorm(ctx, kw, x, 192, 3, 3, nil, false)
	x = MaxPool(x).Window(3).Strides(2).NoPadding().Done()

	// Mixed block 0: output 35x35x256 on 299x299 inputs.
	branch1x1 := conv2DWithBatchNorm(ctx, kw, x, 64, 1, 1, nil, true)

	branch5x5 := conv2DWithBatchNorm(ctx, kw, x, 48, 1, 1, nil, true)
	branch5x5 = conv2DWithBatchNorm(ctx, kw, branch5x5, 64, 5, 5, nil, true)

	branch3x3Dbl := conv2DWithBatchNorm(ctx, kw, x, 64, 1, 1, nil, true)
	branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, branch3x3Dbl, 96, 3, 3, nil, true)
	branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, branch3x3Dbl, 96, 3, 3, nil, true)

	branchPool := MeanPool(x).Window(3).Strides(1).PadSame().Done()
	branchPool = conv2DWithBatchNorm(ctx, kw, branchPool, 32, 1, 1, nil, true)
	x = Concatenate([]*Node{branch1x1, branch5x5, branch3x3Dbl, branchPool}, kw.channelsAxis)

	// Mixed blocks 1 and 2: output 35x35x288.
	for ii := 0; ii < 2; ii++ {
		branch1x1 = conv2DWithBatchNorm(ctx, kw, x, 64, 1, 1, nil, true)

		branch5x5 = conv2DWithBatchNorm(ctx, kw, x, 48, 1, 1, nil, true)
		branch5x5 = conv2DWithBatchNorm(ctx, kw, branch5x5, 64, 5, 5, nil, true)

		branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, x, 64, 1, 1, nil, true)
		branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, branch3x3Dbl, 96, 3, 3, nil, true)
		branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, branch3x3Dbl, 96, 3, 3, nil, true)

		branchPool = MeanPool(x).Window(3).Strides(1).PadSame().Done()
		branchPool = conv2DWithBatchNorm(ctx, kw, branchPool, 64, 1, 1, nil, true)
		x = Concatenate([]*Node{branch1x1, branch5x5, branch3x3Dbl, branchPool}, kw.channelsAxis)
	}

	// Mixed block 3: downsample to 17x17x768.
	branch3x3 := conv2DWithBatchNorm(ctx, kw, x, 384, 3, 3, []int{2, 2}, false)

	branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, x, 64, 1, 1, nil, true)
	branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, branch3x3Dbl, 96, 3, 3, nil, true)
	branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, branch3x3Dbl, 96, 3, 3, []int{2, 2}, false)

	branchPool = MaxPool(x).Window(3).Strides(2).NoPadding().Done()
	x = Concatenate([]*Node{branch3x3, branch3x3Dbl, branchPool}, kw.channelsAxis)

	// Mixed block 4: 17x17x768.
	branch1x1 = conv2DWithBatchNorm(ctx, kw, x, 192, 1, 1, nil, true)

	branch7x7 := conv2DWithBatchNorm(ctx, kw, x, 128, 1, 1, nil, true)
	branch7x7 = conv2DWithBatchNorm(ctx, kw, branch7x7, 128, 1, 7, nil, true)
	branch7x7 = conv2DWithBatchNorm(ctx, kw, branch7x7, 192, 7, 1, nil, true)

	branch7x7Dbl := conv2DWithBatchNorm(ctx, kw, x, 128, 1, 1, nil, true)
	branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 128, 7, 1, nil, true)
	branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 128, 1, 7, nil, true)
	branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 128, 7, 1, nil, true)
	branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 192, 1, 7, nil, true)

	branchPool = MeanPool(x).Window(3).Strides(1).PadSame().Done()
	branchPool = conv2DWithBatchNorm(ctx, kw, branchPool, 192, 1, 1, nil, true)
	x = Concatenate([]*Node{branch1x1, branch7x7, branch7x7Dbl, branchPool}, kw.channelsAxis)

	// Mixed blocks 5 and 6: 17x17x768.
	for ii := 0; ii < 2; ii++ {
		branch1x1 = conv2DWithBatchNorm(ctx, kw, x, 192, 1, 1, nil, true)

		branch7x7 = conv2DWithBatchNorm(ctx, kw, x, 160, 1, 1, nil, true)
		branch7x7 = conv2DWithBatchNorm(ctx, kw, branch7x7, 160, 1, 7, nil, true)
		branch7x7 = conv2DWithBatchNorm(ctx, kw, branch7x7, 192, 7, 1, nil, true)

		branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, x, 160, 1, 1, nil, true)
		branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 160, 7, 1, nil, true)
		branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 160, 1, 7, nil, true)
		branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 160, 7, 1, nil, true)
		branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 192, 1, 7, nil, true)

		branchPool = MeanPool(x).Window(3).Strides(1).PadSame().Done()
		branchPool = conv2DWithBatchNorm(ctx, kw, branchPool, 192, 1, 1, nil, true)
		x = Concatenate([]*Node{branch1x1, branch7x7, branch7x7Dbl, branchPool}, kw.channelsAxis)
	}

	// Mixed block 7: 17x17x768.
	branch1x1 = conv2DWithBatchNorm(ctx, kw, x, 192, 1, 1, nil, true)

	branch7x7 = conv2DWithBatchNorm(ctx, kw, x, 192, 1, 1, nil, true)
	branch7x7 = conv2DWithBatchNorm(ctx, kw, branch7x7, 192, 1, 7, nil, true)
	branch7x7 = conv2DWithBatchNorm(ctx, kw, branch7x7, 192, 7, 1, nil, true)

	branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, x, 192, 1, 1, nil, true)
	branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 192, 7, 1, nil, true)
	branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 192, 1, 7, nil, true)
	branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 192, 7, 1, nil, true)
	branch7x7Dbl = conv2DWithBatchNorm(ctx, kw, branch7x7Dbl, 192, 1, 7, nil, true)

	branchPool = MeanPool(x).Window(3).Strides(1).PadSame().Done()
	branchPool = conv2DWithBatchNorm(ctx, kw, branchPool, 192, 1, 1, nil, true)
	x = Concatenate([]*Node{branch1x1, branch7x7, branch7x7Dbl, branchPool}, kw.channelsAxis)

	// Mixed block 8: downsample to 8x8x1280.
	branch3x3 = conv2DWithBatchNorm(ctx, kw, x, 192, 1, 1, nil, true)
	branch3x3 = conv2DWithBatchNorm(ctx, kw, branch3x3, 320, 3, 3, []int{2, 2}, false)

	branch7x7x3 := conv2DWithBatchNorm(ctx, kw, x, 192, 1, 1, nil, true)
	branch7x7x3 = conv2DWithBatchNorm(ctx, kw, branch7x7x3, 192, 1, 7, nil, true)
	branch7x7x3 = conv2DWithBatchNorm(ctx, kw, branch7x7x3, 192, 7, 1, nil, true)
	branch7x7x3 = conv2DWithBatchNorm(ctx, kw, branch7x7x3, 192, 3, 3, []int{2, 2}, false)

	branchPool = MaxPool(x).Window(3).Strides(2).NoPadding().Done()
	x = Concatenate([]*Node{branch3x3, branch7x7x3, branchPool}, kw.channelsAxis)

	// Mixed blocks 9 and 10: 8x8x2048.
	for ii := 0; ii < 2; ii++ {
		branch1x1 = conv2DWithBatchNorm(ctx, kw, x, 320, 1, 1, nil, true)

		branch3x3 = conv2DWithBatchNorm(ctx, kw, x, 384, 1, 1, nil, true)
		branch3x3Branch1 := conv2DWithBatchNorm(ctx, kw, branch3x3, 384, 1, 3, nil, true)
		branch3x3Branch2 := conv2DWithBatchNorm(ctx, kw, branch3x3, 384, 3, 1, nil, true)
		branch3x3 = Concatenate([]*Node{branch3x3Branch1, branch3x3Branch2}, kw.channelsAxis)

		branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, x, 448, 1, 1, nil, true)
		branch3x3Dbl = conv2DWithBatchNorm(ctx, kw, branch3x3Dbl, 384, 3, 3, nil, true)
		branch3x3DblBranch1 := conv2DWithBatchNorm(ctx, kw, branch3x3Dbl, 384, 1, 3, nil, true)
		branch3x3DblBranch2 := conv2DWithBatchNorm(ctx, kw, branch3x3Dbl, 384, 3, 1, nil, true)
		branch3x3Dbl = Concatenate([]*Node{branch3x3DblBranch1, branch3x3DblBranch2}, kw.channelsAxis)

		branchPool = MeanPool(x).Window(3).Strides(1).PadSame().Done()
		branchPool = conv2DWithBatchNorm(ctx, kw, branchPool, 192, 1, 1, nil, true)
		x = Concatenate([]*Node{branch1x1, branch3x3, branch3x3Dbl, branchPool}, kw.channelsAxis)
	}

	switch c.pooling {
	case MaxPooling:
		x = ReduceMax(x, 1, 2)
	case MeanPooling:
		x = ReduceMean(x, 1, 2)
	case NoPooling:
		// Keep the feature map.
	}

	if !c.trainable {
		ctx.EnumerateVariablesInScope(func(v *context.Variable) {
			v.SetTrainable(false)
		})
	}
	return x
}

// conv2DWithBatchNorm is the basic InceptionV3 building block: an unbiased
// 2D convolution, batch normalization without scale, and a relu. When
// pre-trained weights are configured each layer's variables are initialized
// from the corresponding Keras tensor, matched by creation order.
func conv2DWithBatchNorm(ctx *context.Context, kw *kerasWeights, x *Node,
	filters, kernelHeight, kernelWidth int, strides []int, padSame bool) *Node {
	ctxConv := kw.nextConv2DScope(ctx)
	convCfg := layers.Convolution(ctxConv, x).CurrentScope().
		Filters(filters).UseBias(false).KernelSizePerDim(kernelHeight, kernelWidth)
	if len(strides) > 0 {
		convCfg = convCfg.StridePerDim(strides...)
	}
	if padSame {
		convCfg = convCfg.PadSame()
	} else {
		convCfg = convCfg.NoPadding()
	}
	x = convCfg.Done()

	ctxNorm := kw.nextBatchNormScope(ctx)
	x = layers.BatchNormalization(ctxNorm, x, kw.channelsAxis).CurrentScope().Scale(false).Done()
	return activations.Relu(x)
}
